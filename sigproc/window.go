package sigproc

import "fmt"

// Window extracts the [startSec, endSec) cue-relative window from a single
// channel sampled at fs Hz. When the recording ends before endSec the
// signal is zero-padded at the tail first, so the window always has
// exactly round((endSec-startSec)*fs) samples. Band edges are never
// truncated to make a short recording fit.
func Window(x []float64, startSec, endSec, fs float64) ([]float64, error) {
	if endSec <= startSec {
		return nil, fmt.Errorf("window end %.3fs not after start %.3fs", endSec, startSec)
	}
	start := int(startSec * fs)
	end := int(endSec * fs)
	if start < 0 {
		return nil, fmt.Errorf("window start %.3fs before recording start", startSec)
	}
	if end > len(x) {
		x = PadTo(x, end)
	}
	out := make([]float64, end-start)
	copy(out, x[start:end])
	return out, nil
}

// PadTo returns x extended with trailing zeros to length n. If x is
// already at least n samples long it is returned unchanged.
func PadTo(x []float64, n int) []float64 {
	if len(x) >= n {
		return x
	}
	out := make([]float64, n)
	copy(out, x)
	return out
}
