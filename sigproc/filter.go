package sigproc

import (
	"fmt"
	"math"
	"math/cmplx"
)

// IIRFilter holds the transfer function coefficients of a digital IIR
// filter in the same b/a convention scipy uses. A[0] is normalized to 1.
type IIRFilter struct {
	B []float64 // numerator (feedforward) coefficients
	A []float64 // denominator (feedback) coefficients
}

// Bandpass designs an order-N Butterworth band-pass filter for the given
// corner frequencies (Hz) at sample rate fs (Hz). The design follows the
// classic analog-prototype route: Butterworth poles, lowpass-to-bandpass
// transform, then bilinear transform back to the z domain. The resulting
// filter has order 2N.
func Bandpass(order int, low, high, fs float64) (*IIRFilter, error) {
	if order <= 0 {
		return nil, fmt.Errorf("filter order must be positive, got %d", order)
	}
	nyq := fs / 2.0
	if low <= 0 || high <= low || high >= nyq {
		return nil, fmt.Errorf("invalid band (%.2f, %.2f) Hz for sample rate %.2f Hz", low, high, fs)
	}

	// Normalized corner frequencies pre-warped for the bilinear transform.
	// Internal sampling rate fixed at 2 so warped = 4*tan(pi*w/2).
	wl := low / nyq
	wh := high / nyq
	const fs2 = 4.0 // 2 * internal sample rate
	w1 := fs2 * math.Tan(math.Pi*wl/2)
	w2 := fs2 * math.Tan(math.Pi*wh/2)

	bw := w2 - w1
	w0 := math.Sqrt(w1 * w2)

	// Butterworth lowpass prototype poles, all in the left half plane.
	proto := make([]complex128, 0, order)
	for k := 1; k <= order; k++ {
		theta := math.Pi * float64(2*k+order-1) / float64(2*order)
		proto = append(proto, cmplx.Exp(complex(0, theta)))
	}

	// Lowpass to bandpass: each prototype pole splits into two.
	poles := make([]complex128, 0, 2*order)
	for _, p := range proto {
		ps := p * complex(bw/2, 0)
		d := cmplx.Sqrt(ps*ps - complex(w0*w0, 0))
		poles = append(poles, ps+d, ps-d)
	}
	// N zeros at s=0, gain bw^N.
	zeros := make([]complex128, order)
	gain := math.Pow(bw, float64(order))

	// Bilinear transform z = (fs2 + s) / (fs2 - s).
	zPoles := make([]complex128, len(poles))
	zZeros := make([]complex128, 0, len(poles))
	num := complex(1, 0)
	den := complex(1, 0)
	for i, p := range poles {
		zPoles[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
		den *= complex(fs2, 0) - p
	}
	for _, z := range zeros {
		zZeros = append(zZeros, (complex(fs2, 0)+z)/(complex(fs2, 0)-z))
		num *= complex(fs2, 0) - z
	}
	// Zeros at infinity map to z = -1.
	for len(zZeros) < len(zPoles) {
		zZeros = append(zZeros, complex(-1, 0))
	}
	gain *= real(num / den)

	b := polyFromRoots(zZeros)
	a := polyFromRoots(zPoles)
	for i := range b {
		b[i] *= gain
	}
	// Normalize so A[0] == 1.
	a0 := a[0]
	for i := range a {
		a[i] /= a0
	}
	for i := range b {
		b[i] /= a0
	}
	return &IIRFilter{B: b, A: a}, nil
}

// polyFromRoots expands a monic polynomial with the given complex roots and
// returns the real coefficient vector, highest degree first. Roots are
// expected in conjugate pairs so imaginary parts cancel.
func polyFromRoots(roots []complex128) []float64 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}
	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = real(c)
	}
	return out
}

// apply runs the filter over x in direct form II transposed with zero
// initial state and returns a new slice.
func (f *IIRFilter) apply(x []float64) []float64 {
	n := len(f.B)
	z := make([]float64, n-1)
	y := make([]float64, len(x))
	for i, xi := range x {
		yi := f.B[0]*xi + z[0]
		for j := 1; j < n-1; j++ {
			z[j-1] = f.B[j]*xi + z[j] - f.A[j]*yi
		}
		z[n-2] = f.B[n-1]*xi - f.A[n-1]*yi
		y[i] = yi
	}
	return y
}

// FiltFilt applies the filter forward and backward over x, giving a
// zero-phase response. The input is extended at both ends by odd
// reflection before filtering to suppress startup transients, matching
// the behavior of scipy's filtfilt. The result has the same length as x.
//
// Zero-phase filtering is required for trial windows: a one-pass IIR
// filter would delay mu/beta band power relative to cue onset.
func (f *IIRFilter) FiltFilt(x []float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	padLen := 3 * (len(f.B) - 1)
	if padLen >= len(x) {
		padLen = len(x) - 1
	}

	ext := make([]float64, 0, len(x)+2*padLen)
	for i := padLen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	last := len(x) - 1
	for i := 1; i <= padLen; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}

	y := f.apply(ext)
	reverse(y)
	y = f.apply(y)
	reverse(y)

	out := make([]float64, len(x))
	copy(out, y[padLen:padLen+len(x)])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
