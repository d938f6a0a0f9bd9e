package dataset

import (
	"fmt"

	"github.com/aliftffd/bcitrain/sigproc"
)

// AssemblerConfig controls how raw recordings become fixed-shape trials.
type AssemblerConfig struct {
	Channels    []string // motor-cortex electrodes, selected by name
	SampleRate  float64  // Hz
	WindowStart float64  // seconds after cue onset
	WindowEnd   float64
	BandLow     float64 // Hz
	BandHigh    float64
	FilterOrder int
	TargetLen   int // 0 means the natural window length
}

// DefaultAssemblerConfig returns the motor-imagery configuration: C3/Cz/C4
// at 250 Hz, the 0.5-2.5s post-cue window, and the 8-30 Hz mu+beta band.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		Channels:    []string{"C3", "Cz", "C4"},
		SampleRate:  250,
		WindowStart: 0.5,
		WindowEnd:   2.5,
		BandLow:     8,
		BandHigh:    30,
		FilterOrder: 5,
	}
}

// WindowSamples returns the natural window length in samples.
func (c AssemblerConfig) WindowSamples() int {
	return int((c.WindowEnd - c.WindowStart) * c.SampleRate)
}

// Assembler turns raw recordings into fixed-shape trials: channel
// selection, cue-relative windowing, zero-phase band-pass filtering, and
// optional trailing padding to a target length. Filtering always runs on
// the captured samples before any padding to the target length, since a
// hard zero boundary inside the filter window produces edge artifacts.
type Assembler struct {
	cfg    AssemblerConfig
	filter *sigproc.IIRFilter
}

// NewAssembler validates the configuration and designs the band-pass filter.
func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("no channels configured")
	}
	if cfg.WindowEnd <= cfg.WindowStart {
		return nil, fmt.Errorf("window [%g, %g] is empty", cfg.WindowStart, cfg.WindowEnd)
	}
	if cfg.TargetLen != 0 && cfg.TargetLen < cfg.WindowSamples() {
		return nil, fmt.Errorf("target length %d shorter than the %d-sample window",
			cfg.TargetLen, cfg.WindowSamples())
	}
	filter, err := sigproc.Bandpass(cfg.FilterOrder, cfg.BandLow, cfg.BandHigh, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("band-pass design: %v", err)
	}
	return &Assembler{cfg: cfg, filter: filter}, nil
}

// OutputSamples returns the per-channel length of assembled trials.
func (a *Assembler) OutputSamples() int {
	if a.cfg.TargetLen > 0 {
		return a.cfg.TargetLen
	}
	return a.cfg.WindowSamples()
}

// Assemble builds one trial from a raw recording.
func (a *Assembler) Assemble(rec *Recording) (*Trial, error) {
	data := make([][]float64, len(a.cfg.Channels))
	for i, name := range a.cfg.Channels {
		col, err := rec.Channel(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", rec.Source, err)
		}
		w, err := sigproc.Window(col, a.cfg.WindowStart, a.cfg.WindowEnd, a.cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%s channel %s: %v", rec.Source, name, err)
		}
		filtered := a.filter.FiltFilt(w)
		if a.cfg.TargetLen > 0 {
			filtered = sigproc.PadTo(filtered, a.cfg.TargetLen)
		}
		data[i] = filtered
	}
	return &Trial{
		Data:       data,
		Label:      rec.ClassID,
		Source:     rec.Source,
		SampleRate: a.cfg.SampleRate,
	}, nil
}

// AssembleAll converts a batch of recordings, skipping the ones that fail
// with a warning. Zero assembled trials is a fatal condition.
func (a *Assembler) AssembleAll(recs []*Recording) ([]*Trial, error) {
	var trials []*Trial
	for _, rec := range recs {
		tr, err := a.Assemble(rec)
		if err != nil {
			fmt.Printf("Warning: skipping trial: %v\n", err)
			continue
		}
		trials = append(trials, tr)
	}
	if len(trials) == 0 {
		return nil, fmt.Errorf("no trials could be assembled from %d recordings", len(recs))
	}
	return trials, nil
}
