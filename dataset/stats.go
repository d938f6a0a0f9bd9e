package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// statsEps stabilizes division on flat channels.
const statsEps = 1e-8

// Stats holds global per-channel normalization statistics, computed once
// over an entire trial population (across trials and time). When
// transferring, statistics fit on the source population are applied
// unchanged to the target population, never refit.
type Stats struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitStats computes per-channel mean and population standard deviation
// over every sample of every trial. Zero-variance channels are flagged as
// a data-quality warning but remain usable thanks to the epsilon.
func FitStats(trials []*Trial) (*Stats, error) {
	if err := checkUniform(trials); err != nil {
		return nil, err
	}
	channels := trials[0].Channels()
	samples := trials[0].Samples()

	s := &Stats{
		Mean: make([]float64, channels),
		Std:  make([]float64, channels),
	}
	flat := make([]float64, 0, len(trials)*samples)
	for c := 0; c < channels; c++ {
		flat = flat[:0]
		for _, tr := range trials {
			flat = append(flat, tr.Data[c]...)
		}
		mean := stat.Mean(flat, nil)
		var ss float64
		for _, v := range flat {
			d := v - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(len(flat)))
		if std == 0 {
			fmt.Printf("Warning: channel %d has zero variance\n", c)
		}
		s.Mean[c] = mean
		s.Std[c] = std
	}
	return s, nil
}

// Apply standardizes trials with the stored statistics, returning new
// trials and leaving the inputs untouched.
func (s *Stats) Apply(trials []*Trial) ([]*Trial, error) {
	if err := checkUniform(trials); err != nil {
		return nil, err
	}
	if trials[0].Channels() != len(s.Mean) {
		return nil, fmt.Errorf("statistics cover %d channels, trials have %d",
			len(s.Mean), trials[0].Channels())
	}

	out := make([]*Trial, len(trials))
	for i, tr := range trials {
		norm := &Trial{
			Data:       make([][]float64, tr.Channels()),
			Label:      tr.Label,
			Source:     tr.Source,
			SampleRate: tr.SampleRate,
		}
		for c := range tr.Data {
			m, inv := s.Mean[c], 1.0/(s.Std[c]+statsEps)
			row := make([]float64, len(tr.Data[c]))
			for j, v := range tr.Data[c] {
				row[j] = (v - m) * inv
			}
			norm.Data[c] = row
		}
		out[i] = norm
	}
	return out, nil
}
