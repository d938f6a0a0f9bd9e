// Package dataset turns raw EEG recordings into fixed-shape, normalized,
// stratified training data. It covers the full offline pipeline: manifest
// and CSV ingestion, channel selection and windowing, band-pass filtering,
// normalization statistics, and train/validation splitting.
package dataset

import "fmt"

// Trial is one labeled recording segment in channel-major layout. Trials
// are immutable once assembled; every trial destined for the same dataset
// carries the same channel count and time length.
type Trial struct {
	Data       [][]float64 // [channel][time]
	Label      int
	Source     string // competition subject or personal session id
	SampleRate float64
}

// Channels returns the number of electrode channels.
func (t *Trial) Channels() int { return len(t.Data) }

// Samples returns the time length, zero for an empty trial.
func (t *Trial) Samples() int {
	if len(t.Data) == 0 {
		return 0
	}
	return len(t.Data[0])
}

// checkUniform verifies that all trials share one shape.
func checkUniform(trials []*Trial) error {
	if len(trials) == 0 {
		return fmt.Errorf("no trials")
	}
	c, s := trials[0].Channels(), trials[0].Samples()
	for i, tr := range trials[1:] {
		if tr.Channels() != c || tr.Samples() != s {
			return fmt.Errorf("trial %d has shape (%d, %d), want (%d, %d)",
				i+1, tr.Channels(), tr.Samples(), c, s)
		}
	}
	return nil
}

// FilterClasses keeps only trials whose label appears in keep, relabeling
// them to the dense range 0..len(keep)-1 in keep order. Filtering happens
// before splitting so stratification sees the reduced label set.
func FilterClasses(trials []*Trial, keep []int) []*Trial {
	remap := make(map[int]int, len(keep))
	for i, c := range keep {
		remap[c] = i
	}
	var out []*Trial
	for _, tr := range trials {
		newLabel, ok := remap[tr.Label]
		if !ok {
			continue
		}
		kept := *tr
		kept.Label = newLabel
		out = append(out, &kept)
	}
	return out
}
