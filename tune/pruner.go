package tune

import "sort"

// MedianPruner terminates a running trial whose intermediate validation
// accuracy falls below the median of completed trials at the same epoch.
// The first StartupTrials trials always run to completion, and no trial
// is pruned during its first WarmupEpochs epochs.
type MedianPruner struct {
	StartupTrials int
	WarmupEpochs  int
}

// NewMedianPruner returns the pruner with the standard settings.
func NewMedianPruner() *MedianPruner {
	return &MedianPruner{StartupTrials: 5, WarmupEpochs: 10}
}

// ShouldPrune decides whether a trial reporting value at epoch should be
// terminated, given the study's completed trials.
func (p *MedianPruner) ShouldPrune(study *Study, epoch int, value float64) bool {
	if epoch <= p.WarmupEpochs {
		return false
	}
	var peers []float64
	completed := 0
	for _, tr := range study.Trials {
		if tr.State != TrialComplete {
			continue
		}
		completed++
		if v, ok := tr.intermediateAt(epoch); ok {
			peers = append(peers, v)
		}
	}
	if completed < p.StartupTrials || len(peers) == 0 {
		return false
	}
	return value < median(peers)
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
