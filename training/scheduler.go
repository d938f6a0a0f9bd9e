package training

import "github.com/aliftffd/bcitrain/checkpoint"

// PlateauScheduler reduces the learning rate by a fixed factor when
// validation accuracy has stopped improving for Patience epochs. Its
// plateau counter is independent of the early-stopping counter: the two
// track the same metric but trigger at different thresholds.
type PlateauScheduler struct {
	Factor    float64
	Patience  int
	Threshold float64

	best        float64
	wait        int
	initialized bool
}

// NewPlateauScheduler creates a scheduler that halves by default.
func NewPlateauScheduler(factor float64, patience int) *PlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.5
	}
	if patience <= 0 {
		patience = 10
	}
	return &PlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: 1e-4,
	}
}

// Step feeds one epoch's validation accuracy and returns the learning
// rate to use next.
func (s *PlateauScheduler) Step(valAccuracy, currentLR float64) float64 {
	if !s.initialized {
		s.best = valAccuracy
		s.initialized = true
		return currentLR
	}
	if valAccuracy > s.best+s.Threshold {
		s.best = valAccuracy
		s.wait = 0
		return currentLR
	}
	s.wait++
	if s.wait >= s.Patience {
		s.wait = 0
		return currentLR * s.Factor
	}
	return currentLR
}

// State snapshots the scheduler for checkpointing.
func (s *PlateauScheduler) State() *checkpoint.SchedulerState {
	return &checkpoint.SchedulerState{
		Factor:   s.Factor,
		Patience: s.Patience,
		Wait:     s.wait,
		Best:     s.best,
	}
}

// LoadState resumes the scheduler from a checkpoint.
func (s *PlateauScheduler) LoadState(state *checkpoint.SchedulerState) {
	if state == nil {
		return
	}
	s.Factor = state.Factor
	s.Patience = state.Patience
	s.wait = state.Wait
	s.best = state.Best
	s.initialized = true
}
