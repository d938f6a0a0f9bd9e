package training

import "testing"

func TestPlateauSchedulerReduces(t *testing.T) {
	s := NewPlateauScheduler(0.5, 2)
	lr := 0.01

	lr = s.Step(0.5, lr) // initialization epoch
	lr = s.Step(0.6, lr) // improvement
	if lr != 0.01 {
		t.Fatalf("lr changed on improvement: %g", lr)
	}
	lr = s.Step(0.6, lr) // wait 1
	if lr != 0.01 {
		t.Fatalf("lr reduced before patience: %g", lr)
	}
	lr = s.Step(0.6, lr) // wait 2 -> reduce
	if lr != 0.005 {
		t.Fatalf("lr = %g, want 0.005", lr)
	}
	// Counter resets after a reduction.
	lr = s.Step(0.6, lr)
	if lr != 0.005 {
		t.Fatalf("lr reduced again too early: %g", lr)
	}
}

func TestPlateauSchedulerImprovementResets(t *testing.T) {
	s := NewPlateauScheduler(0.5, 2)
	lr := 0.01
	lr = s.Step(0.5, lr)
	lr = s.Step(0.5, lr) // wait 1
	lr = s.Step(0.7, lr) // improvement resets
	lr = s.Step(0.7, lr) // wait 1
	if lr != 0.01 {
		t.Fatalf("lr = %g, want unchanged after reset", lr)
	}
}

func TestPlateauSchedulerDefaults(t *testing.T) {
	s := NewPlateauScheduler(0, 0)
	if s.Factor != 0.5 || s.Patience != 10 {
		t.Fatalf("defaults = factor %g patience %d", s.Factor, s.Patience)
	}
}

func TestPlateauSchedulerStateRoundTrip(t *testing.T) {
	s := NewPlateauScheduler(0.5, 3)
	lr := 0.01
	lr = s.Step(0.8, lr)
	lr = s.Step(0.8, lr) // wait 1

	restored := NewPlateauScheduler(0.5, 3)
	restored.LoadState(s.State())

	// Both should reduce after two more flat epochs.
	a := s.Step(0.8, lr)
	b := restored.Step(0.8, lr)
	if a != b {
		t.Fatalf("restored scheduler diverges: %g vs %g", a, b)
	}
	a = s.Step(0.8, a)
	b = restored.Step(0.8, b)
	if a != b || a != 0.005 {
		t.Fatalf("restored scheduler diverges: %g vs %g (want 0.005)", a, b)
	}
}
