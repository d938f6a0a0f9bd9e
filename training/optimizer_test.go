package training

import (
	"math"
	"testing"

	"github.com/aliftffd/bcitrain/nn"
)

func TestAdamUpdatesOnlyUnfrozen(t *testing.T) {
	a := nn.NewParam("a", 2)
	b := nn.NewParam("b", 2)
	a.Data[0], b.Data[0] = 1, 1
	a.Grad[0], b.Grad[0] = 0.5, 0.5
	b.SetFrozen(true)

	opt := NewAdam(DefaultAdamConfig(), []*nn.Param{a, b})
	opt.Step()

	if a.Data[0] == 1 {
		t.Errorf("unfrozen parameter was not updated")
	}
	if b.Data[0] != 1 {
		t.Errorf("frozen parameter changed to %g", b.Data[0])
	}
}

func TestAdamFirstStepSize(t *testing.T) {
	p := nn.NewParam("p", 1)
	p.Grad[0] = 0.3
	cfg := DefaultAdamConfig()
	opt := NewAdam(cfg, []*nn.Param{p})
	opt.Step()

	// After bias correction the first step is approximately -lr * sign(g).
	want := -cfg.LearningRate
	if math.Abs(p.Data[0]-want) > 1e-6 {
		t.Errorf("first step moved by %g, want ~%g", p.Data[0], want)
	}
}

func TestAdamWeightDecay(t *testing.T) {
	p := nn.NewParam("p", 1)
	p.Data[0] = 10 // zero gradient, decay alone should shrink it
	cfg := DefaultAdamConfig()
	cfg.WeightDecay = 0.1
	opt := NewAdam(cfg, []*nn.Param{p})
	opt.Step()

	if p.Data[0] >= 10 {
		t.Errorf("weight decay did not shrink the parameter: %g", p.Data[0])
	}
}

func TestAdamRebuildKeepsMoments(t *testing.T) {
	head := nn.NewParam("head", 1)
	deep := nn.NewParam("deep", 1)
	head.Grad[0], deep.Grad[0] = 0.2, 0.2

	opt := NewAdam(DefaultAdamConfig(), []*nn.Param{head})
	opt.Step()
	before := opt.Export().Moment1["head"][0]
	if before == 0 {
		t.Fatalf("no moment accumulated")
	}

	// Phase boundary: the trainable set grows but head keeps its state.
	opt.Rebuild([]*nn.Param{head, deep})
	state := opt.Export()
	if state.Moment1["head"][0] != before {
		t.Errorf("head moment lost across Rebuild")
	}
	if _, ok := state.Moment1["deep"]; !ok {
		t.Errorf("new parameter not tracked after Rebuild")
	}
}

func TestAdamExportRestore(t *testing.T) {
	p := nn.NewParam("p", 2)
	p.Grad[0], p.Grad[1] = 0.1, -0.4
	opt := NewAdam(DefaultAdamConfig(), []*nn.Param{p})
	opt.Step()
	opt.SetLR(0.0005)
	state := opt.Export()

	fresh := NewAdam(DefaultAdamConfig(), []*nn.Param{p})
	fresh.Restore(state)
	if fresh.LR() != 0.0005 {
		t.Errorf("learning rate not restored: %g", fresh.LR())
	}
	got := fresh.Export()
	if got.Step != state.Step {
		t.Errorf("step not restored")
	}
	for i := range state.Moment1["p"] {
		if got.Moment1["p"][i] != state.Moment1["p"][i] {
			t.Errorf("moment1[%d] not restored", i)
		}
		if got.Moment2["p"][i] != state.Moment2["p"][i] {
			t.Errorf("moment2[%d] not restored", i)
		}
	}
}
