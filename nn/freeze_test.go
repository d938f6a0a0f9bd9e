package nn

import "testing"

func newTestEEGNet(t *testing.T) *EEGNet {
	t.Helper()
	SetRandomSeed(42)
	cfg := DefaultEEGNetConfig()
	cfg.DropoutRate = 0
	m, err := NewEEGNet(cfg)
	if err != nil {
		t.Fatalf("NewEEGNet: %v", err)
	}
	return m
}

func TestFreezeAllButHead(t *testing.T) {
	m := newTestEEGNet(t)
	trainable, err := ApplyPolicy(m, FreezePolicy{Mode: FreezeAllButHead})
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	if len(trainable) != 2 {
		t.Fatalf("got %d trainable params, want head weight and bias", len(trainable))
	}
	// Head: 240 features to 2 classes, plus bias.
	if got := CountTrainable(m); got != 240*2+2 {
		t.Fatalf("CountTrainable = %d, want %d", got, 240*2+2)
	}
	for _, p := range m.conv1.Params() {
		if !p.Frozen() {
			t.Errorf("%s should be frozen", p.Name)
		}
	}
}

func TestUnfreezeAll(t *testing.T) {
	m := newTestEEGNet(t)
	if _, err := ApplyPolicy(m, FreezePolicy{Mode: FreezeAllButHead}); err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	trainable, err := ApplyPolicy(m, FreezePolicy{Mode: UnfreezeAll})
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	if len(trainable) != len(m.Params()) {
		t.Fatalf("got %d trainable params, want all %d", len(trainable), len(m.Params()))
	}
	if CountTrainable(m) != CountParameters(m) {
		t.Fatalf("CountTrainable = %d, want %d", CountTrainable(m), CountParameters(m))
	}
}

func TestUnfreezeLastN(t *testing.T) {
	m := newTestEEGNet(t)
	trainable, err := ApplyPolicy(m, FreezePolicy{Mode: UnfreezeLastN, LastN: 1})
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}

	want := map[*Param]bool{}
	for _, p := range m.HeadParams() {
		want[p] = true
	}
	for _, p := range m.Blocks()[0] {
		want[p] = true
	}
	if len(trainable) != len(want) {
		t.Fatalf("got %d trainable params, want %d", len(trainable), len(want))
	}
	for _, p := range trainable {
		if !want[p] {
			t.Errorf("unexpected trainable param %s", p.Name)
		}
	}
	// The deeper blocks stay frozen.
	for _, p := range m.conv1.Params() {
		if !p.Frozen() {
			t.Errorf("%s should be frozen under last-n=1", p.Name)
		}
	}
	for _, p := range m.depthwise.Params() {
		if !p.Frozen() {
			t.Errorf("%s should be frozen under last-n=1", p.Name)
		}
	}
}

func TestUnfreezeLastNOutOfRange(t *testing.T) {
	m := newTestEEGNet(t)
	for _, n := range []int{-1, 4} {
		if _, err := ApplyPolicy(m, FreezePolicy{Mode: UnfreezeLastN, LastN: n}); err == nil {
			t.Errorf("last-n=%d: expected error", n)
		}
	}
}

// Frozen parameters are excluded from the trainable set but the backward
// pass still deposits gradient on them, so deeper unfrozen layers keep
// receiving signal through them.
func TestFrozenParamsStillReceiveGradient(t *testing.T) {
	m := newTestEEGNet(t)
	if _, err := ApplyPolicy(m, FreezePolicy{Mode: FreezeAllButHead}); err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}

	x := Zeros(2, 3, 500)
	fillSine(x, 1)
	logits, err := m.Forward(x, true)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	grad := Zeros(logits.Shape...)
	for i := range grad.Data {
		grad.Data[i] = 1
	}
	m.Backward(grad)

	var nonzero bool
	for _, g := range m.conv1.Weight.Grad {
		if g != 0 {
			nonzero = true
			break
		}
	}
	if !nonzero {
		t.Fatalf("frozen temporal conv received no gradient")
	}
}
