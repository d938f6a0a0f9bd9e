package nn

import (
	"math"
	"testing"
)

func TestEEGNetForwardShape(t *testing.T) {
	SetRandomSeed(42)
	m, err := NewEEGNet(DefaultEEGNetConfig())
	if err != nil {
		t.Fatalf("NewEEGNet: %v", err)
	}

	x := Zeros(2, 3, 500)
	fillSine(x, 1)
	logits, err := m.Forward(x, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if logits.Shape[0] != 2 || logits.Shape[1] != 2 {
		t.Fatalf("logits shape = %v, want [2 2]", logits.Shape)
	}
	for i, v := range logits.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("logit %d is not finite: %v", i, v)
		}
	}
}

func TestEEGNetFeatureSize(t *testing.T) {
	SetRandomSeed(42)
	m, err := NewEEGNet(DefaultEEGNetConfig())
	if err != nil {
		t.Fatalf("NewEEGNet: %v", err)
	}
	// 500 samples through pool 4 then pool 8 leaves 15 steps of 16 maps.
	if got := m.FeatureSize(); got != 240 {
		t.Fatalf("FeatureSize() = %d, want 240", got)
	}

	x := Zeros(3, 3, 500)
	fillSine(x, 1)
	feats, err := m.ExtractFeatures(x)
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	if feats.Shape[0] != 3 || feats.Shape[1] != 240 {
		t.Fatalf("features shape = %v, want [3 240]", feats.Shape)
	}
}

func TestEEGNetRejectsBadInput(t *testing.T) {
	SetRandomSeed(42)
	m, err := NewEEGNet(DefaultEEGNetConfig())
	if err != nil {
		t.Fatalf("NewEEGNet: %v", err)
	}
	for _, shape := range [][]int{{2, 4, 500}, {2, 3, 400}, {6, 500}} {
		if _, err := m.Forward(Zeros(shape...), false); err == nil {
			t.Errorf("Forward accepted shape %v", shape)
		}
	}
}

func TestEEGNetConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EEGNetConfig)
	}{
		{"one class", func(c *EEGNetConfig) { c.NumClasses = 1 }},
		{"no channels", func(c *EEGNetConfig) { c.Channels = 0 }},
		{"too few samples", func(c *EEGNetConfig) { c.Samples = 16 }},
	}
	for _, tc := range cases {
		cfg := DefaultEEGNetConfig()
		tc.mutate(&cfg)
		if _, err := NewEEGNet(cfg); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func smallTransformerConfig() TransformerConfig {
	return TransformerConfig{
		NumClasses:  2,
		InChannels:  3,
		SeqLength:   16,
		DModel:      8,
		NumHeads:    2,
		NumLayers:   2,
		FFNHidden:   16,
		DropoutRate: 0,
	}
}

func TestTransformerForwardShape(t *testing.T) {
	SetRandomSeed(42)
	m, err := NewEEGTransformer(smallTransformerConfig())
	if err != nil {
		t.Fatalf("NewEEGTransformer: %v", err)
	}

	x := Zeros(4, 3, 16)
	fillSine(x, 1)
	logits, err := m.Forward(x, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if logits.Shape[0] != 4 || logits.Shape[1] != 2 {
		t.Fatalf("logits shape = %v, want [4 2]", logits.Shape)
	}

	feats, err := m.ExtractFeatures(x)
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	if feats.Shape[0] != 4 || feats.Shape[1] != 8 {
		t.Fatalf("features shape = %v, want [4 8]", feats.Shape)
	}
}

func TestTransformerConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TransformerConfig)
	}{
		{"one class", func(c *TransformerConfig) { c.NumClasses = 1 }},
		{"indivisible heads", func(c *TransformerConfig) { c.DModel = 10; c.NumHeads = 4 }},
		{"no layers", func(c *TransformerConfig) { c.NumLayers = 0 }},
	}
	for _, tc := range cases {
		cfg := smallTransformerConfig()
		tc.mutate(&cfg)
		if _, err := NewEEGTransformer(cfg); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestTransformerBlocksOrdering(t *testing.T) {
	SetRandomSeed(42)
	m, err := NewEEGTransformer(smallTransformerConfig())
	if err != nil {
		t.Fatalf("NewEEGTransformer: %v", err)
	}

	blocks := m.Blocks()
	if len(blocks) != m.cfg.NumLayers+1 {
		t.Fatalf("got %d blocks, want %d", len(blocks), m.cfg.NumLayers+1)
	}
	// The deepest group is the channel embedding.
	deepest := blocks[len(blocks)-1]
	if deepest[0] != m.embed.Weight {
		t.Errorf("deepest block does not start with the embedding weight")
	}
	// The first group carries the final norm alongside the last encoder.
	var hasFinalNorm bool
	for _, p := range blocks[0] {
		if p == m.lnFinal.Gamma {
			hasFinalNorm = true
		}
	}
	if !hasFinalNorm {
		t.Errorf("output-side block does not include the final layer norm")
	}
}

func TestTransformerBackwardShapes(t *testing.T) {
	SetRandomSeed(42)
	m, err := NewEEGTransformer(smallTransformerConfig())
	if err != nil {
		t.Fatalf("NewEEGTransformer: %v", err)
	}

	x := Zeros(2, 3, 16)
	fillSine(x, 1)
	logits, err := m.Forward(x, true)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	grad := Zeros(logits.Shape...)
	for i := range grad.Data {
		grad.Data[i] = 0.5
	}
	m.Backward(grad)

	for _, p := range m.Params() {
		var nonzero bool
		for _, g := range p.Grad {
			if g != 0 {
				nonzero = true
				break
			}
		}
		if !nonzero {
			t.Errorf("parameter %s received no gradient", p.Name)
		}
	}
}

func TestForwardDeterministic(t *testing.T) {
	build := func() *EEGNet {
		SetRandomSeed(7)
		m, err := NewEEGNet(DefaultEEGNetConfig())
		if err != nil {
			t.Fatalf("NewEEGNet: %v", err)
		}
		return m
	}

	x := Zeros(2, 3, 500)
	fillSine(x, 1)

	a, _ := build().Forward(x, false)
	b, _ := build().Forward(x, false)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("outputs diverge at %d: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestCountParameters(t *testing.T) {
	SetRandomSeed(42)
	m, err := NewEEGNet(DefaultEEGNetConfig())
	if err != nil {
		t.Fatalf("NewEEGNet: %v", err)
	}
	total := CountParameters(m)
	if total <= 0 {
		t.Fatalf("CountParameters = %d", total)
	}
	if got := CountTrainable(m); got != total {
		t.Fatalf("CountTrainable = %d before freezing, want %d", got, total)
	}
}
