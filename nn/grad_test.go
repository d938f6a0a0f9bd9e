package nn

import (
	"math"
	"testing"
)

// lossWeights returns a fixed non-uniform weighting so that gradient
// checks do not silently pass on symmetric cancellation.
func lossWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.3*math.Sin(float64(i)*0.7) + 0.1
	}
	return w
}

func weightedSum(y *Tensor, w []float64) float64 {
	var s float64
	for i, v := range y.Data {
		s += v * w[i]
	}
	return s
}

func fillSine(t *Tensor, scale float64) {
	for i := range t.Data {
		t.Data[i] = scale * math.Sin(float64(i)*0.37+0.5)
	}
}

// checkGrad compares an analytic gradient against a central difference.
func checkGrad(t *testing.T, name string, data []float64, analytic []float64, idx int, loss func() float64) {
	t.Helper()
	const h = 1e-5
	orig := data[idx]
	data[idx] = orig + h
	lp := loss()
	data[idx] = orig - h
	lm := loss()
	data[idx] = orig
	numeric := (lp - lm) / (2 * h)
	got := analytic[idx]
	tol := 1e-6 + 1e-4*math.Max(math.Abs(numeric), math.Abs(got))
	if math.Abs(numeric-got) > tol {
		t.Errorf("%s[%d]: analytic %.8f, numeric %.8f", name, idx, got, numeric)
	}
}

func TestLinearGradient(t *testing.T) {
	SetRandomSeed(3)
	l := NewLinear("fc", 4, 3)
	x := Zeros(2, 4)
	fillSine(x, 1)
	w := lossWeights(2 * 3)

	loss := func() float64 { return weightedSum(l.Forward(x, true), w) }

	y := l.Forward(x, true)
	grad, _ := NewTensor(y.Shape, append([]float64(nil), w...))
	dx := l.Backward(grad)

	for i := range l.Weight.Data {
		checkGrad(t, "weight", l.Weight.Data, l.Weight.Grad, i, loss)
	}
	for i := range l.Bias.Data {
		checkGrad(t, "bias", l.Bias.Data, l.Bias.Grad, i, loss)
	}
	for i := range x.Data {
		checkGrad(t, "input", x.Data, dx.Data, i, loss)
	}
}

func TestLayerNormGradient(t *testing.T) {
	SetRandomSeed(3)
	ln := NewLayerNorm("ln", 5)
	// Perturb gamma/beta away from the identity initialization.
	for i := range ln.Gamma.Data {
		ln.Gamma.Data[i] = 1 + 0.1*float64(i)
		ln.Beta.Data[i] = 0.05 * float64(i)
	}
	x := Zeros(3, 5)
	fillSine(x, 2)
	w := lossWeights(3 * 5)

	loss := func() float64 { return weightedSum(ln.Forward(x, true), w) }

	y := ln.Forward(x, true)
	grad, _ := NewTensor(y.Shape, append([]float64(nil), w...))
	dx := ln.Backward(grad)

	for i := range ln.Gamma.Data {
		checkGrad(t, "gamma", ln.Gamma.Data, ln.Gamma.Grad, i, loss)
	}
	for i := range ln.Beta.Data {
		checkGrad(t, "beta", ln.Beta.Data, ln.Beta.Grad, i, loss)
	}
	for i := range x.Data {
		checkGrad(t, "input", x.Data, dx.Data, i, loss)
	}
}

func TestBatchNormGradient(t *testing.T) {
	SetRandomSeed(3)
	bn := NewBatchNorm("bn", 2)
	x := Zeros(2, 2, 6)
	fillSine(x, 1.5)
	w := lossWeights(2 * 2 * 6)

	loss := func() float64 { return weightedSum(bn.Forward(x, true), w) }

	y := bn.Forward(x, true)
	grad, _ := NewTensor(y.Shape, append([]float64(nil), w...))
	dx := bn.Backward(grad)

	for i := range bn.Gamma.Data {
		checkGrad(t, "gamma", bn.Gamma.Data, bn.Gamma.Grad, i, loss)
	}
	for i := range x.Data {
		checkGrad(t, "input", x.Data, dx.Data, i, loss)
	}
}

func TestTimeConvGradient(t *testing.T) {
	SetRandomSeed(3)
	c := NewTimeConv("conv", 2, 3, 5)
	x := Zeros(1, 2, 2, 8)
	fillSine(x, 1)
	w := lossWeights(1 * 3 * 2 * 8)

	loss := func() float64 { return weightedSum(c.Forward(x, true), w) }

	y := c.Forward(x, true)
	grad, _ := NewTensor(y.Shape, append([]float64(nil), w...))
	dx := c.Backward(grad)

	for i := range c.Weight.Data {
		checkGrad(t, "weight", c.Weight.Data, c.Weight.Grad, i, loss)
	}
	for i := range x.Data {
		checkGrad(t, "input", x.Data, dx.Data, i, loss)
	}
}

func TestDepthwiseConvGradient(t *testing.T) {
	SetRandomSeed(3)
	c := NewDepthwiseConv("dw", 2, 2, 3)
	x := Zeros(2, 2, 3, 6)
	fillSine(x, 1)
	w := lossWeights(2 * 4 * 1 * 6)

	loss := func() float64 { return weightedSum(c.Forward(x, true), w) }

	y := c.Forward(x, true)
	grad, _ := NewTensor(y.Shape, append([]float64(nil), w...))
	dx := c.Backward(grad)

	for i := range c.Weight.Data {
		checkGrad(t, "weight", c.Weight.Data, c.Weight.Grad, i, loss)
	}
	for i := range x.Data {
		checkGrad(t, "input", x.Data, dx.Data, i, loss)
	}
}

func TestAttentionGradient(t *testing.T) {
	SetRandomSeed(3)
	a := NewMultiHeadAttention("attn", 4, 2, 0)
	x := Zeros(1, 3, 4)
	fillSine(x, 1)
	w := lossWeights(1 * 3 * 4)

	loss := func() float64 { return weightedSum(a.Forward(x, true), w) }

	y := a.Forward(x, true)
	grad, _ := NewTensor(y.Shape, append([]float64(nil), w...))
	dx := a.Backward(grad)

	for _, l := range []struct {
		name string
		lin  *Linear
	}{{"wq", a.Wq}, {"wk", a.Wk}, {"wv", a.Wv}, {"wo", a.Wo}} {
		for i := range l.lin.Weight.Data {
			checkGrad(t, l.name, l.lin.Weight.Data, l.lin.Weight.Grad, i, loss)
		}
	}
	for i := range x.Data {
		checkGrad(t, "input", x.Data, dx.Data, i, loss)
	}
}
