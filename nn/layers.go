package nn

import "math"

// Layer is one differentiable block. Forward caches whatever the layer
// needs for the matching Backward call; Backward consumes the gradient
// w.r.t. the layer output and returns the gradient w.r.t. its input,
// accumulating parameter gradients along the way. Shape validation happens
// once at the model boundary, so layers assume well-formed inputs.
type Layer interface {
	Forward(x *Tensor, training bool) *Tensor
	Backward(grad *Tensor) *Tensor
	Params() []*Param
}

// Linear is a fully connected layer: y = xW + b with W of shape
// [inputSize, outputSize].
type Linear struct {
	Weight *Param
	Bias   *Param

	input *Tensor
}

// NewLinear creates a Linear layer with Xavier-initialized weights and
// zero bias.
func NewLinear(name string, inputSize, outputSize int) *Linear {
	return &Linear{
		Weight: NewParamXavier(name+".weight", inputSize, outputSize, inputSize, outputSize),
		Bias:   NewParam(name+".bias", outputSize),
	}
}

func (l *Linear) Forward(x *Tensor, training bool) *Tensor {
	l.input = x
	b, in := x.Shape[0], x.Shape[1]
	out := l.Weight.Shape[1]
	y := Zeros(b, out)
	for i := 0; i < b; i++ {
		xi := x.Data[i*in : (i+1)*in]
		yi := y.Data[i*out : (i+1)*out]
		copy(yi, l.Bias.Data)
		for j, xv := range xi {
			if xv == 0 {
				continue
			}
			w := l.Weight.Data[j*out : (j+1)*out]
			for k, wv := range w {
				yi[k] += xv * wv
			}
		}
	}
	return y
}

func (l *Linear) Backward(grad *Tensor) *Tensor {
	x := l.input
	b, in := x.Shape[0], x.Shape[1]
	out := l.Weight.Shape[1]
	dx := Zeros(b, in)
	for i := 0; i < b; i++ {
		xi := x.Data[i*in : (i+1)*in]
		gi := grad.Data[i*out : (i+1)*out]
		di := dx.Data[i*in : (i+1)*in]
		for k, gv := range gi {
			l.Bias.Grad[k] += gv
		}
		for j, xv := range xi {
			w := l.Weight.Data[j*out : (j+1)*out]
			wg := l.Weight.Grad[j*out : (j+1)*out]
			var acc float64
			for k, gv := range gi {
				wg[k] += xv * gv
				acc += w[k] * gv
			}
			di[j] = acc
		}
	}
	return dx
}

func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.Bias}
}

// BatchNorm normalizes per feature map over the remaining axes of a
// [batch, features, ...] tensor, with learnable scale and shift. Running
// statistics are tracked for evaluation mode.
type BatchNorm struct {
	Gamma *Param
	Beta  *Param

	RunningMean []float64
	RunningVar  []float64
	Momentum    float64
	Eps         float64

	features int
	xhat     *Tensor
	std      []float64
}

// NewBatchNorm creates a BatchNorm over the given number of feature maps.
func NewBatchNorm(name string, features int) *BatchNorm {
	bn := &BatchNorm{
		Gamma:       NewParamConst(name+".weight", 1, features),
		Beta:        NewParam(name+".bias", features),
		RunningMean: make([]float64, features),
		RunningVar:  make([]float64, features),
		Momentum:    0.1,
		Eps:         1e-5,
		features:    features,
	}
	for i := range bn.RunningVar {
		bn.RunningVar[i] = 1
	}
	return bn
}

func (bn *BatchNorm) Forward(x *Tensor, training bool) *Tensor {
	b := x.Shape[0]
	f := bn.features
	inner := x.NumElems() / (b * f)

	mean := make([]float64, f)
	variance := make([]float64, f)
	if training {
		n := float64(b * inner)
		for bi := 0; bi < b; bi++ {
			for fi := 0; fi < f; fi++ {
				off := (bi*f + fi) * inner
				for _, v := range x.Data[off : off+inner] {
					mean[fi] += v
				}
			}
		}
		for fi := range mean {
			mean[fi] /= n
		}
		for bi := 0; bi < b; bi++ {
			for fi := 0; fi < f; fi++ {
				off := (bi*f + fi) * inner
				for _, v := range x.Data[off : off+inner] {
					d := v - mean[fi]
					variance[fi] += d * d
				}
			}
		}
		for fi := range variance {
			variance[fi] /= n
		}
		for fi := 0; fi < f; fi++ {
			bn.RunningMean[fi] = (1-bn.Momentum)*bn.RunningMean[fi] + bn.Momentum*mean[fi]
			bn.RunningVar[fi] = (1-bn.Momentum)*bn.RunningVar[fi] + bn.Momentum*variance[fi]
		}
	} else {
		copy(mean, bn.RunningMean)
		copy(variance, bn.RunningVar)
	}

	bn.std = make([]float64, f)
	for fi := range bn.std {
		bn.std[fi] = math.Sqrt(variance[fi] + bn.Eps)
	}

	y := Zeros(x.Shape...)
	bn.xhat = Zeros(x.Shape...)
	for bi := 0; bi < b; bi++ {
		for fi := 0; fi < f; fi++ {
			off := (bi*f + fi) * inner
			g, be := bn.Gamma.Data[fi], bn.Beta.Data[fi]
			m, s := mean[fi], bn.std[fi]
			for i := off; i < off+inner; i++ {
				xh := (x.Data[i] - m) / s
				bn.xhat.Data[i] = xh
				y.Data[i] = g*xh + be
			}
		}
	}
	return y
}

func (bn *BatchNorm) Backward(grad *Tensor) *Tensor {
	b := grad.Shape[0]
	f := bn.features
	inner := grad.NumElems() / (b * f)
	n := float64(b * inner)

	sumG := make([]float64, f)
	sumGX := make([]float64, f)
	for bi := 0; bi < b; bi++ {
		for fi := 0; fi < f; fi++ {
			off := (bi*f + fi) * inner
			for i := off; i < off+inner; i++ {
				sumG[fi] += grad.Data[i]
				sumGX[fi] += grad.Data[i] * bn.xhat.Data[i]
			}
		}
	}
	for fi := 0; fi < f; fi++ {
		bn.Beta.Grad[fi] += sumG[fi]
		bn.Gamma.Grad[fi] += sumGX[fi]
	}

	dx := Zeros(grad.Shape...)
	for bi := 0; bi < b; bi++ {
		for fi := 0; fi < f; fi++ {
			off := (bi*f + fi) * inner
			scale := bn.Gamma.Data[fi] / bn.std[fi]
			mg := sumG[fi] / n
			mgx := sumGX[fi] / n
			for i := off; i < off+inner; i++ {
				dx.Data[i] = scale * (grad.Data[i] - mg - bn.xhat.Data[i]*mgx)
			}
		}
	}
	return dx
}

func (bn *BatchNorm) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta}
}

// ELU applies the exponential linear unit elementwise.
type ELU struct {
	Alpha  float64
	output *Tensor
	input  *Tensor
}

// NewELU creates an ELU activation with alpha 1.
func NewELU() *ELU {
	return &ELU{Alpha: 1}
}

func (e *ELU) Forward(x *Tensor, training bool) *Tensor {
	e.input = x
	y := Zeros(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		} else {
			y.Data[i] = e.Alpha * (math.Exp(v) - 1)
		}
	}
	e.output = y
	return y
}

func (e *ELU) Backward(grad *Tensor) *Tensor {
	dx := Zeros(grad.Shape...)
	for i, g := range grad.Data {
		if e.input.Data[i] > 0 {
			dx.Data[i] = g
		} else {
			dx.Data[i] = g * (e.output.Data[i] + e.Alpha)
		}
	}
	return dx
}

func (e *ELU) Params() []*Param { return nil }

// ReLU applies the rectified linear unit elementwise.
type ReLU struct {
	input *Tensor
}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Forward(x *Tensor, training bool) *Tensor {
	r.input = x
	y := Zeros(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		}
	}
	return y
}

func (r *ReLU) Backward(grad *Tensor) *Tensor {
	dx := Zeros(grad.Shape...)
	for i, g := range grad.Data {
		if r.input.Data[i] > 0 {
			dx.Data[i] = g
		}
	}
	return dx
}

func (r *ReLU) Params() []*Param { return nil }

// AvgPool averages non-overlapping windows along the trailing (time) axis.
type AvgPool struct {
	Kernel  int
	inShape []int
}

// NewAvgPool creates an average pool with the given kernel and equal stride.
func NewAvgPool(kernel int) *AvgPool {
	return &AvgPool{Kernel: kernel}
}

func (p *AvgPool) Forward(x *Tensor, training bool) *Tensor {
	p.inShape = append([]int(nil), x.Shape...)
	t := x.Shape[len(x.Shape)-1]
	outT := t / p.Kernel
	outer := x.NumElems() / t

	outShape := append([]int(nil), x.Shape[:len(x.Shape)-1]...)
	outShape = append(outShape, outT)
	y := Zeros(outShape...)
	inv := 1.0 / float64(p.Kernel)
	for o := 0; o < outer; o++ {
		in := x.Data[o*t : (o+1)*t]
		out := y.Data[o*outT : (o+1)*outT]
		for i := 0; i < outT; i++ {
			var sum float64
			for k := 0; k < p.Kernel; k++ {
				sum += in[i*p.Kernel+k]
			}
			out[i] = sum * inv
		}
	}
	return y
}

func (p *AvgPool) Backward(grad *Tensor) *Tensor {
	t := p.inShape[len(p.inShape)-1]
	outT := t / p.Kernel
	outer := numElems(p.inShape) / t

	dx := Zeros(p.inShape...)
	inv := 1.0 / float64(p.Kernel)
	for o := 0; o < outer; o++ {
		g := grad.Data[o*outT : (o+1)*outT]
		d := dx.Data[o*t : (o+1)*t]
		for i := 0; i < outT; i++ {
			gv := g[i] * inv
			for k := 0; k < p.Kernel; k++ {
				d[i*p.Kernel+k] = gv
			}
		}
	}
	return dx
}

func (p *AvgPool) Params() []*Param { return nil }

// Dropout zeroes activations with probability Rate during training and
// scales the survivors by 1/(1-Rate). Identity in evaluation mode.
type Dropout struct {
	Rate float64
	mask []float64
}

// NewDropout creates a dropout layer.
func NewDropout(rate float64) *Dropout {
	return &Dropout{Rate: rate}
}

func (d *Dropout) Forward(x *Tensor, training bool) *Tensor {
	if !training || d.Rate <= 0 {
		d.mask = nil
		return x
	}
	scale := 1.0 / (1.0 - d.Rate)
	d.mask = make([]float64, len(x.Data))
	y := Zeros(x.Shape...)
	for i, v := range x.Data {
		if globalRng.Float64() >= d.Rate {
			d.mask[i] = scale
			y.Data[i] = v * scale
		}
	}
	return y
}

func (d *Dropout) Backward(grad *Tensor) *Tensor {
	if d.mask == nil {
		return grad
	}
	dx := Zeros(grad.Shape...)
	for i, g := range grad.Data {
		dx.Data[i] = g * d.mask[i]
	}
	return dx
}

func (d *Dropout) Params() []*Param { return nil }

// LayerNorm normalizes over the trailing feature axis of a [..., dim]
// tensor with learnable scale and shift.
type LayerNorm struct {
	Gamma *Param
	Beta  *Param
	Eps   float64

	xhat *Tensor
	std  []float64
}

// NewLayerNorm creates a LayerNorm over the given feature dimension.
func NewLayerNorm(name string, dim int) *LayerNorm {
	return &LayerNorm{
		Gamma: NewParamConst(name+".weight", 1, dim),
		Beta:  NewParam(name+".bias", dim),
		Eps:   1e-5,
	}
}

func (ln *LayerNorm) Forward(x *Tensor, training bool) *Tensor {
	dim := x.Shape[len(x.Shape)-1]
	rows := x.NumElems() / dim

	y := Zeros(x.Shape...)
	ln.xhat = Zeros(x.Shape...)
	ln.std = make([]float64, rows)
	for r := 0; r < rows; r++ {
		row := x.Data[r*dim : (r+1)*dim]
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(dim)
		var variance float64
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(dim)
		std := math.Sqrt(variance + ln.Eps)
		ln.std[r] = std
		for i, v := range row {
			xh := (v - mean) / std
			ln.xhat.Data[r*dim+i] = xh
			y.Data[r*dim+i] = ln.Gamma.Data[i]*xh + ln.Beta.Data[i]
		}
	}
	return y
}

func (ln *LayerNorm) Backward(grad *Tensor) *Tensor {
	dim := grad.Shape[len(grad.Shape)-1]
	rows := grad.NumElems() / dim

	dx := Zeros(grad.Shape...)
	for r := 0; r < rows; r++ {
		g := grad.Data[r*dim : (r+1)*dim]
		xh := ln.xhat.Data[r*dim : (r+1)*dim]
		var sumG, sumGX float64
		for i := 0; i < dim; i++ {
			gg := g[i] * ln.Gamma.Data[i]
			sumG += gg
			sumGX += gg * xh[i]
		}
		for i := 0; i < dim; i++ {
			ln.Gamma.Grad[i] += g[i] * xh[i]
			ln.Beta.Grad[i] += g[i]
			gg := g[i] * ln.Gamma.Data[i]
			dx.Data[r*dim+i] = (gg - sumG/float64(dim) - xh[i]*sumGX/float64(dim)) / ln.std[r]
		}
	}
	return dx
}

func (ln *LayerNorm) Params() []*Param {
	return []*Param{ln.Gamma, ln.Beta}
}
