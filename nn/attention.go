package nn

import "math"

// MultiHeadAttention implements scaled dot-product self-attention over a
// [batch, time, dModel] tensor. Heads are addressed by column ranges of
// the projection outputs, so no physical head reshape is needed.
type MultiHeadAttention struct {
	Wq, Wk, Wv, Wo *Linear
	attnDrop       *Dropout

	heads, dModel, dHead int

	b, t    int
	q       *Tensor // [b*t, dModel]
	k       *Tensor
	v       *Tensor
	softmax *Tensor // [b*heads, t, t], before dropout
	probs   *Tensor // [b*heads, t, t], after dropout
}

// NewMultiHeadAttention creates an attention layer with the given number
// of heads. dModel must be divisible by heads.
func NewMultiHeadAttention(name string, dModel, heads int, dropout float64) *MultiHeadAttention {
	return &MultiHeadAttention{
		Wq:       NewLinear(name+".wq", dModel, dModel),
		Wk:       NewLinear(name+".wk", dModel, dModel),
		Wv:       NewLinear(name+".wv", dModel, dModel),
		Wo:       NewLinear(name+".wo", dModel, dModel),
		attnDrop: NewDropout(dropout),
		heads:    heads,
		dModel:   dModel,
		dHead:    dModel / heads,
	}
}

func (a *MultiHeadAttention) Forward(x *Tensor, training bool) *Tensor {
	b, t, d := x.Shape[0], x.Shape[1], x.Shape[2]
	a.b, a.t = b, t
	flat, _ := x.Reshape(b*t, d)

	a.q = a.Wq.Forward(flat, training)
	a.k = a.Wk.Forward(flat, training)
	a.v = a.Wv.Forward(flat, training)

	scale := 1.0 / math.Sqrt(float64(a.dHead))
	scores := Zeros(b*a.heads, t, t)
	for bi := 0; bi < b; bi++ {
		for h := 0; h < a.heads; h++ {
			col := h * a.dHead
			base := (bi*a.heads + h) * t * t
			for i := 0; i < t; i++ {
				qi := a.q.Data[(bi*t+i)*d+col : (bi*t+i)*d+col+a.dHead]
				row := scores.Data[base+i*t : base+(i+1)*t]
				for j := 0; j < t; j++ {
					kj := a.k.Data[(bi*t+j)*d+col : (bi*t+j)*d+col+a.dHead]
					var dot float64
					for e := 0; e < a.dHead; e++ {
						dot += qi[e] * kj[e]
					}
					row[j] = dot * scale
				}
				softmaxInPlace(row)
			}
		}
	}
	a.softmax = scores
	a.probs = a.attnDrop.Forward(scores, training)

	concat := Zeros(b*t, d)
	for bi := 0; bi < b; bi++ {
		for h := 0; h < a.heads; h++ {
			col := h * a.dHead
			base := (bi*a.heads + h) * t * t
			for i := 0; i < t; i++ {
				out := concat.Data[(bi*t+i)*d+col : (bi*t+i)*d+col+a.dHead]
				row := a.probs.Data[base+i*t : base+(i+1)*t]
				for j := 0; j < t; j++ {
					p := row[j]
					if p == 0 {
						continue
					}
					vj := a.v.Data[(bi*t+j)*d+col : (bi*t+j)*d+col+a.dHead]
					for e := 0; e < a.dHead; e++ {
						out[e] += p * vj[e]
					}
				}
			}
		}
	}

	y := a.Wo.Forward(concat, training)
	out, _ := y.Reshape(b, t, d)
	return out
}

func (a *MultiHeadAttention) Backward(grad *Tensor) *Tensor {
	b, t, d := a.b, a.t, a.dModel
	gradFlat, _ := grad.Reshape(b*t, d)
	dConcat := a.Wo.Backward(gradFlat)

	scale := 1.0 / math.Sqrt(float64(a.dHead))
	dq := Zeros(b*t, d)
	dk := Zeros(b*t, d)
	dv := Zeros(b*t, d)
	dProbs := Zeros(b*a.heads, t, t)

	for bi := 0; bi < b; bi++ {
		for h := 0; h < a.heads; h++ {
			col := h * a.dHead
			base := (bi*a.heads + h) * t * t
			for i := 0; i < t; i++ {
				do := dConcat.Data[(bi*t+i)*d+col : (bi*t+i)*d+col+a.dHead]
				probRow := a.probs.Data[base+i*t : base+(i+1)*t]
				dpRow := dProbs.Data[base+i*t : base+(i+1)*t]
				for j := 0; j < t; j++ {
					vj := a.v.Data[(bi*t+j)*d+col : (bi*t+j)*d+col+a.dHead]
					dvj := dv.Data[(bi*t+j)*d+col : (bi*t+j)*d+col+a.dHead]
					var dot float64
					p := probRow[j]
					for e := 0; e < a.dHead; e++ {
						dot += do[e] * vj[e]
						dvj[e] += p * do[e]
					}
					dpRow[j] = dot
				}
			}
		}
	}

	// Through attention dropout, then the softmax Jacobian.
	dProbs = a.attnDrop.Backward(dProbs)
	for bi := 0; bi < b; bi++ {
		for h := 0; h < a.heads; h++ {
			col := h * a.dHead
			base := (bi*a.heads + h) * t * t
			for i := 0; i < t; i++ {
				probRow := a.softmax.Data[base+i*t : base+(i+1)*t]
				dpRow := dProbs.Data[base+i*t : base+(i+1)*t]
				var inner float64
				for j := 0; j < t; j++ {
					inner += dpRow[j] * probRow[j]
				}
				qi := a.q.Data[(bi*t+i)*d+col : (bi*t+i)*d+col+a.dHead]
				dqi := dq.Data[(bi*t+i)*d+col : (bi*t+i)*d+col+a.dHead]
				for j := 0; j < t; j++ {
					ds := probRow[j] * (dpRow[j] - inner) * scale
					if ds == 0 {
						continue
					}
					kj := a.k.Data[(bi*t+j)*d+col : (bi*t+j)*d+col+a.dHead]
					dkj := dk.Data[(bi*t+j)*d+col : (bi*t+j)*d+col+a.dHead]
					for e := 0; e < a.dHead; e++ {
						dqi[e] += ds * kj[e]
						dkj[e] += ds * qi[e]
					}
				}
			}
		}
	}

	dxq := a.Wq.Backward(dq)
	dxk := a.Wk.Backward(dk)
	dxv := a.Wv.Backward(dv)

	dx := Zeros(b, t, d)
	for i := range dx.Data {
		dx.Data[i] = dxq.Data[i] + dxk.Data[i] + dxv.Data[i]
	}
	return dx
}

func (a *MultiHeadAttention) Params() []*Param {
	var out []*Param
	for _, l := range []*Linear{a.Wq, a.Wk, a.Wv, a.Wo} {
		out = append(out, l.Params()...)
	}
	return out
}

// softmaxInPlace applies a numerically stable softmax to one row.
func softmaxInPlace(row []float64) {
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for i, v := range row {
		e := math.Exp(v - max)
		row[i] = e
		sum += e
	}
	for i := range row {
		row[i] /= sum
	}
}
