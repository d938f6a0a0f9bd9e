package nn

// TimeConv convolves along the trailing time axis of a
// [batch, inFeatures, channels, time] tensor with a per-feature temporal
// kernel, mixing input feature maps but leaving the spatial channel axis
// untouched. Padding keeps the time length unchanged. With inFeatures=1
// this is the EEGNet temporal filter bank; with a wider input it is the
// separable block's temporal-pattern filter.
type TimeConv struct {
	Weight *Param // [outFeatures, inFeatures, kernel]

	inF, outF, kernel int
	input             *Tensor
}

// NewTimeConv creates a temporal convolution without bias, following the
// EEGNet convention.
func NewTimeConv(name string, inFeatures, outFeatures, kernel int) *TimeConv {
	fan := inFeatures * kernel
	return &TimeConv{
		Weight: NewParamXavier(name+".weight", fan, outFeatures*kernel, outFeatures, inFeatures, kernel),
		inF:    inFeatures,
		outF:   outFeatures,
		kernel: kernel,
	}
}

func (c *TimeConv) Forward(x *Tensor, training bool) *Tensor {
	c.input = x
	b, ch, t := x.Shape[0], x.Shape[2], x.Shape[3]
	padL := (c.kernel - 1) / 2

	y := Zeros(b, c.outF, ch, t)
	for bi := 0; bi < b; bi++ {
		for fo := 0; fo < c.outF; fo++ {
			for fi := 0; fi < c.inF; fi++ {
				w := c.Weight.Data[(fo*c.inF+fi)*c.kernel : (fo*c.inF+fi+1)*c.kernel]
				for ci := 0; ci < ch; ci++ {
					in := x.Data[((bi*c.inF+fi)*ch+ci)*t : ((bi*c.inF+fi)*ch+ci+1)*t]
					out := y.Data[((bi*c.outF+fo)*ch+ci)*t : ((bi*c.outF+fo)*ch+ci+1)*t]
					for ti := 0; ti < t; ti++ {
						var sum float64
						for k := 0; k < c.kernel; k++ {
							src := ti + k - padL
							if src >= 0 && src < t {
								sum += w[k] * in[src]
							}
						}
						out[ti] += sum
					}
				}
			}
		}
	}
	return y
}

func (c *TimeConv) Backward(grad *Tensor) *Tensor {
	x := c.input
	b, ch, t := x.Shape[0], x.Shape[2], x.Shape[3]
	padL := (c.kernel - 1) / 2

	dx := Zeros(x.Shape...)
	for bi := 0; bi < b; bi++ {
		for fo := 0; fo < c.outF; fo++ {
			for fi := 0; fi < c.inF; fi++ {
				base := (fo*c.inF + fi) * c.kernel
				w := c.Weight.Data[base : base+c.kernel]
				wg := c.Weight.Grad[base : base+c.kernel]
				for ci := 0; ci < ch; ci++ {
					in := x.Data[((bi*c.inF+fi)*ch+ci)*t : ((bi*c.inF+fi)*ch+ci+1)*t]
					din := dx.Data[((bi*c.inF+fi)*ch+ci)*t : ((bi*c.inF+fi)*ch+ci+1)*t]
					g := grad.Data[((bi*c.outF+fo)*ch+ci)*t : ((bi*c.outF+fo)*ch+ci+1)*t]
					for ti := 0; ti < t; ti++ {
						gv := g[ti]
						if gv == 0 {
							continue
						}
						for k := 0; k < c.kernel; k++ {
							src := ti + k - padL
							if src >= 0 && src < t {
								wg[k] += in[src] * gv
								din[src] += w[k] * gv
							}
						}
					}
				}
			}
		}
	}
	return dx
}

func (c *TimeConv) Params() []*Param {
	return []*Param{c.Weight}
}

// DepthwiseConv collapses the spatial channel axis of a
// [batch, features, channels, time] tensor: every input feature map gets
// Depth independent spatial filters over the electrode channels,
// producing [batch, features*Depth, 1, time]. This is EEGNet's learned
// spatial filter.
type DepthwiseConv struct {
	Weight *Param // [features, depth, channels]

	features, depth, channels int
	input                     *Tensor
}

// NewDepthwiseConv creates a depthwise spatial convolution without bias.
func NewDepthwiseConv(name string, features, depth, channels int) *DepthwiseConv {
	return &DepthwiseConv{
		Weight:   NewParamXavier(name+".weight", channels, depth, features, depth, channels),
		features: features,
		depth:    depth,
		channels: channels,
	}
}

func (c *DepthwiseConv) Forward(x *Tensor, training bool) *Tensor {
	c.input = x
	b, t := x.Shape[0], x.Shape[3]
	f, d, ch := c.features, c.depth, c.channels

	y := Zeros(b, f*d, 1, t)
	for bi := 0; bi < b; bi++ {
		for fi := 0; fi < f; fi++ {
			for di := 0; di < d; di++ {
				w := c.Weight.Data[(fi*d+di)*ch : (fi*d+di+1)*ch]
				out := y.Data[(bi*f*d+fi*d+di)*t : (bi*f*d+fi*d+di+1)*t]
				for ci := 0; ci < ch; ci++ {
					wv := w[ci]
					in := x.Data[((bi*f+fi)*ch+ci)*t : ((bi*f+fi)*ch+ci+1)*t]
					for ti := 0; ti < t; ti++ {
						out[ti] += wv * in[ti]
					}
				}
			}
		}
	}
	return y
}

func (c *DepthwiseConv) Backward(grad *Tensor) *Tensor {
	x := c.input
	b, t := x.Shape[0], x.Shape[3]
	f, d, ch := c.features, c.depth, c.channels

	dx := Zeros(x.Shape...)
	for bi := 0; bi < b; bi++ {
		for fi := 0; fi < f; fi++ {
			for di := 0; di < d; di++ {
				base := (fi*d + di) * ch
				g := grad.Data[(bi*f*d+fi*d+di)*t : (bi*f*d+fi*d+di+1)*t]
				for ci := 0; ci < ch; ci++ {
					in := x.Data[((bi*f+fi)*ch+ci)*t : ((bi*f+fi)*ch+ci+1)*t]
					din := dx.Data[((bi*f+fi)*ch+ci)*t : ((bi*f+fi)*ch+ci+1)*t]
					wv := c.Weight.Data[base+ci]
					var wgrad float64
					for ti := 0; ti < t; ti++ {
						wgrad += in[ti] * g[ti]
						din[ti] += wv * g[ti]
					}
					c.Weight.Grad[base+ci] += wgrad
				}
			}
		}
	}
	return dx
}

func (c *DepthwiseConv) Params() []*Param {
	return []*Param{c.Weight}
}
