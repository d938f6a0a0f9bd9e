package nn

import (
	"fmt"
	"math"
)

// TransformerConfig holds the architecture hyperparameters of the
// sequence-transformer variant.
type TransformerConfig struct {
	NumClasses  int
	InChannels  int // EEG electrode channels
	SeqLength   int // time samples per trial (after padding)
	DModel      int
	NumHeads    int
	NumLayers   int
	FFNHidden   int
	DropoutRate float64
}

// DefaultTransformerConfig returns the configuration used for the
// 2-class motor imagery task with 512-sample inputs.
func DefaultTransformerConfig() TransformerConfig {
	return TransformerConfig{
		NumClasses:  2,
		InChannels:  3,
		SeqLength:   512,
		DModel:      128,
		NumHeads:    8,
		NumLayers:   6,
		FFNHidden:   256,
		DropoutRate: 0.1,
	}
}

// encoderBlock is one pre-norm transformer encoder layer.
type encoderBlock struct {
	ln1   *LayerNorm
	attn  *MultiHeadAttention
	drop1 *Dropout

	ln2     *LayerNorm
	ffn1    *Linear
	relu    *ReLU
	ffnDrop *Dropout
	ffn2    *Linear
	drop2   *Dropout

	b, t, d int
}

func newEncoderBlock(name string, cfg TransformerConfig) *encoderBlock {
	return &encoderBlock{
		ln1:     NewLayerNorm(name+".ln1", cfg.DModel),
		attn:    NewMultiHeadAttention(name+".attn", cfg.DModel, cfg.NumHeads, cfg.DropoutRate),
		drop1:   NewDropout(cfg.DropoutRate),
		ln2:     NewLayerNorm(name+".ln2", cfg.DModel),
		ffn1:    NewLinear(name+".ffn1", cfg.DModel, cfg.FFNHidden),
		relu:    NewReLU(),
		ffnDrop: NewDropout(cfg.DropoutRate),
		ffn2:    NewLinear(name+".ffn2", cfg.FFNHidden, cfg.DModel),
		drop2:   NewDropout(cfg.DropoutRate),
	}
}

func (e *encoderBlock) forward(x *Tensor, training bool) *Tensor {
	e.b, e.t, e.d = x.Shape[0], x.Shape[1], x.Shape[2]

	h := e.ln1.Forward(x, training)
	h = e.attn.Forward(h, training)
	h = e.drop1.Forward(h, training)
	mid := Zeros(x.Shape...)
	for i := range mid.Data {
		mid.Data[i] = x.Data[i] + h.Data[i]
	}

	h = e.ln2.Forward(mid, training)
	flat, _ := h.Reshape(e.b*e.t, e.d)
	h = e.ffn1.Forward(flat, training)
	h = e.relu.Forward(h, training)
	h = e.ffnDrop.Forward(h, training)
	h = e.ffn2.Forward(h, training)
	h, _ = h.Reshape(e.b, e.t, e.d)
	h = e.drop2.Forward(h, training)

	out := Zeros(x.Shape...)
	for i := range out.Data {
		out.Data[i] = mid.Data[i] + h.Data[i]
	}
	return out
}

func (e *encoderBlock) backward(grad *Tensor) *Tensor {
	g := e.drop2.Backward(grad)
	gFlat, _ := g.Reshape(e.b*e.t, e.d)
	gf := e.ffn2.Backward(gFlat)
	gf = e.ffnDrop.Backward(gf)
	gf = e.relu.Backward(gf)
	gf = e.ffn1.Backward(gf)
	gf, _ = gf.Reshape(e.b, e.t, e.d)
	dMid := e.ln2.Backward(gf)
	for i := range dMid.Data {
		dMid.Data[i] += grad.Data[i]
	}

	g = e.drop1.Backward(dMid)
	g = e.attn.Backward(g)
	dx := e.ln1.Backward(g)
	for i := range dx.Data {
		dx.Data[i] += dMid.Data[i]
	}
	return dx
}

func (e *encoderBlock) params() []*Param {
	var out []*Param
	out = append(out, e.ln1.Params()...)
	out = append(out, e.attn.Params()...)
	out = append(out, e.ln2.Params()...)
	out = append(out, e.ffn1.Params()...)
	out = append(out, e.ffn2.Params()...)
	return out
}

// EEGTransformer is the sequence-transformer classifier: a pointwise
// channel embedding, sinusoidal positional encoding, a stack of pre-norm
// encoder layers, mean pooling over time, and a linear head.
type EEGTransformer struct {
	cfg TransformerConfig

	embed     *Linear // per-timestep channel projection
	embedDrop *Dropout
	posenc    []float64 // [seq * dModel]
	blocks    []*encoderBlock
	lnFinal   *LayerNorm
	head      *Linear

	b int
}

// NewEEGTransformer builds a transformer from the configuration.
func NewEEGTransformer(cfg TransformerConfig) (*EEGTransformer, error) {
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", cfg.NumClasses)
	}
	if cfg.DModel%cfg.NumHeads != 0 {
		return nil, fmt.Errorf("d_model %d not divisible by %d heads", cfg.DModel, cfg.NumHeads)
	}
	if cfg.NumLayers <= 0 {
		return nil, fmt.Errorf("need at least one encoder layer")
	}

	m := &EEGTransformer{
		cfg:       cfg,
		embed:     NewLinear("embed", cfg.InChannels, cfg.DModel),
		embedDrop: NewDropout(cfg.DropoutRate),
		posenc:    sinusoidalEncoding(cfg.SeqLength, cfg.DModel),
		lnFinal:   NewLayerNorm("ln_final", cfg.DModel),
		head:      NewLinear("head", cfg.DModel, cfg.NumClasses),
	}
	for i := 0; i < cfg.NumLayers; i++ {
		m.blocks = append(m.blocks, newEncoderBlock(fmt.Sprintf("encoder.%d", i), cfg))
	}
	return m, nil
}

// sinusoidalEncoding builds the fixed positional encoding table.
func sinusoidalEncoding(seq, dModel int) []float64 {
	pe := make([]float64, seq*dModel)
	for pos := 0; pos < seq; pos++ {
		for i := 0; i < dModel; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(dModel))
			pe[pos*dModel+i] = math.Sin(angle)
			if i+1 < dModel {
				pe[pos*dModel+i+1] = math.Cos(angle)
			}
		}
	}
	return pe
}

// Config returns the model configuration.
func (m *EEGTransformer) Config() TransformerConfig { return m.cfg }

func (m *EEGTransformer) checkInput(x *Tensor) error {
	if len(x.Shape) != 3 || x.Shape[1] != m.cfg.InChannels || x.Shape[2] != m.cfg.SeqLength {
		return fmt.Errorf("EEGTransformer expects input [batch, %d, %d], got %v",
			m.cfg.InChannels, m.cfg.SeqLength, x.Shape)
	}
	return nil
}

// embedForward projects [batch, channels, time] to [batch, time, dModel]
// and adds the positional encoding.
func (m *EEGTransformer) embedForward(x *Tensor, training bool) *Tensor {
	b, c, t := x.Shape[0], x.Shape[1], x.Shape[2]
	d := m.cfg.DModel

	// Transpose to per-timestep channel vectors.
	steps := Zeros(b*t, c)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			src := x.Data[(bi*c+ci)*t : (bi*c+ci+1)*t]
			for ti := 0; ti < t; ti++ {
				steps.Data[(bi*t+ti)*c+ci] = src[ti]
			}
		}
	}

	h := m.embed.Forward(steps, training)
	for bi := 0; bi < b; bi++ {
		for ti := 0; ti < t; ti++ {
			row := h.Data[(bi*t+ti)*d : (bi*t+ti+1)*d]
			pe := m.posenc[ti*d : (ti+1)*d]
			for e := range row {
				row[e] += pe[e]
			}
		}
	}
	h, _ = h.Reshape(b, t, d)
	return m.embedDrop.Forward(h, training)
}

func (m *EEGTransformer) features(x *Tensor, training bool) *Tensor {
	m.b = x.Shape[0]
	h := m.embedForward(x, training)
	for _, blk := range m.blocks {
		h = blk.forward(h, training)
	}
	h = m.lnFinal.Forward(h, training)

	// Mean pool over time.
	b, t, d := m.b, m.cfg.SeqLength, m.cfg.DModel
	pooled := Zeros(b, d)
	for bi := 0; bi < b; bi++ {
		for ti := 0; ti < t; ti++ {
			row := h.Data[(bi*t+ti)*d : (bi*t+ti+1)*d]
			out := pooled.Data[bi*d : (bi+1)*d]
			for e := range row {
				out[e] += row[e]
			}
		}
		out := pooled.Data[bi*d : (bi+1)*d]
		for e := range out {
			out[e] /= float64(t)
		}
	}
	return pooled
}

// Forward computes class logits for a [batch, channels, time] input.
func (m *EEGTransformer) Forward(x *Tensor, training bool) (*Tensor, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	return m.head.Forward(m.features(x, training), training), nil
}

// ExtractFeatures returns the pooled pre-head representation.
func (m *EEGTransformer) ExtractFeatures(x *Tensor) (*Tensor, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	return m.features(x, false), nil
}

// Backward propagates the logit gradient through the network. Must
// follow a training-mode Forward.
func (m *EEGTransformer) Backward(grad *Tensor) {
	b, t, d := m.b, m.cfg.SeqLength, m.cfg.DModel

	g := m.head.Backward(grad)

	// Undo the mean pool.
	seq := Zeros(b, t, d)
	for bi := 0; bi < b; bi++ {
		src := g.Data[bi*d : (bi+1)*d]
		for ti := 0; ti < t; ti++ {
			dst := seq.Data[(bi*t+ti)*d : (bi*t+ti+1)*d]
			for e := range dst {
				dst[e] = src[e] / float64(t)
			}
		}
	}

	h := m.lnFinal.Backward(seq)
	for i := len(m.blocks) - 1; i >= 0; i-- {
		h = m.blocks[i].backward(h)
	}

	h = m.embedDrop.Backward(h)
	flat, _ := h.Reshape(b*t, d)
	m.embed.Backward(flat)
}

// Params returns every parameter of the model.
func (m *EEGTransformer) Params() []*Param {
	var out []*Param
	out = append(out, m.embed.Params()...)
	for _, blk := range m.blocks {
		out = append(out, blk.params()...)
	}
	out = append(out, m.lnFinal.Params()...)
	out = append(out, m.head.Params()...)
	return out
}

// HeadParams returns the classification head parameters.
func (m *EEGTransformer) HeadParams() []*Param {
	return m.head.Params()
}

// Blocks returns parameter groups ordered output-first: the final
// normalization with the last encoder layer, then earlier encoder
// layers, and the channel embedding deepest.
func (m *EEGTransformer) Blocks() [][]*Param {
	var out [][]*Param
	for i := len(m.blocks) - 1; i >= 0; i-- {
		grp := m.blocks[i].params()
		if i == len(m.blocks)-1 {
			grp = append(grp, m.lnFinal.Params()...)
		}
		out = append(out, grp)
	}
	out = append(out, m.embed.Params())
	return out
}

// NumClasses returns the number of output classes.
func (m *EEGTransformer) NumClasses() int { return m.cfg.NumClasses }
