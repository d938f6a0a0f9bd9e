package nn

import "fmt"

// EEGNetConfig holds the architecture hyperparameters of the compact
// convolutional variant.
type EEGNetConfig struct {
	NumClasses   int
	Channels     int // EEG electrode channels (C3, Cz, C4)
	Samples      int // time samples per trial
	DropoutRate  float64
	KernelLength int // temporal filter length
	F1           int // temporal filters
	D            int // spatial filters per temporal filter
	F2           int // pointwise filters
}

// DefaultEEGNetConfig returns the configuration used for the 2-class
// motor imagery task at 250 Hz.
func DefaultEEGNetConfig() EEGNetConfig {
	return EEGNetConfig{
		NumClasses:   2,
		Channels:     3,
		Samples:      500,
		DropoutRate:  0.5,
		KernelLength: 64,
		F1:           8,
		D:            2,
		F2:           16,
	}
}

// EEGNet is the compact convolutional classifier: a temporal filter bank,
// a depthwise spatial filter over the electrode channels, a separable
// temporal-pattern filter, and a linear head.
type EEGNet struct {
	cfg EEGNetConfig

	conv1 *TimeConv
	bn1   *BatchNorm

	depthwise *DepthwiseConv
	bn2       *BatchNorm
	elu1      *ELU
	pool1     *AvgPool
	drop1     *Dropout

	separable *TimeConv
	bn3       *BatchNorm
	elu2      *ELU
	pool2     *AvgPool
	drop2     *Dropout

	fc *Linear

	featureSize  int
	featureShape []int
}

// NewEEGNet builds an EEGNet from the configuration.
func NewEEGNet(cfg EEGNetConfig) (*EEGNet, error) {
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", cfg.NumClasses)
	}
	if cfg.Channels <= 0 || cfg.Samples <= 0 {
		return nil, fmt.Errorf("invalid input shape (%d channels, %d samples)", cfg.Channels, cfg.Samples)
	}
	pooled := cfg.Samples / 4 / 8
	if pooled == 0 {
		return nil, fmt.Errorf("%d samples too short for the pooling stack", cfg.Samples)
	}
	featureSize := cfg.F2 * pooled

	n := &EEGNet{
		cfg:          cfg,
		conv1:        NewTimeConv("conv1", 1, cfg.F1, cfg.KernelLength),
		bn1:          NewBatchNorm("bn1", cfg.F1),
		depthwise:    NewDepthwiseConv("depthwise", cfg.F1, cfg.D, cfg.Channels),
		bn2:          NewBatchNorm("bn2", cfg.F1*cfg.D),
		elu1:         NewELU(),
		pool1:        NewAvgPool(4),
		drop1:        NewDropout(cfg.DropoutRate),
		separable:    NewTimeConv("separable", cfg.F1*cfg.D, cfg.F2, 16),
		bn3:          NewBatchNorm("bn3", cfg.F2),
		elu2:         NewELU(),
		pool2:        NewAvgPool(8),
		drop2:        NewDropout(cfg.DropoutRate),
		fc:           NewLinear("fc", featureSize, cfg.NumClasses),
		featureSize:  featureSize,
		featureShape: []int{cfg.F2, 1, pooled},
	}
	return n, nil
}

// Config returns the model configuration.
func (n *EEGNet) Config() EEGNetConfig { return n.cfg }

// FeatureSize returns the flattened pre-head feature dimension.
func (n *EEGNet) FeatureSize() int { return n.featureSize }

func (n *EEGNet) checkInput(x *Tensor) error {
	if len(x.Shape) != 3 || x.Shape[1] != n.cfg.Channels || x.Shape[2] != n.cfg.Samples {
		return fmt.Errorf("EEGNet expects input [batch, %d, %d], got %v",
			n.cfg.Channels, n.cfg.Samples, x.Shape)
	}
	return nil
}

func (n *EEGNet) features(x *Tensor, training bool) *Tensor {
	b := x.Shape[0]
	h, _ := x.Reshape(b, 1, n.cfg.Channels, n.cfg.Samples)

	h = n.conv1.Forward(h, training)
	h = n.bn1.Forward(h, training)

	h = n.depthwise.Forward(h, training)
	h = n.bn2.Forward(h, training)
	h = n.elu1.Forward(h, training)
	h = n.pool1.Forward(h, training)
	h = n.drop1.Forward(h, training)

	h = n.separable.Forward(h, training)
	h = n.bn3.Forward(h, training)
	h = n.elu2.Forward(h, training)
	h = n.pool2.Forward(h, training)
	h = n.drop2.Forward(h, training)

	flat, _ := h.Reshape(b, n.featureSize)
	return flat
}

// Forward computes class logits for a [batch, channels, samples] input.
func (n *EEGNet) Forward(x *Tensor, training bool) (*Tensor, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	return n.fc.Forward(n.features(x, training), training), nil
}

// ExtractFeatures returns the flattened pre-head activations.
func (n *EEGNet) ExtractFeatures(x *Tensor) (*Tensor, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	return n.features(x, false), nil
}

// Backward propagates the logit gradient through the network,
// accumulating parameter gradients. Must follow a training-mode Forward.
func (n *EEGNet) Backward(grad *Tensor) {
	b := grad.Shape[0]
	g := n.fc.Backward(grad)
	shape := append([]int{b}, n.featureShape...)
	g, _ = g.Reshape(shape...)

	g = n.drop2.Backward(g)
	g = n.pool2.Backward(g)
	g = n.elu2.Backward(g)
	g = n.bn3.Backward(g)
	g = n.separable.Backward(g)

	g = n.drop1.Backward(g)
	g = n.pool1.Backward(g)
	g = n.elu1.Backward(g)
	g = n.bn2.Backward(g)
	g = n.depthwise.Backward(g)

	g = n.bn1.Backward(g)
	n.conv1.Backward(g)
}

// Params returns every parameter of the model.
func (n *EEGNet) Params() []*Param {
	var out []*Param
	for _, l := range []Layer{n.conv1, n.bn1, n.depthwise, n.bn2, n.separable, n.bn3, n.fc} {
		out = append(out, l.Params()...)
	}
	return out
}

// HeadParams returns the classification head parameters.
func (n *EEGNet) HeadParams() []*Param {
	return n.fc.Params()
}

// Blocks returns the convolutional blocks ordered output-first:
// separable, depthwise, temporal.
func (n *EEGNet) Blocks() [][]*Param {
	return [][]*Param{
		append(n.separable.Params(), n.bn3.Params()...),
		append(n.depthwise.Params(), n.bn2.Params()...),
		append(n.conv1.Params(), n.bn1.Params()...),
	}
}

// NumClasses returns the number of output classes.
func (n *EEGNet) NumClasses() int { return n.cfg.NumClasses }
