package nn

// Classifier is the interface shared by both model variants. Forward
// produces logits; ExtractFeatures returns the pre-head activations used
// for transfer learning. Blocks exposes parameter groups ordered from the
// output side inward, so Blocks()[0] is the most task-specific group.
type Classifier interface {
	Forward(x *Tensor, training bool) (*Tensor, error)
	Backward(grad *Tensor)
	ExtractFeatures(x *Tensor) (*Tensor, error)
	Params() []*Param
	HeadParams() []*Param
	Blocks() [][]*Param
	NumClasses() int
}

// CountParameters returns the total number of scalar parameters.
func CountParameters(m Classifier) int {
	n := 0
	for _, p := range m.Params() {
		n += p.NumElems()
	}
	return n
}

// CountTrainable returns the number of scalar parameters the optimizer
// would currently update.
func CountTrainable(m Classifier) int {
	n := 0
	for _, p := range m.Params() {
		if !p.Frozen() {
			n += p.NumElems()
		}
	}
	return n
}
