package nn

import (
	"math"
	"math/rand"
)

// Global random source for deterministic weight initialization and dropout.
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic
// initialization and dropout masks.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Param is one trainable parameter tensor. Frozen parameters still carry
// gradient through the backward pass (deeper layers may need it) but are
// skipped by the optimizer.
type Param struct {
	Name   string
	Shape  []int
	Data   []float64
	Grad   []float64
	frozen bool
}

// NewParam allocates a zero-initialized parameter.
func NewParam(name string, shape ...int) *Param {
	n := numElems(shape)
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// NewParamXavier allocates a parameter with Xavier/Glorot uniform
// initialization: W ~ U(-sqrt(6/(fanIn+fanOut)), +sqrt(6/(fanIn+fanOut))).
func NewParamXavier(name string, fanIn, fanOut int, shape ...int) *Param {
	p := NewParam(name, shape...)
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range p.Data {
		p.Data[i] = (globalRng.Float64()*2 - 1) * bound
	}
	return p
}

// NewParamConst allocates a parameter with every element set to v.
// Used for batch-norm and layer-norm scale parameters.
func NewParamConst(name string, v float64, shape ...int) *Param {
	p := NewParam(name, shape...)
	for i := range p.Data {
		p.Data[i] = v
	}
	return p
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// SetFrozen marks the parameter as excluded from optimizer updates.
func (p *Param) SetFrozen(frozen bool) {
	p.frozen = frozen
}

// Frozen reports whether the optimizer should skip this parameter.
func (p *Param) Frozen() bool {
	return p.frozen
}

// NumElems returns the element count.
func (p *Param) NumElems() int {
	return len(p.Data)
}
