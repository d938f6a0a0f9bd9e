package training

import (
	"math"

	"github.com/aliftffd/bcitrain/checkpoint"
	"github.com/aliftffd/bcitrain/nn"
)

// AdamConfig holds the Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64 // L2 penalty folded into the gradient
}

// DefaultAdamConfig returns the standard Adam configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam updates a tracked parameter set with bias-corrected first and
// second moments. Moments are keyed by parameter name so Rebuild can
// swap the tracked set at a fine-tuning phase boundary without losing
// state for parameters that stay trainable.
type Adam struct {
	cfg    AdamConfig
	params []*nn.Param
	step   int
	m      map[string][]float64
	v      map[string][]float64
}

// NewAdam creates an optimizer over the given trainable parameters.
func NewAdam(cfg AdamConfig, params []*nn.Param) *Adam {
	a := &Adam{
		cfg: cfg,
		m:   make(map[string][]float64),
		v:   make(map[string][]float64),
	}
	a.Rebuild(params)
	return a
}

// Rebuild replaces the tracked parameter set. Called at phase boundaries
// when the freeze policy changes the trainable subset.
func (a *Adam) Rebuild(params []*nn.Param) {
	a.params = params
	for _, p := range params {
		if _, ok := a.m[p.Name]; !ok {
			a.m[p.Name] = make([]float64, len(p.Data))
			a.v[p.Name] = make([]float64, len(p.Data))
		}
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.cfg.LearningRate }

// SetLR changes the learning rate, typically from the scheduler.
func (a *Adam) SetLR(lr float64) { a.cfg.LearningRate = lr }

// Step applies one update to every tracked, unfrozen parameter.
func (a *Adam) Step() {
	a.step++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.step))

	for _, p := range a.params {
		if p.Frozen() {
			continue
		}
		m, v := a.m[p.Name], a.v[p.Name]
		for i := range p.Data {
			g := p.Grad[i]
			if a.cfg.WeightDecay > 0 {
				g += a.cfg.WeightDecay * p.Data[i]
			}
			m[i] = a.cfg.Beta1*m[i] + (1-a.cfg.Beta1)*g
			v[i] = a.cfg.Beta2*v[i] + (1-a.cfg.Beta2)*g*g
			mh := m[i] / c1
			vh := v[i] / c2
			p.Data[i] -= a.cfg.LearningRate * mh / (math.Sqrt(vh) + a.cfg.Epsilon)
		}
	}
}

// ZeroGrad clears the gradient of every tracked parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Export snapshots the optimizer for checkpointing.
func (a *Adam) Export() *checkpoint.OptimizerState {
	state := &checkpoint.OptimizerState{
		Type:         "Adam",
		LearningRate: a.cfg.LearningRate,
		WeightDecay:  a.cfg.WeightDecay,
		Step:         a.step,
		Moment1:      make(map[string][]float64, len(a.m)),
		Moment2:      make(map[string][]float64, len(a.v)),
	}
	for name, m := range a.m {
		state.Moment1[name] = append([]float64(nil), m...)
	}
	for name, v := range a.v {
		state.Moment2[name] = append([]float64(nil), v...)
	}
	return state
}

// Restore resumes the optimizer from a checkpoint. Moments for unknown
// parameters are dropped; missing moments stay zero-initialized.
func (a *Adam) Restore(state *checkpoint.OptimizerState) {
	a.cfg.LearningRate = state.LearningRate
	a.cfg.WeightDecay = state.WeightDecay
	a.step = state.Step
	for name, m := range a.m {
		if saved, ok := state.Moment1[name]; ok && len(saved) == len(m) {
			copy(m, saved)
		}
	}
	for name, v := range a.v {
		if saved, ok := state.Moment2[name]; ok && len(saved) == len(v) {
			copy(v, saved)
		}
	}
}
