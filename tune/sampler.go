// Package tune is a sequential hyperparameter search driver with
// persistent, resumable studies and median-based early pruning of
// unpromising trials.
package tune

import (
	"math"
	"math/rand"
)

// TrialParams is one sampled hyperparameter set. The architecture knobs
// only apply to the transformer variant and stay zero otherwise.
type TrialParams struct {
	LearningRate float64 `json:"learning_rate"`
	WeightDecay  float64 `json:"weight_decay"`
	Dropout      float64 `json:"dropout"`

	DModel    int `json:"d_model,omitempty"`
	NumHeads  int `json:"num_heads,omitempty"`
	NumLayers int `json:"num_layers,omitempty"`
	FFNHidden int `json:"ffn_hidden,omitempty"`
}

// SearchSpace defines the ranges trials are drawn from. Rates are
// sampled log-uniformly; architecture knobs come from discrete choices.
type SearchSpace struct {
	LearningRateMin float64
	LearningRateMax float64
	WeightDecayMin  float64
	WeightDecayMax  float64
	DropoutMin      float64
	DropoutMax      float64

	// Transformer architecture choices; empty slices disable them.
	DModelChoices    []int
	NumHeadsChoices  []int
	NumLayersChoices []int
	FFNChoices       []int
}

// DefaultSearchSpace returns the space used for both model variants.
func DefaultSearchSpace(transformer bool) SearchSpace {
	s := SearchSpace{
		LearningRateMin: 1e-4,
		LearningRateMax: 1e-2,
		WeightDecayMin:  1e-6,
		WeightDecayMax:  1e-3,
		DropoutMin:      0.1,
		DropoutMax:      0.6,
	}
	if transformer {
		s.DModelChoices = []int{64, 128, 256}
		s.NumHeadsChoices = []int{4, 8}
		s.NumLayersChoices = []int{2, 4, 6}
		s.FFNChoices = []int{128, 256, 512}
	}
	return s
}

// Sample draws one hyperparameter set.
func (s SearchSpace) Sample(rng *rand.Rand) TrialParams {
	p := TrialParams{
		LearningRate: logUniform(rng, s.LearningRateMin, s.LearningRateMax),
		WeightDecay:  logUniform(rng, s.WeightDecayMin, s.WeightDecayMax),
		Dropout:      s.DropoutMin + rng.Float64()*(s.DropoutMax-s.DropoutMin),
	}
	if len(s.DModelChoices) > 0 {
		p.DModel = choice(rng, s.DModelChoices)
		p.NumHeads = choice(rng, s.NumHeadsChoices)
		p.NumLayers = choice(rng, s.NumLayersChoices)
		p.FFNHidden = choice(rng, s.FFNChoices)
		// Head count must divide the model width.
		for i := 0; i < 16 && p.DModel%p.NumHeads != 0; i++ {
			p.NumHeads = choice(rng, s.NumHeadsChoices)
		}
		if p.DModel%p.NumHeads != 0 {
			p.NumHeads = 1
		}
	}
	return p
}

func logUniform(rng *rand.Rand, lo, hi float64) float64 {
	return math.Exp(math.Log(lo) + rng.Float64()*(math.Log(hi)-math.Log(lo)))
}

func choice(rng *rand.Rand, options []int) int {
	return options[rng.Intn(len(options))]
}
