package training

import (
	"context"
	"fmt"

	"github.com/aliftffd/bcitrain/dataset"
	"github.com/aliftffd/bcitrain/nn"
)

// FineTuneConfig describes the two-phase transfer protocol: first the
// head alone at a higher learning rate, then the head plus the last N
// blocks at a lower one.
type FineTuneConfig struct {
	HeadEpochs       int
	HeadLearningRate float64

	Epochs        int
	LearningRate  float64
	UnfreezeLastN int

	BatchSize     int
	WeightDecay   float64
	Patience      int
	LRPatience    int
	LRFactor      float64
	Seed          int64
	NumWorkers    int
	CheckpointDir string
	ModelType     string
}

// DefaultFineTuneConfig returns the transfer protocol used for the
// personal dataset.
func DefaultFineTuneConfig() FineTuneConfig {
	return FineTuneConfig{
		HeadEpochs:       10,
		HeadLearningRate: 0.01,
		Epochs:           30,
		LearningRate:     0.001,
		UnfreezeLastN:    1,
		BatchSize:        8,
		Patience:         10,
		LRPatience:       5,
		LRFactor:         0.5,
		Seed:             42,
		NumWorkers:       2,
	}
}

func (c FineTuneConfig) phase(epochs int, lr float64) Config {
	return Config{
		Epochs:        epochs,
		BatchSize:     c.BatchSize,
		LearningRate:  lr,
		WeightDecay:   c.WeightDecay,
		Patience:      c.Patience,
		LRPatience:    c.LRPatience,
		LRFactor:      c.LRFactor,
		Seed:          c.Seed,
		NumWorkers:    c.NumWorkers,
		CheckpointDir: c.CheckpointDir,
		ModelType:     c.ModelType,
	}
}

// FineTune runs the two-phase protocol on a pretrained model. The
// statistics must be the ones the model was pretrained under; they are
// applied to the target data by the caller and stored in every
// checkpoint, never refit. The optimizer's tracked set is rebuilt at the
// phase boundary since the trainable subset changes.
func FineTune(ctx context.Context, model nn.Classifier, cfg FineTuneConfig, stats *dataset.Stats, train, val Dataset) (*Result, error) {
	// Phase 1: head only.
	trainable, err := nn.ApplyPolicy(model, nn.FreezePolicy{Mode: nn.FreezeAllButHead})
	if err != nil {
		return nil, err
	}
	adamCfg := DefaultAdamConfig()
	adamCfg.LearningRate = cfg.HeadLearningRate
	adamCfg.WeightDecay = cfg.WeightDecay
	opt := NewAdam(adamCfg, trainable)

	fmt.Printf("Phase 1: training head only (%d of %d parameters)\n",
		nn.CountTrainable(model), nn.CountParameters(model))
	headTrainer := NewTrainer(model, opt, cfg.phase(cfg.HeadEpochs, cfg.HeadLearningRate))
	headTrainer.SetStats(stats)
	headResult, err := headTrainer.Fit(ctx, train, val)
	if err != nil {
		return nil, fmt.Errorf("head phase: %v", err)
	}

	// Phase 2: unfreeze the last N blocks and continue gently.
	trainable, err = nn.ApplyPolicy(model, nn.FreezePolicy{Mode: nn.UnfreezeLastN, LastN: cfg.UnfreezeLastN})
	if err != nil {
		return nil, err
	}
	opt.Rebuild(trainable)
	opt.SetLR(cfg.LearningRate)

	fmt.Printf("Phase 2: unfreezing last %d block(s) (%d of %d parameters)\n",
		cfg.UnfreezeLastN, nn.CountTrainable(model), nn.CountParameters(model))
	trainer := NewTrainer(model, opt, cfg.phase(cfg.Epochs, cfg.LearningRate))
	trainer.SetStats(stats)
	// Both phases share the checkpoint directory; phase 2 must not let
	// a weaker first epoch clobber phase 1's best.
	trainer.InheritBest(headResult.BestValAccuracy, headResult.BestEpoch)
	result, err := trainer.Fit(ctx, train, val)
	if err != nil {
		return nil, fmt.Errorf("fine-tune phase: %v", err)
	}
	return result, nil
}
