package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aliftffd/bcitrain/checkpoint"
	"github.com/aliftffd/bcitrain/dataset"
	"github.com/aliftffd/bcitrain/nn"
)

// Config controls one training run.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	WeightDecay  float64

	// Early stopping: epochs without a new best validation accuracy.
	Patience int
	// Plateau scheduler: epochs without improvement before the learning
	// rate is multiplied by LRFactor. Tracked separately from Patience.
	LRPatience int
	LRFactor   float64

	Seed       int64
	NumWorkers int

	// CheckpointDir receives "best" and "latest" snapshots; empty
	// disables checkpointing.
	CheckpointDir string
	ModelType     string // recorded in checkpoint metadata

	// MixedPrecision requests a reduced-precision step where a backend
	// supports it; otherwise training continues in full precision.
	MixedPrecision bool
}

// DefaultConfig returns the configuration used for pretraining.
func DefaultConfig() Config {
	return Config{
		Epochs:       100,
		BatchSize:    16,
		LearningRate: 0.001,
		Patience:     20,
		LRPatience:   10,
		LRFactor:     0.5,
		Seed:         42,
		NumWorkers:   2,
	}
}

// EpochMetrics is what observers see after every epoch.
type EpochMetrics struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
	LearningRate  float64
}

// Observer receives per-epoch metrics. Implementations must not mutate
// training state.
type Observer interface {
	OnEpochEnd(m EpochMetrics)
}

// TrialReporter lets a hyperparameter search driver watch intermediate
// validation accuracy. A non-nil error aborts the run and is returned
// from Fit unchanged, so the driver can distinguish pruning from failure.
type TrialReporter interface {
	Report(epoch int, valAccuracy float64) error
}

// Result summarizes a finished run.
type Result struct {
	BestValAccuracy float64
	BestEpoch       int
	FinalEpoch      int
	EarlyStopped    bool
	History         []checkpoint.EpochRecord
}

// Trainer runs the epoch state machine: train, validate, adjust the
// learning rate, decide on checkpoints, check early stopping. A single
// control goroutine owns all model and optimizer state; only batch
// assembly runs concurrently.
type Trainer struct {
	model nn.Classifier
	opt   *Adam
	sched *PlateauScheduler
	cfg   Config

	observers []Observer
	reporter  TrialReporter
	stats     *dataset.Stats
	saver     *checkpoint.Saver

	history    []checkpoint.EpochRecord
	bestVal    float64
	bestEpoch  int
	wait       int
	startEpoch int
}

// NewTrainer wires a model and optimizer into a training loop.
func NewTrainer(model nn.Classifier, opt *Adam, cfg Config) *Trainer {
	return &Trainer{
		model: model,
		opt:   opt,
		sched: NewPlateauScheduler(cfg.LRFactor, cfg.LRPatience),
		cfg:   cfg,
		saver: checkpoint.NewSaver(checkpoint.FormatJSON),
		// The first completed epoch always becomes the initial best.
		bestVal: -1,
	}
}

// AddObserver registers a per-epoch metrics consumer.
func (t *Trainer) AddObserver(o Observer) {
	t.observers = append(t.observers, o)
}

// SetReporter installs a hyperparameter-search hook.
func (t *Trainer) SetReporter(r TrialReporter) {
	t.reporter = r
}

// SetStats attaches the normalization statistics the model was trained
// under, so every checkpoint carries them.
func (t *Trainer) SetStats(s *dataset.Stats) {
	t.stats = s
}

// InheritBest seeds the best-checkpoint threshold from an earlier phase
// that wrote into the same checkpoint directory, so "best.json" only
// ever moves forward across phases.
func (t *Trainer) InheritBest(acc float64, epoch int) {
	t.bestVal = acc
	t.bestEpoch = epoch
}

// Resume restores a previous run from a checkpoint so Fit continues at
// the saved epoch.
func (t *Trainer) Resume(c *checkpoint.Checkpoint) error {
	if err := c.LoadInto(t.model); err != nil {
		return err
	}
	if c.Optimizer != nil {
		t.opt.Restore(c.Optimizer)
	}
	t.sched.LoadState(c.Scheduler)
	t.history = append([]checkpoint.EpochRecord(nil), c.History...)
	t.bestVal = c.BestValAccuracy
	t.startEpoch = c.Epoch
	t.bestEpoch = c.Epoch
	// Replay the strict-improvement rule: the best epoch is the first one
	// to reach each new maximum, so later ties keep burning patience.
	best := -1.0
	for _, rec := range c.History {
		if rec.ValAccuracy > best {
			best = rec.ValAccuracy
			t.bestEpoch = rec.Epoch
		}
	}
	t.wait = c.Epoch - t.bestEpoch
	if c.Normalization != nil {
		t.stats = c.Normalization
	}
	return nil
}

// Fit trains until the epoch budget is exhausted or early stopping
// fires. Cancellation is honored at epoch boundaries only, so the
// latest checkpoint always reflects a fully completed epoch.
func (t *Trainer) Fit(ctx context.Context, train, val Dataset) (*Result, error) {
	if train.Len() == 0 || val.Len() == 0 {
		return nil, fmt.Errorf("empty dataset (train %d, val %d)", train.Len(), val.Len())
	}
	if t.cfg.MixedPrecision {
		fmt.Println("Mixed precision requested; no accelerator backend, continuing in full precision")
	}

	trainLoader := NewDataLoader(train, t.cfg.BatchSize, true, t.cfg.NumWorkers, t.cfg.Seed)
	valLoader := NewDataLoader(val, t.cfg.BatchSize, false, t.cfg.NumWorkers, t.cfg.Seed)

	result := &Result{BestValAccuracy: t.bestVal, BestEpoch: t.bestEpoch}
	for epoch := t.startEpoch + 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			result.History = t.history
			return result, err
		}

		trainLoss, trainAcc, err := t.trainEpoch(trainLoader)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %v", epoch, err)
		}
		valLoss, valAcc, err := t.evaluate(valLoader)
		if err != nil {
			return nil, fmt.Errorf("epoch %d validation: %v", epoch, err)
		}

		if newLR := t.sched.Step(valAcc, t.opt.LR()); newLR != t.opt.LR() {
			fmt.Printf("Epoch %d: reducing learning rate to %g\n", epoch, newLR)
			t.opt.SetLR(newLR)
		}

		t.history = append(t.history, checkpoint.EpochRecord{
			Epoch:         epoch,
			TrainLoss:     trainLoss,
			TrainAccuracy: trainAcc,
			ValLoss:       valLoss,
			ValAccuracy:   valAcc,
			LearningRate:  t.opt.LR(),
		})
		for _, o := range t.observers {
			o.OnEpochEnd(EpochMetrics{
				Epoch:         epoch,
				TrainLoss:     trainLoss,
				TrainAccuracy: trainAcc,
				ValLoss:       valLoss,
				ValAccuracy:   valAcc,
				LearningRate:  t.opt.LR(),
			})
		}

		// Strict improvement opens a new best; anything else burns
		// early-stopping patience.
		if valAcc > t.bestVal {
			t.bestVal = valAcc
			t.bestEpoch = epoch
			t.wait = 0
			if err := t.save("best.json", epoch); err != nil {
				return nil, err
			}
		} else {
			t.wait++
		}
		if err := t.save("latest.json", epoch); err != nil {
			return nil, err
		}

		result.BestValAccuracy = t.bestVal
		result.BestEpoch = t.bestEpoch
		result.FinalEpoch = epoch

		if t.reporter != nil {
			if err := t.reporter.Report(epoch, valAcc); err != nil {
				result.History = t.history
				return result, err
			}
		}
		if t.wait >= t.cfg.Patience {
			result.EarlyStopped = true
			break
		}
	}
	result.History = t.history
	return result, nil
}

// Evaluate runs the model over a dataset without updating anything.
func (t *Trainer) Evaluate(ds Dataset) (loss, accuracy float64, err error) {
	return t.evaluate(NewDataLoader(ds, t.cfg.BatchSize, false, t.cfg.NumWorkers, t.cfg.Seed))
}

func (t *Trainer) trainEpoch(loader *DataLoader) (loss, accuracy float64, err error) {
	batches, stop := loader.Batches()
	defer stop()
	var total, correct int
	for batch := range batches {
		if batch.Err != nil {
			return 0, 0, batch.Err
		}
		t.zeroGrads()

		logits, err := t.model.Forward(batch.Data, true)
		if err != nil {
			return 0, 0, err
		}
		batchLoss, grad, batchCorrect, err := CrossEntropy(logits, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		t.model.Backward(grad)
		t.opt.Step()

		n := len(batch.Labels)
		loss += batchLoss * float64(n)
		correct += batchCorrect
		total += n
	}
	return loss / float64(total), float64(correct) / float64(total), nil
}

func (t *Trainer) evaluate(loader *DataLoader) (loss, accuracy float64, err error) {
	batches, stop := loader.Batches()
	defer stop()
	var total, correct int
	for batch := range batches {
		if batch.Err != nil {
			return 0, 0, batch.Err
		}
		logits, err := t.model.Forward(batch.Data, false)
		if err != nil {
			return 0, 0, err
		}
		batchLoss, _, batchCorrect, err := CrossEntropy(logits, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		n := len(batch.Labels)
		loss += batchLoss * float64(n)
		correct += batchCorrect
		total += n
	}
	return loss / float64(total), float64(correct) / float64(total), nil
}

// zeroGrads clears every parameter gradient, frozen ones included, so
// stale gradient from a previous step never leaks into the next.
func (t *Trainer) zeroGrads() {
	for _, p := range t.model.Params() {
		p.ZeroGrad()
	}
}

func (t *Trainer) save(name string, epoch int) error {
	if t.cfg.CheckpointDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.cfg.CheckpointDir, 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %v", err)
	}
	c := &checkpoint.Checkpoint{
		Epoch:           epoch,
		Weights:         checkpoint.WeightsFromModel(t.model),
		Optimizer:       t.opt.Export(),
		Scheduler:       t.sched.State(),
		BestValAccuracy: t.bestVal,
		History:         append([]checkpoint.EpochRecord(nil), t.history...),
		Normalization:   t.stats,
		Metadata:        checkpoint.Metadata{ModelType: t.cfg.ModelType},
	}
	return t.saver.Save(c, filepath.Join(t.cfg.CheckpointDir, name))
}
