package tune

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/aliftffd/bcitrain/training"
)

// ErrPruned is returned from a trial's reporter to terminate it early.
// The driver records the trial as pruned, not failed.
var ErrPruned = errors.New("trial pruned")

// TrialState is the lifecycle of one trial.
type TrialState string

const (
	TrialRunning  TrialState = "running"
	TrialComplete TrialState = "complete"
	TrialPruned   TrialState = "pruned"
	TrialFailed   TrialState = "failed"
)

// IntermediateValue is one per-epoch report from a running trial.
type IntermediateValue struct {
	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`
}

// Trial is one sampled hyperparameter set and its outcome.
type Trial struct {
	ID           int                 `json:"id"`
	Params       TrialParams         `json:"params"`
	State        TrialState          `json:"state"`
	Value        float64             `json:"value"`
	Intermediate []IntermediateValue `json:"intermediate,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func (t *Trial) intermediateAt(epoch int) (float64, bool) {
	for _, iv := range t.Intermediate {
		if iv.Epoch == epoch {
			return iv.Value, true
		}
	}
	return 0, false
}

// Objective runs one full training pipeline for the sampled parameters
// and returns the final validation accuracy. The reporter must be
// installed on the trainer so intermediate values reach the driver.
type Objective func(ctx context.Context, params TrialParams, reporter training.TrialReporter) (float64, error)

// Study is a named, durable collection of trials. Every mutation is
// persisted immediately, so an interrupted search resumes without
// rerunning finished trials.
type Study struct {
	Name   string   `json:"name"`
	Seed   int64    `json:"seed"`
	Trials []*Trial `json:"trials"`

	dir    string
	space  SearchSpace
	pruner *MedianPruner
}

// LoadStudy opens the study named name under dir, creating it if it does
// not exist. Trials left in the running state by an interrupted process
// are marked failed.
func LoadStudy(dir, name string, seed int64, space SearchSpace) (*Study, error) {
	s := &Study{
		Name:   name,
		Seed:   seed,
		dir:    dir,
		space:  space,
		pruner: NewMedianPruner(),
	}
	raw, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read study")
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, errors.Wrapf(err, "parse study %s", s.path())
	}
	for _, tr := range s.Trials {
		if tr.State == TrialRunning {
			tr.State = TrialFailed
			tr.Error = "interrupted"
		}
	}
	return s, nil
}

// SetPruner replaces the default median pruner; nil disables pruning.
func (s *Study) SetPruner(p *MedianPruner) { s.pruner = p }

func (s *Study) path() string {
	return filepath.Join(s.dir, s.Name+".json")
}

func (s *Study) save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "study dir")
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode study")
	}
	return errors.Wrap(os.WriteFile(s.path(), raw, 0o644), "write study")
}

// Finished counts trials in a terminal state.
func (s *Study) Finished() int {
	n := 0
	for _, tr := range s.Trials {
		if tr.State != TrialRunning {
			n++
		}
	}
	return n
}

// trialReporter feeds intermediate values back into the study and asks
// the pruner for a verdict after every epoch.
type trialReporter struct {
	study *Study
	trial *Trial
}

func (r *trialReporter) Report(epoch int, valAccuracy float64) error {
	r.trial.Intermediate = append(r.trial.Intermediate, IntermediateValue{Epoch: epoch, Value: valAccuracy})
	if err := r.study.save(); err != nil {
		return err
	}
	if r.study.pruner != nil && r.study.pruner.ShouldPrune(r.study, epoch, valAccuracy) {
		return ErrPruned
	}
	return nil
}

// Run executes trials sequentially until totalTrials have reached a
// terminal state. Trials already finished in a previous process run
// count toward the total.
func (s *Study) Run(ctx context.Context, totalTrials int, objective Objective) error {
	for s.Finished() < totalTrials {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := len(s.Trials)
		rng := rand.New(rand.NewSource(s.Seed + int64(id)))
		trial := &Trial{ID: id, Params: s.space.Sample(rng), State: TrialRunning}
		s.Trials = append(s.Trials, trial)
		if err := s.save(); err != nil {
			return err
		}
		fmt.Printf("Trial %d: lr=%.3g wd=%.3g dropout=%.2f\n",
			id, trial.Params.LearningRate, trial.Params.WeightDecay, trial.Params.Dropout)

		value, err := objective(ctx, trial.Params, &trialReporter{study: s, trial: trial})
		switch {
		case err == nil:
			trial.State = TrialComplete
			trial.Value = value
			fmt.Printf("Trial %d complete: %.4f\n", id, value)
		case errors.Is(err, ErrPruned):
			trial.State = TrialPruned
			fmt.Printf("Trial %d pruned\n", id)
		default:
			trial.State = TrialFailed
			trial.Error = err.Error()
			fmt.Printf("Trial %d failed: %v\n", id, err)
		}
		if err := s.save(); err != nil {
			return err
		}
	}
	return nil
}

// Best returns the completed trial with the highest value. Pruned and
// failed trials never win.
func (s *Study) Best() (*Trial, error) {
	var best *Trial
	for _, tr := range s.Trials {
		if tr.State != TrialComplete {
			continue
		}
		if best == nil || tr.Value > best.Value {
			best = tr
		}
	}
	if best == nil {
		return nil, fmt.Errorf("study %s has no completed trials", s.Name)
	}
	return best, nil
}

// SaveBestParams persists the winning hyperparameters as a flat mapping
// for the pretraining entry point to read back.
func (s *Study) SaveBestParams(path string) error {
	best, err := s.Best()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(best.Params, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode best params")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o644), "write best params")
}

// LoadParams reads a best-hyperparameters file.
func LoadParams(path string) (*TrialParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read params")
	}
	var p TrialParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrapf(err, "parse params %s", path)
	}
	return &p, nil
}
