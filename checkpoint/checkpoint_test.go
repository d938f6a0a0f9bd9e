package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/aliftffd/bcitrain/dataset"
	"github.com/aliftffd/bcitrain/nn"
)

func newTestModel(t *testing.T, seed int64) *nn.EEGNet {
	t.Helper()
	nn.SetRandomSeed(seed)
	cfg := nn.DefaultEEGNetConfig()
	cfg.Samples = 64
	m, err := nn.NewEEGNet(cfg)
	if err != nil {
		t.Fatalf("NewEEGNet: %v", err)
	}
	return m
}

func TestCheckpointRoundTrip(t *testing.T) {
	m := newTestModel(t, 11)
	ckpt := &Checkpoint{
		Epoch:           7,
		Weights:         WeightsFromModel(m),
		BestValAccuracy: 0.82,
		Optimizer: &OptimizerState{
			Type:         "Adam",
			LearningRate: 0.001,
			Step:         420,
			Moment1:      map[string][]float64{"fc.weight": {0.1, 0.2}},
			Moment2:      map[string][]float64{"fc.weight": {0.01, 0.02}},
		},
		Scheduler: &SchedulerState{Factor: 0.5, Patience: 5, Wait: 2, Best: 0.82},
		History: []EpochRecord{
			{Epoch: 1, TrainLoss: 0.9, ValAccuracy: 0.5, LearningRate: 0.001},
			{Epoch: 7, TrainLoss: 0.4, ValAccuracy: 0.82, LearningRate: 0.001},
		},
		Normalization: &dataset.Stats{Mean: []float64{1, 2, 3}, Std: []float64{4, 5, 6}},
		Metadata:      Metadata{ModelType: "eegnet"},
	}

	path := filepath.Join(t.TempDir(), "best.json")
	saver := NewSaver(FormatJSON)
	if err := saver.Save(ckpt, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Epoch != 7 {
		t.Errorf("loaded epoch = %d, want 7", loaded.Epoch)
	}
	if loaded.BestValAccuracy != 0.82 {
		t.Errorf("best accuracy = %g, want 0.82", loaded.BestValAccuracy)
	}
	if len(loaded.History) != 2 || loaded.History[1].ValAccuracy != 0.82 {
		t.Errorf("history not preserved: %+v", loaded.History)
	}
	if loaded.Optimizer == nil || loaded.Optimizer.Step != 420 {
		t.Errorf("optimizer state not preserved")
	}
	if loaded.Scheduler == nil || loaded.Scheduler.Wait != 2 {
		t.Errorf("scheduler state not preserved")
	}
	if loaded.Normalization == nil || loaded.Normalization.Mean[1] != 2 {
		t.Errorf("normalization statistics not preserved")
	}

	// Restoring into a differently-initialized model reproduces the
	// saved parameters exactly.
	other := newTestModel(t, 99)
	if err := loaded.LoadInto(other); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	orig, rest := m.Params(), other.Params()
	for i := range orig {
		for j := range orig[i].Data {
			if orig[i].Data[j] != rest[i].Data[j] {
				t.Fatalf("parameter %s differs after restore", orig[i].Name)
			}
		}
	}
}

func TestLoadIntoRejectsIncompatibleModel(t *testing.T) {
	m := newTestModel(t, 11)
	ckpt := &Checkpoint{Weights: WeightsFromModel(m)}

	nn.SetRandomSeed(11)
	cfg := nn.DefaultEEGNetConfig()
	cfg.Samples = 96 // different head size
	other, err := nn.NewEEGNet(cfg)
	if err != nil {
		t.Fatalf("NewEEGNet: %v", err)
	}
	if err := ckpt.LoadInto(other); err == nil {
		t.Fatalf("expected shape mismatch error")
	}

	ckpt.Weights = ckpt.Weights[1:] // drop a parameter
	if err := ckpt.LoadInto(m); err == nil {
		t.Fatalf("expected missing parameter error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := NewSaver(FormatJSON).Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWeightsFromModelNaming(t *testing.T) {
	m := newTestModel(t, 11)
	weights := WeightsFromModel(m)
	if len(weights) != len(m.Params()) {
		t.Fatalf("got %d weight tensors, want %d", len(weights), len(m.Params()))
	}
	byName := map[string]WeightTensor{}
	for _, w := range weights {
		byName[w.Name] = w
	}
	fc, ok := byName["fc.weight"]
	if !ok {
		t.Fatalf("fc.weight not exported")
	}
	if fc.Layer != "fc" || fc.Type != "weight" {
		t.Errorf("fc.weight tagged layer=%q type=%q", fc.Layer, fc.Type)
	}
}
