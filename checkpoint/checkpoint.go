// Package checkpoint persists and restores training runs: model weights,
// optimizer and scheduler state, the per-epoch metric history, and the
// normalization statistics the weights were trained under. Two named
// checkpoints are maintained per run, "best" and "latest".
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aliftffd/bcitrain/dataset"
	"github.com/aliftffd/bcitrain/nn"
)

// Format defines the serialization format.
type Format int

const (
	FormatJSON Format = iota
	FormatONNX
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// WeightTensor represents one model parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias"
}

// EpochRecord is one entry of the append-only training history.
type EpochRecord struct {
	Epoch         int     `json:"epoch"`
	TrainLoss     float64 `json:"train_loss"`
	TrainAccuracy float64 `json:"train_accuracy"`
	ValLoss       float64 `json:"val_loss"`
	ValAccuracy   float64 `json:"val_accuracy"`
	LearningRate  float64 `json:"learning_rate"`
}

// OptimizerState captures the optimizer moments so a resumed run
// continues exactly where it stopped.
type OptimizerState struct {
	Type         string               `json:"type"`
	LearningRate float64              `json:"learning_rate"`
	WeightDecay  float64              `json:"weight_decay"`
	Step         int                  `json:"step"`
	Moment1      map[string][]float64 `json:"moment1"`
	Moment2      map[string][]float64 `json:"moment2"`
}

// SchedulerState captures the plateau scheduler's counters.
type SchedulerState struct {
	Factor   float64 `json:"factor"`
	Patience int     `json:"patience"`
	Wait     int     `json:"wait"`
	Best     float64 `json:"best"`
}

// Metadata describes the checkpoint itself.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	ModelType   string    `json:"model_type,omitempty"` // "eegnet", "transformer"
	Description string    `json:"description,omitempty"`
}

// Checkpoint is a complete snapshot of a training run after some epoch.
// Never mutated after write; a newer file supersedes it.
type Checkpoint struct {
	Epoch           int             `json:"epoch"`
	Weights         []WeightTensor  `json:"weights"`
	Optimizer       *OptimizerState `json:"optimizer_state,omitempty"`
	Scheduler       *SchedulerState `json:"scheduler_state,omitempty"`
	BestValAccuracy float64         `json:"best_val_accuracy"`
	History         []EpochRecord   `json:"history"`

	// Statistics fit on the pretraining population travel with the
	// weights so fine-tuning can never accidentally refit them.
	Normalization *dataset.Stats `json:"normalization,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// WeightsFromModel snapshots every parameter of a classifier.
func WeightsFromModel(m nn.Classifier) []WeightTensor {
	params := m.Params()
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		layer, kind := p.Name, "weight"
		if i := strings.LastIndex(p.Name, "."); i >= 0 {
			layer, kind = p.Name[:i], p.Name[i+1:]
		}
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Data...),
			Layer: layer,
			Type:  kind,
		})
	}
	return weights
}

// LoadInto copies the checkpoint's weights into a model. Every model
// parameter must be present with a matching shape; anything else means
// the checkpoint belongs to a different architecture and is fatal.
func (c *Checkpoint) LoadInto(m nn.Classifier) error {
	byName := make(map[string]*WeightTensor, len(c.Weights))
	for i := range c.Weights {
		byName[c.Weights[i].Name] = &c.Weights[i]
	}
	for _, p := range m.Params() {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint incompatible with model: parameter %s missing", p.Name)
		}
		if len(w.Data) != len(p.Data) || !shapeEqual(w.Shape, p.Shape) {
			return fmt.Errorf("checkpoint incompatible with model: parameter %s has shape %v, model expects %v",
				p.Name, w.Shape, p.Shape)
		}
		copy(p.Data, w.Data)
	}
	return nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Saver handles saving and loading checkpoints in a given format.
type Saver struct {
	format Format
}

// NewSaver creates a checkpoint saver for the specified format.
func NewSaver(format Format) *Saver {
	return &Saver{format: format}
}

// Save writes a checkpoint to path.
func (s *Saver) Save(c *Checkpoint, path string) error {
	switch s.format {
	case FormatJSON:
		return s.saveJSON(c, path)
	case FormatONNX:
		return NewONNXExporter().Export(c, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}

// Load reads a checkpoint from path.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	switch s.format {
	case FormatJSON:
		return s.loadJSON(path)
	case FormatONNX:
		return nil, fmt.Errorf("ONNX checkpoints are export-only; resume training from the JSON checkpoint")
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}

func (s *Saver) saveJSON(c *Checkpoint, path string) error {
	if c.Metadata.Framework == "" {
		c.Metadata.Framework = "bcitrain"
		c.Metadata.Version = "1.0.0"
	}
	if c.Metadata.CreatedAt.IsZero() {
		c.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return nil
}

func (s *Saver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var c Checkpoint
	if err := json.NewDecoder(file).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return &c, nil
}
