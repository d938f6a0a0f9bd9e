package dataset

import (
	"fmt"

	"github.com/aliftffd/bcitrain/nn"
)

// TensorDataset is an assembled, normalized trial population stacked into
// one contiguous tensor, ready for batching.
type TensorDataset struct {
	X *nn.Tensor // [trials, channels, samples]
	Y []int
}

// FromTrials stacks a uniform trial population into a dataset.
func FromTrials(trials []*Trial) (*TensorDataset, error) {
	if err := checkUniform(trials); err != nil {
		return nil, err
	}
	n, c, s := len(trials), trials[0].Channels(), trials[0].Samples()

	x := nn.Zeros(n, c, s)
	y := make([]int, n)
	for i, tr := range trials {
		for ci, row := range tr.Data {
			copy(x.Data[(i*c+ci)*s:(i*c+ci+1)*s], row)
		}
		y[i] = tr.Label
	}
	return &TensorDataset{X: x, Y: y}, nil
}

// Len returns the number of trials.
func (d *TensorDataset) Len() int { return len(d.Y) }

// Get returns one [channels, samples] trial and its label. The tensor is
// a view into the dataset's backing array and must not be mutated.
func (d *TensorDataset) Get(i int) (*nn.Tensor, int, error) {
	if i < 0 || i >= len(d.Y) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", i, len(d.Y))
	}
	c, s := d.X.Shape[1], d.X.Shape[2]
	x, err := nn.NewTensor([]int{c, s}, d.X.Data[i*c*s:(i+1)*c*s])
	if err != nil {
		return nil, 0, err
	}
	return x, d.Y[i], nil
}

// Labels returns the label vector.
func (d *TensorDataset) Labels() []int { return d.Y }

// Subset extracts the given trial indices into a new dataset. Used with
// StratifiedSplit to materialize the train and validation halves.
func (d *TensorDataset) Subset(indices []int) (*TensorDataset, error) {
	c, s := d.X.Shape[1], d.X.Shape[2]
	x := nn.Zeros(len(indices), c, s)
	y := make([]int, len(indices))
	for j, i := range indices {
		if i < 0 || i >= len(d.Y) {
			return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(d.Y))
		}
		copy(x.Data[j*c*s:(j+1)*c*s], d.X.Data[i*c*s:(i+1)*c*s])
		y[j] = d.Y[i]
	}
	return &TensorDataset{X: x, Y: y}, nil
}

// NumClasses returns the number of distinct labels.
func (d *TensorDataset) NumClasses() int {
	seen := map[int]bool{}
	for _, l := range d.Y {
		seen[l] = true
	}
	return len(seen)
}
