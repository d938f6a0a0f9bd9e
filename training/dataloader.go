// Package training drives the epoch loop: batching, the cross-entropy
// objective, Adam updates over the currently-trainable parameter subset,
// plateau learning-rate scheduling, early stopping, and checkpointing.
package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/aliftffd/bcitrain/nn"
)

// Dataset is the minimal contract the loader needs from a trial
// collection.
type Dataset interface {
	Len() int
	Get(idx int) (data *nn.Tensor, label int, err error)
}

// Batch is one immutable unit of work handed from the loader to the
// training loop.
type Batch struct {
	Data   *nn.Tensor // [batch, channels, samples]
	Labels []int
	Index  int
	Err    error
}

// DataLoader provides batching, shuffling, and parallel batch assembly.
// Workers fill a bounded prefetch queue; batches come out in a
// deterministic order so runs with the same seed are reproducible.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	prefetch   int
	rng        *rand.Rand
	indices    []int
}

// NewDataLoader creates a loader. The seed only matters when shuffling.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, numWorkers int, seed int64) *DataLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		numWorkers: numWorkers,
		prefetch:   2 * numWorkers,
		rng:        rand.New(rand.NewSource(seed)),
		indices:    indices,
	}
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Batches starts one epoch of batch production and returns the prefetch
// queue plus a stop function. The channel closes after the last batch; a
// batch with a non-nil Err reports an unreadable sample. The stop
// function releases the producer goroutines and must be called once the
// epoch ends, whether or not the channel was drained; calling it more
// than once is harmless.
func (dl *DataLoader) Batches() (<-chan *Batch, func()) {
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
	// Snapshot so starting the next epoch cannot disturb this one.
	order := append([]int(nil), dl.indices...)
	numBatches := dl.Len()

	jobs := make(chan int)
	results := make(chan *Batch, dl.numWorkers)
	out := make(chan *Batch, dl.prefetch)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	for w := 0; w < dl.numWorkers; w++ {
		go func() {
			for b := range jobs {
				select {
				case results <- dl.makeBatch(order, b):
				case <-done:
					return
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for b := 0; b < numBatches; b++ {
			select {
			case jobs <- b:
			case <-done:
				return
			}
		}
	}()
	// Reorder worker output so the batch sequence stays deterministic.
	go func() {
		defer close(out)
		pending := make(map[int]*Batch)
		next := 0
		for received := 0; received < numBatches; received++ {
			var batch *Batch
			select {
			case batch = <-results:
			case <-done:
				return
			}
			pending[batch.Index] = batch
			for {
				b, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case out <- b:
				case <-done:
					return
				}
				next++
			}
		}
	}()
	return out, stop
}

func (dl *DataLoader) makeBatch(order []int, b int) *Batch {
	lo := b * dl.batchSize
	hi := lo + dl.batchSize
	if hi > len(order) {
		hi = len(order)
	}

	first, _, err := dl.dataset.Get(order[lo])
	if err != nil {
		return &Batch{Index: b, Err: err}
	}
	c, s := first.Shape[0], first.Shape[1]

	n := hi - lo
	data := nn.Zeros(n, c, s)
	labels := make([]int, n)
	for j := 0; j < n; j++ {
		x, label, err := dl.dataset.Get(order[lo+j])
		if err != nil {
			return &Batch{Index: b, Err: fmt.Errorf("sample %d: %v", order[lo+j], err)}
		}
		copy(data.Data[j*c*s:(j+1)*c*s], x.Data)
		labels[j] = label
	}
	return &Batch{Data: data, Labels: labels, Index: b}
}
