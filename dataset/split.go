package dataset

import (
	"fmt"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions indices 0..len(labels)-1 into disjoint train
// and validation sets. Each class contributes valFrac of its members to
// the validation set (rounded), so class proportions survive the split.
// The same seed always yields the same partition.
func StratifiedSplit(labels []int, valFrac float64, seed int64) (train, val []int, err error) {
	if len(labels) == 0 {
		return nil, nil, fmt.Errorf("no labels to split")
	}
	if valFrac <= 0 || valFrac >= 1 {
		return nil, nil, fmt.Errorf("validation fraction %g outside (0, 1)", valFrac)
	}

	byClass := map[int][]int{}
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nVal := int(float64(len(idx))*valFrac + 0.5)
		if nVal >= len(idx) {
			nVal = len(idx) - 1
		}
		val = append(val, idx[:nVal]...)
		train = append(train, idx[nVal:]...)
	}
	sort.Ints(train)
	sort.Ints(val)
	return train, val, nil
}
