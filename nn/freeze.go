package nn

import "fmt"

// FreezeMode enumerates the three freeze policies used during transfer
// learning. Exactly one policy is in effect at a time; ApplyPolicy is the
// single place freeze flags are mutated.
type FreezeMode int

const (
	// UnfreezeAll trains every parameter.
	UnfreezeAll FreezeMode = iota
	// FreezeAllButHead trains only the classification head.
	FreezeAllButHead
	// UnfreezeLastN trains the head plus the last N blocks, counted from
	// the output side (block 1 is the most task-specific).
	UnfreezeLastN
)

func (m FreezeMode) String() string {
	switch m {
	case UnfreezeAll:
		return "unfreeze-all"
	case FreezeAllButHead:
		return "freeze-all-but-head"
	case UnfreezeLastN:
		return "unfreeze-last-n"
	default:
		return "unknown"
	}
}

// FreezePolicy selects which parameter subset the optimizer updates.
type FreezePolicy struct {
	Mode  FreezeMode
	LastN int // only meaningful for UnfreezeLastN
}

// ApplyPolicy sets the freeze flags on every parameter of m according to
// the policy and returns the trainable parameter set. The head is
// trainable under every policy.
func ApplyPolicy(m Classifier, policy FreezePolicy) ([]*Param, error) {
	switch policy.Mode {
	case UnfreezeAll:
		for _, p := range m.Params() {
			p.SetFrozen(false)
		}
	case FreezeAllButHead:
		for _, p := range m.Params() {
			p.SetFrozen(true)
		}
		for _, p := range m.HeadParams() {
			p.SetFrozen(false)
		}
	case UnfreezeLastN:
		blocks := m.Blocks()
		if policy.LastN < 0 || policy.LastN > len(blocks) {
			return nil, fmt.Errorf("unfreeze-last-n: n=%d out of range [0, %d]", policy.LastN, len(blocks))
		}
		for _, p := range m.Params() {
			p.SetFrozen(true)
		}
		for _, p := range m.HeadParams() {
			p.SetFrozen(false)
		}
		for i := 0; i < policy.LastN; i++ {
			for _, p := range blocks[i] {
				p.SetFrozen(false)
			}
		}
	default:
		return nil, fmt.Errorf("unknown freeze mode %d", policy.Mode)
	}

	var trainable []*Param
	for _, p := range m.Params() {
		if !p.Frozen() {
			trainable = append(trainable, p)
		}
	}
	return trainable, nil
}
