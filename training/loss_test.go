package training

import (
	"math"
	"testing"

	"github.com/aliftffd/bcitrain/nn"
)

func TestCrossEntropyUniform(t *testing.T) {
	logits := nn.Zeros(1, 2)
	loss, grad, correct, err := CrossEntropy(logits, []int{0})
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	if math.Abs(loss-math.Ln2) > 1e-12 {
		t.Errorf("loss = %g, want ln 2", loss)
	}
	if correct != 1 {
		t.Errorf("correct = %d (tie should resolve to the first class)", correct)
	}
	want := []float64{-0.5, 0.5}
	for i, g := range grad.Data {
		if math.Abs(g-want[i]) > 1e-12 {
			t.Errorf("grad[%d] = %g, want %g", i, g, want[i])
		}
	}
}

func TestCrossEntropyBatchAveraging(t *testing.T) {
	logits, _ := nn.NewTensor([]int{2, 3}, []float64{
		5, 0, 0,
		0, 0, 5,
	})
	loss, grad, correct, err := CrossEntropy(logits, []int{0, 1})
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	if correct != 1 {
		t.Errorf("correct = %d, want 1", correct)
	}
	if loss <= 0 {
		t.Errorf("loss = %g, want positive", loss)
	}
	// Gradient rows sum to zero and carry the 1/batch factor.
	for i := 0; i < 2; i++ {
		var sum float64
		for j := 0; j < 3; j++ {
			sum += grad.Data[i*3+j]
		}
		if math.Abs(sum) > 1e-12 {
			t.Errorf("row %d gradient sums to %g", i, sum)
		}
	}
	if grad.Data[0] >= 0 {
		t.Errorf("true-class gradient should be negative, got %g", grad.Data[0])
	}
}

func TestCrossEntropyNumericGradient(t *testing.T) {
	logits, _ := nn.NewTensor([]int{2, 3}, []float64{0.3, -0.7, 1.1, 0.0, 0.5, -0.2})
	labels := []int{2, 1}
	_, grad, _, err := CrossEntropy(logits, labels)
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}

	const h = 1e-6
	for i := range logits.Data {
		orig := logits.Data[i]
		logits.Data[i] = orig + h
		lp, _, _, _ := CrossEntropy(logits, labels)
		logits.Data[i] = orig - h
		lm, _, _, _ := CrossEntropy(logits, labels)
		logits.Data[i] = orig
		numeric := (lp - lm) / (2 * h)
		if math.Abs(numeric-grad.Data[i]) > 1e-6 {
			t.Errorf("grad[%d] = %g, numeric %g", i, grad.Data[i], numeric)
		}
	}
}

func TestCrossEntropyStability(t *testing.T) {
	logits, _ := nn.NewTensor([]int{1, 2}, []float64{1000, -1000})
	loss, grad, _, err := CrossEntropy(logits, []int{0})
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("loss not finite: %v", loss)
	}
	for i, g := range grad.Data {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("grad[%d] not finite: %v", i, g)
		}
	}
}

func TestCrossEntropyBadInputs(t *testing.T) {
	logits := nn.Zeros(2, 2)
	if _, _, _, err := CrossEntropy(logits, []int{0}); err == nil {
		t.Errorf("expected error for label count mismatch")
	}
	if _, _, _, err := CrossEntropy(logits, []int{0, 5}); err == nil {
		t.Errorf("expected error for out-of-range label")
	}
	if _, _, _, err := CrossEntropy(nn.Zeros(4), []int{0}); err == nil {
		t.Errorf("expected error for non-matrix logits")
	}
}
