package training

import (
	"fmt"
	"math"

	"github.com/aliftffd/bcitrain/nn"
)

// CrossEntropy computes the mean softmax cross-entropy over a batch of
// logits [batch, classes] with integer labels, plus the gradient w.r.t.
// the logits and the number of correct argmax predictions. Softmax and
// the log-loss are fused for numerical stability.
func CrossEntropy(logits *nn.Tensor, labels []int) (loss float64, grad *nn.Tensor, correct int, err error) {
	if len(logits.Shape) != 2 {
		return 0, nil, 0, fmt.Errorf("logits must be [batch, classes], got %v", logits.Shape)
	}
	b, k := logits.Shape[0], logits.Shape[1]
	if len(labels) != b {
		return 0, nil, 0, fmt.Errorf("%d labels for batch of %d", len(labels), b)
	}

	grad = nn.Zeros(b, k)
	invB := 1.0 / float64(b)
	for i := 0; i < b; i++ {
		y := labels[i]
		if y < 0 || y >= k {
			return 0, nil, 0, fmt.Errorf("label %d out of range [0, %d)", y, k)
		}
		row := logits.Data[i*k : (i+1)*k]

		max, argmax := row[0], 0
		for j, v := range row[1:] {
			if v > max {
				max, argmax = v, j+1
			}
		}
		if argmax == y {
			correct++
		}

		var sum float64
		for _, v := range row {
			sum += math.Exp(v - max)
		}
		logSum := math.Log(sum)
		loss += (logSum - (row[y] - max)) * invB

		g := grad.Data[i*k : (i+1)*k]
		for j, v := range row {
			g[j] = math.Exp(v-max) / sum * invB
		}
		g[y] -= invB
	}
	return loss, grad, correct, nil
}
