package training

import (
	"fmt"
	"io"
	"os"
)

// ConsoleObserver prints one line of metrics per epoch.
type ConsoleObserver struct {
	Out io.Writer
}

// NewConsoleObserver writes to stdout.
func NewConsoleObserver() *ConsoleObserver {
	return &ConsoleObserver{Out: os.Stdout}
}

func (o *ConsoleObserver) OnEpochEnd(m EpochMetrics) {
	fmt.Fprintf(o.Out, "Epoch %3d | train loss %.4f acc %5.1f%% | val loss %.4f acc %5.1f%% | lr %g\n",
		m.Epoch, m.TrainLoss, 100*m.TrainAccuracy, m.ValLoss, 100*m.ValAccuracy, m.LearningRate)
}
