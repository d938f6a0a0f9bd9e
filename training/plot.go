package training

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// CurveObserver accumulates per-epoch metrics and renders the training
// curves to an image file at the end of a run.
type CurveObserver struct {
	history []EpochMetrics
}

// NewCurveObserver creates an empty curve collector.
func NewCurveObserver() *CurveObserver {
	return &CurveObserver{}
}

func (o *CurveObserver) OnEpochEnd(m EpochMetrics) {
	o.history = append(o.history, m)
}

func (o *CurveObserver) points(pick func(EpochMetrics) float64) plotter.XYs {
	pts := make(plotter.XYs, len(o.history))
	for i, m := range o.history {
		pts[i].X = float64(m.Epoch)
		pts[i].Y = pick(m)
	}
	return pts
}

// Save renders loss and accuracy curves to path. The format follows the
// file extension (.png, .svg, .pdf).
func (o *CurveObserver) Save(path string) error {
	if len(o.history) == 0 {
		return fmt.Errorf("no epochs recorded")
	}
	p, err := plot.New()
	if err != nil {
		return fmt.Errorf("plot: %v", err)
	}
	p.Title.Text = "Training progress"
	p.X.Label.Text = "epoch"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	err = plotutil.AddLines(p,
		"train loss", o.points(func(m EpochMetrics) float64 { return m.TrainLoss }),
		"val loss", o.points(func(m EpochMetrics) float64 { return m.ValLoss }),
		"train acc", o.points(func(m EpochMetrics) float64 { return m.TrainAccuracy }),
		"val acc", o.points(func(m EpochMetrics) float64 { return m.ValAccuracy }),
	)
	if err != nil {
		return fmt.Errorf("plot lines: %v", err)
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %v", err)
	}
	return nil
}
