package dataset

import (
	"math"
	"testing"
)

func syntheticTrials(n, channels, samples int, offset float64) []*Trial {
	trials := make([]*Trial, n)
	for i := range trials {
		data := make([][]float64, channels)
		for c := range data {
			row := make([]float64, samples)
			for j := range row {
				row[j] = offset + float64(c+1)*math.Sin(float64(i*samples+j)*0.13)
			}
			data[c] = row
		}
		trials[i] = &Trial{Data: data, Label: i % 2, SampleRate: 250}
	}
	return trials
}

func TestFitApplyStandardizes(t *testing.T) {
	trials := syntheticTrials(20, 3, 100, 5.0)
	stats, err := FitStats(trials)
	if err != nil {
		t.Fatalf("FitStats: %v", err)
	}
	norm, err := stats.Apply(trials)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	channels, samples := 3, 100
	for c := 0; c < channels; c++ {
		var sum, sq float64
		n := float64(len(norm) * samples)
		for _, tr := range norm {
			for _, v := range tr.Data[c] {
				sum += v
			}
		}
		mean := sum / n
		for _, tr := range norm {
			for _, v := range tr.Data[c] {
				d := v - mean
				sq += d * d
			}
		}
		std := math.Sqrt(sq / n)
		if math.Abs(mean) > 1e-6 {
			t.Errorf("channel %d: normalized mean = %g", c, mean)
		}
		if math.Abs(std-1) > 1e-6 {
			t.Errorf("channel %d: normalized std = %g", c, std)
		}
	}
}

// Statistics fit on one population must be applied verbatim to another,
// never recomputed from the target.
func TestApplyNeverRefits(t *testing.T) {
	source := syntheticTrials(10, 2, 50, 0)
	stats, err := FitStats(source)
	if err != nil {
		t.Fatalf("FitStats: %v", err)
	}
	savedMean := append([]float64(nil), stats.Mean...)
	savedStd := append([]float64(nil), stats.Std...)

	// A target population with a very different distribution.
	target := syntheticTrials(4, 2, 50, 100)
	norm, err := stats.Apply(target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	for c := 0; c < 2; c++ {
		if stats.Mean[c] != savedMean[c] || stats.Std[c] != savedStd[c] {
			t.Fatalf("channel %d: statistics mutated by Apply", c)
		}
		inv := 1.0 / (savedStd[c] + statsEps)
		for i, tr := range norm {
			for j, got := range tr.Data[c] {
				want := (target[i].Data[c][j] - savedMean[c]) * inv
				if got != want {
					t.Fatalf("trial %d channel %d sample %d: got %g, want %g from source statistics",
						i, c, j, got, want)
				}
			}
		}
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	trials := syntheticTrials(5, 2, 30, 2)
	before := trials[0].Data[0][0]
	stats, err := FitStats(trials)
	if err != nil {
		t.Fatalf("FitStats: %v", err)
	}
	if _, err := stats.Apply(trials); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if trials[0].Data[0][0] != before {
		t.Fatalf("Apply mutated its input")
	}
}

func TestFitStatsZeroVariance(t *testing.T) {
	trials := syntheticTrials(4, 2, 20, 0)
	for _, tr := range trials {
		for j := range tr.Data[1] {
			tr.Data[1][j] = 3.5 // flat channel
		}
	}
	stats, err := FitStats(trials)
	if err != nil {
		t.Fatalf("FitStats: %v", err)
	}
	if stats.Std[1] != 0 {
		t.Fatalf("flat channel std = %g, want 0", stats.Std[1])
	}
	norm, err := stats.Apply(trials)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, v := range norm[0].Data[1] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("flat channel produced non-finite value %v", v)
		}
	}
}

func TestFitStatsShapeMismatch(t *testing.T) {
	trials := syntheticTrials(3, 2, 20, 0)
	trials[2].Data[0] = trials[2].Data[0][:10]
	if _, err := FitStats(trials); err == nil {
		t.Fatalf("expected error for mismatched trial shapes")
	}
}
