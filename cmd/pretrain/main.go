// Command pretrain trains a classifier from scratch on a competition
// session and writes best/latest checkpoints plus the normalization
// statistics the weights were fit under.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aliftffd/bcitrain/checkpoint"
	"github.com/aliftffd/bcitrain/dataset"
	"github.com/aliftffd/bcitrain/nn"
	"github.com/aliftffd/bcitrain/training"
	"github.com/aliftffd/bcitrain/tune"
)

func main() {
	var (
		dataDir    = flag.String("data", "data/competition", "directory with recordings and the session manifest")
		manifest   = flag.String("manifest", "session.json", "manifest filename inside the data directory")
		modelType  = flag.String("model", "eegnet", "classifier variant: eegnet or transformer")
		classes    = flag.String("classes", "", "comma-separated class ids to keep (default: all)")
		epochs     = flag.Int("epochs", 100, "epoch budget")
		batchSize  = flag.Int("batch", 16, "batch size")
		patience   = flag.Int("patience", 20, "early-stopping patience in epochs")
		seed       = flag.Int64("seed", 42, "random seed")
		ckptDir    = flag.String("checkpoints", "checkpoints/pretrain", "checkpoint output directory")
		paramsPath = flag.String("params", "", "best-hyperparameters file from a finished search")
		curvesPath = flag.String("curves", "", "write training curves to this image file")
		valFrac    = flag.Float64("val-frac", 0.2, "validation fraction")
		amp        = flag.Bool("mixed-precision", false, "request a reduced-precision training step")
		onnxPath   = flag.String("onnx", "", "export the best weights to this ONNX file")
	)
	flag.Parse()

	if err := run(*dataDir, *manifest, *modelType, *classes, *paramsPath, *curvesPath, *ckptDir, *onnxPath,
		*epochs, *batchSize, *patience, *seed, *valFrac, *amp); err != nil {
		fmt.Fprintf(os.Stderr, "pretrain: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir, manifest, modelType, classes, paramsPath, curvesPath, ckptDir, onnxPath string,
	epochs, batchSize, patience int, seed int64, valFrac float64, amp bool) error {

	nn.SetRandomSeed(seed)

	var params *tune.TrialParams
	if paramsPath != "" {
		var err error
		params, err = tune.LoadParams(paramsPath)
		if err != nil {
			return err
		}
		fmt.Printf("Using searched hyperparameters: lr=%.3g wd=%.3g dropout=%.2f\n",
			params.LearningRate, params.WeightDecay, params.Dropout)
	}

	model, targetLen, err := buildModel(modelType, params)
	if err != nil {
		return err
	}

	train, val, stats, err := loadData(dataDir, manifest, classes, targetLen, valFrac, seed)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d training and %d validation trials\n", train.Len(), val.Len())

	cfg := training.DefaultConfig()
	cfg.Epochs = epochs
	cfg.BatchSize = batchSize
	cfg.Patience = patience
	cfg.Seed = seed
	cfg.CheckpointDir = ckptDir
	cfg.ModelType = modelType
	cfg.MixedPrecision = amp

	adamCfg := training.DefaultAdamConfig()
	if params != nil {
		adamCfg.LearningRate = params.LearningRate
		adamCfg.WeightDecay = params.WeightDecay
		cfg.LearningRate = params.LearningRate
		cfg.WeightDecay = params.WeightDecay
	}

	trainer := training.NewTrainer(model, training.NewAdam(adamCfg, model.Params()), cfg)
	trainer.SetStats(stats)
	trainer.AddObserver(training.NewConsoleObserver())
	var curves *training.CurveObserver
	if curvesPath != "" {
		curves = training.NewCurveObserver()
		trainer.AddObserver(curves)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := trainer.Fit(ctx, train, val)
	if err != nil {
		return err
	}
	fmt.Printf("Best validation accuracy %.4f at epoch %d\n", result.BestValAccuracy, result.BestEpoch)
	if curves != nil {
		if err := curves.Save(curvesPath); err != nil {
			return err
		}
	}
	if onnxPath != "" {
		best, err := checkpoint.NewSaver(checkpoint.FormatJSON).Load(filepath.Join(ckptDir, "best.json"))
		if err != nil {
			return err
		}
		if err := checkpoint.NewONNXExporter().Export(best, onnxPath); err != nil {
			return err
		}
		fmt.Printf("Exported weights to %s\n", onnxPath)
	}
	return nil
}

// buildModel constructs the requested variant, applying searched
// hyperparameters when present, and reports the input length the
// assembler must produce.
func buildModel(modelType string, params *tune.TrialParams) (nn.Classifier, int, error) {
	switch modelType {
	case "eegnet":
		cfg := nn.DefaultEEGNetConfig()
		if params != nil && params.Dropout > 0 {
			cfg.DropoutRate = params.Dropout
		}
		m, err := nn.NewEEGNet(cfg)
		if err != nil {
			return nil, 0, err
		}
		return m, 0, nil
	case "transformer":
		cfg := nn.DefaultTransformerConfig()
		if params != nil {
			if params.Dropout > 0 {
				cfg.DropoutRate = params.Dropout
			}
			if params.DModel > 0 {
				cfg.DModel = params.DModel
				cfg.NumHeads = params.NumHeads
				cfg.NumLayers = params.NumLayers
				cfg.FFNHidden = params.FFNHidden
			}
		}
		m, err := nn.NewEEGTransformer(cfg)
		if err != nil {
			return nil, 0, err
		}
		return m, cfg.SeqLength, nil
	default:
		return nil, 0, fmt.Errorf("unknown model type %q", modelType)
	}
}

// loadData runs the offline pipeline: manifest, assembly, optional class
// filtering, normalization, and the stratified split.
func loadData(dataDir, manifest, classes string, targetLen int, valFrac float64, seed int64) (train, val training.Dataset, stats *dataset.Stats, err error) {
	recs, err := dataset.LoadSession(dataDir, manifest)
	if err != nil {
		return nil, nil, nil, err
	}
	asmCfg := dataset.DefaultAssemblerConfig()
	asmCfg.TargetLen = targetLen
	asm, err := dataset.NewAssembler(asmCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	trials, err := asm.AssembleAll(recs)
	if err != nil {
		return nil, nil, nil, err
	}
	if classes != "" {
		keep, err := parseClasses(classes)
		if err != nil {
			return nil, nil, nil, err
		}
		trials = dataset.FilterClasses(trials, keep)
		if len(trials) == 0 {
			return nil, nil, nil, fmt.Errorf("no trials left after filtering to classes %v", keep)
		}
	}

	stats, err = dataset.FitStats(trials)
	if err != nil {
		return nil, nil, nil, err
	}
	norm, err := stats.Apply(trials)
	if err != nil {
		return nil, nil, nil, err
	}
	full, err := dataset.FromTrials(norm)
	if err != nil {
		return nil, nil, nil, err
	}
	trainIdx, valIdx, err := dataset.StratifiedSplit(full.Labels(), valFrac, seed)
	if err != nil {
		return nil, nil, nil, err
	}
	trainDS, err := full.Subset(trainIdx)
	if err != nil {
		return nil, nil, nil, err
	}
	valDS, err := full.Subset(valIdx)
	if err != nil {
		return nil, nil, nil, err
	}
	return trainDS, valDS, stats, nil
}

func parseClasses(s string) ([]int, error) {
	var keep []int
	for _, part := range strings.Split(s, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad class id %q", part)
		}
		keep = append(keep, c)
	}
	return keep, nil
}
