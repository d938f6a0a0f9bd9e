// Command tune runs a resumable hyperparameter search. Each trial
// trains a fresh model on the same prepared dataset for a shortened
// epoch budget; under-performing trials are pruned against the median
// of their finished peers. The winning parameters are written for the
// pretrain command to pick up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/aliftffd/bcitrain/dataset"
	"github.com/aliftffd/bcitrain/nn"
	"github.com/aliftffd/bcitrain/training"
	"github.com/aliftffd/bcitrain/tune"
)

func main() {
	var (
		dataDir   = flag.String("data", "data/competition", "directory with recordings and the session manifest")
		manifest  = flag.String("manifest", "session.json", "manifest filename inside the data directory")
		modelType = flag.String("model", "eegnet", "classifier variant: eegnet or transformer")
		studyDir  = flag.String("study-dir", "studies", "directory holding study state")
		studyName = flag.String("study", "search", "study name; rerun with the same name to resume")
		trials    = flag.Int("trials", 20, "total trials, counting ones finished in earlier runs")
		epochs    = flag.Int("epochs", 30, "epoch budget per trial")
		batchSize = flag.Int("batch", 16, "batch size")
		seed      = flag.Int64("seed", 42, "random seed")
		valFrac   = flag.Float64("val-frac", 0.2, "validation fraction")
	)
	flag.Parse()

	if err := run(*dataDir, *manifest, *modelType, *studyDir, *studyName,
		*trials, *epochs, *batchSize, *seed, *valFrac); err != nil {
		fmt.Fprintf(os.Stderr, "tune: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir, manifest, modelType, studyDir, studyName string,
	trials, epochs, batchSize int, seed int64, valFrac float64) error {

	transformer := modelType == "transformer"
	if !transformer && modelType != "eegnet" {
		return fmt.Errorf("unknown model type %q", modelType)
	}
	targetLen := 0
	if transformer {
		targetLen = nn.DefaultTransformerConfig().SeqLength
	}

	// The dataset is prepared once; every trial sees the same split and
	// normalization so trial values are comparable.
	train, val, err := loadData(dataDir, manifest, targetLen, valFrac, seed)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d training and %d validation trials\n", train.Len(), val.Len())

	study, err := tune.LoadStudy(studyDir, studyName, seed, tune.DefaultSearchSpace(transformer))
	if err != nil {
		return err
	}

	objective := func(ctx context.Context, params tune.TrialParams, reporter training.TrialReporter) (float64, error) {
		model, err := buildModel(modelType, params)
		if err != nil {
			return 0, err
		}
		adamCfg := training.DefaultAdamConfig()
		adamCfg.LearningRate = params.LearningRate
		adamCfg.WeightDecay = params.WeightDecay

		cfg := training.DefaultConfig()
		cfg.Epochs = epochs
		cfg.BatchSize = batchSize
		cfg.LearningRate = params.LearningRate
		cfg.WeightDecay = params.WeightDecay
		cfg.Seed = seed
		cfg.CheckpointDir = "" // trials leave no checkpoints behind

		trainer := training.NewTrainer(model, training.NewAdam(adamCfg, model.Params()), cfg)
		trainer.SetReporter(reporter)
		result, err := trainer.Fit(ctx, train, val)
		if err != nil {
			return 0, err
		}
		return result.BestValAccuracy, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := study.Run(ctx, trials, objective); err != nil {
		return err
	}

	best, err := study.Best()
	if err != nil {
		return err
	}
	fmt.Printf("Best trial %d: %.4f\n", best.ID, best.Value)
	paramsPath := filepath.Join(studyDir, studyName+"_best_params.json")
	if err := study.SaveBestParams(paramsPath); err != nil {
		return err
	}
	fmt.Printf("Best parameters written to %s\n", paramsPath)
	return nil
}

func buildModel(modelType string, params tune.TrialParams) (nn.Classifier, error) {
	if modelType == "eegnet" {
		cfg := nn.DefaultEEGNetConfig()
		cfg.DropoutRate = params.Dropout
		return nn.NewEEGNet(cfg)
	}
	cfg := nn.DefaultTransformerConfig()
	cfg.DropoutRate = params.Dropout
	cfg.DModel = params.DModel
	cfg.NumHeads = params.NumHeads
	cfg.NumLayers = params.NumLayers
	cfg.FFNHidden = params.FFNHidden
	return nn.NewEEGTransformer(cfg)
}

func loadData(dataDir, manifest string, targetLen int, valFrac float64, seed int64) (train, val training.Dataset, err error) {
	recs, err := dataset.LoadSession(dataDir, manifest)
	if err != nil {
		return nil, nil, err
	}
	asmCfg := dataset.DefaultAssemblerConfig()
	asmCfg.TargetLen = targetLen
	asm, err := dataset.NewAssembler(asmCfg)
	if err != nil {
		return nil, nil, err
	}
	trials, err := asm.AssembleAll(recs)
	if err != nil {
		return nil, nil, err
	}
	stats, err := dataset.FitStats(trials)
	if err != nil {
		return nil, nil, err
	}
	norm, err := stats.Apply(trials)
	if err != nil {
		return nil, nil, err
	}
	full, err := dataset.FromTrials(norm)
	if err != nil {
		return nil, nil, err
	}
	trainIdx, valIdx, err := dataset.StratifiedSplit(full.Labels(), valFrac, seed)
	if err != nil {
		return nil, nil, err
	}
	trainDS, err := full.Subset(trainIdx)
	if err != nil {
		return nil, nil, err
	}
	valDS, err := full.Subset(valIdx)
	if err != nil {
		return nil, nil, err
	}
	return trainDS, valDS, nil
}
