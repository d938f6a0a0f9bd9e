// Command finetune adapts a pretrained classifier to a personal
// recording session using the two-phase transfer protocol. The
// normalization statistics travel with the checkpoint and are never
// refit on the target data.
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
)

func main() {
	var (
		dataDir    = flag.String("data", "data/personal", "directory with the target recordings and manifest")
		manifest   = flag.String("manifest", "session.json", "manifest filename inside the data directory")
		ckptPath   = flag.String("checkpoint", "checkpoints/pretrain/best.json", "pretrained checkpoint to start from")
		classes    = flag.String("classes", "", "comma-separated class ids to keep (default: all)")
		ckptDir    = flag.String("checkpoints", "checkpoints/finetune", "checkpoint output directory")
		headEpochs = flag.Int("head-epochs", 10, "phase-1 epochs with only the head trainable")
		epochs     = flag.Int("epochs", 30, "phase-2 epoch budget")
		unfreeze   = flag.Int("unfreeze", 1, "blocks to unfreeze in phase 2, counted from the output")
		batchSize  = flag.Int("batch", 8, "batch size")
		seed       = flag.Int64("seed", 42, "random seed")
		valFrac    = flag.Float64("val-frac", 0.2, "validation fraction")
		onnxPath   = flag.String("onnx", "", "export the fine-tuned weights to this ONNX file")
	)
	flag.Parse()

	if err := run(*dataDir, *manifest, *ckptPath, *classes, *ckptDir, *onnxPath,
		*headEpochs, *epochs, *unfreeze, *batchSize, *seed, *valFrac); err != nil {
		fmt.Fprintf(os.Stderr, "finetune: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir, manifest, ckptPath, classes, ckptDir, onnxPath string,
	headEpochs, epochs, unfreeze, batchSize int, seed int64, valFrac float64) error {

	nn.SetRandomSeed(seed)

	saver := checkpoint.NewSaver(checkpoint.FormatJSON)
	ckpt, err := saver.Load(ckptPath)
	if err != nil {
		return err
	}
	if ckpt.Normalization == nil {
		return fmt.Errorf("checkpoint %s carries no normalization statistics; refit on the target data is not allowed", ckptPath)
	}

	model, targetLen, err := buildModel(ckpt.Metadata.ModelType)
	if err != nil {
		return err
	}
	if err := ckpt.LoadInto(model); err != nil {
		return err
	}
	fmt.Printf("Loaded %s checkpoint from epoch %d (val acc %.4f)\n",
		ckpt.Metadata.ModelType, ckpt.Epoch, ckpt.BestValAccuracy)

	train, val, err := loadData(dataDir, manifest, classes, targetLen, ckpt.Normalization, valFrac, seed)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d training and %d validation trials\n", train.Len(), val.Len())

	cfg := training.DefaultFineTuneConfig()
	cfg.HeadEpochs = headEpochs
	cfg.Epochs = epochs
	cfg.UnfreezeLastN = unfreeze
	cfg.BatchSize = batchSize
	cfg.Seed = seed
	cfg.CheckpointDir = ckptDir
	cfg.ModelType = ckpt.Metadata.ModelType

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := training.FineTune(ctx, model, cfg, ckpt.Normalization, train, val)
	if err != nil {
		return err
	}
	fmt.Printf("Best validation accuracy %.4f at epoch %d\n", result.BestValAccuracy, result.BestEpoch)

	if onnxPath != "" {
		best, err := saver.Load(filepath.Join(ckptDir, "best.json"))
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

// buildModel reconstructs the architecture recorded in the checkpoint
// metadata with its default configuration. The weight shapes are
// verified when the checkpoint is loaded into it.
func buildModel(modelType string) (nn.Classifier, int, error) {
	switch modelType {
	case "eegnet":
		m, err := nn.NewEEGNet(nn.DefaultEEGNetConfig())
		if err != nil {
			return nil, 0, err
		}
		return m, 0, nil
	case "transformer":
		cfg := nn.DefaultTransformerConfig()
		m, err := nn.NewEEGTransformer(cfg)
		if err != nil {
			return nil, 0, err
		}
		return m, cfg.SeqLength, nil
	default:
		return nil, 0, fmt.Errorf("checkpoint has unknown model type %q", modelType)
	}
}

func loadData(dataDir, manifest, classes string, targetLen int, stats *dataset.Stats, valFrac float64, seed int64) (train, val training.Dataset, err error) {
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
	if classes != "" {
		keep, err := parseClasses(classes)
		if err != nil {
			return nil, nil, err
		}
		trials = dataset.FilterClasses(trials, keep)
		if len(trials) == 0 {
			return nil, nil, fmt.Errorf("no trials left after filtering to classes %v", keep)
		}
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
