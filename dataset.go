package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyCorpus is returned when no dialogue pairs could be extracted.
var ErrEmptyCorpus = errors.New("no dialogue pairs found")

const (
	inputDataFile      = "input_data.json"
	outputDataFile     = "output_data.json"
	inputTrainingFile  = "input_data_training.json"
	outputTrainingFile = "output_data_training.json"
	inputDevFile       = "input_data_dev.json"
	outputDevFile      = "output_data_dev.json"
)

// PreparedPaths are the files produced by the preparation pipeline.
type PreparedPaths struct {
	FromTrainIDs string
	ToTrainIDs   string
	FromDevIDs   string
	ToDevIDs     string
	FromVocab    string
	ToVocab      string
}

// ExtractPairs reads every configured corpus source.
func ExtractPairs(cfg *Config, logger *zap.Logger) ([]Pair, error) {
	logger = orNop(logger)
	pairs, err := ReadCED(cfg.Paths.CEDDir, logger)
	if err != nil {
		return nil, fmt.Errorf("read CED: %w", err)
	}
	logger.Info("read CED plain text", zap.Int("pairs", len(pairs)))

	if fileExists(cfg.Paths.ShakespeareFile) {
		shakespeare, err := ReadShakespeare(cfg.Paths.ShakespeareFile)
		if err != nil {
			return nil, fmt.Errorf("read shakespeare: %w", err)
		}
		logger.Info("read shakespeare", zap.Int("pairs", len(shakespeare)))
		pairs = append(pairs, shakespeare...)
	} else {
		logger.Warn("shakespeare corpus missing", zap.String("path", cfg.Paths.ShakespeareFile))
	}

	if cfg.Paths.CEDXMLDir != "" {
		xmlPairs, err := ReadCEDXML(cfg.Paths.CEDXMLDir)
		if err != nil {
			return nil, fmt.Errorf("read CED XML: %w", err)
		}
		logger.Info("read CED XML", zap.Int("pairs", len(xmlPairs)))
		pairs = append(pairs, xmlPairs...)
	}
	return pairs, nil
}

// PrepareEMDData extracts (or reloads) the dialogue pairs, splits them into
// training and dev sets, then builds vocabularies and token-id files.
func PrepareEMDData(ctx context.Context, cfg *Config, logger *zap.Logger) (PreparedPaths, error) {
	logger = orNop(logger)
	dataDir := cfg.Paths.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return PreparedPaths{}, fmt.Errorf("create data dir: %w", err)
	}

	inputPath := filepath.Join(dataDir, inputDataFile)
	outputPath := filepath.Join(dataDir, outputDataFile)

	var inputs, outputs []string
	if !fileExists(inputPath) && !fileExists(outputPath) {
		pairs, err := ExtractPairs(cfg, logger)
		if err != nil {
			return PreparedPaths{}, err
		}
		if len(pairs) == 0 {
			return PreparedPaths{}, ErrEmptyCorpus
		}
		inputs = make([]string, len(pairs))
		outputs = make([]string, len(pairs))
		for i, p := range pairs {
			inputs[i], outputs[i] = p.Input, p.Output
		}
		if err := writeTextLines(inputPath, inputs); err != nil {
			return PreparedPaths{}, err
		}
		if err := writeTextLines(outputPath, outputs); err != nil {
			return PreparedPaths{}, err
		}
	} else {
		var err error
		if inputs, err = readTextLines(inputPath); err != nil {
			return PreparedPaths{}, err
		}
		if outputs, err = readTextLines(outputPath); err != nil {
			return PreparedPaths{}, err
		}
		if len(inputs) != len(outputs) {
			return PreparedPaths{}, fmt.Errorf("data files disagree: %d inputs, %d outputs", len(inputs), len(outputs))
		}
		if len(inputs) == 0 {
			return PreparedPaths{}, ErrEmptyCorpus
		}
	}

	if err := ctx.Err(); err != nil {
		return PreparedPaths{}, err
	}

	splitPaths := []string{
		filepath.Join(dataDir, inputTrainingFile),
		filepath.Join(dataDir, outputTrainingFile),
		filepath.Join(dataDir, inputDevFile),
		filepath.Join(dataDir, outputDevFile),
	}
	if allExist(splitPaths) {
		logger.Info("using existing train/dev split", zap.String("data_dir", dataDir))
		return PrepareData(ctx, cfg, splitPaths[0], splitPaths[1], splitPaths[2], splitPaths[3], logger)
	}

	rng := rand.New(rand.NewSource(seedOrNow(cfg.Training.Seed)))
	dev := DevIndices(len(inputs), cfg.Training.DevFraction, rng)
	var fromTrain, toTrain, fromDev, toDev []string
	for i := range inputs {
		if dev[i] {
			fromDev = append(fromDev, inputs[i])
			toDev = append(toDev, outputs[i])
			continue
		}
		fromTrain = append(fromTrain, inputs[i])
		toTrain = append(toTrain, outputs[i])
	}
	logger.Info("split dialogue pairs", zap.Int("train", len(fromTrain)), zap.Int("dev", len(fromDev)))

	for i, lines := range [][]string{fromTrain, toTrain, fromDev, toDev} {
		if err := writeTextLines(splitPaths[i], lines); err != nil {
			return PreparedPaths{}, err
		}
	}

	return PrepareData(ctx, cfg, splitPaths[0], splitPaths[1], splitPaths[2], splitPaths[3], logger)
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if !fileExists(p) {
			return false
		}
	}
	return true
}

// DevIndices marks round(n*fraction) indices, sampled without replacement,
// as development examples.
func DevIndices(n int, fraction float64, rng *rand.Rand) map[int]bool {
	k := int(math.Round(float64(n) * fraction))
	dev := make(map[int]bool, k)
	for _, i := range rng.Perm(n)[:k] {
		dev[i] = true
	}
	return dev
}

// PrepareData builds both vocabularies from the training files and turns all
// four splits into token-id files. Input and output sides share one size.
func PrepareData(ctx context.Context, cfg *Config, fromTrain, toTrain, fromDev, toDev string, logger *zap.Logger) (PreparedPaths, error) {
	size := cfg.Model.VocabSize
	normalize := cfg.Model.NormalizeDigits
	fromVocab, toVocab := cfg.VocabPaths()

	paths := PreparedPaths{
		FromTrainIDs: idsPath(fromTrain, size),
		ToTrainIDs:   idsPath(toTrain, size),
		FromDevIDs:   idsPath(fromDev, size),
		ToDevIDs:     idsPath(toDev, size),
		FromVocab:    fromVocab,
		ToVocab:      toVocab,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return CreateVocabulary(gctx, toVocab, toTrain, size, normalize, logger) })
	g.Go(func() error { return CreateVocabulary(gctx, fromVocab, fromTrain, size, normalize, logger) })
	if err := g.Wait(); err != nil {
		return PreparedPaths{}, fmt.Errorf("create vocabulary: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return PreparedPaths{}, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error { return DataToTokenIDs(gctx, toTrain, paths.ToTrainIDs, toVocab, normalize, logger) })
	g.Go(func() error { return DataToTokenIDs(gctx, fromTrain, paths.FromTrainIDs, fromVocab, normalize, logger) })
	g.Go(func() error { return DataToTokenIDs(gctx, toDev, paths.ToDevIDs, toVocab, normalize, logger) })
	g.Go(func() error { return DataToTokenIDs(gctx, fromDev, paths.FromDevIDs, fromVocab, normalize, logger) })
	if err := g.Wait(); err != nil {
		return PreparedPaths{}, fmt.Errorf("tokenize data: %w", err)
	}
	return paths, nil
}

func idsPath(dataPath string, size int) string {
	return fmt.Sprintf("%s.ids%d", dataPath, size)
}

func writeTextLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, l := range lines {
		if err := enc.Encode(textLine{Text: l}); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func readTextLines(path string) ([]string, error) {
	var lines []string
	err := forEachTextLine(context.Background(), path, func(_ int, text string) {
		lines = append(lines, text)
	})
	return lines, err
}

func seedOrNow(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}
