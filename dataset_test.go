package main

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dialogueInputs = []string{
	"Good morrow.", "How now?", "What say you?", "Stay, sir.",
	"Fare you well.", "I pray you.", "Speak, man.", "Good morrow.",
}

var dialogueOutputs = []string{
	"How now?", "What say you?", "Stay, sir.", "Fare you well.",
	"I pray you.", "Speak, man.", "Good morrow.", "Well met.",
}

func seedDialogue(t *testing.T, cfg *Config) {
	t.Helper()
	require.NoError(t, os.MkdirAll(cfg.Paths.DataDir, 0o755))
	writeDataFile(t, filepath.Join(cfg.Paths.DataDir, inputDataFile), dialogueInputs...)
	writeDataFile(t, filepath.Join(cfg.Paths.DataDir, outputDataFile), dialogueOutputs...)
}

func TestPrepareEMDDataFromSavedPairs(t *testing.T) {
	cfg := testConfig(t)
	seedDialogue(t, cfg)

	paths, err := PrepareEMDData(context.Background(), cfg, nil)
	require.NoError(t, err)

	for _, p := range []string{paths.FromTrainIDs, paths.ToTrainIDs, paths.FromDevIDs, paths.ToDevIDs, paths.FromVocab, paths.ToVocab} {
		assert.FileExists(t, p)
	}
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "input_data_training.json.ids40"), paths.FromTrainIDs)

	devInputs, err := readTextLines(filepath.Join(cfg.Paths.DataDir, inputDevFile))
	require.NoError(t, err)
	trainInputs, err := readTextLines(filepath.Join(cfg.Paths.DataDir, inputTrainingFile))
	require.NoError(t, err)
	assert.Len(t, devInputs, 2)
	assert.Len(t, trainInputs, 6)

	assert.Len(t, readFileLines(t, paths.FromTrainIDs), 6)
	assert.Len(t, readFileLines(t, paths.ToDevIDs), 2)

	vocab, err := InitializeVocabulary(paths.ToVocab)
	require.NoError(t, err)
	assert.Equal(t, "_PAD", vocab.Word(PadID))
	assert.LessOrEqual(t, vocab.Size(), cfg.Model.VocabSize)
}

func TestPrepareEMDDataKeepsSplit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Training.Seed = 0
	seedDialogue(t, cfg)

	_, err := PrepareEMDData(context.Background(), cfg, nil)
	require.NoError(t, err)
	splitFiles := []string{inputTrainingFile, outputTrainingFile, inputDevFile, outputDevFile}
	first := make([][]byte, len(splitFiles))
	for i, name := range splitFiles {
		first[i], err = os.ReadFile(filepath.Join(cfg.Paths.DataDir, name))
		require.NoError(t, err)
	}

	_, err = PrepareEMDData(context.Background(), cfg, nil)
	require.NoError(t, err)
	for i, name := range splitFiles {
		raw, err := os.ReadFile(filepath.Join(cfg.Paths.DataDir, name))
		require.NoError(t, err)
		assert.Equal(t, string(first[i]), string(raw), name)
	}
}

func TestPrepareEMDDataUsesExistingSplit(t *testing.T) {
	cfg := testConfig(t)
	seedDialogue(t, cfg)
	dataDir := cfg.Paths.DataDir
	writeDataFile(t, filepath.Join(dataDir, inputTrainingFile), "Good morrow.", "Stay, sir.")
	writeDataFile(t, filepath.Join(dataDir, outputTrainingFile), "How now?", "Fare you well.")
	writeDataFile(t, filepath.Join(dataDir, inputDevFile), "Speak, man.")
	writeDataFile(t, filepath.Join(dataDir, outputDevFile), "Well met.")

	paths, err := PrepareEMDData(context.Background(), cfg, nil)
	require.NoError(t, err)

	inputs, err := readTextLines(filepath.Join(dataDir, inputTrainingFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"Good morrow.", "Stay, sir."}, inputs)
	assert.Len(t, readFileLines(t, paths.FromTrainIDs), 2)
	assert.Len(t, readFileLines(t, paths.ToDevIDs), 1)
}

func TestPrepareEMDDataExtractsCorpus(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Paths.DataDir, 0o755))
	require.NoError(t, os.WriteFile(cfg.Paths.ShakespeareFile,
		[]byte("ACT I\n\nGood morrow.\n\nHow now?\n\nWell met.\n\nStay.\n\nGo."), 0o644))

	_, err := PrepareEMDData(context.Background(), cfg, nil)
	require.NoError(t, err)

	inputs, err := readTextLines(filepath.Join(cfg.Paths.DataDir, inputDataFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"Good morrow.", "How now?", "Well met.", "Stay."}, inputs)
}

func TestPrepareEMDDataEmptyCorpus(t *testing.T) {
	cfg := testConfig(t)
	_, err := PrepareEMDData(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestPrepareEMDDataMismatchedFiles(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Paths.DataDir, 0o755))
	writeDataFile(t, filepath.Join(cfg.Paths.DataDir, inputDataFile), "a", "b")
	writeDataFile(t, filepath.Join(cfg.Paths.DataDir, outputDataFile), "c")

	_, err := PrepareEMDData(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "disagree")
}

func TestDevIndices(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	dev := DevIndices(100, 0.1, rng)
	assert.Len(t, dev, 10)
	for i := range dev {
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 100)
	}
	assert.Empty(t, DevIndices(5, 0, rng))
}
