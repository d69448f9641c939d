package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := newTinyModel(t)
	m.SetState(12, 0.3)

	path, err := SaveCheckpoint(dir, m, 5)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dialogue.ckpt-12"), path)

	state, err := os.ReadFile(filepath.Join(dir, checkpointState))
	require.NoError(t, err)
	assert.Equal(t, "model_checkpoint_path: \"dialogue.ckpt-12\"\n", string(state))

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, path, latest)

	restored, err := LoadCheckpoint(latest, tinyOptions())
	require.NoError(t, err)
	t.Cleanup(func() { restored.Close() })
	assert.Equal(t, 12, restored.GlobalStep())
	assert.Equal(t, 0.3, restored.LearningRate())

	want, err := m.Decode([]int{4, 5}, 0)
	require.NoError(t, err)
	got, err := restored.Decode([]int{4, 5}, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	manifest, err := ReadManifest(latest)
	require.NoError(t, err)
	assert.Equal(t, 12, manifest.GlobalStep)
	assert.Equal(t, 12, manifest.VocabSize)
	assert.Equal(t, [][]int{{3, 4}, {5, 6}}, manifest.Buckets)
	assert.False(t, manifest.SavedAt.IsZero())
}

func TestCheckpointPrune(t *testing.T) {
	dir := t.TempDir()
	m := newTinyModel(t)
	for _, step := range []int{1, 2, 3} {
		m.SetState(step, 0.5)
		_, err := SaveCheckpoint(dir, m, 2)
		require.NoError(t, err)
	}

	assert.NoFileExists(t, filepath.Join(dir, "dialogue.ckpt-1"))
	assert.NoFileExists(t, filepath.Join(dir, "dialogue.ckpt-1.json"))
	assert.FileExists(t, filepath.Join(dir, "dialogue.ckpt-2"))
	assert.FileExists(t, filepath.Join(dir, "dialogue.ckpt-3"))

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dialogue.ckpt-3"), latest)
}

func TestLatestCheckpointMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := LatestCheckpoint(dir)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpointState),
		[]byte("model_checkpoint_path: \"dialogue.ckpt-9\"\n"), 0o644))
	_, err = LatestCheckpoint(dir)
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestLoadCheckpointMismatch(t *testing.T) {
	dir := t.TempDir()
	path, err := SaveCheckpoint(dir, newTinyModel(t), 1)
	require.NoError(t, err)

	opts := tinyOptions()
	opts.Size = 16
	_, err = LoadCheckpoint(path, opts)
	assert.ErrorIs(t, err, ErrCheckpointMismatch)
}
