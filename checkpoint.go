package main

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	checkpointPrefix = "dialogue.ckpt-"
	checkpointState  = "checkpoint"
	manifestSuffix   = ".json"
)

var (
	// ErrNoCheckpoint is returned when a train directory holds no checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint found")
	// ErrCheckpointMismatch is returned when a checkpoint was trained with
	// different model hyper-parameters than the current configuration.
	ErrCheckpointMismatch = errors.New("checkpoint does not match model configuration")
)

// Manifest describes a saved checkpoint.
type Manifest struct {
	VocabSize    int       `json:"vocab_size"`
	Size         int       `json:"size"`
	NumLayers    int       `json:"num_layers"`
	Buckets      [][]int   `json:"buckets"`
	GlobalStep   int       `json:"global_step"`
	LearningRate float64   `json:"learning_rate"`
	SavedAt      time.Time `json:"saved_at"`
}

type checkpointFile struct {
	Params       *Params
	GlobalStep   int
	LearningRate float64
}

// SaveCheckpoint writes the model to dir as dialogue.ckpt-<step> with a JSON
// manifest, points the state file at it and removes all but the newest keep
// checkpoints. It returns the checkpoint path.
func SaveCheckpoint(dir string, m *Seq2Seq, keep int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create train dir: %w", err)
	}

	var path string
	err := m.withParams(func(p *Params, step int, lr float64) error {
		path = filepath.Join(dir, checkpointPrefix+strconv.Itoa(step))
		state := checkpointFile{Params: p, GlobalStep: step, LearningRate: lr}
		if err := writeAtomic(path, func(f *os.File) error {
			return gob.NewEncoder(f).Encode(&state)
		}); err != nil {
			return err
		}
		buckets := make([][]int, len(m.opts.Buckets))
		for i, b := range m.opts.Buckets {
			buckets[i] = []int{b.EncoderSize, b.DecoderSize}
		}
		return saveJSON(path+manifestSuffix, Manifest{
			VocabSize:    p.VocabSize,
			Size:         p.Size,
			NumLayers:    p.NumLayers,
			Buckets:      buckets,
			GlobalStep:   step,
			LearningRate: lr,
			SavedAt:      time.Now().UTC(),
		})
	})
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, checkpointState), func(f *os.File) error {
		_, err := fmt.Fprintf(f, "model_checkpoint_path: %q\n", filepath.Base(path))
		return err
	}); err != nil {
		return "", fmt.Errorf("write checkpoint state: %w", err)
	}
	if err := pruneCheckpoints(dir, keep); err != nil {
		return "", err
	}
	return path, nil
}

// LatestCheckpoint returns the checkpoint named by dir's state file.
func LatestCheckpoint(dir string) (string, error) {
	f, err := os.Open(filepath.Join(dir, checkpointState))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
		}
		return "", fmt.Errorf("open checkpoint state: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(key) != "model_checkpoint_path" {
			continue
		}
		name, err := strconv.Unquote(strings.TrimSpace(value))
		if err != nil {
			return "", fmt.Errorf("parse checkpoint state: %w", err)
		}
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			return "", fmt.Errorf("%w: %s is missing", ErrNoCheckpoint, path)
		}
		return path, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read checkpoint state: %w", err)
	}
	return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
}

// LoadCheckpoint restores a model saved by SaveCheckpoint. The checkpoint's
// vocabulary size, hidden size and layer count must match opts.
func LoadCheckpoint(path string, opts ModelOptions) (*Seq2Seq, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	var state checkpointFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if state.Params == nil {
		return nil, fmt.Errorf("decode checkpoint %s: no parameters", path)
	}
	m, err := NewSeq2Seq(opts, state.Params, nil)
	if err != nil {
		return nil, err
	}
	m.SetState(state.GlobalStep, state.LearningRate)
	return m, nil
}

// ReadManifest loads the manifest saved next to a checkpoint.
func ReadManifest(checkpointPath string) (Manifest, error) {
	var m Manifest
	if err := loadJSON(checkpointPath+manifestSuffix, &m); err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}

// pruneCheckpoints keeps the keep checkpoints with the highest steps.
func pruneCheckpoints(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list train dir: %w", err)
	}
	var steps []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, checkpointPrefix) || strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		step, err := strconv.Atoi(strings.TrimPrefix(name, checkpointPrefix))
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	if len(steps) <= keep {
		return nil
	}
	sort.Sort(sort.Reverse(sort.IntSlice(steps)))
	for _, step := range steps[keep:] {
		path := filepath.Join(dir, checkpointPrefix+strconv.Itoa(step))
		for _, p := range []string{path, path + manifestSuffix} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove old checkpoint: %w", err)
			}
		}
	}
	return nil
}

// writeAtomic writes through a temporary file renamed into place.
func writeAtomic(path string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func saveJSON(path string, data any) error {
	return writeAtomic(path, func(f *os.File) error {
		encoder := json.NewEncoder(f)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	})
}

func loadJSON(path string, data any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(data)
}
