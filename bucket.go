package main

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
)

// Bucket bounds the encoder and decoder lengths of the examples it holds.
type Bucket struct {
	EncoderSize int
	DecoderSize int
}

func parseBuckets(raw [][]int) ([]Bucket, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one bucket is required")
	}
	buckets := make([]Bucket, len(raw))
	for i, b := range raw {
		if len(b) != 2 {
			return nil, fmt.Errorf("bucket %d: want [encoder, decoder], got %v", i, b)
		}
		if b[0] <= 0 || b[1] <= 0 {
			return nil, fmt.Errorf("bucket %d: sizes must be positive, got %v", i, b)
		}
		buckets[i] = Bucket{EncoderSize: b[0], DecoderSize: b[1]}
		if i > 0 && (b[0] <= buckets[i-1].EncoderSize || b[1] <= buckets[i-1].DecoderSize) {
			return nil, fmt.Errorf("bucket %d: sizes must increase, got %v after %v", i, b, raw[i-1])
		}
	}
	return buckets, nil
}

// Example is one tokenized source/target pair. Target ends with EOSID.
type Example struct {
	Source []int
	Target []int
}

// ReadData loads aligned source and target id files into buckets. A pair
// goes to the first bucket it fits strictly inside; longer pairs are
// dropped. maxSize > 0 limits the number of lines read.
func ReadData(sourcePath, targetPath string, buckets []Bucket, maxSize int) ([][]Example, error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source ids: %w", err)
	}
	defer src.Close()
	tgt, err := os.Open(targetPath)
	if err != nil {
		return nil, fmt.Errorf("open target ids: %w", err)
	}
	defer tgt.Close()

	sets := make([][]Example, len(buckets))
	srcScan := bufio.NewScanner(src)
	tgtScan := bufio.NewScanner(tgt)
	srcScan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	tgtScan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for n := 0; maxSize <= 0 || n < maxSize; n++ {
		if !srcScan.Scan() || !tgtScan.Scan() {
			break
		}
		source, err := ReadTokenIDs(srcScan.Text())
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", sourcePath, n+1, err)
		}
		target, err := ReadTokenIDs(tgtScan.Text())
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", targetPath, n+1, err)
		}
		target = append(target, EOSID)
		for id, b := range buckets {
			if len(source) < b.EncoderSize && len(target) < b.DecoderSize {
				sets[id] = append(sets[id], Example{Source: source, Target: target})
				break
			}
		}
	}
	if err := srcScan.Err(); err != nil {
		return nil, fmt.Errorf("read source ids: %w", err)
	}
	if err := tgtScan.Err(); err != nil {
		return nil, fmt.Errorf("read target ids: %w", err)
	}
	return sets, nil
}

// BucketScale returns the cumulative share of examples up to and including
// each bucket. The last entry is 1 unless every bucket is empty.
func BucketScale(sets [][]Example) []float64 {
	total := 0
	for _, s := range sets {
		total += len(s)
	}
	scale := make([]float64, len(sets))
	if total == 0 {
		return scale
	}
	cum := 0
	for i, s := range sets {
		cum += len(s)
		scale[i] = float64(cum) / float64(total)
	}
	return scale
}

// PickBucket maps r in [0, 1) to the first bucket whose scale exceeds it, so
// buckets are chosen in proportion to their size.
func PickBucket(scale []float64, r float64) int {
	for i, s := range scale {
		if s > r {
			return i
		}
	}
	return len(scale) - 1
}

// Batch is a time-major training batch: EncoderInputs[t][b] is the token fed
// to example b at encoder step t.
type Batch struct {
	EncoderInputs [][]int
	DecoderInputs [][]int
	TargetWeights [][]float32
}

// BatchSize returns the number of examples in the batch.
func (b Batch) BatchSize() int {
	if len(b.EncoderInputs) == 0 {
		return 0
	}
	return len(b.EncoderInputs[0])
}

// Targets returns the id every decoder step should predict: the decoder
// input one step ahead, or PadID after the last step.
func (b Batch) Targets() [][]int {
	targets := make([][]int, len(b.DecoderInputs))
	for t := range b.DecoderInputs {
		targets[t] = make([]int, b.BatchSize())
		if t+1 < len(b.DecoderInputs) {
			copy(targets[t], b.DecoderInputs[t+1])
		}
	}
	return targets
}

// GetBatch samples batchSize examples (with replacement) from data and lays
// them out for the bucket. Encoder inputs are padded then reversed; decoder
// inputs are GoID, the target ids and padding.
func GetBatch(data []Example, bucket Bucket, batchSize int, rng *rand.Rand) Batch {
	examples := make([]Example, batchSize)
	for i := range examples {
		examples[i] = data[rng.Intn(len(data))]
	}
	return makeBatch(examples, bucket)
}

func makeBatch(examples []Example, bucket Bucket) Batch {
	encSize, decSize := bucket.EncoderSize, bucket.DecoderSize
	batchSize := len(examples)

	encRows := make([][]int, batchSize)
	decRows := make([][]int, batchSize)
	for i, ex := range examples {
		enc := padTo(ex.Source, encSize)
		for l, r := 0, len(enc)-1; l < r; l, r = l+1, r-1 {
			enc[l], enc[r] = enc[r], enc[l]
		}
		encRows[i] = enc
		decRows[i] = padTo(append([]int{GoID}, ex.Target...), decSize)
	}

	b := Batch{
		EncoderInputs: make([][]int, encSize),
		DecoderInputs: make([][]int, decSize),
		TargetWeights: make([][]float32, decSize),
	}
	for t := 0; t < encSize; t++ {
		b.EncoderInputs[t] = make([]int, batchSize)
		for i := range examples {
			b.EncoderInputs[t][i] = encRows[i][t]
		}
	}
	for t := 0; t < decSize; t++ {
		b.DecoderInputs[t] = make([]int, batchSize)
		b.TargetWeights[t] = make([]float32, batchSize)
		for i := range examples {
			b.DecoderInputs[t][i] = decRows[i][t]
			if t < decSize-1 && decRows[i][t+1] != PadID {
				b.TargetWeights[t][i] = 1
			}
		}
	}
	return b
}

// padTo copies ids into a slice of length n padded with PadID. Longer
// inputs are cut.
func padTo(ids []int, n int) []int {
	out := make([]int, n)
	copy(out, ids)
	return out
}

// ChooseBucket applies the inference rule: the first bucket whose encoder
// size holds n tokens, else the last bucket, in which case the input must
// be truncated to its encoder size.
func ChooseBucket(buckets []Bucket, n int) (id int, truncate bool) {
	for i, b := range buckets {
		if b.EncoderSize >= n {
			return i, false
		}
	}
	return len(buckets) - 1, true
}

