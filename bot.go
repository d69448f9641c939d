package main

import (
	"fmt"
	"io"
	"math/rand"

	"go.uber.org/zap"
)

// Decoder turns encoder token ids into decoder token ids.
type Decoder interface {
	Buckets() []Bucket
	DecodeWith(tokenIDs []int, bucketID int, pick Picker) ([]int, error)
}

// Reply is the bot's answer to one sentence.
type Reply struct {
	Answer    string
	Bucket    int
	Truncated bool
}

// Bot answers sentences with a trained model.
type Bot struct {
	decoder         Decoder
	from            *Vocabulary
	to              *Vocabulary
	normalizeDigits bool
	pick            Picker
	logger          *zap.Logger
}

// BotOption customises a Bot.
type BotOption func(*Bot)

// WithSampling makes the bot sample replies instead of decoding greedily.
func WithSampling(opts SamplingOptions, seed int64) BotOption {
	return func(b *Bot) {
		b.pick = NewPicker(opts, rand.New(rand.NewSource(seedOrNow(seed))))
	}
}

// NewBot loads the latest checkpoint from train_dir and both vocabularies.
func NewBot(cfg *Config, logger *zap.Logger, opts ...BotOption) (*Bot, error) {
	logger = orNop(logger)
	path, err := LatestCheckpoint(cfg.Paths.TrainDir)
	if err != nil {
		return nil, err
	}
	modelOpts := ModelOptionsFromConfig(cfg)
	modelOpts.BatchSize = 1
	model, err := LoadCheckpoint(path, modelOpts)
	if err != nil {
		return nil, err
	}
	fields := []zap.Field{zap.String("checkpoint", path), zap.Int("global_step", model.GlobalStep())}
	if manifest, err := ReadManifest(path); err == nil {
		fields = append(fields, zap.Time("saved_at", manifest.SavedAt))
	}
	logger.Info("loaded model", fields...)

	fromPath, toPath := cfg.VocabPaths()
	from, err := InitializeVocabulary(fromPath)
	if err != nil {
		model.Close()
		return nil, err
	}
	to, err := InitializeVocabulary(toPath)
	if err != nil {
		model.Close()
		return nil, err
	}
	return newBot(model, from, to, cfg.Model.NormalizeDigits, logger, opts...), nil
}

func newBot(decoder Decoder, from, to *Vocabulary, normalizeDigits bool, logger *zap.Logger, opts ...BotOption) *Bot {
	b := &Bot{
		decoder:         decoder,
		from:            from,
		to:              to,
		normalizeDigits: normalizeDigits,
		pick:            Greedy,
		logger:          orNop(logger),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Respond tokenizes sentence, decodes a reply in the smallest bucket that
// holds it and returns the words up to the first _EOS. Sentences longer
// than the largest bucket are truncated to fit it.
func (b *Bot) Respond(sentence string) (Reply, error) {
	ids := SentenceToTokenIDs(sentence, b.from, b.normalizeDigits)
	buckets := b.decoder.Buckets()
	bucketID, truncate := ChooseBucket(buckets, len(ids))
	if truncate {
		limit := buckets[bucketID].EncoderSize
		b.logger.Warn("sentence truncated",
			zap.Int("tokens", len(ids)), zap.Int("limit", limit))
		ids = ids[:limit]
	}

	outputs, err := b.decoder.DecodeWith(ids, bucketID, b.pick)
	if err != nil {
		return Reply{}, fmt.Errorf("decode: %w", err)
	}
	for i, id := range outputs {
		if id == EOSID {
			outputs = outputs[:i]
			break
		}
	}
	return Reply{
		Answer:    b.to.Decode(outputs),
		Bucket:    bucketID,
		Truncated: truncate,
	}, nil
}

// Close releases the model.
func (b *Bot) Close() error {
	if c, ok := b.decoder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
