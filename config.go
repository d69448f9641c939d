package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultDataDir                 = "data"
	defaultTrainDir                = "checkpoints"
	defaultVocabSize               = 55000
	defaultSize                    = 1024
	defaultNumLayers               = 3
	defaultMaxGradientNorm         = 5.0
	defaultBatchSize               = 64
	defaultLearningRate            = 0.5
	defaultLearningRateDecayFactor = 0.99
	defaultStepsPerCheckpoint      = 200
	defaultDevFraction             = 0.1
	defaultKeepCheckpoints         = 5
	defaultServerBind              = "127.0.0.1:5000"
	defaultLogLevel                = "info"
	defaultLogFormat               = "console"
	defaultConfigPath              = "~/.config/emdbot/config.toml"
	projectConfigName              = "emdbot.toml"
)

// Buckets were picked by hand after looking at the length distribution of
// the prepared dialogue pairs.
var defaultBuckets = [][]int{{7, 8}, {16, 16}, {25, 24}, {46, 50}}

// Paths holds the data, checkpoint and corpus locations.
type Paths struct {
	DataDir         string `toml:"data_dir"`
	TrainDir        string `toml:"train_dir"`
	CEDDir          string `toml:"ced_dir"`
	CEDXMLDir       string `toml:"ced_xml_dir"`
	ShakespeareFile string `toml:"shakespeare_file"`
}

// Model holds the network hyper-parameters. Changing any of them invalidates
// existing checkpoints.
type Model struct {
	VocabSize       int     `toml:"vocab_size"`
	Size            int     `toml:"size"`
	NumLayers       int     `toml:"num_layers"`
	Buckets         [][]int `toml:"buckets"`
	NormalizeDigits bool    `toml:"normalize_digits"`
}

// Training holds optimiser and loop settings.
type Training struct {
	MaxGradientNorm         float64 `toml:"max_gradient_norm"`
	BatchSize               int     `toml:"batch_size"`
	LearningRate            float64 `toml:"learning_rate"`
	LearningRateDecayFactor float64 `toml:"learning_rate_decay_factor"`
	StepsPerCheckpoint      int     `toml:"steps_per_checkpoint"`
	MaxTrainDataSize        int     `toml:"max_train_data_size"`
	MaxSteps                int     `toml:"max_steps"`
	DevFraction             float64 `toml:"dev_fraction"`
	KeepCheckpoints         int     `toml:"keep_checkpoints"`
	Seed                    int64   `toml:"seed"`
}

// Server holds the web chat settings.
type Server struct {
	Bind      string `toml:"bind"`
	AllowQuit bool   `toml:"allow_quit"`
}

// History holds the conversation log settings.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging holds log output settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full application configuration.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Model    Model    `toml:"model"`
	Training Training `toml:"training"`
	Server   Server   `toml:"server"`
	History  History  `toml:"history"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfig returns a Config populated with the repository defaults.
func DefaultConfig() Config {
	buckets := make([][]int, len(defaultBuckets))
	for i, b := range defaultBuckets {
		buckets[i] = []int{b[0], b[1]}
	}
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			TrainDir: defaultTrainDir,
		},
		Model: Model{
			VocabSize:       defaultVocabSize,
			Size:            defaultSize,
			NumLayers:       defaultNumLayers,
			Buckets:         buckets,
			NormalizeDigits: true,
		},
		Training: Training{
			MaxGradientNorm:         defaultMaxGradientNorm,
			BatchSize:               defaultBatchSize,
			LearningRate:            defaultLearningRate,
			LearningRateDecayFactor: defaultLearningRateDecayFactor,
			StepsPerCheckpoint:      defaultStepsPerCheckpoint,
			DevFraction:             defaultDevFraction,
			KeepCheckpoints:         defaultKeepCheckpoints,
		},
		Server: Server{
			Bind: defaultServerBind,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// LoadConfig locates and parses a configuration file, applies environment
// overrides, then normalizes and validates the result. It returns the
// resolved file path and whether that file existed.
func LoadConfig(path string) (*Config, string, bool, error) {
	cfg := DefaultConfig()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	userPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(userPath); err == nil && !info.IsDir() {
		return userPath, true, nil
	}
	return userPath, false, nil
}

// applyEnv honours the environment variables the bot has always read.
func (c *Config) applyEnv() error {
	if v, ok := lookupEnv("DATA_DIR"); ok {
		c.Paths.DataDir = v
	}
	if v, ok := lookupEnv("TRAIN_DIR"); ok {
		c.Paths.TrainDir = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"VOCAB_SIZE", &c.Model.VocabSize},
		{"SIZE", &c.Model.Size},
		{"NUM_LAYERS", &c.Model.NumLayers},
		{"BATCH_SIZE", &c.Training.BatchSize},
	}
	for _, e := range ints {
		v, ok := lookupEnv(e.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", e.name, err)
		}
		*e.dst = n
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"MAX_GRADIENT_NORM", &c.Training.MaxGradientNorm},
		{"LEARNING_RATE", &c.Training.LearningRate},
		{"LEARNING_RATE_DECAY_FACTOR", &c.Training.LearningRateDecayFactor},
	}
	for _, e := range floats {
		v, ok := lookupEnv(e.name)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("env %s: %w", e.name, err)
		}
		*e.dst = f
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (c *Config) normalize() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TrainDir) == "" {
		c.Paths.TrainDir = defaultTrainDir
	}
	if c.Paths.TrainDir, err = expandPath(c.Paths.TrainDir); err != nil {
		return fmt.Errorf("paths.train_dir: %w", err)
	}
	if c.Paths.CEDDir, err = c.dataPath(c.Paths.CEDDir, "CEDPlain"); err != nil {
		return fmt.Errorf("paths.ced_dir: %w", err)
	}
	if c.Paths.ShakespeareFile, err = c.dataPath(c.Paths.ShakespeareFile, "shakespeare.txt"); err != nil {
		return fmt.Errorf("paths.shakespeare_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.CEDXMLDir) != "" {
		if c.Paths.CEDXMLDir, err = c.dataPath(c.Paths.CEDXMLDir, ""); err != nil {
			return fmt.Errorf("paths.ced_xml_dir: %w", err)
		}
	}
	if c.History.Path, err = c.dataPath(c.History.Path, "history.db"); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}

	if len(c.Model.Buckets) == 0 {
		c.Model.Buckets = DefaultConfig().Model.Buckets
	}
	if c.Training.KeepCheckpoints <= 0 {
		c.Training.KeepCheckpoints = defaultKeepCheckpoints
	}

	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	return nil
}

// dataPath resolves a corpus-side path: empty values fall back to name under
// data_dir and relative values are taken relative to data_dir.
func (c *Config) dataPath(value, name string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = filepath.Join(c.Paths.DataDir, name)
	} else if !strings.HasPrefix(value, "~") && !filepath.IsAbs(value) {
		value = filepath.Join(c.Paths.DataDir, value)
	}
	return expandPath(value)
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Model.VocabSize <= len(startVocab) {
		return fmt.Errorf("model.vocab_size must exceed %d", len(startVocab))
	}
	if c.Model.Size <= 0 {
		return errors.New("model.size must be positive")
	}
	if c.Model.NumLayers <= 0 {
		return errors.New("model.num_layers must be positive")
	}
	if _, err := parseBuckets(c.Model.Buckets); err != nil {
		return fmt.Errorf("model.buckets: %w", err)
	}
	if c.Training.BatchSize <= 0 {
		return errors.New("training.batch_size must be positive")
	}
	if c.Training.LearningRate <= 0 {
		return errors.New("training.learning_rate must be positive")
	}
	if c.Training.LearningRateDecayFactor <= 0 || c.Training.LearningRateDecayFactor > 1 {
		return errors.New("training.learning_rate_decay_factor must be in (0, 1]")
	}
	if c.Training.MaxGradientNorm <= 0 {
		return errors.New("training.max_gradient_norm must be positive")
	}
	if c.Training.StepsPerCheckpoint <= 0 {
		return errors.New("training.steps_per_checkpoint must be positive")
	}
	if c.Training.DevFraction < 0 || c.Training.DevFraction >= 1 {
		return errors.New("training.dev_fraction must be in [0, 1)")
	}
	if c.Training.MaxTrainDataSize < 0 || c.Training.MaxSteps < 0 {
		return errors.New("training limits must not be negative")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

// Buckets returns the validated bucket list.
func (c *Config) Buckets() []Bucket {
	buckets, _ := parseBuckets(c.Model.Buckets)
	return buckets
}

// VocabPaths returns the source and target vocabulary file locations.
func (c *Config) VocabPaths() (from, to string) {
	from = filepath.Join(c.Paths.DataDir, fmt.Sprintf("vocab%d.from", c.Model.VocabSize))
	to = filepath.Join(c.Paths.DataDir, fmt.Sprintf("vocab%d.to", c.Model.VocabSize))
	return from, to
}

// EnsureDirectories creates the data and checkpoint directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.TrainDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(value string) (string, error) {
	if value == "" {
		return value, nil
	}
	if strings.HasPrefix(value, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if value == "~" {
			value = home
		} else if len(value) > 1 && (value[1] == '/' || value[1] == '\\') {
			value = filepath.Join(home, value[2:])
		}
	}
	cleaned := filepath.Clean(value)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
