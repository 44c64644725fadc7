package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/compare"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

// DefaultFile is read by Load when present in the working directory.
const DefaultFile = "config.yaml"

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// ServerConfig represents HTTP server settings
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StreamBuffer    int           `yaml:"stream_buffer"` // events queued per websocket client
}

// TrainingConfig holds training defaults. Zero values fall back to
// pinn.DefaultTrainConfig, except a loss weight or threshold written as 0 in
// the YAML file, which is kept.
type TrainingConfig struct {
	Epochs            int     `yaml:"epochs"`
	LearningRate      float64 `yaml:"learning_rate"`
	Hidden            []int   `yaml:"hidden"`
	CollocationPoints int     `yaml:"collocation_points"`
	BoundaryPoints    int     `yaml:"boundary_points"`
	TerminalPoints    int     `yaml:"terminal_points"`
	WeightPDE         float64 `yaml:"weight_pde"`
	WeightTerminal    float64 `yaml:"weight_terminal"`
	WeightBoundary    float64 `yaml:"weight_boundary"`
	Threshold         float64 `yaml:"threshold"`
	Seed              int64   `yaml:"seed"`
	SMaxMultiple      float64 `yaml:"s_max_multiple"`
	ResampleEvery     int     `yaml:"resample_every"`
	EmitEvery         int     `yaml:"emit_every"`
	SnapshotEvery     int     `yaml:"snapshot_every"`
	AllowStaleReads   bool    `yaml:"allow_stale_reads"`
}

// CompareConfig holds the default comparison grid, in strike multiples for
// spot and fractions of T for time.
type CompareConfig struct {
	SpotLow    float64 `yaml:"spot_low"`
	SpotHigh   float64 `yaml:"spot_high"`
	SpotPoints int     `yaml:"spot_points"`
	TimePoints int     `yaml:"time_points"`
}

// JournalConfig represents run journal settings
type JournalConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Dir            string `yaml:"dir"`
	FilenameFormat string `yaml:"filename_format"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Training TrainingConfig `yaml:"training"`
	Compare  CompareConfig  `yaml:"compare"`
	Journal  JournalConfig  `yaml:"journal"`
}

// Load builds the configuration from environment defaults overlaid by
// config.yaml when it exists, parses and validates.
func Load() *Config {
	cfg, err := LoadFromFile(DefaultFile)
	if err != nil {
		return defaults()
	}
	return cfg
}

// LoadFromFile is Load with an explicit file. Unlike Load it reports a
// missing, malformed or invalid file.
func LoadFromFile(path string) (*Config, error) {
	cfg := defaults()
	yamlCfg, err := loadYAMLConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.overlay(yamlCfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// validate rejects loss weights that WithDefaults would silently replace.
func (cfg *Config) validate() error {
	t := cfg.Training
	if t.WeightPDE < 0 || t.WeightTerminal < 0 || t.WeightBoundary < 0 {
		return fmt.Errorf("%w: loss weights must be non-negative", blackscholes.ErrInvalidParameter)
	}
	if t.WeightPDE == 0 && t.WeightTerminal == 0 && t.WeightBoundary == 0 {
		return fmt.Errorf("%w: at least one loss weight must be positive", blackscholes.ErrInvalidParameter)
	}
	return nil
}

func defaults() *Config {
	d := pinn.DefaultTrainConfig()
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			StreamBuffer:    getEnvInt("STREAM_BUFFER", 64),
		},
		Logging: LoggingConfig{
			LogLevel: getEnv("LOG_LEVEL", "info"),
			LogFile:  getEnv("LOG_FILE", "pinnbs.log"),
		},
		Training: TrainingConfig{
			Epochs:            getEnvInt("TRAIN_EPOCHS", d.Epochs),
			LearningRate:      getEnvFloat("TRAIN_LEARNING_RATE", d.LearningRate),
			Hidden:            getEnvIntSlice("TRAIN_HIDDEN", d.Hidden),
			CollocationPoints: getEnvInt("TRAIN_COLLOCATION_POINTS", d.CollocationPoints),
			BoundaryPoints:    getEnvInt("TRAIN_BOUNDARY_POINTS", d.BoundaryPoints),
			TerminalPoints:    getEnvInt("TRAIN_TERMINAL_POINTS", d.TerminalPoints),
			WeightPDE:         getEnvFloat("TRAIN_WEIGHT_PDE", d.Weights.PDE),
			WeightTerminal:    getEnvFloat("TRAIN_WEIGHT_TERMINAL", d.Weights.Terminal),
			WeightBoundary:    getEnvFloat("TRAIN_WEIGHT_BOUNDARY", d.Weights.Boundary),
			Threshold:         getEnvFloat("TRAIN_THRESHOLD", 0),
			Seed:              int64(getEnvInt("TRAIN_SEED", int(d.Seed))),
			SMaxMultiple:      getEnvFloat("TRAIN_S_MAX_MULTIPLE", d.SMaxMultiple),
			ResampleEvery:     getEnvInt("TRAIN_RESAMPLE_EVERY", d.ResampleEvery),
			EmitEvery:         getEnvInt("TRAIN_EMIT_EVERY", 10),
			SnapshotEvery:     getEnvInt("TRAIN_SNAPSHOT_EVERY", d.SnapshotEvery),
			AllowStaleReads:   getEnvBool("TRAIN_ALLOW_STALE_READS", false),
		},
		Compare: CompareConfig{
			SpotLow:    getEnvFloat("COMPARE_SPOT_LOW", 0.5),
			SpotHigh:   getEnvFloat("COMPARE_SPOT_HIGH", 1.5),
			SpotPoints: getEnvInt("COMPARE_SPOT_POINTS", 30),
			TimePoints: getEnvInt("COMPARE_TIME_POINTS", 30),
		},
		Journal: JournalConfig{
			Enabled:        getEnvBool("JOURNAL_ENABLED", true),
			Dir:            getEnv("JOURNAL_DIR", "runs"),
			FilenameFormat: getEnv("JOURNAL_FILENAME_FORMAT", "{timestamp}-run{run}-{type}-{state}"),
		},
	}
}

// yamlFile is a parsed config file. explicit holds the training values for
// which 0 is meaningful, so a written 0 can be told from an omitted key.
type yamlFile struct {
	Config
	explicit struct {
		Training struct {
			WeightPDE      *float64 `yaml:"weight_pde"`
			WeightTerminal *float64 `yaml:"weight_terminal"`
			WeightBoundary *float64 `yaml:"weight_boundary"`
			Threshold      *float64 `yaml:"threshold"`
		} `yaml:"training"`
	}
}

// overlay copies every value set in the YAML file over the defaults.
func (cfg *Config) overlay(f *yamlFile) {
	y := &f.Config
	if y.Server.Port != "" {
		cfg.Server.Port = y.Server.Port
	}
	if y.Server.ReadTimeout > 0 {
		cfg.Server.ReadTimeout = y.Server.ReadTimeout
	}
	if y.Server.WriteTimeout > 0 {
		cfg.Server.WriteTimeout = y.Server.WriteTimeout
	}
	if y.Server.ShutdownTimeout > 0 {
		cfg.Server.ShutdownTimeout = y.Server.ShutdownTimeout
	}
	if y.Server.StreamBuffer > 0 {
		cfg.Server.StreamBuffer = y.Server.StreamBuffer
	}

	// Logging configuration from YAML
	if y.Logging.LogLevel != "" {
		cfg.Logging.LogLevel = y.Logging.LogLevel
	}
	if y.Logging.LogFile != "" {
		cfg.Logging.LogFile = y.Logging.LogFile
	}

	t := &cfg.Training
	yt := y.Training
	setInt(&t.Epochs, yt.Epochs)
	setFloat(&t.LearningRate, yt.LearningRate)
	if len(yt.Hidden) > 0 {
		t.Hidden = yt.Hidden
	}
	setInt(&t.CollocationPoints, yt.CollocationPoints)
	setInt(&t.BoundaryPoints, yt.BoundaryPoints)
	setInt(&t.TerminalPoints, yt.TerminalPoints)
	ex := f.explicit.Training
	setExplicit(&t.WeightPDE, ex.WeightPDE)
	setExplicit(&t.WeightTerminal, ex.WeightTerminal)
	setExplicit(&t.WeightBoundary, ex.WeightBoundary)
	setExplicit(&t.Threshold, ex.Threshold)
	if yt.Seed != 0 {
		t.Seed = yt.Seed
	}
	setFloat(&t.SMaxMultiple, yt.SMaxMultiple)
	setInt(&t.ResampleEvery, yt.ResampleEvery)
	setInt(&t.EmitEvery, yt.EmitEvery)
	setInt(&t.SnapshotEvery, yt.SnapshotEvery)
	if yt.AllowStaleReads {
		t.AllowStaleReads = true
	}

	setFloat(&cfg.Compare.SpotLow, y.Compare.SpotLow)
	setFloat(&cfg.Compare.SpotHigh, y.Compare.SpotHigh)
	setInt(&cfg.Compare.SpotPoints, y.Compare.SpotPoints)
	setInt(&cfg.Compare.TimePoints, y.Compare.TimePoints)

	// an explicit journal section decides Enabled
	if y.Journal != (JournalConfig{}) {
		cfg.Journal.Enabled = y.Journal.Enabled
	}
	if y.Journal.Dir != "" {
		cfg.Journal.Dir = y.Journal.Dir
	}
	if y.Journal.FilenameFormat != "" {
		cfg.Journal.FilenameFormat = y.Journal.FilenameFormat
	}
}

// TrainConfig turns the training defaults into a run configuration for c.
func (t TrainingConfig) TrainConfig(c blackscholes.Contract) pinn.TrainConfig {
	return pinn.TrainConfig{
		Contract:          c,
		Epochs:            t.Epochs,
		LearningRate:      t.LearningRate,
		Hidden:            append([]int(nil), t.Hidden...),
		CollocationPoints: t.CollocationPoints,
		BoundaryPoints:    t.BoundaryPoints,
		TerminalPoints:    t.TerminalPoints,
		Weights: pinn.LossWeights{
			PDE:      t.WeightPDE,
			Terminal: t.WeightTerminal,
			Boundary: t.WeightBoundary,
		},
		Threshold:     t.Threshold,
		Seed:          t.Seed,
		SMaxMultiple:  t.SMaxMultiple,
		ResampleEvery: t.ResampleEvery,
		EmitEvery:     t.EmitEvery,
		SnapshotEvery: t.SnapshotEvery,
	}
}

// Grid returns the default comparison spots and times for c.
func (g CompareConfig) Grid(c blackscholes.Contract) (spots, times []float64) {
	spots = compare.Linspace(g.SpotLow*c.Strike, g.SpotHigh*c.Strike, g.SpotPoints)
	times = compare.Linspace(0, c.Expiry, g.TimePoints)
	return spots, times
}

func loadYAMLConfig(path string) (*yamlFile, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f yamlFile
	if err := yaml.Unmarshal(data, &f.Config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f.explicit); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setExplicit(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvIntSlice parses a comma separated list such as "50,50,50".
func getEnvIntSlice(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}

// FormatJournalFilename formats run journal filenames using the configured
// template.
func FormatJournalFilename(format, runID, optionType, state, timestamp string) string {
	result := format
	result = strings.ReplaceAll(result, "{run}", runID)
	result = strings.ReplaceAll(result, "{type}", optionType)
	result = strings.ReplaceAll(result, "{state}", state)
	result = strings.ReplaceAll(result, "{timestamp}", timestamp)
	return result
}
