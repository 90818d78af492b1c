package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/narrative"
)

// Index backends.
const (
	BackendLocal = "local"
	BackendVDSS  = "vdss"
	BackendNone  = "none"
)

// Narrative providers.
const (
	ProviderLine   = "line"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// Config is the top-level cleansight configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Analysis  Analysis  `mapstructure:"analysis"`
	Index     Index     `mapstructure:"index"`
	Narrative Narrative `mapstructure:"narrative"`
	Logging   Logging   `mapstructure:"logging"`
	Privacy   Privacy   `mapstructure:"privacy"`
}

// Server defines the HTTP listener.
type Server struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Weights defines the quality score weights.
type Weights struct {
	Coverage   float64 `mapstructure:"coverage"`
	HighTouch  float64 `mapstructure:"high_touch"`
	Uniformity float64 `mapstructure:"uniformity"`
}

// Analysis defines analyzer thresholds.
type Analysis struct {
	Weights              Weights       `mapstructure:"weights"`
	OverwipeThreshold    int           `mapstructure:"overwipe_threshold"`
	OverwipePenalty      float64       `mapstructure:"overwipe_penalty"`
	MissedCellLimit      int           `mapstructure:"missed_cell_limit"`
	MissedHighTouchBelow float64       `mapstructure:"missed_high_touch_below"`
	OverwipingAbove      float64       `mapstructure:"overwiping_above"`
	RushedUnder          time.Duration `mapstructure:"rushed_under"`
	RushedCoverageBelow  float64       `mapstructure:"rushed_coverage_below"`
}

// Index defines the similarity index backend.
type Index struct {
	Backend    string        `mapstructure:"backend"`
	Address    string        `mapstructure:"address"`
	Collection string        `mapstructure:"collection"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TopK       int           `mapstructure:"top_k"`
	MinScore   float64       `mapstructure:"min_score"`
}

// Narrative defines the narrative provider and streaming bounds.
type Narrative struct {
	Provider         string        `mapstructure:"provider"`
	URL              string        `mapstructure:"url"`
	HealthURL        string        `mapstructure:"health_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	BaseURL          string        `mapstructure:"base_url"`
	ChunkTimeout     time.Duration `mapstructure:"chunk_timeout"`
	OverallCap       time.Duration `mapstructure:"overall_cap"`
	FallbackInterval time.Duration `mapstructure:"fallback_interval"`
	HealthTimeout    time.Duration `mapstructure:"health_timeout"`
}

// Logging defines the logger and the refinement outcome database. An empty
// OutcomeDB disables the outcome log.
type Logging struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	OutcomeDB string `mapstructure:"outcome_db"`
}

// Privacy holds the cleaner id pseudonymization salt.
type Privacy struct {
	Salt string `mapstructure:"salt"`
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads configuration from the given path (or the default location),
// applies CLEANSIGHT_* environment overrides and returns a validated Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(expandPath(cfgFile))
	} else {
		v.AddConfigPath(expandPath(DefaultConfigDir))
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
	}

	// Read config file if it exists; missing file is not an error.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Index.SQLitePath = expandPath(cfg.Index.SQLitePath)
	cfg.Logging.OutcomeDB = expandPath(cfg.Logging.OutcomeDB)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultServer.Addr)
	v.SetDefault("server.read_header_timeout", DefaultServer.ReadHeaderTimeout)
	v.SetDefault("server.read_timeout", DefaultServer.ReadTimeout)
	v.SetDefault("server.idle_timeout", DefaultServer.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultServer.ShutdownTimeout)

	v.SetDefault("analysis.weights.coverage", DefaultAnalysis.Weights.Coverage)
	v.SetDefault("analysis.weights.high_touch", DefaultAnalysis.Weights.HighTouch)
	v.SetDefault("analysis.weights.uniformity", DefaultAnalysis.Weights.Uniformity)
	v.SetDefault("analysis.overwipe_threshold", DefaultAnalysis.OverwipeThreshold)
	v.SetDefault("analysis.overwipe_penalty", DefaultAnalysis.OverwipePenalty)
	v.SetDefault("analysis.missed_cell_limit", DefaultAnalysis.MissedCellLimit)
	v.SetDefault("analysis.missed_high_touch_below", DefaultAnalysis.MissedHighTouchBelow)
	v.SetDefault("analysis.overwiping_above", DefaultAnalysis.OverwipingAbove)
	v.SetDefault("analysis.rushed_under", DefaultAnalysis.RushedUnder)
	v.SetDefault("analysis.rushed_coverage_below", DefaultAnalysis.RushedCoverageBelow)

	v.SetDefault("index.backend", DefaultIndex.Backend)
	v.SetDefault("index.address", DefaultIndex.Address)
	v.SetDefault("index.collection", DefaultIndex.Collection)
	v.SetDefault("index.sqlite_path", DefaultIndex.SQLitePath)
	v.SetDefault("index.timeout", DefaultIndex.Timeout)
	v.SetDefault("index.top_k", DefaultIndex.TopK)
	v.SetDefault("index.min_score", DefaultIndex.MinScore)

	v.SetDefault("narrative.provider", DefaultNarrative.Provider)
	v.SetDefault("narrative.url", DefaultNarrative.URL)
	v.SetDefault("narrative.health_url", DefaultNarrative.HealthURL)
	v.SetDefault("narrative.api_key", DefaultNarrative.APIKey)
	v.SetDefault("narrative.model", DefaultNarrative.Model)
	v.SetDefault("narrative.base_url", DefaultNarrative.BaseURL)
	v.SetDefault("narrative.chunk_timeout", DefaultNarrative.ChunkTimeout)
	v.SetDefault("narrative.overall_cap", DefaultNarrative.OverallCap)
	v.SetDefault("narrative.fallback_interval", DefaultNarrative.FallbackInterval)
	v.SetDefault("narrative.health_timeout", DefaultNarrative.HealthTimeout)

	v.SetDefault("logging.level", DefaultLogging.Level)
	v.SetDefault("logging.format", DefaultLogging.Format)
	v.SetDefault("logging.outcome_db", DefaultLogging.OutcomeDB)

	v.SetDefault("privacy.salt", "")
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case BackendLocal, BackendVDSS, BackendNone:
	default:
		return fmt.Errorf("index.backend %q: want local, vdss or none", c.Index.Backend)
	}
	switch c.Narrative.Provider {
	case ProviderLine:
		if c.Narrative.URL == "" {
			return errors.New("narrative.url is required for the line provider")
		}
	case ProviderGemini:
		if c.Narrative.APIKey == "" {
			return errors.New("narrative.api_key is required for the gemini provider")
		}
	case ProviderNone:
	default:
		return fmt.Errorf("narrative.provider %q: want line, gemini or none", c.Narrative.Provider)
	}
	w := c.Analysis.Weights
	if w.Coverage < 0 || w.HighTouch < 0 || w.Uniformity < 0 {
		return errors.New("analysis.weights must not be negative")
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("index.top_k must be positive, got %d", c.Index.TopK)
	}
	return nil
}

// AnalysisOptions converts the analysis section for the analyzer.
func (c *Config) AnalysisOptions() analysis.Options {
	a := c.Analysis
	return analysis.Options{
		OverwipeThreshold: a.OverwipeThreshold,
		Weights: analysis.Weights{
			Coverage:   a.Weights.Coverage,
			HighTouch:  a.Weights.HighTouch,
			Uniformity: a.Weights.Uniformity,
		},
		OverwipePenalty:      a.OverwipePenalty,
		MissedCellLimit:      a.MissedCellLimit,
		MissedHighTouchBelow: a.MissedHighTouchBelow,
		OverwipingAbove:      a.OverwipingAbove,
		RushedUnder:          a.RushedUnder,
		RushedCoverageBelow:  a.RushedCoverageBelow,
	}
}

// StreamOptions converts the narrative section for the streamer.
func (c *Config) StreamOptions() narrative.Options {
	return narrative.Options{
		ChunkTimeout:     c.Narrative.ChunkTimeout,
		OverallCap:       c.Narrative.OverallCap,
		FallbackInterval: c.Narrative.FallbackInterval,
	}
}

// ConfigDir returns the expanded configuration directory.
func ConfigDir() string {
	return expandPath(DefaultConfigDir)
}
