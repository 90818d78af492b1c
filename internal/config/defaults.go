// Package config provides configuration loading and defaults for cleansight.
package config

import "time"

// DefaultConfigDir is the default location for cleansight configuration
// and local databases.
const DefaultConfigDir = "~/.config/cleansight"

// DefaultConfigName is the YAML config file name without extension.
const DefaultConfigName = "config"

// EnvPrefix prefixes environment overrides, e.g. CLEANSIGHT_INDEX_BACKEND.
const EnvPrefix = "CLEANSIGHT"

// DefaultServer holds the default HTTP listener settings.
var DefaultServer = Server{
	Addr:              ":8080",
	ReadHeaderTimeout: 5 * time.Second,
	ReadTimeout:       15 * time.Second,
	IdleTimeout:       60 * time.Second,
	ShutdownTimeout:   10 * time.Second,
}

// DefaultAnalysis holds the default scoring weights and thresholds.
var DefaultAnalysis = Analysis{
	Weights: Weights{
		Coverage:   0.5,
		HighTouch:  0.3,
		Uniformity: 0.2,
	},
	OverwipeThreshold:    3,
	OverwipePenalty:      20,
	MissedCellLimit:      15,
	MissedHighTouchBelow: 70,
	OverwipingAbove:      0.10,
	RushedUnder:          30 * time.Second,
	RushedCoverageBelow:  70,
}

// DefaultIndex holds the default similarity index settings.
var DefaultIndex = Index{
	Backend:    BackendLocal,
	Address:    "localhost:50051",
	Collection: "cleansight_sessions",
	SQLitePath: DefaultConfigDir + "/index.db",
	Timeout:    8 * time.Second,
	TopK:       3,
	MinScore:   0,
}

// DefaultNarrative holds the default narrative provider settings.
var DefaultNarrative = Narrative{
	Provider:         ProviderNone,
	Model:            "gemini-2.5-flash",
	ChunkTimeout:     10 * time.Second,
	OverallCap:       60 * time.Second,
	FallbackInterval: 560 * time.Millisecond,
	HealthTimeout:    8 * time.Second,
}

// DefaultLogging holds the default logger settings.
var DefaultLogging = Logging{
	Level:     "info",
	Format:    "json",
	OutcomeDB: DefaultConfigDir + "/outcomes.db",
}
