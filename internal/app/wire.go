package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/cleansight/analytics/internal/config"
	"github.com/cleansight/analytics/internal/fingerprint"
	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/ingest"
	"github.com/cleansight/analytics/internal/logging"
	"github.com/cleansight/analytics/internal/narrative"
	"github.com/cleansight/analytics/internal/vectordb"
	"github.com/cleansight/analytics/internal/view"
)

// deps holds the external collaborators built from config. Any of them may
// be nil when disabled.
type deps struct {
	store    index.Store
	index    *index.Client
	provider narrative.Provider
	outcomes *logging.OutcomeLog
	closers  []func() error
}

// Close releases everything in reverse construction order.
func (d *deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func buildDeps(ctx context.Context, c *config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{}
	if err := d.buildIndex(ctx, c.Index, logger); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.buildProvider(ctx, c.Narrative, logger); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.buildOutcomeLog(c.Logging.OutcomeDB); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *deps) buildIndex(ctx context.Context, c config.Index, logger *zap.Logger) error {
	switch c.Backend {
	case config.BackendLocal:
		if err := ensureDir(c.SQLitePath); err != nil {
			return err
		}
		store, err := index.NewLocalStore(c.SQLitePath)
		if err != nil {
			return fmt.Errorf("open local index: %w", err)
		}
		d.store = store
		d.closers = append(d.closers, store.Close)
	case config.BackendVDSS:
		client, err := vectordb.NewClient(c.Address, c.Collection)
		if err != nil {
			return fmt.Errorf("connect vdss: %w", err)
		}
		d.closers = append(d.closers, client.Close)
		// An unreachable index degrades refinement; startup continues.
		ectx, cancel := context.WithTimeout(ctx, c.Timeout)
		err = client.EnsureCollection(ectx, fingerprint.Dimension)
		cancel()
		if err != nil {
			logger.Warn("similarity index unavailable at startup",
				zap.String("address", c.Address), zap.Error(err))
		}
		d.store = index.NewVDSSStore(client)
	case config.BackendNone:
		return nil
	}
	d.index = index.NewClient(d.store, index.Options{Timeout: c.Timeout, MinScore: c.MinScore}, logger)
	return nil
}

func (d *deps) buildProvider(ctx context.Context, c config.Narrative, logger *zap.Logger) error {
	switch c.Provider {
	case config.ProviderLine:
		d.provider = narrative.NewLineProvider(narrative.LineConfig{
			URL:       c.URL,
			HealthURL: c.HealthURL,
			APIKey:    c.APIKey,
			Model:     c.Model,
		}, &http.Client{}, logger)
	case config.ProviderGemini:
		p, err := narrative.NewGeminiProvider(ctx, narrative.GeminiConfig{
			APIKey:  c.APIKey,
			Model:   c.Model,
			BaseURL: c.BaseURL,
		})
		if err != nil {
			return err
		}
		d.provider = p
	}
	return nil
}

func (d *deps) buildOutcomeLog(path string) error {
	if path == "" {
		return nil
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open outcome log: %w", err)
	}
	db.SetMaxOpenConns(1)
	d.closers = append(d.closers, db.Close)
	log, err := logging.NewOutcomeLog(db)
	if err != nil {
		return err
	}
	d.outcomes = log
	return nil
}

// orchestrator builds the ingest pipeline over d.
func (d *deps) orchestrator(c *config.Config, logger *zap.Logger) *ingest.Orchestrator {
	streamer := narrative.NewStreamer(d.provider, c.StreamOptions(), logger)
	return ingest.New(view.NewHub(), d.index, streamer, d.outcomes, ingest.Options{
		Analysis:      c.AnalysisOptions(),
		SimilarK:      c.Index.TopK,
		Salt:          c.Privacy.Salt,
		HealthTimeout: c.Narrative.HealthTimeout,
	}, logger)
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	return nil
}
