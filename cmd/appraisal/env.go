package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/reference"
)

// env is what every subcommand needs: configuration, a logger on stderr so
// stdout stays machine-readable, the database pool and the lookup tables.
type env struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *database.Database
	tables *reference.Tables
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewWithWriter(cfg.Server.Env, os.Stderr)

	tables, err := reference.Load(cfg.Reference.TablesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference tables: %w", err)
	}

	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &env{cfg: cfg, log: log, db: db, tables: tables}, nil
}

func (e *env) Close() {
	e.db.Close()
}

// withDeadline bounds ctx by the --timeout flag, or by fallback when the flag
// is unset.
func withDeadline(ctx context.Context, flag, fallback time.Duration) (context.Context, context.CancelFunc) {
	d := flag
	if d <= 0 {
		d = fallback
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
