package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/cuecast/go/internal/cue"
	"github.com/mcdev12/cuecast/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

// setupRepository returns nil when no database is configured.
func setupRepository(ctx context.Context, cfg dbconfig.Config) (*cue.PostgresRepository, error) {
	if !cfg.Enabled() {
		log.Info().Msg("no database configured, cue records live in memory only")
		return nil, nil
	}

	repo, err := cue.NewPostgresRepository(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("database", cfg.Redacted()).Msg("connected to database")
	return repo, nil
}
