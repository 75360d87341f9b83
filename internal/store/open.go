package store

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"wmsdispatch/internal/config"
)

// Open returns the store selected by cfg: Postgres when DATABASE_URL is set,
// otherwise an in-memory store. The returned close func is never nil.
func Open(ctx context.Context, cfg config.Config) (Store, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Info().Msg("DATABASE_URL not set, using in-memory store")
		return NewMemory(), func() {}, nil
	}
	masked := config.MaskDatabaseURL(cfg.DatabaseURL)
	if cfg.DBMigrate {
		if err := Migrate(cfg.MigrationURL, cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		log.Info().Str("database", masked).Str("source", cfg.MigrationURL).Msg("db migrated successfully")
	}
	pg, err := NewPostgres(ctx, cfg.DatabaseURL, PoolConfig{
		MaxConns:       int(cfg.DBMaxConnections),
		MinConns:       int(cfg.DBMinConnections),
		ConnectTimeout: cfg.DBConnectionTimeout,
		IdleTimeout:    cfg.DBIdleTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("database", masked).
		Int32("max_conns", cfg.DBMaxConnections).
		Int32("min_conns", cfg.DBMinConnections).
		Msg("database connection pool configured")
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Warn().Err(err).Msg("close database pool")
		}
	}, nil
}
