// Package app assembles the visit sync components from configuration.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/carevisits/internal/config"
	"example.com/carevisits/internal/domain"
	"example.com/carevisits/internal/offline"
	"example.com/carevisits/internal/persistence/memory"
	persistence "example.com/carevisits/internal/persistence/postgres"
)

// App holds the wired services. Pool is nil when the memory driver is selected.
type App struct {
	Repo    domain.Repository
	Pool    *pgxpool.Pool
	Visits  *domain.Service
	Records *offline.Store
	Engine  *offline.Engine
}

// Open builds the canonical store selected by cfg.StoreDriver and the services on top of it.
func Open(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return New(memory.NewStore(), cfg, logger), nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a := New(persistence.NewRepository(pool), cfg, logger)
		a.Pool = pool
		return a, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// New wires the services over an existing repository.
func New(repo domain.Repository, cfg config.Config, logger *log.Logger) *App {
	visits := domain.NewService(repo, domain.WithSkewTolerance(cfg.ConflictSkewTolerance))
	handlers := offline.NewHandlers(visits, repo)
	return &App{
		Repo:    repo,
		Visits:  visits,
		Records: offline.NewStore(repo, handlers),
		Engine:  offline.NewEngine(repo, handlers, offline.WithLogger(logger)),
	}
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
