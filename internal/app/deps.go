package app

import (
	"github.com/blip/backend/internal/connections"
	"github.com/blip/backend/internal/db"
	"github.com/blip/backend/internal/handlers"
	"github.com/blip/backend/internal/repositories"
)

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(pool db.Pool) handlers.Dependencies {
	store := repositories.NewPostgresConnectionRepository(pool)
	users := repositories.NewPostgresUserRepository(pool)

	return handlers.Dependencies{
		Connections: connections.NewService(store, users),
		Database:    pool,
	}
}
