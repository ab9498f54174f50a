package handlers

import (
	"context"

	"github.com/blip/backend/internal/models"
)

// ConnectionLifecycle captures the friend connection operations exposed over HTTP.
type ConnectionLifecycle interface {
	Request(ctx context.Context, ownerID, peerID string) (models.Connection, error)
	Accept(ctx context.Context, connectionID int64) (models.Connection, error)
	Reject(ctx context.Context, connectionID int64) (models.Connection, error)
	Unfriend(ctx context.Context, connectionID int64) (models.Connection, error)
	ListFriends(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error)
	ListPendingIncoming(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
