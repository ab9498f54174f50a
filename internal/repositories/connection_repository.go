package repositories

import (
	"context"

	"github.com/blip/backend/internal/models"
)

// ConnectionRepository defines data access for the connections table. Lookups
// that find nothing return ErrNotFound.
type ConnectionRepository interface {
	InsertPending(ctx context.Context, ownerID, peerID string) (models.Connection, error)
	// InsertAccepted creates an accepted edge unless one already exists for the
	// ordered pair. The bool reports whether a row was written.
	InsertAccepted(ctx context.Context, ownerID, peerID string) (models.Connection, bool, error)
	// FindEdge returns any edge between the two users, in either direction.
	FindEdge(ctx context.Context, userA, userB string) (models.Connection, error)
	GetByID(ctx context.Context, id int64) (models.Connection, error)
	// LockPair returns the edge with the given id together with its mirror, if
	// any, ordered by id. Inside a transaction both rows stay locked until it
	// ends, taken in id order. A missing edge yields an empty slice.
	LockPair(ctx context.Context, id int64) ([]models.Connection, error)
	UpdateStatus(ctx context.Context, id int64, status models.ConnectionStatus) (models.Connection, error)
	DeleteByID(ctx context.Context, id int64) (models.Connection, error)
	DeleteExact(ctx context.Context, ownerID, peerID string) (models.Connection, error)
	ListAccepted(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error)
	ListIncomingPending(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error)
}

// ConnectionStore is a ConnectionRepository that can scope several operations
// in one transaction. WithinTx commits when fn returns nil and rolls back
// otherwise, returning fn's error unchanged.
type ConnectionStore interface {
	ConnectionRepository
	WithinTx(ctx context.Context, fn func(repo ConnectionRepository) error) error
}
