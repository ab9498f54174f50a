// Package connections implements the friend connection lifecycle: requests,
// acceptance into a symmetric pair of edges, rejection, and removal.
package connections

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/blip/backend/internal/logging"
	"github.com/blip/backend/internal/models"
	"github.com/blip/backend/internal/repositories"
)

// Service drives connection state transitions on top of a ConnectionStore.
// Each write runs in one store transaction; the store's constraints reject the
// loser of concurrent requests between the same two users.
type Service struct {
	store repositories.ConnectionStore
	users repositories.UserRepository
}

// NewService constructs a Service backed by store. users is consulted only to
// name the missing user when a request references one.
func NewService(store repositories.ConnectionStore, users repositories.UserRepository) *Service {
	if store == nil || users == nil {
		panic("connections: store and users must not be nil")
	}
	return &Service{store: store, users: users}
}

// Request creates a pending edge from owner to peer. It fails with
// ErrDuplicateRelationship when any edge already links the two users.
func (s *Service) Request(ctx context.Context, ownerID, peerID string) (_ models.Connection, err error) {
	ctx, span := logging.StartSpan(ctx, "connections.request")
	defer func() { span.End(err) }()

	owner, err := normalizeUserID(ownerID)
	if err != nil {
		return models.Connection{}, err
	}
	peer, err := normalizeUserID(peerID)
	if err != nil {
		return models.Connection{}, err
	}
	if owner == peer {
		return models.Connection{}, fmt.Errorf("%w: cannot connect a user to themselves", ErrInvalidInput)
	}

	var created models.Connection
	err = s.inTx(ctx, func(repo repositories.ConnectionRepository) error {
		existing, err := repo.FindEdge(ctx, owner, peer)
		switch {
		case err == nil:
			return fmt.Errorf("%w: connection %d is %s", ErrDuplicateRelationship, existing.ID, existing.Status)
		case !errors.Is(err, repositories.ErrNotFound):
			return err
		}

		created, err = repo.InsertPending(ctx, owner, peer)
		switch {
		case errors.Is(err, repositories.ErrConflict):
			return fmt.Errorf("%w: %w", ErrDuplicateRelationship, err)
		case errors.Is(err, repositories.ErrNotFound):
			return fmt.Errorf("%w: %w", ErrUserNotFound, err)
		}
		return err
	})
	if errors.Is(err, ErrUserNotFound) {
		return models.Connection{}, s.missingUser(ctx, err, owner, peer)
	}
	if err != nil {
		return models.Connection{}, err
	}

	logging.FromContext(ctx).Info("connection requested", "connectionId", created.ID, "ownerId", owner, "peerId", peer)
	return created, nil
}

// Accept turns a pending edge into an accepted one and creates its mirror.
// Accepting a connection that is missing or no longer pending fails with
// ErrNotFound and leaves the store untouched.
func (s *Service) Accept(ctx context.Context, connectionID int64) (_ models.Connection, err error) {
	ctx, span := logging.StartSpan(ctx, "connections.accept")
	defer func() { span.End(err) }()

	if err = validateConnectionID(connectionID); err != nil {
		return models.Connection{}, err
	}

	var (
		accepted      models.Connection
		mirrorCreated bool
	)
	err = s.inTx(ctx, func(repo repositories.ConnectionRepository) error {
		conn, err := pendingByID(ctx, repo, connectionID)
		if err != nil {
			return err
		}

		accepted, err = repo.UpdateStatus(ctx, conn.ID, models.ConnectionAccepted)
		if err != nil {
			return err
		}

		// A mirror inserted concurrently is kept as is.
		_, mirrorCreated, err = repo.InsertAccepted(ctx, conn.PeerID, conn.OwnerID)
		return err
	})
	if err != nil {
		return models.Connection{}, err
	}

	logging.FromContext(ctx).Info("connection accepted", "connectionId", accepted.ID, "mirrorCreated", mirrorCreated)
	return accepted, nil
}

// Reject deletes a pending edge.
func (s *Service) Reject(ctx context.Context, connectionID int64) (_ models.Connection, err error) {
	ctx, span := logging.StartSpan(ctx, "connections.reject")
	defer func() { span.End(err) }()

	if err = validateConnectionID(connectionID); err != nil {
		return models.Connection{}, err
	}

	var rejected models.Connection
	err = s.inTx(ctx, func(repo repositories.ConnectionRepository) error {
		conn, err := pendingByID(ctx, repo, connectionID)
		if err != nil {
			return err
		}
		rejected, err = repo.DeleteByID(ctx, conn.ID)
		return err
	})
	if err != nil {
		return models.Connection{}, err
	}

	logging.FromContext(ctx).Info("connection rejected", "connectionId", rejected.ID)
	return rejected, nil
}

// Unfriend deletes the edge and its mirror, whatever their status. It returns
// the edge identified by connectionID as it was before deletion.
func (s *Service) Unfriend(ctx context.Context, connectionID int64) (_ models.Connection, err error) {
	ctx, span := logging.StartSpan(ctx, "connections.unfriend")
	defer func() { span.End(err) }()

	if err = validateConnectionID(connectionID); err != nil {
		return models.Connection{}, err
	}

	var (
		removed       models.Connection
		mirrorRemoved bool
	)
	err = s.inTx(ctx, func(repo repositories.ConnectionRepository) error {
		// Both directions are locked in id order before either is deleted, so
		// opposite unfriends on one pair queue instead of deadlocking.
		pair, err := repo.LockPair(ctx, connectionID)
		if err != nil {
			return err
		}
		conn, ok := findByID(pair, connectionID)
		if !ok {
			return fmt.Errorf("%w: connection %d", ErrNotFound, connectionID)
		}
		removed = conn

		if _, err := repo.DeleteByID(ctx, conn.ID); err != nil {
			return err
		}

		// The mirror may have been committed after the pair was read.
		_, err = repo.DeleteExact(ctx, conn.PeerID, conn.OwnerID)
		switch {
		case err == nil:
			mirrorRemoved = true
		case errors.Is(err, repositories.ErrNotFound):
			mirrorRemoved = false
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return models.Connection{}, err
	}

	logging.FromContext(ctx).Info("connection removed", "connectionId", removed.ID, "status", removed.Status, "mirrorRemoved", mirrorRemoved)
	return removed, nil
}

// ListFriends returns the accepted edges owned by userID, newest first, with
// each friend's profile.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	id, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	friends, err := s.store.ListAccepted(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return friends, nil
}

// ListPendingIncoming returns the pending requests addressed to userID,
// newest first, with each requester's profile.
func (s *Service) ListPendingIncoming(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	id, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListIncomingPending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return pending, nil
}

// inTx runs fn in a store transaction. Lifecycle errors pass through; any
// other failure is reported as ErrTransactionFailure.
func (s *Service) inTx(ctx context.Context, fn func(repo repositories.ConnectionRepository) error) error {
	err := s.store.WithinTx(ctx, fn)
	if err == nil || isDomainError(err) {
		return err
	}
	logging.FromContext(ctx).Error("connection transaction rolled back", "error", err)
	return fmt.Errorf("%w: %w", ErrTransactionFailure, err)
}

// missingUser reports which of ids is absent from the user directory, falling
// back to cause when the lookup cannot tell.
func (s *Service) missingUser(ctx context.Context, cause error, ids ...string) error {
	for _, id := range ids {
		_, err := s.users.FindByID(ctx, id)
		if errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		if err != nil {
			logging.FromContext(ctx).Warn("user lookup failed", "userId", id, "error", err)
		}
	}
	return cause
}

func findByID(rows []models.Connection, id int64) (models.Connection, bool) {
	for _, row := range rows {
		if row.ID == id {
			return row, true
		}
	}
	return models.Connection{}, false
}

func pendingByID(ctx context.Context, repo repositories.ConnectionRepository, id int64) (models.Connection, error) {
	conn, err := repo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Connection{}, fmt.Errorf("%w: no pending connection with id %d", ErrNotFound, id)
	}
	if err != nil {
		return models.Connection{}, err
	}
	if conn.Status != models.ConnectionPending {
		return models.Connection{}, fmt.Errorf("%w: connection %d is %s", ErrNotFound, id, conn.Status)
	}
	return conn, nil
}

func normalizeUserID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: user id %q: %w", ErrInvalidInput, raw, err)
	}
	return id.String(), nil
}

func validateConnectionID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: connection id must be positive", ErrInvalidInput)
	}
	return nil
}
