package repositories

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/blip/backend/internal/models"
)

// MemoryConnectionStore implements ConnectionStore for tests and local
// development. It enforces the same constraints as the SQL schema: users must
// exist, one edge per ordered pair, one pending edge per unordered pair, no
// self edges. Transactions are serialized and restored from a snapshot on error.
type MemoryConnectionStore struct {
	mu    sync.Mutex
	state memoryState
}

// NewMemoryConnectionStore returns an empty store.
func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{state: memoryState{
		rows:  make(map[int64]models.Connection),
		users: make(map[string]models.User),
		now:   func() time.Time { return time.Now().UTC() },
	}}
}

// WithNowFunc allows tests to override the time source used for created_at.
func (s *MemoryConnectionStore) WithNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.now = now
}

// AddUser registers a user so edges may reference it.
func (s *MemoryConnectionStore) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[user.ID] = user
}

// FindByID returns a user registered with AddUser.
func (s *MemoryConnectionStore) FindByID(ctx context.Context, id string) (models.User, error) {
	return locked(ctx, s, func(st *memoryState) (models.User, error) {
		user, ok := st.users[id]
		if !ok {
			return models.User{}, ErrNotFound
		}
		return user, nil
	})
}

// Len returns the number of stored edges.
func (s *MemoryConnectionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.rows)
}

// WithinTx runs fn with exclusive access to the store. When fn fails every
// change it made is discarded.
func (s *MemoryConnectionStore) WithinTx(ctx context.Context, fn func(repo ConnectionRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := maps.Clone(s.state.rows)
	nextID := s.state.nextID

	if err := fn(&s.state); err != nil {
		s.state.rows = rows
		s.state.nextID = nextID
		return err
	}
	return nil
}

func locked[T any](ctx context.Context, s *MemoryConnectionStore, fn func(st *memoryState) (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

func (s *MemoryConnectionStore) InsertPending(ctx context.Context, ownerID, peerID string) (models.Connection, error) {
	return locked(ctx, s, func(st *memoryState) (models.Connection, error) {
		return st.InsertPending(ctx, ownerID, peerID)
	})
}

func (s *MemoryConnectionStore) InsertAccepted(ctx context.Context, ownerID, peerID string) (models.Connection, bool, error) {
	var created bool
	conn, err := locked(ctx, s, func(st *memoryState) (models.Connection, error) {
		c, ok, err := st.InsertAccepted(ctx, ownerID, peerID)
		created = ok
		return c, err
	})
	return conn, created, err
}

func (s *MemoryConnectionStore) FindEdge(ctx context.Context, userA, userB string) (models.Connection, error) {
	return locked(ctx, s, func(st *memoryState) (models.Connection, error) {
		return st.FindEdge(ctx, userA, userB)
	})
}

func (s *MemoryConnectionStore) GetByID(ctx context.Context, id int64) (models.Connection, error) {
	return locked(ctx, s, func(st *memoryState) (models.Connection, error) {
		return st.GetByID(ctx, id)
	})
}

func (s *MemoryConnectionStore) LockPair(ctx context.Context, id int64) ([]models.Connection, error) {
	return locked(ctx, s, func(st *memoryState) ([]models.Connection, error) {
		return st.LockPair(ctx, id)
	})
}

func (s *MemoryConnectionStore) UpdateStatus(ctx context.Context, id int64, status models.ConnectionStatus) (models.Connection, error) {
	return locked(ctx, s, func(st *memoryState) (models.Connection, error) {
		return st.UpdateStatus(ctx, id, status)
	})
}

func (s *MemoryConnectionStore) DeleteByID(ctx context.Context, id int64) (models.Connection, error) {
	return locked(ctx, s, func(st *memoryState) (models.Connection, error) {
		return st.DeleteByID(ctx, id)
	})
}

func (s *MemoryConnectionStore) DeleteExact(ctx context.Context, ownerID, peerID string) (models.Connection, error) {
	return locked(ctx, s, func(st *memoryState) (models.Connection, error) {
		return st.DeleteExact(ctx, ownerID, peerID)
	})
}

func (s *MemoryConnectionStore) ListAccepted(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	return locked(ctx, s, func(st *memoryState) ([]models.ConnectionWithProfile, error) {
		return st.ListAccepted(ctx, userID)
	})
}

func (s *MemoryConnectionStore) ListIncomingPending(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	return locked(ctx, s, func(st *memoryState) ([]models.ConnectionWithProfile, error) {
		return st.ListIncomingPending(ctx, userID)
	})
}

// memoryState is the unsynchronized data behind MemoryConnectionStore. Callers
// hold the store mutex.
type memoryState struct {
	nextID int64
	rows   map[int64]models.Connection
	users  map[string]models.User
	now    func() time.Time
}

func (st *memoryState) insert(ownerID, peerID string, status models.ConnectionStatus) (models.Connection, error) {
	if ownerID == peerID {
		return models.Connection{}, fmt.Errorf("insert connection: %w: self connection", ErrInvalidArgument)
	}
	for _, id := range []string{ownerID, peerID} {
		if _, ok := st.users[id]; !ok {
			return models.Connection{}, fmt.Errorf("insert connection: %w: user %s", ErrNotFound, id)
		}
	}
	for _, row := range st.rows {
		if row.OwnerID == ownerID && row.PeerID == peerID {
			return models.Connection{}, fmt.Errorf("insert connection: %w: connections_user_pair_key", ErrConflict)
		}
		if status == models.ConnectionPending && row.Status == models.ConnectionPending && samePair(row, ownerID, peerID) {
			return models.Connection{}, fmt.Errorf("insert connection: %w: connections_pending_pair_idx", ErrConflict)
		}
	}

	st.nextID++
	conn := models.Connection{
		ID:        st.nextID,
		OwnerID:   ownerID,
		PeerID:    peerID,
		Status:    status,
		CreatedAt: st.now(),
	}
	st.rows[conn.ID] = conn
	return conn, nil
}

func (st *memoryState) InsertPending(_ context.Context, ownerID, peerID string) (models.Connection, error) {
	return st.insert(ownerID, peerID, models.ConnectionPending)
}

func (st *memoryState) InsertAccepted(_ context.Context, ownerID, peerID string) (models.Connection, bool, error) {
	if existing, ok := st.exact(ownerID, peerID); ok {
		return existing, false, nil
	}
	conn, err := st.insert(ownerID, peerID, models.ConnectionAccepted)
	if err != nil {
		return models.Connection{}, false, err
	}
	return conn, true, nil
}

func (st *memoryState) FindEdge(_ context.Context, userA, userB string) (models.Connection, error) {
	var (
		found models.Connection
		ok    bool
	)
	for _, row := range st.rows {
		if !samePair(row, userA, userB) {
			continue
		}
		if !ok || row.CreatedAt.Before(found.CreatedAt) || (row.CreatedAt.Equal(found.CreatedAt) && row.ID < found.ID) {
			found, ok = row, true
		}
	}
	if !ok {
		return models.Connection{}, ErrNotFound
	}
	return found, nil
}

func (st *memoryState) GetByID(_ context.Context, id int64) (models.Connection, error) {
	row, ok := st.rows[id]
	if !ok {
		return models.Connection{}, ErrNotFound
	}
	return row, nil
}

func (st *memoryState) LockPair(_ context.Context, id int64) ([]models.Connection, error) {
	target, ok := st.rows[id]
	if !ok {
		return []models.Connection{}, nil
	}
	pair := []models.Connection{target}
	for _, row := range st.rows {
		if row.Mirror(target) {
			pair = append(pair, row)
		}
	}
	sort.Slice(pair, func(i, j int) bool { return pair[i].ID < pair[j].ID })
	return pair, nil
}

func (st *memoryState) UpdateStatus(_ context.Context, id int64, status models.ConnectionStatus) (models.Connection, error) {
	if !status.Valid() {
		return models.Connection{}, fmt.Errorf("update connection status: %w: %q", ErrInvalidArgument, status)
	}
	row, ok := st.rows[id]
	if !ok {
		return models.Connection{}, ErrNotFound
	}
	if status == models.ConnectionPending {
		for _, other := range st.rows {
			if other.ID != id && other.Status == models.ConnectionPending && samePair(other, row.OwnerID, row.PeerID) {
				return models.Connection{}, fmt.Errorf("update connection status: %w: connections_pending_pair_idx", ErrConflict)
			}
		}
	}
	row.Status = status
	st.rows[id] = row
	return row, nil
}

func (st *memoryState) DeleteByID(_ context.Context, id int64) (models.Connection, error) {
	row, ok := st.rows[id]
	if !ok {
		return models.Connection{}, ErrNotFound
	}
	delete(st.rows, id)
	return row, nil
}

func (st *memoryState) DeleteExact(_ context.Context, ownerID, peerID string) (models.Connection, error) {
	row, ok := st.exact(ownerID, peerID)
	if !ok {
		return models.Connection{}, ErrNotFound
	}
	delete(st.rows, row.ID)
	return row, nil
}

func (st *memoryState) ListAccepted(_ context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	return st.list(func(row models.Connection) (string, bool) {
		return row.PeerID, row.OwnerID == userID && row.Status == models.ConnectionAccepted
	}), nil
}

func (st *memoryState) ListIncomingPending(_ context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	return st.list(func(row models.Connection) (string, bool) {
		return row.OwnerID, row.PeerID == userID && row.Status == models.ConnectionPending
	}), nil
}

// list selects rows with match, which also names the user whose profile is
// joined, and orders them newest first with id as the tie-break.
func (st *memoryState) list(match func(models.Connection) (string, bool)) []models.ConnectionWithProfile {
	out := []models.ConnectionWithProfile{}
	for _, row := range st.rows {
		other, ok := match(row)
		if !ok {
			continue
		}
		user, ok := st.users[other]
		if !ok {
			continue
		}
		out = append(out, models.ConnectionWithProfile{Connection: row, Profile: user.Profile()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (st *memoryState) exact(ownerID, peerID string) (models.Connection, bool) {
	for _, row := range st.rows {
		if row.OwnerID == ownerID && row.PeerID == peerID {
			return row, true
		}
	}
	return models.Connection{}, false
}

func samePair(row models.Connection, userA, userB string) bool {
	return (row.OwnerID == userA && row.PeerID == userB) || (row.OwnerID == userB && row.PeerID == userA)
}

var _ ConnectionStore = (*MemoryConnectionStore)(nil)
var _ UserRepository = (*MemoryConnectionStore)(nil)
var _ ConnectionRepository = (*memoryState)(nil)
