package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/blip/backend/internal/db"
	"github.com/blip/backend/internal/models"
)

// querier is the subset of pgx shared by pooled connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresUserRepository reads the users table.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user lookup backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// FindByID fetches a user by identifier.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, username, email, full_name, profile_photo_url, created_at, updated_at
        FROM users
        WHERE id = $1
    `, id)

	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.DisplayName, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, classify(err, "select user by id")
	}

	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

// PostgresConnectionRepository provides PostgreSQL-backed persistence for
// connection edges. Outside WithinTx every call runs as its own statement on a
// pooled connection.
type PostgresConnectionRepository struct {
	pool db.Pool
}

// NewPostgresConnectionRepository constructs a connection repository backed by PostgreSQL.
func NewPostgresConnectionRepository(pool db.Pool) *PostgresConnectionRepository {
	return &PostgresConnectionRepository{pool: pool}
}

// WithinTx runs fn inside a single transaction on one pooled connection.
// Serialization conflicts reported by the store (SQLSTATE 40001) restart fn
// from the beginning; every other error rolls the transaction back and is
// returned as is.
func (r *PostgresConnectionRepository) WithinTx(ctx context.Context, fn func(repo ConnectionRepository) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(connectionQueries{q: tx, lockRows: true})
	})
}

func withConn[T any](ctx context.Context, pool db.Pool, fn func(q connectionQueries) (T, error)) (T, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(connectionQueries{q: conn})
}

// InsertPending stores a new pending edge from owner to peer.
func (r *PostgresConnectionRepository) InsertPending(ctx context.Context, ownerID, peerID string) (models.Connection, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) (models.Connection, error) {
		return q.InsertPending(ctx, ownerID, peerID)
	})
}

// InsertAccepted stores an accepted edge unless the ordered pair already exists.
func (r *PostgresConnectionRepository) InsertAccepted(ctx context.Context, ownerID, peerID string) (models.Connection, bool, error) {
	type result struct {
		conn    models.Connection
		created bool
	}
	res, err := withConn(ctx, r.pool, func(q connectionQueries) (result, error) {
		c, created, err := q.InsertAccepted(ctx, ownerID, peerID)
		return result{conn: c, created: created}, err
	})
	return res.conn, res.created, err
}

// FindEdge returns any edge between the two users.
func (r *PostgresConnectionRepository) FindEdge(ctx context.Context, userA, userB string) (models.Connection, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) (models.Connection, error) {
		return q.FindEdge(ctx, userA, userB)
	})
}

// GetByID loads a single edge.
func (r *PostgresConnectionRepository) GetByID(ctx context.Context, id int64) (models.Connection, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) (models.Connection, error) {
		return q.GetByID(ctx, id)
	})
}

// LockPair loads an edge and its mirror in id order.
func (r *PostgresConnectionRepository) LockPair(ctx context.Context, id int64) ([]models.Connection, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) ([]models.Connection, error) {
		return q.LockPair(ctx, id)
	})
}

// UpdateStatus changes the status of an edge.
func (r *PostgresConnectionRepository) UpdateStatus(ctx context.Context, id int64, status models.ConnectionStatus) (models.Connection, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) (models.Connection, error) {
		return q.UpdateStatus(ctx, id, status)
	})
}

// DeleteByID removes an edge by identifier.
func (r *PostgresConnectionRepository) DeleteByID(ctx context.Context, id int64) (models.Connection, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) (models.Connection, error) {
		return q.DeleteByID(ctx, id)
	})
}

// DeleteExact removes the edge from owner to peer.
func (r *PostgresConnectionRepository) DeleteExact(ctx context.Context, ownerID, peerID string) (models.Connection, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) (models.Connection, error) {
		return q.DeleteExact(ctx, ownerID, peerID)
	})
}

// ListAccepted returns the user's friends, most recent first.
func (r *PostgresConnectionRepository) ListAccepted(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) ([]models.ConnectionWithProfile, error) {
		return q.ListAccepted(ctx, userID)
	})
}

// ListIncomingPending returns requests waiting on the user, most recent first.
func (r *PostgresConnectionRepository) ListIncomingPending(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	return withConn(ctx, r.pool, func(q connectionQueries) ([]models.ConnectionWithProfile, error) {
		return q.ListIncomingPending(ctx, userID)
	})
}

const connectionColumns = `id, user_id, connected_user_id, status, created_at`

// connectionQueries holds the SQL for the connections table. lockRows is set
// inside transactions so reads by id take a row lock.
type connectionQueries struct {
	q        querier
	lockRows bool
}

func (c connectionQueries) InsertPending(ctx context.Context, ownerID, peerID string) (models.Connection, error) {
	row := c.q.QueryRow(ctx, `
        INSERT INTO connections (user_id, connected_user_id, status)
        VALUES ($1, $2, 'pending')
        RETURNING `+connectionColumns, ownerID, peerID)

	conn, err := scanConnection(row)
	if err != nil {
		return models.Connection{}, classify(err, "insert pending connection")
	}
	return conn, nil
}

func (c connectionQueries) InsertAccepted(ctx context.Context, ownerID, peerID string) (models.Connection, bool, error) {
	row := c.q.QueryRow(ctx, `
        INSERT INTO connections (user_id, connected_user_id, status)
        VALUES ($1, $2, 'accepted')
        ON CONFLICT (user_id, connected_user_id) DO NOTHING
        RETURNING `+connectionColumns, ownerID, peerID)

	conn, err := scanConnection(row)
	if err == nil {
		return conn, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Connection{}, false, classify(err, "insert accepted connection")
	}

	existing, err := c.exact(ctx, ownerID, peerID)
	if err != nil {
		return models.Connection{}, false, err
	}
	return existing, false, nil
}

func (c connectionQueries) FindEdge(ctx context.Context, userA, userB string) (models.Connection, error) {
	row := c.q.QueryRow(ctx, `
        SELECT `+connectionColumns+`
        FROM connections
        WHERE (user_id = $1 AND connected_user_id = $2)
           OR (user_id = $2 AND connected_user_id = $1)
        ORDER BY created_at, id
        LIMIT 1
    `, userA, userB)

	return c.one(row, "select connection by pair")
}

func (c connectionQueries) GetByID(ctx context.Context, id int64) (models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	if c.lockRows {
		query += ` FOR UPDATE`
	}
	return c.one(c.q.QueryRow(ctx, query, id), "select connection by id")
}

func (c connectionQueries) LockPair(ctx context.Context, id int64) ([]models.Connection, error) {
	query := `
        SELECT ` + connectionColumns + `
        FROM connections
        WHERE id = $1
           OR (user_id, connected_user_id) IN (
                SELECT connected_user_id, user_id FROM connections WHERE id = $1
           )
        ORDER BY id`
	if c.lockRows {
		query += ` FOR UPDATE`
	}

	rows, err := c.q.Query(ctx, query, id)
	if err != nil {
		return nil, classify(err, "lock connection pair")
	}
	pair, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Connection, error) {
		return scanConnection(row)
	})
	if err != nil {
		return nil, classify(err, "scan connection pair")
	}
	return pair, nil
}

func (c connectionQueries) UpdateStatus(ctx context.Context, id int64, status models.ConnectionStatus) (models.Connection, error) {
	row := c.q.QueryRow(ctx, `
        UPDATE connections
        SET status = $2
        WHERE id = $1
        RETURNING `+connectionColumns, id, string(status))

	return c.one(row, "update connection status")
}

func (c connectionQueries) DeleteByID(ctx context.Context, id int64) (models.Connection, error) {
	row := c.q.QueryRow(ctx, `
        DELETE FROM connections
        WHERE id = $1
        RETURNING `+connectionColumns, id)

	return c.one(row, "delete connection by id")
}

func (c connectionQueries) DeleteExact(ctx context.Context, ownerID, peerID string) (models.Connection, error) {
	row := c.q.QueryRow(ctx, `
        DELETE FROM connections
        WHERE user_id = $1 AND connected_user_id = $2
        RETURNING `+connectionColumns, ownerID, peerID)

	return c.one(row, "delete connection by pair")
}

func (c connectionQueries) ListAccepted(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	rows, err := c.q.Query(ctx, `
        SELECT c.id, c.user_id, c.connected_user_id, c.status, c.created_at,
               u.username, u.full_name, u.profile_photo_url
        FROM connections c
        JOIN users u ON u.id = c.connected_user_id
        WHERE c.user_id = $1 AND c.status = 'accepted'
        ORDER BY c.created_at DESC, c.id DESC
    `, userID)
	if err != nil {
		return nil, classify(err, "query friends")
	}
	return collectWithProfile(rows, "friends")
}

func (c connectionQueries) ListIncomingPending(ctx context.Context, userID string) ([]models.ConnectionWithProfile, error) {
	rows, err := c.q.Query(ctx, `
        SELECT c.id, c.user_id, c.connected_user_id, c.status, c.created_at,
               u.username, u.full_name, u.profile_photo_url
        FROM connections c
        JOIN users u ON u.id = c.user_id
        WHERE c.connected_user_id = $1 AND c.status = 'pending'
        ORDER BY c.created_at DESC, c.id DESC
    `, userID)
	if err != nil {
		return nil, classify(err, "query pending requests")
	}
	return collectWithProfile(rows, "pending requests")
}

func (c connectionQueries) exact(ctx context.Context, ownerID, peerID string) (models.Connection, error) {
	row := c.q.QueryRow(ctx, `
        SELECT `+connectionColumns+`
        FROM connections
        WHERE user_id = $1 AND connected_user_id = $2
    `, ownerID, peerID)

	return c.one(row, "select connection by owner")
}

func (c connectionQueries) one(row pgx.Row, op string) (models.Connection, error) {
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Connection{}, ErrNotFound
		}
		return models.Connection{}, classify(err, op)
	}
	return conn, nil
}

func scanConnection(row pgx.Row) (models.Connection, error) {
	var (
		conn      models.Connection
		status    string
		createdAt time.Time
	)
	if err := row.Scan(&conn.ID, &conn.OwnerID, &conn.PeerID, &status, &createdAt); err != nil {
		return models.Connection{}, err
	}
	conn.Status = models.ConnectionStatus(status)
	conn.CreatedAt = createdAt.UTC()
	return conn, nil
}

func collectWithProfile(rows pgx.Rows, what string) ([]models.ConnectionWithProfile, error) {
	defer rows.Close()

	out := []models.ConnectionWithProfile{}
	for rows.Next() {
		var (
			item      models.ConnectionWithProfile
			status    string
			createdAt time.Time
		)
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.PeerID, &status, &createdAt,
			&item.Profile.Username, &item.Profile.DisplayName, &item.Profile.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		item.Status = models.ConnectionStatus(status)
		item.CreatedAt = createdAt.UTC()
		out = append(out, item)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate "+what)
	}

	return out, nil
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ ConnectionStore = (*PostgresConnectionRepository)(nil)
var _ ConnectionRepository = connectionQueries{}
