// Package store persists log entries and container transactions in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// Options configures how the database is opened.
type Options struct {
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration
}

// RollbackQuery selects the rollback candidates of one actor: reversible
// actions in World at or after Since inside the inclusive box.
type RollbackQuery struct {
	ActorName  string
	World      string
	Since      int64 // milliseconds since epoch
	MinX, MaxX int
	MinY, MaxY int
	MinZ, MaxZ int
}

// PruneResult reports how many rows a retention pass removed.
type PruneResult struct {
	Events       int64
	Transactions int64
}

// Store is the SQLite event store. It holds a single connection; callers
// that need ordering across operations serialise access themselves.
type Store struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, opts Options) (*Store, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL", path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.ErrCategoryStorage, blerrors.CodeOpenFailed, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, blerrors.Wrap(blerrors.ErrCategoryStorage, blerrors.CodeOpenFailed, "failed to initialize schema", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// acquire returns the database handle under a read lock, or ErrUnavailable
// once the store is closed. The caller must call release.
func (s *Store) acquire() (*sql.DB, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, blerrors.ErrUnavailable
	}
	return s.db, nil
}

func (s *Store) release() {
	s.mu.RUnlock()
}

// WriteBatch inserts entries and then txns in one transaction. Either
// everything is committed or nothing is.
func (s *Store) WriteBatch(ctx context.Context, entries []types.LogEntry, txns []types.ContainerTransaction) error {
	if len(entries) == 0 && len(txns) == 0 {
		return nil
	}

	db, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return blerrors.NewWriteError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events (id, actor_id, actor_name, world, x, y, z, block_type, action_kind, created_at, cause)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return blerrors.NewWriteError("failed to prepare event insert", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.ActorID, e.ActorName, e.World, e.X, e.Y, e.Z,
				string(e.Material), int(e.Action), e.CreatedAt, nullableCause(e.Cause),
			); err != nil {
				return blerrors.NewWriteError(fmt.Sprintf("failed to insert event %s", e.ID), err)
			}
		}
	}

	if len(txns) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO container_transactions (id, event_id, actor_id, actor_name, world, x, y, z, item_type, delta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return blerrors.NewWriteError("failed to prepare container insert", err)
		}
		defer stmt.Close()

		for _, t := range txns {
			if _, err := stmt.ExecContext(ctx,
				t.ID, t.EventID, t.ActorID, t.ActorName, t.World, t.X, t.Y, t.Z,
				string(t.ItemType), t.Delta, t.CreatedAt,
			); err != nil {
				return blerrors.NewWriteError(fmt.Sprintf("failed to insert container transaction %s", t.ID), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return blerrors.NewWriteError("failed to commit batch", err)
	}
	return nil
}

// RecentActionsAt returns up to limit entries at pos, most recent first.
func (s *Store) RecentActionsAt(ctx context.Context, pos types.BlockPos, limit int) ([]types.LogEntry, error) {
	db, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release()

	rows, err := db.QueryContext(ctx, `
		SELECT id, actor_id, actor_name, world, x, y, z, block_type, action_kind, created_at, cause
		FROM events
		WHERE world = ? AND x = ? AND y = ? AND z = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		pos.World, pos.X, pos.Y, pos.Z, limit)
	if err != nil {
		return nil, blerrors.NewQueryError("failed to query location history", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ActionsForRollback returns the Placed and Broken entries matching q,
// oldest first.
func (s *Store) ActionsForRollback(ctx context.Context, q RollbackQuery) ([]types.LogEntry, error) {
	db, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release()

	rows, err := db.QueryContext(ctx, `
		SELECT id, actor_id, actor_name, world, x, y, z, block_type, action_kind, created_at, cause
		FROM events
		WHERE actor_name = ? AND world = ? AND created_at >= ?
		  AND x BETWEEN ? AND ?
		  AND y BETWEEN ? AND ?
		  AND z BETWEEN ? AND ?
		  AND action_kind IN (?, ?)
		ORDER BY created_at ASC, id ASC`,
		q.ActorName, q.World, q.Since,
		q.MinX, q.MaxX, q.MinY, q.MaxY, q.MinZ, q.MaxZ,
		int(types.ActionPlaced), int(types.ActionBroken))
	if err != nil {
		return nil, blerrors.NewQueryError("failed to query rollback candidates", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ContainerHistoryAt returns up to limit container deltas at pos, most
// recent first.
func (s *Store) ContainerHistoryAt(ctx context.Context, pos types.BlockPos, limit int) ([]types.ContainerTransaction, error) {
	db, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release()

	rows, err := db.QueryContext(ctx, `
		SELECT id, event_id, actor_id, actor_name, world, x, y, z, item_type, delta, created_at
		FROM container_transactions
		WHERE world = ? AND x = ? AND y = ? AND z = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		pos.World, pos.X, pos.Y, pos.Z, limit)
	if err != nil {
		return nil, blerrors.NewQueryError("failed to query container history", err)
	}
	defer rows.Close()

	var out []types.ContainerTransaction
	for rows.Next() {
		var t types.ContainerTransaction
		var item string
		if err := rows.Scan(&t.ID, &t.EventID, &t.ActorID, &t.ActorName, &t.World,
			&t.X, &t.Y, &t.Z, &item, &t.Delta, &t.CreatedAt); err != nil {
			return nil, blerrors.NewQueryError("failed to scan container transaction", err)
		}
		t.ItemType = types.Material(item)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, blerrors.NewQueryError("failed to read container history", err)
	}
	return out, nil
}

// Locations calls fn once for every distinct position that has history.
// Iteration stops at the first error returned by fn.
func (s *Store) Locations(ctx context.Context, fn func(types.BlockPos) error) error {
	db, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release()

	rows, err := db.QueryContext(ctx, `
		SELECT world, x, y, z FROM events
		UNION
		SELECT world, x, y, z FROM container_transactions`)
	if err != nil {
		return blerrors.NewQueryError("failed to scan locations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p types.BlockPos
		if err := rows.Scan(&p.World, &p.X, &p.Y, &p.Z); err != nil {
			return blerrors.NewQueryError("failed to scan location", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountEvents returns the number of rows in events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	db, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer s.release()

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, blerrors.NewQueryError("failed to count events", err)
	}
	return n, nil
}

// PruneBefore deletes history created before cutoff (milliseconds since
// epoch). Container rows go first, including those whose opening event is
// being removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff int64) (PruneResult, error) {
	var res PruneResult

	db, err := s.acquire()
	if err != nil {
		return res, err
	}
	defer s.release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return res, blerrors.NewWriteError("failed to begin prune", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, `
		DELETE FROM container_transactions
		WHERE created_at < ?
		   OR event_id IN (SELECT id FROM events WHERE created_at < ?)`, cutoff, cutoff)
	if err != nil {
		return res, blerrors.NewWriteError("failed to prune container transactions", err)
	}
	res.Transactions, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return res, blerrors.NewWriteError("failed to prune events", err)
	}
	res.Events, _ = r.RowsAffected()

	if err := tx.Commit(); err != nil {
		return PruneResult{}, blerrors.NewWriteError("failed to commit prune", err)
	}
	return res, nil
}

// Snapshot writes a consistent copy of the database to dest, which must
// not exist yet.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	db, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release()

	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return blerrors.NewBackupError(blerrors.CodeSnapshotFailed, "failed to snapshot database", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release()
	return db.PingContext(ctx)
}

// Close closes the database. Further calls return ErrUnavailable; closing
// twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanEntries(rows *sql.Rows) ([]types.LogEntry, error) {
	var out []types.LogEntry
	for rows.Next() {
		var (
			e      types.LogEntry
			block  string
			action int
			cause  sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.World, &e.X, &e.Y, &e.Z,
			&block, &action, &e.CreatedAt, &cause); err != nil {
			return nil, blerrors.NewQueryError("failed to scan event", err)
		}

		kind, err := types.ActionKindFromCode(action)
		if err != nil {
			return nil, blerrors.NewQueryError("corrupt event row", err)
		}
		e.Action = kind
		e.Material = types.Material(block)
		if cause.Valid {
			c, err := types.CauseFromCode(int(cause.Int64))
			if err != nil {
				return nil, blerrors.NewQueryError("corrupt event row", err)
			}
			e.Cause = c
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, blerrors.NewQueryError("failed to read events", err)
	}
	return out, nil
}

func nullableCause(c types.Cause) interface{} {
	if c == types.CauseUnknown {
		return nil
	}
	return int(c)
}
