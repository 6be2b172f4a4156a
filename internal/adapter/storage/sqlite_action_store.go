package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

// queueSchemaVersion is stored in PRAGMA user_version.
const queueSchemaVersion = 1

const (
	actionColumns = `seq, id, kind, payload, enqueued_at, synced, attempts, last_error`
	syncLeaseName = "sync"
)

// SQLiteActionStore keeps the device's offline queue in a local SQLite file.
// Rows keep their insertion sequence across updates.
type SQLiteActionStore struct {
	db *sqlx.DB
}

type actionRow struct {
	Seq        int64  `db:"seq"`
	ID         string `db:"id"`
	Kind       string `db:"kind"`
	Payload    string `db:"payload"`
	EnqueuedAt int64  `db:"enqueued_at"`
	Synced     bool   `db:"synced"`
	Attempts   int    `db:"attempts"`
	LastError  string `db:"last_error"`
}

func OpenSQLiteActionStore(ctx context.Context, path string) (*SQLiteActionStore, error) {
	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open action queue: %w", err)
	}

	var version int
	if err := db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		db.Close()
		return nil, fmt.Errorf("read queue schema version: %w", err)
	}
	if version > queueSchemaVersion {
		db.Close()
		return nil, fmt.Errorf("action queue %s has schema version %d, this build supports %d", path, version, queueSchemaVersion)
	}

	schema, err := schemaFS.ReadFile("schema/queue.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load queue schema: %w", err)
	}
	if err := execScript(ctx, db, string(schema)); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", queueSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set queue schema version: %w", err)
	}

	return &SQLiteActionStore{db: db}, nil
}

func (s *SQLiteActionStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteActionStore) Put(ctx context.Context, action domain.QueuedAction) error {
	kind, payload, err := domain.EncodePayload(action.Payload)
	if err != nil {
		return err
	}

	row := actionRow{
		ID:         action.ID,
		Kind:       string(kind),
		Payload:    string(payload),
		EnqueuedAt: action.EnqueuedAt.UnixNano(),
		Synced:     action.Synced,
		Attempts:   action.Attempts,
		LastError:  action.LastError,
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO offline_actions (id, kind, payload, enqueued_at, synced, attempts, last_error)
		VALUES (:id, :kind, :payload, :enqueued_at, :synced, :attempts, :last_error)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			enqueued_at = excluded.enqueued_at,
			synced = excluded.synced,
			attempts = excluded.attempts,
			last_error = excluded.last_error`, row)
	if err != nil {
		return fmt.Errorf("put action %s: %w", action.ID, err)
	}
	return nil
}

func (s *SQLiteActionStore) Get(ctx context.Context, id string) (*domain.QueuedAction, error) {
	var row actionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+actionColumns+` FROM offline_actions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query action %s: %w", id, err)
	}

	action, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *SQLiteActionStore) ListBySynced(ctx context.Context, synced bool) ([]domain.QueuedAction, error) {
	var rows []actionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+actionColumns+` FROM offline_actions WHERE synced = ? ORDER BY seq`, synced)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}

	actions := make([]domain.QueuedAction, 0, len(rows))
	for _, row := range rows {
		action, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (s *SQLiteActionStore) MarkSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE offline_actions SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark action %s synced: %w", id, err)
	}
	return nil
}

func (s *SQLiteActionStore) RecordFailure(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE offline_actions
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ? AND synced = 0`, message, id)
	if err != nil {
		return fmt.Errorf("record failure of action %s: %w", id, err)
	}
	return nil
}

// AcquireLease takes the sync lease in a single upsert, which SQLite runs
// under its database write lock, so two processes cannot both win.
func (s *SQLiteActionStore) AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_lease (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE sync_lease.expires_at <= ? OR sync_lease.owner = excluded.owner`,
		syncLeaseName, owner, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("acquire sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire sync lease: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteActionStore) ReleaseLease(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_lease WHERE name = ? AND owner = ?`, syncLeaseName, owner)
	if err != nil {
		return fmt.Errorf("release sync lease: %w", err)
	}
	return nil
}

func (s *SQLiteActionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete action %s: %w", id, err)
	}
	return nil
}

func (r actionRow) toDomain() (domain.QueuedAction, error) {
	payload, err := domain.DecodePayload(domain.ActionKind(r.Kind), []byte(r.Payload))
	if err != nil {
		return domain.QueuedAction{}, fmt.Errorf("decode action %s: %w", r.ID, err)
	}
	return domain.QueuedAction{
		ID:         r.ID,
		Payload:    payload,
		EnqueuedAt: time.Unix(0, r.EnqueuedAt).UTC(),
		Synced:     r.Synced,
		Attempts:   r.Attempts,
		LastError:  r.LastError,
	}, nil
}
