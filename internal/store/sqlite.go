package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const reminderColumns = `id, owner_id, type, trigger_at, timezone, recurrence, enabled,
	notification_title, notification_message, local_handle, created_at, updated_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, r Reminder) (Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now().UTC()
	r.TriggerAt = r.TriggerAt.UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.OwnerID, r.Type, r.TriggerAt.UnixMilli(), r.Timezone, nullRaw(r.Recurrence), r.Enabled,
		r.NotificationTitle, r.NotificationMessage, r.LocalHandle, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return Reminder{}, wrap("insert", err, isBusy(err))
	}
	return r, nil
}

func (s *sqliteStore) Get(ctx context.Context, id, ownerID string) (Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ? AND owner_id = ?`, id, ownerID)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, wrap("get", err, isBusy(err))
	}
	return r, nil
}

func (s *sqliteStore) Update(ctx context.Context, id, ownerID string, p Patch) (Reminder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Reminder{}, wrap("update", err, isBusy(err))
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanReminder(tx.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ? AND owner_id = ?`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, wrap("update", err, isBusy(err))
	}
	p.Apply(&r)
	r.UpdatedAt = s.now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE reminders SET type=?, trigger_at=?, timezone=?, recurrence=?, enabled=?,
		 notification_title=?, notification_message=?, local_handle=?, updated_at=?
		 WHERE id = ? AND owner_id = ?`,
		r.Type, r.TriggerAt.UnixMilli(), r.Timezone, nullRaw(r.Recurrence), r.Enabled,
		r.NotificationTitle, r.NotificationMessage, r.LocalHandle, r.UpdatedAt.UnixMilli(),
		id, ownerID,
	)
	if err != nil {
		return Reminder{}, wrap("update", err, isBusy(err))
	}
	if err := tx.Commit(); err != nil {
		return Reminder{}, wrap("update", err, isBusy(err))
	}
	return r, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return wrap("delete", err, isBusy(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListUpcoming(ctx context.Context, ownerID string, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE owner_id = ? AND trigger_at >= ?
		 ORDER BY trigger_at ASC, id ASC LIMIT ?`,
		ownerID, now.UnixMilli(), limit)
	if err != nil {
		return nil, wrap("list", err, isBusy(err))
	}
	return collect("list", rows)
}

func (s *sqliteStore) ListArmed(ctx context.Context, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE local_handle <> '' ORDER BY trigger_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("list_armed", err, isBusy(err))
	}
	return collect("list_armed", rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(sc rowScanner) (Reminder, error) {
	var (
		r                     Reminder
		trig, created, update int64
		recurrence            sql.NullString
	)
	err := sc.Scan(&r.ID, &r.OwnerID, &r.Type, &trig, &r.Timezone, &recurrence, &r.Enabled,
		&r.NotificationTitle, &r.NotificationMessage, &r.LocalHandle, &created, &update)
	if err != nil {
		return Reminder{}, err
	}
	r.TriggerAt = time.UnixMilli(trig).UTC()
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(update).UTC()
	if recurrence.Valid && recurrence.String != "" {
		r.Recurrence = json.RawMessage(recurrence.String)
	}
	return r, nil
}

func collect(op string, rows *sql.Rows) ([]Reminder, error) {
	defer rows.Close()
	out := make([]Reminder, 0, 8)
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, wrap(op, err, false)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err, isBusy(err))
	}
	return out, nil
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
