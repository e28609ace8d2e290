package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "remindme/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrap("open", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("migrate", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
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
	return wrap("close", s.db.Close())
}

func (s *sqliteStore) Insert(ctx context.Context, user, message string, fireAt time.Time) (Reminder, error) {
	if s == nil || s.db == nil {
		return Reminder{}, wrap("insert", ErrDisabled)
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders("user", message, canceled, fire_at, created_at) VALUES(?,?,0,?,?)`,
		user, message, fireAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return Reminder{}, wrap("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Reminder{}, wrap("insert", err)
	}
	return Reminder{
		ID:        id,
		User:      user,
		Message:   message,
		FireAt:    time.UnixMilli(fireAt.UnixMilli()),
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}, nil
}

const sqliteCols = `id, "user", message, canceled, fire_at, created_at`

func scanSQLite(sc interface{ Scan(...any) error }) (Reminder, error) {
	var (
		r        Reminder
		canceled int64
		fireAt   int64
		created  int64
	)
	if err := sc.Scan(&r.ID, &r.User, &r.Message, &canceled, &fireAt, &created); err != nil {
		return Reminder{}, err
	}
	r.Canceled = canceled != 0
	r.FireAt = time.UnixMilli(fireAt)
	r.CreatedAt = time.UnixMilli(created)
	return r, nil
}

func (s *sqliteStore) FindActive(ctx context.Context, user, message string) (Reminder, bool, error) {
	if s == nil || s.db == nil {
		return Reminder{}, false, wrap("find", ErrDisabled)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCols+` FROM reminders WHERE "user" = ? AND message = ? AND canceled = 0 ORDER BY id DESC LIMIT 1`,
		user, message,
	)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, false, nil
	}
	if err != nil {
		return Reminder{}, false, wrap("find", err)
	}
	return r, true, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (Reminder, bool, error) {
	if s == nil || s.db == nil {
		return Reminder{}, false, wrap("get", ErrDisabled)
	}
	r, err := scanSQLite(s.db.QueryRowContext(ctx, `SELECT `+sqliteCols+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, false, nil
	}
	if err != nil {
		return Reminder{}, false, wrap("get", err)
	}
	return r, true, nil
}

func (s *sqliteStore) MarkCanceled(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return wrap("cancel", ErrDisabled)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET canceled = 1 WHERE id = ?`, id)
	if err != nil {
		return wrap("cancel", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("cancel", ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return wrap("delete", ErrDisabled)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return wrap("delete", err)
}

func (s *sqliteStore) Pending(ctx context.Context) ([]Reminder, error) {
	if s == nil || s.db == nil {
		return nil, wrap("pending", ErrDisabled)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteCols+` FROM reminders ORDER BY fire_at, id`)
	if err != nil {
		return nil, wrap("pending", err)
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, wrap("pending", err)
		}
		out = append(out, r)
	}
	return out, wrap("pending", rows.Err())
}
