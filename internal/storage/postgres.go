package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "remindme/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS reminders (
    id         BIGSERIAL PRIMARY KEY,
    "user"     TEXT        NOT NULL,
    message    TEXT        NOT NULL,
    canceled   BOOLEAN     NOT NULL DEFAULT FALSE,
    fire_at    TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS reminders_lookup ON reminders ("user", message) WHERE NOT canceled;
CREATE INDEX IF NOT EXISTS reminders_fire_at ON reminders (fire_at, id);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrap("open", err)
	}
	pc.MaxConns = 8
	pc.MinConns = 1
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, wrap("open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("ping", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, wrap("migrate", err)
	}
	log.Debug("postgres store opened", logx.String("host", pc.ConnConfig.Host), logx.String("db", pc.ConnConfig.Database))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const postgresCols = `id, "user", message, canceled, fire_at, created_at`

func scanPostgres(row pgx.Row) (Reminder, error) {
	var r Reminder
	if err := row.Scan(&r.ID, &r.User, &r.Message, &r.Canceled, &r.FireAt, &r.CreatedAt); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

func (s *postgresStore) Insert(ctx context.Context, user, message string, fireAt time.Time) (Reminder, error) {
	r, err := scanPostgres(s.pool.QueryRow(ctx,
		`INSERT INTO reminders("user", message, fire_at) VALUES($1, $2, $3) RETURNING `+postgresCols,
		user, message, fireAt,
	))
	if err != nil {
		return Reminder{}, wrap("insert", err)
	}
	return r, nil
}

func (s *postgresStore) FindActive(ctx context.Context, user, message string) (Reminder, bool, error) {
	r, err := scanPostgres(s.pool.QueryRow(ctx,
		`SELECT `+postgresCols+` FROM reminders WHERE "user" = $1 AND message = $2 AND NOT canceled ORDER BY id DESC LIMIT 1`,
		user, message,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reminder{}, false, nil
	}
	if err != nil {
		return Reminder{}, false, wrap("find", err)
	}
	return r, true, nil
}

func (s *postgresStore) Get(ctx context.Context, id int64) (Reminder, bool, error) {
	r, err := scanPostgres(s.pool.QueryRow(ctx, `SELECT `+postgresCols+` FROM reminders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reminder{}, false, nil
	}
	if err != nil {
		return Reminder{}, false, wrap("get", err)
	}
	return r, true, nil
}

func (s *postgresStore) MarkCanceled(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE reminders SET canceled = TRUE WHERE id = $1`, id)
	if err != nil {
		return wrap("cancel", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("cancel", ErrNotFound)
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	return wrap("delete", err)
}

func (s *postgresStore) Pending(ctx context.Context) ([]Reminder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+postgresCols+` FROM reminders ORDER BY fire_at, id`)
	if err != nil {
		return nil, wrap("pending", err)
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanPostgres(rows)
		if err != nil {
			return nil, wrap("pending", err)
		}
		out = append(out, r)
	}
	return out, wrap("pending", rows.Err())
}
