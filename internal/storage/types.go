package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("reminder not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory":   process-local, lost on restart (tests, dry runs)
//   - "file":     dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite":   SQLite database file (modernc, no cgo)
//   - "postgres": PostgreSQL via pgx pool (DSN)
//   - "redis":    Redis hash + sorted-set layout (DSN is host:port or redis:// URL)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	KeyPrefix   string        // redis only; default "remindme"
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Reminder is a single persisted reminder.
// Only Canceled changes after Insert.
type Reminder struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Message   string    `json:"message"`
	Canceled  bool      `json:"canceled"`
	FireAt    time.Time `json:"fire_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable reminder record.
//
// FindActive ignores canceled records and, when (user, message) is duplicated,
// returns the most recently inserted one. Pending returns every stored record,
// canceled ones included, ordered by FireAt then ID.
type Store interface {
	Insert(ctx context.Context, user, message string, fireAt time.Time) (Reminder, error)
	FindActive(ctx context.Context, user, message string) (Reminder, bool, error)
	Get(ctx context.Context, id int64) (Reminder, bool, error)
	MarkCanceled(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Pending(ctx context.Context) ([]Reminder, error)
	Close() error
}

// Error wraps any driver failure. Callers match it with errors.As.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return "storage " + e.Op
	}
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsStorageError reports whether err came from a Store.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
