package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryTable is the in-process reminder table shared by the memory and file drivers.
// Not safe for concurrent use; callers hold their own lock.
type memoryTable struct {
	rows   map[int64]Reminder
	nextID int64
}

func newMemoryTable() *memoryTable {
	return &memoryTable{rows: map[int64]Reminder{}, nextID: 1}
}

func (t *memoryTable) insert(user, message string, fireAt, now time.Time) Reminder {
	r := Reminder{
		ID:        t.nextID,
		User:      user,
		Message:   message,
		FireAt:    fireAt,
		CreatedAt: now,
	}
	t.nextID++
	t.rows[r.ID] = r
	return r
}

// put restores a row (journal replay) and keeps nextID ahead of it.
func (t *memoryTable) put(r Reminder) {
	t.rows[r.ID] = r
	if r.ID >= t.nextID {
		t.nextID = r.ID + 1
	}
}

func (t *memoryTable) findActive(user, message string) (Reminder, bool) {
	var (
		best  Reminder
		found bool
	)
	for _, r := range t.rows {
		if r.Canceled || r.User != user || r.Message != message {
			continue
		}
		if !found || r.ID > best.ID {
			best, found = r, true
		}
	}
	return best, found
}

func (t *memoryTable) pending() []Reminder {
	out := make([]Reminder, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, r)
	}
	sortPending(out)
	return out
}

func sortPending(rs []Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].FireAt.Equal(rs[j].FireAt) {
			return rs[i].FireAt.Before(rs[j].FireAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

// Memory is a process-local Store. Records are lost on restart.
type Memory struct {
	mu     sync.Mutex
	t      *memoryTable
	closed bool
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{t: newMemoryTable(), now: time.Now}
}

func (m *Memory) Insert(ctx context.Context, user, message string, fireAt time.Time) (Reminder, error) {
	if err := ctx.Err(); err != nil {
		return Reminder{}, wrap("insert", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Reminder{}, wrap("insert", ErrClosed)
	}
	return m.t.insert(user, message, fireAt, m.now()), nil
}

func (m *Memory) FindActive(ctx context.Context, user, message string) (Reminder, bool, error) {
	if err := ctx.Err(); err != nil {
		return Reminder{}, false, wrap("find", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Reminder{}, false, wrap("find", ErrClosed)
	}
	r, ok := m.t.findActive(user, message)
	return r, ok, nil
}

func (m *Memory) Get(ctx context.Context, id int64) (Reminder, bool, error) {
	if err := ctx.Err(); err != nil {
		return Reminder{}, false, wrap("get", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Reminder{}, false, wrap("get", ErrClosed)
	}
	r, ok := m.t.rows[id]
	return r, ok, nil
}

func (m *Memory) MarkCanceled(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return wrap("cancel", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrap("cancel", ErrClosed)
	}
	r, ok := m.t.rows[id]
	if !ok {
		return wrap("cancel", ErrNotFound)
	}
	r.Canceled = true
	m.t.rows[id] = r
	return nil
}

func (m *Memory) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return wrap("delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrap("delete", ErrClosed)
	}
	delete(m.t.rows, id)
	return nil
}

func (m *Memory) Pending(ctx context.Context) ([]Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("pending", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrap("pending", ErrClosed)
	}
	return m.t.pending(), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
