package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "remindme/pkg/logx"
)

const fileCompactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.reminders.snapshot.json (periodic snapshot)
//   - <prefix>.reminders.journal.jsonl (append-only op journal, fsynced per write)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	snapshotPath string
	journal      journalFile
	t            *memoryTable

	writes int
}

// journalFile is the part of *os.File the store writes through.
type journalFile interface {
	io.Writer
	io.Seeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

type fileSnapshot struct {
	NextID int64      `json:"next_id"`
	Rows   []Reminder `json:"rows"`
}

type journalOp struct {
	Op  string    `json:"op"` // insert | cancel | delete
	ID  int64     `json:"id"`
	Row *Reminder `json:"row,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrap("open", err)
	}

	snapPath := prefix + ".reminders.snapshot.json"
	journalPath := prefix + ".reminders.journal.jsonl"

	t := newMemoryTable()
	if err := loadSnapshot(snapPath, t); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, wrap("open", err)
	}
	replayed, err := replayJournal(journalPath, t)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, wrap("open", err)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, wrap("open", err)
	}

	s := &fileStore{
		log:          log,
		now:          time.Now,
		snapshotPath: snapPath,
		journal:      jf,
		t:            t,
	}
	if replayed > 0 {
		s.mu.Lock()
		if err := s.compactLocked(); err != nil {
			log.Warn("reminder journal compact failed", logx.Err(err))
		}
		s.mu.Unlock()
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("rows", len(t.rows)), logx.Int("replayed", replayed))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return wrap("close", err)
}

// appendLocked journals op, then applies it to the table, then compacts
// every fileCompactEvery writes so the snapshot always includes op. A failed
// write is cut back off the journal and leaves the table untouched.
func (s *fileStore) appendLocked(op journalOp, apply func()) error {
	if s.journal == nil {
		return ErrClosed
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(op); err != nil {
		return err
	}
	off, err := s.journal.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(buf.Bytes()); err != nil {
		s.rewindLocked(off)
		return err
	}
	if err := s.journal.Sync(); err != nil {
		s.rewindLocked(off)
		return err
	}
	apply()

	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("reminder journal compact failed", logx.Any("err", err))
		}
	}
	return nil
}

// rewindLocked drops a torn record so the next append starts on a clean line.
func (s *fileStore) rewindLocked(off int64) {
	if err := s.journal.Truncate(off); err != nil {
		s.log.Warn("reminder journal rewind failed", logx.Int64("offset", off), logx.Err(err))
		return
	}
	_, _ = s.journal.Seek(0, io.SeekEnd)
}

func (s *fileStore) Insert(ctx context.Context, user, message string, fireAt time.Time) (Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Reminder{}, wrap("insert", ErrClosed)
	}
	r := Reminder{ID: s.t.nextID, User: user, Message: message, FireAt: fireAt, CreatedAt: s.now()}
	if err := s.appendLocked(journalOp{Op: "insert", ID: r.ID, Row: &r}, func() { s.t.put(r) }); err != nil {
		return Reminder{}, wrap("insert", err)
	}
	return r, nil
}

func (s *fileStore) FindActive(ctx context.Context, user, message string) (Reminder, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Reminder{}, false, wrap("find", ErrClosed)
	}
	r, ok := s.t.findActive(user, message)
	return r, ok, nil
}

func (s *fileStore) Get(ctx context.Context, id int64) (Reminder, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Reminder{}, false, wrap("get", ErrClosed)
	}
	r, ok := s.t.rows[id]
	return r, ok, nil
}

func (s *fileStore) MarkCanceled(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.t.rows[id]
	if !ok {
		return wrap("cancel", ErrNotFound)
	}
	r.Canceled = true
	if err := s.appendLocked(journalOp{Op: "cancel", ID: id}, func() { s.t.rows[id] = r }); err != nil {
		return wrap("cancel", err)
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.t.rows[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalOp{Op: "delete", ID: id}, func() { delete(s.t.rows, id) }); err != nil {
		return wrap("delete", err)
	}
	return nil
}

func (s *fileStore) Pending(ctx context.Context) ([]Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, wrap("pending", ErrClosed)
	}
	return s.t.pending(), nil
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{NextID: s.t.nextID, Rows: s.t.pending()}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, t *memoryTable) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Rows {
		t.put(r)
	}
	if snap.NextID > t.nextID {
		t.nextID = snap.NextID
	}
	return nil
}

func replayJournal(path string, t *memoryTable) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			// torn tail write
			continue
		}
		switch op.Op {
		case "insert":
			if op.Row != nil {
				t.put(*op.Row)
			}
		case "cancel":
			if r, ok := t.rows[op.ID]; ok {
				r.Canceled = true
				t.rows[op.ID] = r
			}
		case "delete":
			delete(t.rows, op.ID)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
