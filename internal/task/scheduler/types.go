package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindme/pkg/logx"
)

var (
	ErrStopped   = errors.New("scheduler stopped")
	ErrInvalidID = errors.New("timer id must be > 0")
	ErrNilFunc   = errors.New("timer callback is nil")
)

// Config controls the scheduler service.
type Config struct {
	Timezone    string        // IANA TZ for cron specs, e.g. "Asia/Jakarta"
	FireTimeout time.Duration // per-callback context timeout; 0 means 30s
	JobTimeout  time.Duration // per-run timeout for periodic jobs; 0 means none
}

// FireFunc is called once when an armed timer elapses.
type FireFunc func(ctx context.Context, id int64)

// Handle identifies one arming of a timer. Re-arming the same id yields a new
// handle; the old one becomes stale and Cancel on it is a no-op.
type Handle struct {
	ID  int64
	ver uint64
}

// Valid reports whether h came from a successful Arm.
func (h Handle) Valid() bool { return h.ver != 0 }

type timerEntry struct {
	t   *time.Timer
	ver uint64
	at  time.Time
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// ctx is the parent of every callback context; canceled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	// single-shot timers keyed by id
	tmu      sync.Mutex
	timers   map[int64]timerEntry
	ver      uint64
	stopped  bool
	inflight sync.WaitGroup
}
