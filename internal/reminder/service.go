package reminder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"remindme/internal/eventbus"
	"remindme/internal/storage"
	"remindme/internal/task/scheduler"
	logx "remindme/pkg/logx"
)

var (
	// ErrScheduleInconsistency marks a record that was persisted without an
	// armed timer (or the reverse). Reconcile and the sweep repair it.
	ErrScheduleInconsistency = errors.New("reminder persisted but timer not armed")
	ErrDelayOutOfRange       = errors.New("reminder delay out of range")
)

// Scheduler is the slice of scheduler.Service the reminder service needs.
type Scheduler interface {
	Arm(id int64, delay time.Duration, fn scheduler.FireFunc) (scheduler.Handle, error)
	Armed(id int64) bool
}

// Notifier delivers the private "Reminder: ..." notice to a user.
type Notifier interface {
	Notice(ctx context.Context, user, text string) error
}

type Config struct {
	// PurgeOnCancel deletes canceled records right away instead of leaving
	// them for the armed timer to clean up.
	PurgeOnCancel bool
	// MaxDelay rejects reminders further ahead than this; 0 means no limit.
	MaxDelay time.Duration
}

type Created struct {
	ID           int64
	Delay        time.Duration
	DelaySeconds int64
	Minutes      int64
	Message      string
	FireAt       time.Time
}

type CancelOutcome int

const (
	CancelNotFound CancelOutcome = iota
	CancelCanceled
)

func (o CancelOutcome) String() string {
	switch o {
	case CancelCanceled:
		return "canceled"
	default:
		return "not_found"
	}
}

type Options struct {
	Config    Config
	Store     storage.Store
	Scheduler Scheduler
	Notifier  Notifier
	Bus       eventbus.Bus
	Log       logx.Logger
	Now       func() time.Time
}

const lockStripes = 64

type Service struct {
	store storage.Store
	sched Scheduler
	notif Notifier
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu  sync.RWMutex
	cfg Config

	// cancel and fire of the same id serialize on one stripe
	locks [lockStripes]sync.Mutex
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("reminder: store is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("reminder: scheduler is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("reminder: notifier is required")
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store: opts.Store,
		sched: opts.Scheduler,
		notif: opts.Notifier,
		bus:   opts.Bus,
		log:   opts.Log,
		now:   opts.Now,
		cfg:   opts.Config,
	}, nil
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// MaxDelay is the configured upper bound for a new reminder; 0 means none.
func (s *Service) MaxDelay() time.Duration { return s.config().MaxDelay }

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) lockFor(id int64) *sync.Mutex {
	return &s.locks[uint64(id)%lockStripes]
}

// Create parses the delay, persists the reminder and arms its timer.
//
// A storage failure aborts with nothing armed. A failed arm after the insert
// is logged as ErrScheduleInconsistency and the result is still returned; the
// record stays pending for the sweep.
func (s *Service) Create(ctx context.Context, user string, quantity int64, timeText string) (Created, error) {
	if quantity < 0 {
		quantity = 0
	}
	secs, msg := ParseDuration(quantity, timeText)
	delay := secondsToDuration(secs)

	if limit := s.config().MaxDelay; limit > 0 && delay > limit {
		return Created{}, fmt.Errorf("%w: %s exceeds %s", ErrDelayOutOfRange, delay, limit)
	}

	fireAt := s.now().Add(delay)
	r, err := s.store.Insert(ctx, user, msg, fireAt)
	if err != nil {
		return Created{}, err
	}
	out := Created{
		ID:           r.ID,
		Delay:        delay,
		DelaySeconds: secs,
		Minutes:      secs / 60,
		Message:      msg,
		FireAt:       r.FireAt,
	}

	if _, err := s.sched.Arm(r.ID, delay, s.OnFire); err != nil {
		s.log.Error("reminder not armed",
			logx.Int64("id", r.ID),
			logx.String("user", user),
			logx.Err(fmt.Errorf("%w: %v", ErrScheduleInconsistency, err)),
		)
	}
	s.publish(EventCreated, r)
	s.log.Debug("reminder created", logx.Int64("id", r.ID), logx.String("user", user), logx.Duration("delay", delay))
	return out, nil
}

// Cancel flags the most recent active reminder matching (user, message).
// The timer is left armed; OnFire sees the flag and skips delivery.
func (s *Service) Cancel(ctx context.Context, user, message string) (CancelOutcome, error) {
	// A match can disappear between lookup and lock when it fires or another
	// cancel wins; look again until the store has no active match left. Each
	// lost race retires a record, so the loop ends.
	var lost int64
	for {
		if err := ctx.Err(); err != nil {
			return CancelNotFound, err
		}
		r, ok, err := s.store.FindActive(ctx, user, message)
		if err != nil {
			return CancelNotFound, err
		}
		if !ok {
			return CancelNotFound, nil
		}
		// a store still listing a record it just reported gone would spin
		if r.ID == lost {
			s.log.Warn("active lookup returned a retired reminder", logx.Int64("id", r.ID))
			return CancelNotFound, nil
		}

		done, err := s.cancelLocked(ctx, r)
		if err != nil {
			return CancelNotFound, err
		}
		if done {
			return CancelCanceled, nil
		}
		lost = r.ID
	}
}

func (s *Service) cancelLocked(ctx context.Context, r storage.Reminder) (bool, error) {
	l := s.lockFor(r.ID)
	l.Lock()
	defer l.Unlock()

	cur, ok, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return false, err
	}
	if !ok || cur.Canceled {
		return false, nil
	}

	if s.config().PurgeOnCancel {
		err = s.store.Delete(ctx, r.ID)
	} else {
		err = s.store.MarkCanceled(ctx, r.ID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.publish(EventCanceled, cur)
	return true, nil
}

// OnFire is the timer callback. A missing record is a no-op; otherwise the
// notice goes out unless the record was canceled and the record is deleted
// either way.
func (s *Service) OnFire(ctx context.Context, id int64) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	log := s.log.With(logx.Int64("id", id))
	r, ok, err := s.store.Get(ctx, id)
	if err != nil {
		log.Error("reminder lookup failed", logx.Err(err))
		return
	}
	if !ok {
		log.Debug("reminder gone before fire")
		return
	}

	ev := EventSkipped
	if !r.Canceled {
		if err := s.notif.Notice(ctx, r.User, NoticeText(r.Message)); err != nil {
			log.Warn("reminder notice failed", logx.String("user", r.User), logx.Err(err))
		}
		ev = EventDelivered
	}
	if err := s.store.Delete(ctx, id); err != nil {
		log.Error("reminder delete failed", logx.Err(err))
	}
	s.publish(ev, r)
}

// Reconcile re-arms a timer for every stored reminder, canceled ones
// included, so they are still cleaned up. It returns how many were armed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	rs, err := s.store.Pending(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	var errs []error
	n := 0
	for _, r := range rs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.rearm(r, now); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	s.log.Info("reminders reconciled", logx.Int("pending", len(rs)), logx.Int("armed", n))
	return n, errors.Join(errs...)
}

// Sweep re-arms overdue reminders that have no timer. It is run on a cron
// schedule to repair ErrScheduleInconsistency without retrying inside Create.
func (s *Service) Sweep(ctx context.Context) error {
	rs, err := s.store.Pending(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	var errs []error
	n := 0
	for _, r := range rs {
		if r.FireAt.After(now) {
			// ordered by fire time
			break
		}
		if s.sched.Armed(r.ID) {
			continue
		}
		if err := s.rearm(r, now); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("overdue reminders re-armed", logx.Int("count", n))
	}
	return errors.Join(errs...)
}

func (s *Service) rearm(r storage.Reminder, now time.Time) error {
	delay := r.FireAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if _, err := s.sched.Arm(r.ID, delay, s.OnFire); err != nil {
		s.log.Error("reminder re-arm failed", logx.Int64("id", r.ID), logx.Err(err))
		return fmt.Errorf("%w: id %d: %v", ErrScheduleInconsistency, r.ID, err)
	}
	s.publish(EventRearmed, r)
	return nil
}

func (s *Service) publish(typ string, r storage.Reminder) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Data: EventData{ID: r.ID, User: r.User, Message: r.Message, FireAt: r.FireAt},
	})
}

func secondsToDuration(secs int64) time.Duration {
	const maxSecs = math.MaxInt64 / int64(time.Second)
	if secs > maxSecs {
		return time.Duration(math.MaxInt64)
	}
	if secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
