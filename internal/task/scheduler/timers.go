package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "remindme/pkg/logx"
)

const defaultFireTimeout = 30 * time.Second

// Arm schedules fn to run once for id after delay. A non-positive delay fires
// on the next tick, never inline. Arming an id that is already armed replaces
// the previous timer.
func (s *Service) Arm(id int64, delay time.Duration, fn FireFunc) (Handle, error) {
	if id <= 0 {
		return Handle{}, ErrInvalidID
	}
	if fn == nil {
		return Handle{}, ErrNilFunc
	}
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.stopped {
		return Handle{}, ErrStopped
	}
	if old, ok := s.timers[id]; ok {
		_ = old.t.Stop()
		delete(s.timers, id)
	}
	s.ver++
	ver := s.ver
	at := time.Now().Add(delay)
	t := time.AfterFunc(delay, func() { s.fire(id, ver, fn) })
	s.timers[id] = timerEntry{t: t, ver: ver, at: at}

	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("timer armed", logx.Int64("id", id), logx.Duration("delay", delay), logx.Time("at", at))
	}
	return Handle{ID: id, ver: ver}, nil
}

// Cancel disarms h. It reports false when h is stale, already fired or was
// never armed.
func (s *Service) Cancel(h Handle) bool {
	if !h.Valid() {
		return false
	}
	s.tmu.Lock()
	defer s.tmu.Unlock()
	e, ok := s.timers[h.ID]
	if !ok || e.ver != h.ver {
		return false
	}
	_ = e.t.Stop()
	delete(s.timers, h.ID)
	return true
}

// Armed reports whether a timer is pending for id.
func (s *Service) Armed(id int64) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Len returns the number of pending timers.
func (s *Service) Len() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.timers)
}

func (s *Service) fire(id int64, ver uint64, fn FireFunc) {
	s.tmu.Lock()
	e, ok := s.timers[id]
	if !ok || e.ver != ver || s.stopped {
		// superseded, canceled or stopping
		s.tmu.Unlock()
		return
	}
	delete(s.timers, id)
	s.inflight.Add(1)
	s.tmu.Unlock()
	defer s.inflight.Done()

	s.mu.Lock()
	timeout := s.cfg.FireTimeout
	s.mu.Unlock()
	if timeout <= 0 {
		timeout = defaultFireTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("timer callback panic",
				logx.Int64("id", id),
				logx.String("panic", fmt.Sprint(r)),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	fn(ctx, id)
}
