package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindme/pkg/logx"
)

// AddSchedule registers (or replaces) a named periodic job. spec accepts the
// forms understood by ParseSchedule. Jobs registered before Start are kept and
// added to cron once it runs.
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("schedule name required")
	}
	if job == nil {
		return ErrNilFunc
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	def := scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	idx := -1
	for i := range s.defs {
		if s.defs[i].name == name {
			idx = i
			break
		}
	}
	if idx >= 0 {
		if s.c != nil && s.defs[idx].entryID != 0 {
			s.c.Remove(s.defs[idx].entryID)
		}
		s.defs[idx] = def
	} else {
		s.defs = append(s.defs, def)
		idx = len(s.defs) - 1
	}
	if s.c != nil {
		return s.addCronLocked(&s.defs[idx])
	}
	return nil
}

// Remove unregisters a named periodic job. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.defs {
		if s.defs[i].name != name {
			continue
		}
		if s.c != nil && s.defs[i].entryID != 0 {
			s.c.Remove(s.defs[i].entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// Schedules lists registered job names with their next run time. Next is
// zero while cron is not running.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			info.Next = s.c.Entry(d.entryID).Next
		}
		out = append(out, info)
	}
	return out
}

// ScheduleInfo describes one registered periodic job.
type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	ps, err := ParseSchedule(d.spec)
	if err != nil {
		return err
	}
	timeout := d.timeout
	if timeout <= 0 {
		timeout = s.cfg.JobTimeout
	}
	run := s.wrapJob(d.name, timeout, d.job)

	switch ps.Kind {
	case SpecInterval:
		sched, jitter := makeIntervalScheduleWithSpread(ps.Every, time.Now().In(s.loc), d.name)
		d.entryID = s.c.Schedule(sched, cron.FuncJob(run))
		s.log.Debug("schedule added",
			logx.String("name", d.name),
			logx.Duration("every", ps.Every),
			logx.Duration("startup_jitter", jitter),
		)
	default:
		sched, err := s.parser.Parse(ps.Cron)
		if err != nil {
			return err
		}
		d.entryID = s.c.Schedule(sched, cron.FuncJob(run))
		s.log.Debug("schedule added", logx.String("name", d.name), logx.String("cron", ps.Cron))
	}
	return nil
}

func (s *Service) wrapJob(name string, timeout time.Duration, job func(ctx context.Context) error) func() {
	log := s.log.With(logx.String("schedule", name))
	return func() {
		ctx := s.ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		if err := job(ctx); err != nil {
			log.Warn("schedule run failed", logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		if log.Enabled(logx.LevelDebug) {
			log.Debug("schedule run ok", logx.Duration("took", time.Since(start)))
		}
	}
}
