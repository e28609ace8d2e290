package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "remindme/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{FireTimeout: time.Second}, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 1m", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "CRON:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "interval:-5m"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestValidateScheduleChecksCronFields(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"@every 1m", "*/5 * * * *", "0 */2 * * * *", "45m"} {
		if err := ValidateSchedule(raw); err != nil {
			t.Fatalf("ValidateSchedule(%q): %v", raw, err)
		}
	}
	for _, raw := range []string{"nope nope", "61 * * * *", "@sometimes"} {
		if err := ValidateSchedule(raw); err == nil {
			t.Fatalf("ValidateSchedule(%q): expected error", raw)
		}
	}
}

func TestArmFiresOnce(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	fired := make(chan int64, 4)
	h, err := s.Arm(7, 10*time.Millisecond, func(ctx context.Context, id int64) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("callback context has no deadline")
		}
		fired <- id
	})
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !s.Armed(7) || s.Len() != 1 {
		t.Fatal("timer not tracked after Arm")
	}

	select {
	case id := <-fired:
		if id != 7 {
			t.Fatalf("fired id = %d, want 7", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	select {
	case <-fired:
		t.Fatal("timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	if s.Armed(7) {
		t.Fatal("fired timer still tracked")
	}
	if s.Cancel(h) {
		t.Fatal("Cancel after fire should report false")
	}
}

func TestArmNegativeDelayFiresPromptly(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	done := make(chan struct{})
	if _, err := s.Arm(1, -time.Second, func(context.Context, int64) { close(done) }); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("overdue timer did not fire")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	var calls atomic.Int32
	h, err := s.Arm(3, 30*time.Millisecond, func(context.Context, int64) { calls.Add(1) })
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !s.Cancel(h) {
		t.Fatal("Cancel reported false for armed timer")
	}
	if s.Cancel(h) {
		t.Fatal("second Cancel should report false")
	}
	time.Sleep(80 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("canceled timer fired")
	}
}

func TestRearmSupersedesOldHandle(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	var calls atomic.Int32
	fn := func(context.Context, int64) { calls.Add(1) }
	old, _ := s.Arm(5, time.Hour, fn)
	fresh, err := s.Arm(5, 10*time.Millisecond, fn)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if s.Cancel(old) {
		t.Fatal("stale handle canceled the new timer")
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	_ = fresh
}

func TestArmValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	if _, err := s.Arm(0, time.Second, func(context.Context, int64) {}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("Arm(0) = %v, want ErrInvalidID", err)
	}
	if _, err := s.Arm(1, time.Second, nil); !errors.Is(err, ErrNilFunc) {
		t.Fatalf("Arm(nil) = %v, want ErrNilFunc", err)
	}
}

func TestStopDisarmsAndRejects(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	var calls atomic.Int32
	for id := int64(1); id <= 3; id++ {
		if _, err := s.Arm(id, 20*time.Millisecond, func(context.Context, int64) { calls.Add(1) }); err != nil {
			t.Fatalf("Arm: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if s.Len() != 0 {
		t.Fatalf("Len after Stop = %d", s.Len())
	}
	if _, err := s.Arm(9, time.Millisecond, func(context.Context, int64) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Arm after Stop = %v, want ErrStopped", err)
	}
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("%d timers fired after Stop", calls.Load())
	}
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	done := make(chan struct{})
	_, _ = s.Arm(1, time.Millisecond, func(context.Context, int64) { panic("boom") })
	_, _ = s.Arm(2, 20*time.Millisecond, func(context.Context, int64) { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second timer did not fire after a panicking callback")
	}
}

func TestAddScheduleRunsJob(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	ran := make(chan struct{}, 1)
	err := s.AddSchedule("tick", "@every 1s", 0, func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())

	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Name != "tick" || infos[0].Next.IsZero() {
		t.Fatalf("Schedules = %+v", infos)
	}
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("cron job did not run")
	}
	if !s.Remove("tick") || s.Remove("tick") {
		t.Fatal("Remove should succeed exactly once")
	}
}

func TestAddScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	job := func(context.Context) error { return nil }
	if err := s.AddSchedule("bad", "61 * * * *", 0, job); err == nil {
		t.Fatal("expected error for invalid cron")
	}
	if err := s.AddSchedule("", "1m", 0, job); err == nil {
		t.Fatal("expected error for empty name")
	}
	if len(s.Schedules()) != 0 {
		t.Fatal("invalid schedules were registered")
	}
}
