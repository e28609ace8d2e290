package router

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"remindme/internal/reminder"
	"remindme/internal/storage"
	kit "remindme/internal/transport"
	logx "remindme/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	menus [][]kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Message) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                      { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus = append(f.menus, cmds)
	return nil
}

func (f *fakeAdapter) replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type createCall struct {
	user     string
	quantity int64
	text     string
}

type fakeReminders struct {
	mu       sync.Mutex
	creates  []createCall
	cancels  []string
	outcome  reminder.CancelOutcome
	err      error
	maxDelay time.Duration
}

func (f *fakeReminders) Create(_ context.Context, user string, q int64, text string) (reminder.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{user, q, text})
	if f.err != nil {
		return reminder.Created{}, f.err
	}
	secs, msg := reminder.ParseDuration(q, text)
	return reminder.Created{ID: 1, DelaySeconds: secs, Minutes: secs / 60, Message: msg}, nil
}

func (f *fakeReminders) Cancel(_ context.Context, user, message string) (reminder.CancelOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, user+"|"+message)
	return f.outcome, f.err
}

func (f *fakeReminders) MaxDelay() time.Duration { return f.maxDelay }

func startManager(t *testing.T, r Reminders) (*fakeAdapter, chan<- kit.Message) {
	t.Helper()
	ad := &fakeAdapter{}
	m := NewManager(logx.Nop(), ad, func() string { return "RemindBot" })
	ctx, cancel := context.WithCancel(context.Background())
	m.SetRegistry(ctx, ReminderCommands(r))

	in := make(chan kit.Message, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, in)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ad, in
}

func waitReplies(t *testing.T, ad *fakeAdapter, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := ad.replies()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d replies %q, want %d", len(got), got, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func alice(text string) kit.Message {
	return kit.Message{ChatID: 10, FromID: 42, FromUsername: "alice", Text: text}
}

func TestRemindMeReply(t *testing.T) {
	t.Parallel()
	r := &fakeReminders{}
	ad, in := startManager(t, r)

	in <- alice("!remindme 5 minutes check the oven")
	got := waitReplies(t, ad, 1)
	if want := "alice has set a reminder to check the oven in 5 minutes."; got[0] != want {
		t.Fatalf("reply = %q, want %q", got[0], want)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creates) != 1 || r.creates[0] != (createCall{"42", 5, "minutes check the oven"}) {
		t.Fatalf("creates = %+v", r.creates)
	}
}

func TestCancelReplies(t *testing.T) {
	t.Parallel()
	r := &fakeReminders{outcome: reminder.CancelCanceled}
	ad, in := startManager(t, r)

	in <- alice(`/cancel@RemindBot "check the oven"`)
	got := waitReplies(t, ad, 1)
	if want := `Reminder for alice to "check the oven" canceled.`; got[0] != want {
		t.Fatalf("reply = %q, want %q", got[0], want)
	}

	r.mu.Lock()
	r.outcome = reminder.CancelNotFound
	r.mu.Unlock()
	in <- alice(`cancel "nope"`)
	got = waitReplies(t, ad, 2)
	if want := "alice, that reminder doesn't exist!"; got[1] != want {
		t.Fatalf("reply = %q, want %q", got[1], want)
	}
}

func TestStorageErrorReply(t *testing.T) {
	t.Parallel()
	r := &fakeReminders{err: &storage.Error{Op: "insert", Err: errors.New("disk full")}}
	ad, in := startManager(t, r)

	in <- alice("!remindme 1 tea")
	got := waitReplies(t, ad, 1)
	if got[0] != storeFailedReply {
		t.Fatalf("reply = %q", got[0])
	}
}

func TestTooFarReply(t *testing.T) {
	t.Parallel()
	r := &fakeReminders{err: reminder.ErrDelayOutOfRange, maxDelay: time.Hour}
	ad, in := startManager(t, r)

	in <- alice("!remindme 2 days later")
	got := waitReplies(t, ad, 1)
	if !strings.Contains(got[0], "60 minutes") {
		t.Fatalf("reply = %q", got[0])
	}
}

func TestUsageOnMalformedCommand(t *testing.T) {
	t.Parallel()
	r := &fakeReminders{}
	ad, in := startManager(t, r)

	in <- alice("!remindme soon tea")
	got := waitReplies(t, ad, 1)
	if !strings.HasPrefix(got[0], "usage: ") {
		t.Fatalf("reply = %q", got[0])
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creates) != 0 {
		t.Fatalf("create called for malformed input")
	}
}

func TestHelpAndStart(t *testing.T) {
	t.Parallel()
	ad, in := startManager(t, &fakeReminders{})

	in <- alice("/help")
	in <- alice("/start")
	got := waitReplies(t, ad, 2)
	for _, g := range got {
		if g != reminder.HelpText {
			t.Fatalf("reply = %q", g)
		}
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	m := NewManager(logx.Nop(), &fakeAdapter{}, func() string { return "RemindBot" })
	cases := []struct {
		text    string
		group   bool
		name    string
		line    string
		matches bool
	}{
		{"remindme 5 tea", false, "remindme", "remindme 5 tea", true},
		{"remindme 5 tea", true, "", "", false},
		{"!remindme 5 tea", true, "remindme", "remindme 5 tea", true},
		{"/RemindMe@remindbot  5 tea", true, "remindme", "remindme 5 tea", true},
		{"/remindme@OtherBot 5 tea", true, "", "", false},
		{"/help", false, "help", "help", true},
		{"  ", false, "", "", false},
		{"/", false, "", "", false},
	}
	for _, tc := range cases {
		name, line, ok := m.parseLine(kit.Message{Text: tc.text, IsGroup: tc.group})
		if ok != tc.matches || name != tc.name || line != tc.line {
			t.Errorf("parseLine(%q, group=%v) = (%q, %q, %v)", tc.text, tc.group, name, line, ok)
		}
	}
}

func TestGroupChatterIgnored(t *testing.T) {
	t.Parallel()
	r := &fakeReminders{}
	ad, in := startManager(t, r)

	msg := alice("remindme 5 tea")
	msg.IsGroup = true
	in <- msg
	msg.Text = "!help"
	in <- msg
	got := waitReplies(t, ad, 1)
	if len(got) != 1 || got[0] != reminder.HelpText {
		t.Fatalf("replies = %q", got)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creates) != 0 {
		t.Fatalf("unprefixed group line was handled")
	}
}

func TestParseQuantitySaturates(t *testing.T) {
	t.Parallel()
	if got := parseQuantity("99999999999999999999999"); got != math.MaxInt64 {
		t.Fatalf("parseQuantity overflow = %d", got)
	}
	if got := parseQuantity("007"); got != 7 {
		t.Fatalf("parseQuantity(007) = %d", got)
	}
}

func TestMenuPublished(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewManager(logx.Nop(), ad, nil)
	m.SetRegistry(context.Background(), ReminderCommands(&fakeReminders{}))

	menu := m.Menu()
	if len(menu) != 3 || menu[0].Command != "remindme" {
		t.Fatalf("menu = %+v", menu)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		ad.mu.Lock()
		n := len(ad.menus)
		ad.mu.Unlock()
		if n == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("menu not pushed to adapter")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
