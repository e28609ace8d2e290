package app

import (
	"strings"
	"testing"
	"time"

	"remindme/internal/config"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      *config.StorageConfig
		driver  string
		path    string
		wantErr string
	}{
		{name: "omitted", in: nil, driver: "sqlite", path: defaultStoragePath},
		{name: "empty driver", in: &config.StorageConfig{Path: "./x.db"}, driver: "sqlite", path: "./x.db"},
		{name: "memory", in: &config.StorageConfig{Driver: "Memory"}, driver: "memory"},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "./r.json"}, driver: "file", path: "./r.json"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}, wantErr: "require a store"},
		{name: "sqlite no path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: "storage.path"},
		{name: "postgres no dsn", in: &config.StorageConfig{Driver: "postgres"}, wantErr: "storage.dsn"},
		{name: "redis no dsn", in: &config.StorageConfig{Driver: "redis"}, wantErr: "storage.dsn"},
		{name: "unknown", in: &config.StorageConfig{Driver: "mongo"}, wantErr: "unknown storage.driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if got.Driver != tc.driver || got.Path != tc.path {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestMapStorageConfigSQLiteBusyTimeout(t *testing.T) {
	t.Parallel()
	got, err := mapStorageConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got.BusyTimeout != time.Second {
		t.Fatalf("busy timeout = %v", got.BusyTimeout)
	}
	if _, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{BusyTimeout: "later"}}); err == nil {
		t.Fatal("bad busy_timeout accepted")
	}
}

func TestSweepSpec(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"":            defaultSweep,
		"off":         "",
		"Disabled":    "",
		"@every 30s":  "@every 30s",
		"*/5 * * * *": "*/5 * * * *",
		"90s":         "90s",
	}
	for in, want := range cases {
		cfg := &config.Config{Scheduler: config.SchedulerConfig{Sweep: in}}
		got, err := sweepSpec(cfg)
		if err != nil || got != want {
			t.Fatalf("sweepSpec(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}
	if _, err := sweepSpec(&config.Config{Scheduler: config.SchedulerConfig{Sweep: "every so often"}}); err == nil {
		t.Fatal("garbage spec accepted")
	}
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	t.Parallel()
	nc, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	def := config.DefaultNotifier()
	if !nc.Enabled || nc.Workers != def.Workers || nc.RetryBase != 500*time.Millisecond || nc.RetryMaxDelay != 10*time.Second {
		t.Fatalf("defaults = %+v", nc)
	}

	off := &config.NotifierConfig{Enabled: false}
	nc, err = mapNotifierConfig(&config.Config{Notifier: off})
	if err != nil || nc.Enabled {
		t.Fatalf("disabled = (%+v, %v)", nc, err)
	}

	if _, err := mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Workers: -1}}); err == nil {
		t.Fatal("negative workers accepted")
	}
}

func TestParseGroupLog(t *testing.T) {
	t.Parallel()
	if id, err := parseGroupLog(" "); err != nil || id != 0 {
		t.Fatalf("empty = (%d, %v)", id, err)
	}
	if id, err := parseGroupLog("-1001234"); err != nil || id != -1001234 {
		t.Fatalf("id = (%d, %v)", id, err)
	}
	if _, err := parseGroupLog("@mygroup"); err == nil {
		t.Fatal("username accepted as chat id")
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	valid := func() *config.Config {
		return &config.Config{
			Telegram:  config.TelegramConfig{Token: "t"},
			Storage:   &config.StorageConfig{Driver: "memory"},
			Reminders: config.RemindersConfig{MaxDelay: "720h"},
		}
	}
	if err := validateConfig(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := validateConfig(nil); err == nil {
		t.Fatal("nil accepted")
	}

	bad := map[string]func(*config.Config){
		"token":    func(c *config.Config) { c.Telegram.Token = "  " },
		"poll":     func(c *config.Config) { c.Telegram.PollTimeout = "fast" },
		"tz":       func(c *config.Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		"sweep":    func(c *config.Config) { c.Scheduler.Sweep = "nope nope" },
		"maxdelay": func(c *config.Config) { c.Reminders.MaxDelay = "-5m" },
		"storage":  func(c *config.Config) { c.Storage.Driver = "none" },
	}
	for name, mutate := range bad {
		cfg := valid()
		mutate(cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: invalid config accepted", name)
		}
	}
}

func TestMapReminderConfig(t *testing.T) {
	t.Parallel()
	rc, err := mapReminderConfig(&config.Config{Reminders: config.RemindersConfig{PurgeOnCancel: true}})
	if err != nil {
		t.Fatal(err)
	}
	if !rc.PurgeOnCancel || rc.MaxDelay != 0 {
		t.Fatalf("got %+v", rc)
	}
}

func TestMapDebugConfig(t *testing.T) {
	t.Parallel()
	dc, err := mapDebugConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if dc.Enabled || dc.Addr != "127.0.0.1:6060" || dc.Prefix != "/debug/pprof/" || dc.ReadTimeout != 5*time.Second {
		t.Fatalf("defaults = %+v", dc)
	}

	public := &config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"}
	if _, err := mapDebugConfig(&config.Config{Debug: public}); err == nil {
		t.Fatal("public bind without token accepted")
	}
	public.Token = "t"
	if _, err := mapDebugConfig(&config.Config{Debug: public}); err != nil {
		t.Fatalf("public bind with token rejected: %v", err)
	}
	if _, err := mapDebugConfig(&config.Config{Debug: &config.DebugConfig{Enabled: true, Addr: "6060"}}); err == nil {
		t.Fatal("addr without port accepted")
	}
}
