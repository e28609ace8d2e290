package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const sampleJSON = `{
  "telegram": {"token": "abc", "poll_timeout": "20s"},
  "logging": {"level": "debug", "console": true},
  "scheduler": {"sweep": "@every 30s"},
  "storage": {"driver": "sqlite", "path": "./r.db"},
  "reminders": {"purge_on_cancel": true, "max_delay": "720h"}
}`

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", sampleJSON)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "abc" || cfg.Scheduler.Sweep != "@every 30s" || !cfg.Reminders.PurgeOnCancel {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestLoadYAML(t *testing.T) {
	body := "telegram:\n  token: abc\nlogging:\n  level: info\nreminders:\n  max_delay: 24h\n"
	p := writeFile(t, t.TempDir(), "config.yaml", body)
	cfg, err := NewConfigManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "abc" || cfg.Reminders.MaxDelay != "24h" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestRejectsUnknownAndTrailing(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewConfigManager(writeFile(t, dir, "a.json", `{"telegram":{"tokn":"x"}}`)).Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := NewConfigManager(writeFile(t, dir, "b.json", `{} {}`)).Parse(); err == nil {
		t.Fatal("trailing document accepted")
	}
	if _, err := NewConfigManager(writeFile(t, dir, "c.yml", "plugins: {}\n")).Parse(); err == nil {
		t.Fatal("unknown yaml key accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTelegramToken: " secret ",
		EnvStorageDriver: "postgres",
		EnvStorageDSN:    "postgres://u@h/db",
		EnvLogLevel:      "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	applyEnv(cfg, lookup)
	if cfg.Telegram.Token != "secret" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("empty env var overrode level: %q", cfg.Logging.Level)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://u@h/db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	found, err := LoadEnv(filepath.Join(t.TempDir(), "nope.env"))
	if err != nil || found {
		t.Fatalf("LoadEnv missing = (%v, %v)", found, err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), ".env", "REMINDME_TEST_ONLY_VAR=hello\n")
	t.Setenv("REMINDME_TEST_ONLY_VAR", "")
	os.Unsetenv("REMINDME_TEST_ONLY_VAR")
	found, err := LoadEnv(p)
	if err != nil || !found {
		t.Fatalf("LoadEnv = (%v, %v)", found, err)
	}
	if got := os.Getenv("REMINDME_TEST_ONLY_VAR"); got != "hello" {
		t.Fatalf("env = %q", got)
	}
}

func TestReloadValidatesAndSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", sampleJSON)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.reload(context.Background())
	if err != nil || published {
		t.Fatalf("unchanged reload = (%v, %v)", published, err)
	}

	writeFile(t, dir, "config.json", strings.Replace(sampleJSON, `"debug"`, `"warn"`, 1))
	reject := errors.New("nope")
	m.SetValidator(func(context.Context, *Config) error { return reject })
	if _, err := m.reload(context.Background()); !errors.Is(err, reject) {
		t.Fatalf("rejected reload err = %v", err)
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("rejected config was committed")
	}

	m.SetValidator(nil)
	published, err = m.reload(context.Background())
	if err != nil || !published {
		t.Fatalf("reload = (%v, %v)", published, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-sub; got != b {
		t.Fatal("slow subscriber did not get the newest config")
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel not closed by Unsubscribe")
	}
}

func TestWatchPublishesOnWrite(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", sampleJSON)
	m := NewConfigManager(p)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher a moment to register the directory
	deadline := time.Now().Add(5 * time.Second)
	next := strings.Replace(sampleJSON, `"@every 30s"`, `"@every 2m"`, 1)
	for time.Now().Before(deadline) {
		writeFile(t, dir, "config.json", next)
		select {
		case cfg := <-sub:
			if cfg.Scheduler.Sweep != "@every 2m" {
				t.Fatalf("sweep = %q", cfg.Scheduler.Sweep)
			}
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	t.Fatal("watch never published the change")
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "b"},
		Storage:   &StorageConfig{Driver: "redis", DSN: "127.0.0.1:6379"},
		Reminders: RemindersConfig{PurgeOnCancel: true},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"reminders", "storage", "telegram"}
	if strings.Join(sections, ",") != strings.Join(want, ",") {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}

	sections, _ = SummarizeConfigChange(&Config{}, &Config{Notifier: ptr(DefaultNotifier())})
	if len(sections) != 0 {
		t.Fatalf("explicit defaults reported as change: %v", sections)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("= (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil || !strings.Contains(err.Error(), "x:") {
		t.Fatalf("err = %v", err)
	}
	if d, err := ParseDurationField("x", "30d"); err != nil || d != 30*24*time.Hour {
		t.Fatalf("days = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "1.5d"); err == nil {
		t.Fatal("fractional days accepted")
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("default = %v", d)
	}
}

func ptr[T any](v T) *T { return &v }

func TestYAMLToJSON(t *testing.T) {
	t.Parallel()
	j, err := yamlToJSON([]byte("scheduler:\n  sweep: off\n1: x\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(j), `"1":"x"`) || !strings.Contains(string(j), `"sweep":"off"`) {
		t.Fatalf("json = %s", j)
	}
	if j, err := yamlToJSON(nil); err != nil || string(j) != "{}" {
		t.Fatalf("empty = (%s, %v)", j, err)
	}
	if _, err := yamlToJSON([]byte("a: 1\n---\nb: 2\n")); err == nil {
		t.Fatal("multiple documents accepted")
	}
}
