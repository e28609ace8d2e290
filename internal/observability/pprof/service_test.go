package pprof

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"testing"
	"time"

	logx "remindme/pkg/logx"
)

func get(t *testing.T, url, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func TestReconfigureEnableDisable(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	health := func() Health { return Health{OK: true, ArmedTimers: 3} }
	s := New(Config{}, health, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7}
	if err := s.Reconfigure(ctx, cfg); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no listener address")
	}
	if got := runtime.SetMutexProfileFraction(-1); got != 7 {
		t.Fatalf("mutex profile fraction = %d, want 7", got)
	}

	resp := get(t, "http://"+addr+"/healthz", "")
	var h Health
	err := json.NewDecoder(resp.Body).Decode(&h)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || h.ArmedTimers != 3 || h.Goroutines == 0 {
		t.Fatalf("healthz = %d %+v (%v)", resp.StatusCode, h, err)
	}

	resp = get(t, "http://"+addr+DefaultPrefix, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof index status = %d", resp.StatusCode)
	}

	if err := s.Reconfigure(ctx, Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if a := s.Addr(); a != "" {
		t.Fatalf("still serving at %s", a)
	}
}

func TestUnhealthyAnswers503(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, func() Health { return Health{Error: "store down"} }, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })

	resp := get(t, "http://"+s.Addr()+"/healthz", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTokenRequired(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret", Prefix: "dbg"}, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })

	base := "http://" + s.Addr()
	resp := get(t, base+"/healthz", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", resp.StatusCode)
	}
	resp = get(t, base+"/healthz", "s3cret")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d", resp.StatusCode)
	}
	resp = get(t, base+"/dbg/?token=s3cret", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query token on custom prefix status = %d", resp.StatusCode)
	}
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		s.Stop(context.Background())
		t.Fatal("public bind without token accepted")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"10.0.0.1:6060":  false,
		"nonsense":       false,
	}
	for in, want := range cases {
		if got := IsLoopbackAddr(in); got != want {
			t.Fatalf("IsLoopbackAddr(%q) = %v", in, got)
		}
	}
}
