package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hwbot/internal/config"
	"hwbot/internal/eventbus"
	"hwbot/internal/failure"
	"hwbot/internal/notifier"
	"hwbot/internal/poller"
	"hwbot/internal/storage"
	logx "hwbot/pkg/logx"
)

func validConfig() *config.Config {
	return &config.Config{
		Practicum: config.PracticumConfig{Token: "p", Endpoint: config.DefaultEndpoint},
		Telegram:  config.TelegramConfig{Token: "t", ChatID: 42},
		Poller:    config.PollerConfig{Schedule: "10m", Lookback: config.DefaultLookback},
	}
}

func TestMapPollerConfigCursor(t *testing.T) {
	now := time.Unix(1700000000, 0)

	cfg := validConfig()
	pc, err := mapPollerConfig(cfg, now)
	if err != nil {
		t.Fatalf("mapPollerConfig: %v", err)
	}
	if pc.InitialCursor != 1700000000-2629743 {
		t.Fatalf("cursor = %d", pc.InitialCursor)
	}
	if e, ok := pc.Schedule.(poller.Every); !ok || time.Duration(e) != 10*time.Minute {
		t.Fatalf("schedule = %#v", pc.Schedule)
	}

	cfg.Poller.StartFrom = 1600000000
	cfg.Poller.AllowEmptyResponse = true
	pc, err = mapPollerConfig(cfg, now)
	if err != nil {
		t.Fatal(err)
	}
	if pc.InitialCursor != 1600000000 || !pc.Validate.AllowEmpty {
		t.Fatalf("unexpected config %+v", pc)
	}

	cfg.Poller.Lookback = "0s"
	cfg.Poller.StartFrom = 0
	if pc, _ = mapPollerConfig(cfg, now); pc.InitialCursor != now.Unix() {
		t.Fatalf("zero lookback should start at now, got %d", pc.InitialCursor)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	tests := map[string]func(c *config.Config){
		"missing token":   func(c *config.Config) { c.Practicum.Token = "" },
		"bad schedule":    func(c *config.Config) { c.Poller.Schedule = "sometimes" },
		"bad lookback":    func(c *config.Config) { c.Poller.Lookback = "a month" },
		"negative start":  func(c *config.Config) { c.Poller.StartFrom = -1 },
		"bad timeout":     func(c *config.Config) { c.Practicum.Timeout = "soon" },
		"bad send limit":  func(c *config.Config) { c.Notifier.RatePerSec = -1 },
		"unknown storage": func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "redis"} },
		"sqlite no path":  func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			if err := validateConfig(cfg); !errors.Is(err, failure.ErrConfiguration) {
				t.Fatalf("validateConfig = %v, want configuration error", err)
			}
		})
	}
	if err := validateConfig(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestEntryFor(t *testing.T) {
	at := time.Unix(1700000000, 0)
	e, ok := entryFor(eventbus.Event{Type: eventbus.TypeTick, Time: at, Data: poller.TickResult{
		ID: "t1", Outcome: poller.OutcomeFailureSent, Kind: "network", Cursor: 9, Message: "m", ErrorMsg: "boom",
	}})
	if !ok || e.Event != "tick" || e.TickID != "t1" || e.Outcome != "failure_sent" || e.Cursor != 9 || e.Error != "boom" || !e.At.Equal(at) {
		t.Fatalf("unexpected entry %+v", e)
	}

	e, ok = entryFor(eventbus.Event{Type: eventbus.TypeNotifierSuppressed, Time: at, Data: notifier.NotificationEvent{TickID: "t2", Text: "x"}})
	if !ok || e.Event != "notification" || e.Outcome != "suppressed" || e.TickID != "t2" {
		t.Fatalf("unexpected entry %+v", e)
	}

	if _, ok := entryFor(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: []string{"logging"}}); ok {
		t.Fatal("config events are not audited")
	}
}

func TestAuditRecorderWritesStore(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	rec := &auditRecorder{store: st, log: logx.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.run(ctx, events)
	}()

	bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Data: poller.TickResult{ID: "a", Outcome: poller.OutcomeIdle}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeNotifierSent, Data: notifier.NotificationEvent{TickID: "b", Text: "hi"}})

	deadline := time.Now().Add(2 * time.Second)
	var rows []storage.AuditEntry
	for time.Now().Before(deadline) {
		rows, _ = st.RecentAudit(context.Background(), 10)
		if len(rows) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	unsub()
	<-done

	if len(rows) != 2 || rows[0].TickID != "a" || rows[1].Outcome != "sent" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestSDNotifier(t *testing.T) {
	var states []string
	n := &sdNotifier{enabled: true, log: logx.Nop(), notify: func(s string) (bool, error) {
		states = append(states, s)
		return true, nil
	}}
	n.Ready()
	n.Stopping()
	if len(states) != 2 || states[0] != "READY=1" || states[1] != "STOPPING=1" {
		t.Fatalf("states = %q", states)
	}

	off := &sdNotifier{enabled: false, log: logx.Nop(), notify: func(s string) (bool, error) {
		t.Fatalf("disabled notifier sent %q", s)
		return false, nil
	}}
	off.Ready()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PRACTICUM_TOKEN", "YA_TOKEN", "TELEGRAM_TOKEN", "TOKEN", "TELEGRAM_CHAT_ID"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestNewFailsOnMissingCredentials(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "telegram:\n  token: abc\n")
	_, err := New(path)
	if !errors.Is(err, failure.ErrConfiguration) || !failure.IsFatal(err) {
		t.Fatalf("New = %v, want configuration error", err)
	}
}

func TestStartupLoggerWritesLogFile(t *testing.T) {
	clearEnv(t)
	logPath := filepath.Join(t.TempDir(), "main.log")
	path := writeConfig(t, "logging:\n  level: error\n  console: false\n  file:\n    enabled: true\n    path: "+logPath+"\n")

	_, err := New(path)
	if !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("New = %v, want configuration error", err)
	}
	logs, log := StartupLogger(path)
	if !logs.Config().Console {
		t.Fatal("startup logger must write to the console")
	}
	log.Critical("configuration error", logx.Err(err))
	if err := logs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, rerr := os.ReadFile(logPath)
	if rerr != nil {
		t.Fatalf("read log: %v", rerr)
	}
	if !strings.Contains(string(b), "configuration error") {
		t.Fatalf("log file = %q", b)
	}
}

func TestStartStop(t *testing.T) {
	clearEnv(t)
	var sent atomic.Int32
	botAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	}))
	defer botAPI.Close()

	dir := t.TempDir()
	path := writeConfig(t, `
practicum:
  token: p
  endpoint: http://127.0.0.1:1/
  timeout: 100ms
telegram:
  token: t
  chat_id: 42
  api_url: `+botAPI.URL+`
notifier:
  send_timeout: 2s
poller:
  schedule: 1h
logging:
  level: error
  console: false
  file:
    enabled: true
    path: `+filepath.Join(dir, "main.log")+`
storage:
  driver: sqlite
  path: `+filepath.Join(dir, "hwbot.db")+`
`)
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for (a.Engine().State().Ticks == 0 || sent.Load() == 0) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	st := a.Engine().State()
	if st.Ticks == 0 || st.LastError == "" || st.LastOutcome != poller.OutcomeFailureSent {
		t.Fatalf("expected one failed tick against a closed port, got %+v", st)
	}
	if sent.Load() != 1 {
		t.Fatalf("expected one failure message, got %d", sent.Load())
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "main.log")); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}
