package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "skillswap/pkg/logx"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "http": {"addr": "127.0.0.1:0"},
  "storage": {"driver": "sqlite", "path": "./data.db", "busy_timeout": "2s"},
  "scheduler": {"enabled": true},
  "lifecycle": {"sweep_interval": "30s", "sweep_batch": 50},
  "reminders": {"job_timeout": "20s"},
  "telegram": {"enabled": true, "token": "secret", "recipients": {"alice": 1001}},
  "metrics": {"enabled": true}
}`

const sampleYAML = `
logging:
  level: info
  console: true
storage:
  driver: memory
scheduler:
  enabled: true
task_engine:
  workers: 4
  retry_max: 2
telegram:
  enabled: false
  recipients:
    alice: 1001
    42: 2002
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", sampleJSON)
	m := NewManager(p, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Lifecycle.SweepBatch != 50 || cfg.Telegram.Recipients["alice"] != 1001 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	cfg, err := NewManager(p, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TaskEngine == nil || cfg.TaskEngine.Workers != 4 {
		t.Fatalf("task_engine = %+v", cfg.TaskEngine)
	}
	if cfg.Telegram.Recipients["42"] != 2002 {
		t.Fatalf("numeric yaml key not coerced: %v", cfg.Telegram.Recipients)
	}
}

func TestParseRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown field", "a.json", `{"logging":{"level":"info"},"plugins":{}}`, "unknown field"},
		{"trailing data", "b.json", `{} {}`, "trailing data"},
		{"bad yaml", "c.yaml", "logging: [", "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(writeFile(t, dir, tt.file, tt.body), logx.Nop()).Parse()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestReloadSkipsUnchangedAndValidates(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", sampleJSON)
	m := NewManager(p, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx := context.Background()
	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("unchanged Reload = %v, %v", ok, err)
	}

	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Logging.Level == "trace" {
			return errors.New("no trace in prod")
		}
		return nil
	})
	writeFile(t, dir, "config.json", strings.Replace(sampleJSON, `"debug"`, `"trace"`, 1))
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("rejected Reload = %v, %v", ok, err)
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("rejected config was committed")
	}

	writeFile(t, dir, "config.json", strings.Replace(sampleJSON, `"debug"`, `"warn"`, 1))
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("Reload = %v, %v", ok, err)
	}
	select {
	case c := <-sub:
		if c.Logging.Level != "warn" {
			t.Fatalf("published level = %q", c.Logging.Level)
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("unused.json", logx.Nop())
	sub := m.Subscribe(1)
	m.publish(&Config{Logging: LoggingConfig{Level: "a"}})
	m.publish(&Config{Logging: LoggingConfig{Level: "b"}})
	if c := <-sub; c.Logging.Level != "b" {
		t.Fatalf("got %q, want newest", c.Logging.Level)
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel not closed on Unsubscribe")
	}
}

func TestWatchPublishesOnWrite(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", sampleJSON)
	m := NewManager(p, logx.Nop())
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and picks it up.
		writeFile(t, dir, "config.json", strings.Replace(sampleJSON, `"debug"`, `"error"`, 1))
		select {
		case c := <-sub:
			if c.Logging.Level != "error" {
				t.Fatalf("level = %q", c.Logging.Level)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch = %v", err)
			}
			return
		case <-deadline:
			t.Fatal("no config published")
		case <-tick.C:
		}
	}
}
