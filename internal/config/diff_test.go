package config

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	logx "skillswap/pkg/logx"
)

func TestSummarizeChange(t *testing.T) {
	workers := 4
	oldCfg := &Config{
		Logging:  LoggingConfig{Level: "info"},
		Storage:  StorageConfig{Driver: "sqlite", Path: "a.db"},
		Telegram: TelegramConfig{Enabled: true, Token: "old-token"},
	}
	newCfg := &Config{
		Logging:    LoggingConfig{Level: "debug"},
		Storage:    StorageConfig{Driver: "sqlite", Path: "a.db"},
		TaskEngine: &TaskEngineConfig{Workers: workers},
		Telegram:   TelegramConfig{Enabled: true, Token: "new-token"},
	}
	sections, attrs := SummarizeChange(oldCfg, newCfg)
	want := []string{"logging", "task_engine", "telegram"}
	if !reflect.DeepEqual(sections, want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}

	var buf bytes.Buffer
	logx.NewJSON(&buf, "debug").Info("summary", attrs...)
	if strings.Contains(buf.String(), "token\":\"new") || strings.Contains(buf.String(), "new-token") {
		t.Fatalf("token leaked into log: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"telegram.token_set":true`) {
		t.Fatalf("token presence missing: %s", buf.String())
	}
}

func TestSummarizeNoChange(t *testing.T) {
	c := &Config{Logging: LoggingConfig{Level: "info"}, Metrics: MetricsConfig{Enabled: true}}
	cp := *c
	if sections, _ := SummarizeChange(c, &cp); len(sections) != 0 {
		t.Fatalf("sections = %v", sections)
	}
}

func TestRestartRequired(t *testing.T) {
	got := RestartRequired([]string{"http", "logging", "notifier", "storage"})
	if !reflect.DeepEqual(got, []string{"http", "storage"}) {
		t.Fatalf("got %v", got)
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", 3); err != nil || d != 3 {
		t.Fatalf("default = %v, %v", d, err)
	}
	if _, err := ParseDurationField("lifecycle.sweep_interval", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if _, err := ParseDurationField("lifecycle.sweep_interval", "soon"); err == nil || !strings.Contains(err.Error(), "lifecycle.sweep_interval") {
		t.Fatalf("err = %v", err)
	}
}
