package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"meetflow/internal/app"
)

func writeTestConfig(t *testing.T, schedules bool) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
logging:
  level: error
storage:
  driver: sqlite
  dsn: %s
queue:
  backend: memory
schedules:
  enabled: %t
  timezone: UTC
  weekly_digest: "monday 09:00"
providers:
  mail:
    base_url: http://127.0.0.1:1
    from: digest@meetflow.test
`, filepath.Join(dir, "meetflow.db"), schedules)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	path := writeTestConfig(t, true)
	out, err := runCLI(t, "--config", path, "config", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "is valid (3 recurring triggers)") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestMissingConfigFails(t *testing.T) {
	t.Parallel()
	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "schedules", "list")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected load config error, got %v", err)
	}
}

func TestSchedulesRegister(t *testing.T) {
	t.Parallel()
	out, err := runCLI(t, "--config", writeTestConfig(t, true), "schedules", "register")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(out, "Registered 3 recurring triggers") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSchedulesRegisterDisabled(t *testing.T) {
	t.Parallel()
	out, err := runCLI(t, "--config", writeTestConfig(t, false), "schedules", "register")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(out, "disabled") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSchedulesListJSONEmpty(t *testing.T) {
	t.Parallel()
	out, err := runCLI(t, "--config", writeTestConfig(t, true), "schedules", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty JSON list, got %q", out)
	}
}

func TestEnqueue(t *testing.T) {
	t.Parallel()
	path := writeTestConfig(t, false)

	out, err := runCLI(t, "--config", path, "enqueue", "webhooks", "deliver-webhook", "--payload", `{"event":"digest.sent"}`, "--job-id", "wh-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "Queued deliver-webhook on webhooks (id wh-1)") {
		t.Fatalf("unexpected output: %q", out)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown queue", []string{"enqueue", "nope", "job"}, "unknown queue"},
		{"bad payload", []string{"enqueue", "email", "send-email", "--payload", "{"}, "valid JSON"},
		{"negative delay", []string{"enqueue", "email", "send-email", "--delay", "-1s"}, "negative"},
		{"missing args", []string{"enqueue", "email"}, "accepts 2 arg(s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, append([]string{"--config", path}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestJobsHistoryRejectsState(t *testing.T) {
	t.Parallel()
	_, err := runCLI(t, "--config", writeTestConfig(t, false), "jobs", "history", "email", "--state", "waiting")
	if err == nil || !strings.Contains(err.Error(), "--state") {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestStopReasonFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sig  os.Signal
		want app.StopReason
	}{
		{syscall.SIGINT, app.StopSIGINT},
		{syscall.SIGTERM, app.StopSIGTERM},
		{syscall.SIGHUP, app.StopUnknown},
	}
	for _, tt := range tests {
		if got := stopReasonFor(tt.sig); got != tt.want {
			t.Fatalf("stopReasonFor(%v) = %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	t.Parallel()
	out := renderTable([]string{"Queue", "Name"}, [][]string{{"email"}}, nil)
	if !strings.Contains(out, "Queue") || !strings.Contains(out, "email") {
		t.Fatalf("unexpected table: %q", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatalf("expected empty table for no headers")
	}
}
