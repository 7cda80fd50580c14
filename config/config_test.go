package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BDNK1/sagaworker/steps"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sagaworker.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, set := os.LookupEnv("ORCHESTRATOR_ADDRESS"); !set && cfg.Orchestrator.Address != "http://localhost:8080" {
		t.Errorf("Expected default orchestrator address, got '%s'", cfg.Orchestrator.Address)
	}
	if cfg.Orchestrator.RequestTimeout != 10*time.Second {
		t.Errorf("Expected RequestTimeout=10s, got %v", cfg.Orchestrator.RequestTimeout)
	}
	if cfg.Ops.Address != ":8081" {
		t.Errorf("Expected ops address ':8081', got '%s'", cfg.Ops.Address)
	}
	if cfg.Ops.Disabled {
		t.Error("Expected ops endpoints enabled by default")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Expected log info/text, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Telemetry.ServiceName != "sagaworker" {
		t.Errorf("Expected service name 'sagaworker', got '%s'", cfg.Telemetry.ServiceName)
	}
	if cfg.Demo.ReviewDelay != 2*time.Second {
		t.Errorf("Expected ReviewDelay=2s, got %v", cfg.Demo.ReviewDelay)
	}
	if cfg.ShutdownGrace != 30*time.Second {
		t.Errorf("Expected ShutdownGrace=30s, got %v", cfg.ShutdownGrace)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  address: http://engine:8080
  report_retries: 5
ops:
  address: 127.0.0.1:9090
log:
  level: debug
  format: json
telemetry:
  endpoint: collector:4317
demo:
  review_delay: 250ms
shutdown_grace: 5s
workers:
  debit-funds:
    max_jobs: 10
    retry_budget: 1
  wait-manual-review:
    timeout: 30s
    skip_retry_when: 'failure.type == "timeout"'
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Orchestrator.Address != "http://engine:8080" {
		t.Errorf("Expected address 'http://engine:8080', got '%s'", cfg.Orchestrator.Address)
	}
	if cfg.Orchestrator.ReportRetries != 5 {
		t.Errorf("Expected ReportRetries=5, got %d", cfg.Orchestrator.ReportRetries)
	}
	if cfg.Ops.Address != "127.0.0.1:9090" {
		t.Errorf("Expected ops address '127.0.0.1:9090', got '%s'", cfg.Ops.Address)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Expected log debug/json, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("Expected telemetry endpoint 'collector:4317', got '%s'", cfg.Telemetry.Endpoint)
	}
	if cfg.Demo.ReviewDelay != 250*time.Millisecond {
		t.Errorf("Expected ReviewDelay=250ms, got %v", cfg.Demo.ReviewDelay)
	}
	if cfg.ShutdownGrace != 5*time.Second {
		t.Errorf("Expected ShutdownGrace=5s, got %v", cfg.ShutdownGrace)
	}

	workers, err := cfg.WorkerConfigs()
	if err != nil {
		t.Fatalf("WorkerConfigs failed: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("Expected 2 worker configs, got %d", len(workers))
	}

	debit := workers[steps.DebitFunds]
	if debit.MaxConcurrentJobs != 10 {
		t.Errorf("Expected max_jobs=10, got %d", debit.MaxConcurrentJobs)
	}
	if debit.RetryBudget == nil || *debit.RetryBudget != 1 {
		t.Errorf("Expected retry_budget=1, got %v", debit.RetryBudget)
	}
	if debit.InvocationTimeout != 2*time.Minute {
		t.Errorf("Expected default timeout 2m, got %v", debit.InvocationTimeout)
	}

	review := workers[steps.WaitManualReview]
	if review.InvocationTimeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", review.InvocationTimeout)
	}
	if review.SkipRetryWhen != `failure.type == "timeout"` {
		t.Errorf("Expected skip_retry_when to be kept, got '%s'", review.SkipRetryWhen)
	}
	if review.MaxConcurrentJobs != 5 {
		t.Errorf("Expected default max_jobs=5, got %d", review.MaxConcurrentJobs)
	}
}

func TestLoad_EnvironmentReferences(t *testing.T) {
	t.Setenv("ORCHESTRATOR_ADDRESS", "http://from-env:8080")
	t.Setenv("SAGAWORKER_DEBIT_JOBS", "3")

	path := writeConfig(t, `
log:
  level: ${SAGAWORKER_LOG_LEVEL:warn}
workers:
  debit-funds:
    max_jobs: ${SAGAWORKER_DEBIT_JOBS}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// the built-in default address still reads ORCHESTRATOR_ADDRESS
	if cfg.Orchestrator.Address != "http://from-env:8080" {
		t.Errorf("Expected address from environment, got '%s'", cfg.Orchestrator.Address)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level 'warn', got '%s'", cfg.Log.Level)
	}

	workers, err := cfg.WorkerConfigs()
	if err != nil {
		t.Fatalf("WorkerConfigs failed: %v", err)
	}
	if workers[steps.DebitFunds].MaxConcurrentJobs != 3 {
		t.Errorf("Expected max_jobs=3, got %d", workers[steps.DebitFunds].MaxConcurrentJobs)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown step type", "workers:\n  charge-card:\n    max_jobs: 2\n", "charge-card"},
		{"unknown step type names the rule", "workers:\n  charge-card:\n    max_jobs: 2\n", "step_type"},
		{"invalid log level", "log:\n  level: verbose\n", "Level"},
		{"invalid log format", "log:\n  format: xml\n", "Format"},
		{"invalid orchestrator address", "orchestrator:\n  address: engine\n", "Address"},
		{"invalid ops address", "ops:\n  address: localhost\n", "Address"},
		{"missing required variable", "orchestrator:\n  address: ${SAGAWORKER_DEFINITELY_UNSET}\n", "orchestrator.address"},
		{"bad duration", "shutdown_grace: soon\n", "shutdown_grace"},
		{"malformed yaml", "log: [level\n", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error to mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestWorkerConfigs_Invalid(t *testing.T) {
	path := writeConfig(t, "workers:\n  send-notice:\n    max_jobs: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	_, err = cfg.WorkerConfigs()
	if err == nil {
		t.Fatal("Expected error for max_jobs=0")
	}
	if !strings.Contains(err.Error(), "workers.send-notice") {
		t.Errorf("Expected error to name the step type, got: %v", err)
	}
}

func TestWorkerConfigs_UnknownKey(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantKey string
	}{
		{"misspelled max_jobs", "workers:\n  debit-funds:\n    max_job: 10\n", "max_job"},
		{"misspelled timeout", "workers:\n  wait-manual-review:\n    timout: 30s\n", "timout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			_, err = cfg.WorkerConfigs()
			if err == nil {
				t.Fatal("Expected error for unknown key, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("Expected error to mention %q, got: %v", tt.wantKey, err)
			}
		})
	}
}
