package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BDNK1/sagaworker/config"
	"github.com/BDNK1/sagaworker/orchestrator/memory"
	"github.com/BDNK1/sagaworker/runtime"
)

func TestPrintPolicies(t *testing.T) {
	var out bytes.Buffer
	if err := printPolicies(&out); err != nil {
		t.Fatalf("printPolicies failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"transfer-to-merchant  0",
		"debit-funds",
		"refund-amount         never fails",
		"Decision plan:",
		"2nd antifraud check: REJECTED",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestPoliciesCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"policies"})
	defer rootCmd.SetArgs(nil)

	if err := Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out.String(), "send-notice") {
		t.Errorf("Expected send-notice in output, got:\n%s", out.String())
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Telemetry.Endpoint = "no-port"

	err = run(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("Expected error for invalid telemetry endpoint")
	}
}

func TestOpsServer(t *testing.T) {
	rt, err := runtime.New(memory.New(nil), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("runtime.New failed: %v", err)
	}

	server := newOpsServer(":0", rt)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, runtime.WorkersPath, nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}
