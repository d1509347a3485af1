package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	tmpDir := t.TempDir()

	config := &Config{
		AuditLogPath: filepath.Join(tmpDir, "audit.log"),
		AppLogPath:   filepath.Join(tmpDir, "app.log"),
		MaxSize:      10,
		MaxBackups:   3,
		MaxAge:       7,
		Compress:     false,
		LogLevel:     "info",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, config.AuditLogPath
}

func TestNewLoggerWithInvalidLevel(t *testing.T) {
	tmpDir := t.TempDir()

	config := &Config{
		AuditLogPath: filepath.Join(tmpDir, "audit.log"),
		AppLogPath:   filepath.Join(tmpDir, "app.log"),
		LogLevel:     "invalid",
	}

	_, err := NewLogger(config)
	if err == nil {
		t.Fatal("Expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("Expected 'invalid log level' error, got: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AuditLogPath != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.AuditLogPath)
	}
	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}
	if config.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got %s", config.LogLevel)
	}
}

func TestSessionLifecycleEvents(t *testing.T) {
	logger, auditPath := newTestLogger(t)
	ctx := context.Background()

	if err := logger.LogSessionStarted(ctx, "sess-1", "tech-7", "mach-42"); err != nil {
		t.Fatalf("LogSessionStarted: %v", err)
	}
	if err := logger.LogStepIssued(ctx, "sess-1", 1, "generic-fallback"); err != nil {
		t.Fatalf("LogStepIssued: %v", err)
	}
	if err := logger.LogFeedbackReceived(ctx, "sess-1", 1, "worked"); err != nil {
		t.Fatalf("LogFeedbackReceived: %v", err)
	}
	if err := logger.LogSessionCompleted(ctx, "sess-1", 1, 3*time.Minute); err != nil {
		t.Fatalf("LogSessionCompleted: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		string(EventSessionStarted),
		string(EventStepIssued),
		string(EventFeedbackReceived),
		string(EventSessionCompleted),
	} {
		if !strings.Contains(content, want) {
			t.Errorf("audit log missing event %s", want)
		}
	}
}

func TestEventBuilder(t *testing.T) {
	event := NewEvent(EventSessionEscalated).
		WithCorrelationID("sess-9").
		WithUser("tech-1").
		WithSession("sess-9", "mach-5").
		WithMetadata("reason", "threshold").
		WithResult(ResultSuccess)

	if event.CorrelationID != "sess-9" {
		t.Errorf("Expected correlation ID sess-9, got %s", event.CorrelationID)
	}
	if event.SessionID != "sess-9" || event.MachineID != "mach-5" {
		t.Errorf("session fields not set: %+v", event)
	}
	if event.Metadata["reason"] != "threshold" {
		t.Errorf("metadata not set: %+v", event.Metadata)
	}

	// Events must serialize cleanly for the audit trail
	if _, err := json.Marshal(event); err != nil {
		t.Errorf("event should marshal: %v", err)
	}
}

func TestWithErrorMarksFailure(t *testing.T) {
	event := NewEvent(EventGatewayFallback).WithError(os.ErrDeadlineExceeded)
	if event.Result != ResultFailure {
		t.Errorf("Expected failure result, got %s", event.Result)
	}
	if event.Error == "" {
		t.Error("Expected error message to be recorded")
	}
}
