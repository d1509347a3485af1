package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Session lifecycle events
	LogSessionStarted(ctx context.Context, sessionID, userID, machineID string) error
	LogSessionCompleted(ctx context.Context, sessionID string, steps int, duration time.Duration) error
	LogSessionEscalated(ctx context.Context, sessionID, reason string) error

	// Turn events
	LogStepIssued(ctx context.Context, sessionID string, stepNumber int, source string) error
	LogFeedbackReceived(ctx context.Context, sessionID string, stepNumber int, outcome string) error

	// Learning and fallback events
	LogEffectivenessUpdated(ctx context.Context, category, model string, succeeded bool) error
	LogGatewayFallback(ctx context.Context, sessionID string, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit trail is append-only and always written at INFO.
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(auditCore),
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogSessionStarted logs when a troubleshooting session starts
func (l *auditLogger) LogSessionStarted(ctx context.Context, sessionID, userID, machineID string) error {
	event := NewEvent(EventSessionStarted).
		WithCorrelationID(sessionID).
		WithUser(userID).
		WithSession(sessionID, machineID).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Session %s started for machine %s", sessionID, machineID))

	return l.Log(ctx, event)
}

// LogSessionCompleted logs when a session ends with a worked outcome
func (l *auditLogger) LogSessionCompleted(ctx context.Context, sessionID string, steps int, duration time.Duration) error {
	event := NewEvent(EventSessionCompleted).
		WithCorrelationID(sessionID).
		WithSession(sessionID, "").
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("steps", steps).
		WithDescription(fmt.Sprintf("Session %s completed after %d steps", sessionID, steps))

	return l.Log(ctx, event)
}

// LogSessionEscalated logs when a session is handed to a human expert
func (l *auditLogger) LogSessionEscalated(ctx context.Context, sessionID, reason string) error {
	event := NewEvent(EventSessionEscalated).
		WithCorrelationID(sessionID).
		WithSession(sessionID, "").
		WithResult(ResultSuccess).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Session %s escalated: %s", sessionID, reason))

	return l.Log(ctx, event)
}

// LogStepIssued logs every instruction handed to the technician
func (l *auditLogger) LogStepIssued(ctx context.Context, sessionID string, stepNumber int, source string) error {
	event := NewEvent(EventStepIssued).
		WithCorrelationID(sessionID).
		WithSession(sessionID, "").
		WithResult(ResultSuccess).
		WithMetadata("step_number", stepNumber).
		WithMetadata("source", source).
		WithDescription(fmt.Sprintf("Step %d issued for session %s (%s)", stepNumber, sessionID, source))

	return l.Log(ctx, event)
}

// LogFeedbackReceived logs each classified feedback turn
func (l *auditLogger) LogFeedbackReceived(ctx context.Context, sessionID string, stepNumber int, outcome string) error {
	event := NewEvent(EventFeedbackReceived).
		WithCorrelationID(sessionID).
		WithSession(sessionID, "").
		WithResult(ResultSuccess).
		WithMetadata("step_number", stepNumber).
		WithMetadata("outcome", outcome).
		WithDescription(fmt.Sprintf("Feedback on step %d of session %s: %s", stepNumber, sessionID, outcome))

	return l.Log(ctx, event)
}

// LogEffectivenessUpdated logs an effectiveness statistics update
func (l *auditLogger) LogEffectivenessUpdated(ctx context.Context, category, model string, succeeded bool) error {
	event := NewEvent(EventEffectivenessUpdated).
		WithResult(ResultSuccess).
		WithMetadata("category", category).
		WithMetadata("machine_model", model).
		WithMetadata("succeeded", succeeded).
		WithDescription(fmt.Sprintf("Effectiveness updated for %s/%s", category, model))

	return l.Log(ctx, event)
}

// LogGatewayFallback logs when generation failed and a fallback was used
func (l *auditLogger) LogGatewayFallback(ctx context.Context, sessionID string, err error) error {
	event := NewEvent(EventGatewayFallback).
		WithCorrelationID(sessionID).
		WithSession(sessionID, "").
		WithError(err).
		WithDescription(fmt.Sprintf("Gateway fallback used for session %s", sessionID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()

	return l.Sync()
}
