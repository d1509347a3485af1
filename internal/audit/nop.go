package audit

import (
	"context"
	"time"
)

// nopLogger discards all events. Used in tests and as a safe default.
type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogSessionStarted(context.Context, string, string, string) error {
	return nil
}
func (nopLogger) LogSessionCompleted(context.Context, string, int, time.Duration) error {
	return nil
}
func (nopLogger) LogSessionEscalated(context.Context, string, string) error { return nil }
func (nopLogger) LogStepIssued(context.Context, string, int, string) error  { return nil }
func (nopLogger) LogFeedbackReceived(context.Context, string, int, string) error {
	return nil
}
func (nopLogger) LogEffectivenessUpdated(context.Context, string, string, bool) error {
	return nil
}
func (nopLogger) LogGatewayFallback(context.Context, string, error) error { return nil }
func (nopLogger) Sync() error                                             { return nil }
func (nopLogger) Close() error                                            { return nil }
