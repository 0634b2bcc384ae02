package runtime

import platformlog "github.com/corewind/durable-orchestrator/internal/platform/logger"

// replayGate reports whether the orchestration context is still replaying
// already-completed history at the moment a log call is made.
type replayGate func() bool

// ReplaySafeLogger drops log emissions made while the context is replaying
// history it has already seen, and passes through emissions made once
// replay has caught up to the watermark (§4.2.5, §9 "Replay-safe logging").
// It is implementable as a monotone counter incremented on each matched
// history entry; here that counter lives on the OrchestrationContext and
// this type only asks it whether it's still behind.
type ReplaySafeLogger struct {
	base      *platformlog.Logger
	replaying replayGate
}

func newReplaySafeLogger(base *platformlog.Logger, gate replayGate) *ReplaySafeLogger {
	return &ReplaySafeLogger{base: base, replaying: gate}
}

func (l *ReplaySafeLogger) Debug(msg string, kv ...interface{}) {
	if l.drop() {
		return
	}
	l.base.Debug(msg, kv...)
}

func (l *ReplaySafeLogger) Info(msg string, kv ...interface{}) {
	if l.drop() {
		return
	}
	l.base.Info(msg, kv...)
}

func (l *ReplaySafeLogger) Warn(msg string, kv ...interface{}) {
	if l.drop() {
		return
	}
	l.base.Warn(msg, kv...)
}

func (l *ReplaySafeLogger) Error(msg string, kv ...interface{}) {
	if l.drop() {
		return
	}
	l.base.Error(msg, kv...)
}

func (l *ReplaySafeLogger) With(kv ...interface{}) *ReplaySafeLogger {
	return &ReplaySafeLogger{base: l.base.With(kv...), replaying: l.replaying}
}

func (l *ReplaySafeLogger) drop() bool {
	return l == nil || l.base == nil || (l.replaying != nil && l.replaying())
}
