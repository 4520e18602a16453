package playout

import "time"

// Timing defaults.
const (
	// DefaultZeroStartEpoch is the offset, in milliseconds, that a piece
	// starting at 0 is moved to before ordering. Continuations of an infinite
	// chain are exempt so they stay gapless.
	DefaultZeroStartEpoch int64 = 100

	// DefaultNowEpoch is added to the elapsed part time when a piece starts
	// "now", covering the earliest moment playout can actually react.
	DefaultNowEpoch int64 = 100

	// DefaultIngestDebounce batches ingest-triggered recomputation per rundown.
	DefaultIngestDebounce = time.Second

	// DefaultNotifyDelay lets the gateway see a take before external systems
	// are told about the new current part.
	DefaultNotifyDelay = 40 * time.Millisecond
)

// TimingOptions tune the engine's timing heuristics.
type TimingOptions struct {
	ZeroStartEpoch int64
	NowEpoch       int64

	// InfiniteEarlyExit lets propagation stop at the first part where no
	// infinite is active, nothing was written and no continuation remains.
	// It is only consulted when propagation was not asked to run to the end.
	InfiniteEarlyExit bool

	IngestDebounce time.Duration
	NotifyDelay    time.Duration
}

// DefaultTimingOptions returns the production defaults.
func DefaultTimingOptions() TimingOptions {
	return TimingOptions{
		ZeroStartEpoch:    DefaultZeroStartEpoch,
		NowEpoch:          DefaultNowEpoch,
		InfiniteEarlyExit: true,
		IngestDebounce:    DefaultIngestDebounce,
		NotifyDelay:       DefaultNotifyDelay,
	}
}

// Clock supplies wall-clock time in Unix milliseconds.
type Clock interface {
	Now() int64
}

type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().UnixMilli() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
