package playout

import (
	"context"
	"encoding/json"

	"github.com/nerrad567/playout-core/internal/rundown"
)

// PartEventContext is handed to blueprint hooks around a take.
type PartEventContext struct {
	Rundown      rundown.Rundown
	PartInstance rundown.PartInstance
}

// Blueprint is the show-style plugin the engine calls at fixed points.
// Hook errors and panics are logged and never abort a committed take.
type Blueprint interface {
	OnPreTake(ctx context.Context, ev PartEventContext) error
	OnPostTake(ctx context.Context, ev PartEventContext) error
	OnRundownFirstTake(ctx context.Context, ev PartEventContext) error

	// GetEndStateForPart returns opaque state carried onto the next part.
	GetEndStateForPart(ctx context.Context, rd rundown.Rundown, previousEndState json.RawMessage, resolved []rundown.PieceInstance, now int64) (json.RawMessage, error)
}

// NoopBlueprint implements Blueprint with hooks that do nothing.
type NoopBlueprint struct{}

func (NoopBlueprint) OnPreTake(context.Context, PartEventContext) error          { return nil }
func (NoopBlueprint) OnPostTake(context.Context, PartEventContext) error         { return nil }
func (NoopBlueprint) OnRundownFirstTake(context.Context, PartEventContext) error { return nil }

func (NoopBlueprint) GetEndStateForPart(context.Context, rundown.Rundown, json.RawMessage, []rundown.PieceInstance, int64) (json.RawMessage, error) {
	return nil, nil
}

// Publisher receives a snapshot after every state change. Publishing runs
// after the rundown lock is released.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap Snapshot) error
}

// Notifier is told when a part that asked for it goes on air.
type Notifier interface {
	NotifyCurrentPart(ctx context.Context, rd rundown.Rundown, pi rundown.PartInstance) error
}

// As-run event content values.
const (
	AsRunStartedPlayback = "startedPlayback"
	AsRunStoppedPlayback = "stoppedPlayback"

	AsRunScopeRundown = "rundown"
	AsRunScopePart    = "part"
	AsRunScopePiece   = "piece"
)

// AsRunEvent is one entry of the as-run log.
type AsRunEvent struct {
	StudioID        string
	RundownID       string
	SegmentID       string
	PartInstanceID  string
	PieceInstanceID string
	Content         string
	Content2        string
	Rehearsal       bool
	Timestamp       int64
}

// TakeEvent describes a completed take.
type TakeEvent struct {
	StudioID       string
	RundownID      string
	PartInstanceID string
	PartID         string
	Take           int64
	TakeDone       int64
}

// AsRunRecorder persists as-run history. Failures are logged only.
type AsRunRecorder interface {
	RecordEvent(ctx context.Context, ev AsRunEvent) error
	RecordTake(ctx context.Context, ev TakeEvent) error
}
