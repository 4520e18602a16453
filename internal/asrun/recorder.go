package asrun

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/playout-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playout-core/internal/playout"
)

// Mirror receives a copy of every newly stored event as a time series point.
// *influxdb.Client implements it.
type Mirror interface {
	WriteAsRun(p influxdb.AsRunPoint)
	WriteTake(studioID, rundownID, partID string, latency time.Duration, at time.Time)
}

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Recorder implements playout.AsRunRecorder.
type Recorder struct {
	repo   Repository
	mirror Mirror
	logger Logger
}

var _ playout.AsRunRecorder = (*Recorder)(nil)

// NewRecorder creates a recorder. mirror and logger may be nil.
func NewRecorder(repo Repository, mirror Mirror, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, mirror: mirror, logger: logger}
}

// RecordEvent stores an as-run event. Duplicates are dropped silently and
// are not mirrored again.
func (r *Recorder) RecordEvent(ctx context.Context, pe playout.AsRunEvent) error {
	ev := &Event{
		StudioID:        pe.StudioID,
		RundownID:       pe.RundownID,
		SegmentID:       pe.SegmentID,
		PartInstanceID:  pe.PartInstanceID,
		PieceInstanceID: pe.PieceInstanceID,
		Content:         pe.Content,
		Content2:        pe.Content2,
		Rehearsal:       pe.Rehearsal,
		Timestamp:       pe.Timestamp,
	}
	inserted, err := r.repo.Insert(ctx, ev)
	if err != nil {
		return fmt.Errorf("recording %s %s: %w", ev.Content2, ev.Content, err)
	}
	if !inserted {
		r.logger.Debug("duplicate as-run event ignored", "id", ev.ID, "rundown_id", ev.RundownID)
		return nil
	}

	if r.mirror != nil {
		r.mirror.WriteAsRun(influxdb.AsRunPoint{
			StudioID:        ev.StudioID,
			RundownID:       ev.RundownID,
			PartInstanceID:  ev.PartInstanceID,
			PieceInstanceID: ev.PieceInstanceID,
			Content:         ev.Content,
			Scope:           ev.Content2,
			Rehearsal:       ev.Rehearsal,
			Timestamp:       time.UnixMilli(ev.Timestamp),
		})
	}
	return nil
}

// RecordTake mirrors the take latency. Takes are not stored in SQLite; the
// part's startedPlayback event is the durable record.
func (r *Recorder) RecordTake(_ context.Context, ev playout.TakeEvent) error {
	if r.mirror == nil {
		return nil
	}
	latency := time.Duration(ev.TakeDone-ev.Take) * time.Millisecond
	if latency < 0 {
		r.logger.Warn("take finished before it started", "rundown_id", ev.RundownID, "take", ev.Take, "take_done", ev.TakeDone)
		latency = 0
	}
	r.mirror.WriteTake(ev.StudioID, ev.RundownID, ev.PartID, latency, time.UnixMilli(ev.TakeDone))
	return nil
}
