package playout

import (
	"context"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// InstanceSnapshot is a part instance with its resolved pieces.
type InstanceSnapshot struct {
	rundown.PartInstance
	Pieces []rundown.PieceInstance `json:"pieces"`
}

// Snapshot is the published playout state of a rundown. Generation grows by
// one with every publication, so consumers can drop stale snapshots.
type Snapshot struct {
	RundownID  string `json:"rundown_id"`
	StudioID   string `json:"studio_id"`
	Generation uint64 `json:"generation"`

	Active    bool   `json:"active"`
	Rehearsal bool   `json:"rehearsal,omitempty"`
	HoldState string `json:"hold_state"`

	Previous *InstanceSnapshot `json:"previous,omitempty"`
	Current  *InstanceSnapshot `json:"current,omitempty"`
	Next     *InstanceSnapshot `json:"next,omitempty"`

	PublishedAt int64 `json:"published_at"`
}

func (e *Engine) buildSnapshot(ctx context.Context, d *playoutData) Snapshot {
	rd := d.rundown
	snap := Snapshot{
		RundownID: rd.ID,
		StudioID:  rd.StudioID,
		Active:    rd.Active,
		Rehearsal: rd.Rehearsal,
		HoldState: rd.HoldState.String(),
	}
	build := func(pi *rundown.PartInstance) *InstanceSnapshot {
		if pi == nil {
			return nil
		}
		pieces, err := e.piecesOf(ctx, *pi)
		if err != nil {
			e.logger.Error("loading pieces for snapshot failed", "rundown_id", rd.ID, "part_instance_id", pi.ID, "error", err)
			return &InstanceSnapshot{PartInstance: *pi}
		}
		return &InstanceSnapshot{PartInstance: *pi, Pieces: e.resolveActiveWindow(*pi, pieces)}
	}
	snap.Previous = build(d.previous())
	snap.Current = build(d.current())
	snap.Next = build(d.next())
	snap.PublishedAt = e.clock.Now()
	return snap
}

// publish caches a fresh snapshot and hands it to every publisher once the
// lock is released.
func (e *Engine) publish(ctx context.Context, d *playoutData) {
	snap := e.buildSnapshot(ctx, d)

	e.mu.Lock()
	e.generations[snap.RundownID]++
	snap.Generation = e.generations[snap.RundownID]
	e.snapshots[snap.RundownID] = snap
	e.mu.Unlock()

	for _, p := range e.publishers {
		e.guard.Defer(ctx, func() {
			if err := p.PublishSnapshot(context.Background(), snap); err != nil {
				e.logger.Error("publishing snapshot failed", "rundown_id", snap.RundownID, "generation", snap.Generation, "error", err)
			}
		})
	}
}

// Snapshot returns the last published snapshot of a rundown, building one
// when nothing was published yet.
func (e *Engine) Snapshot(ctx context.Context, rundownID string) (Snapshot, error) {
	e.mu.Lock()
	snap, ok := e.snapshots[rundownID]
	e.mu.Unlock()
	if ok {
		return snap, nil
	}
	err := e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		snap = e.buildSnapshot(ctx, d)
		e.mu.Lock()
		snap.Generation = e.generations[rundownID]
		e.mu.Unlock()
		return nil
	})
	return snap, err
}
