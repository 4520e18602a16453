package playout

import (
	"context"
	"fmt"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// Activate puts a rundown on air. Only one rundown per studio may be active.
// When nothing is current or next, the first playable part is set as next.
func (e *Engine) Activate(ctx context.Context, rundownID string, rehearsal bool) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		if err := e.activate(ctx, d, rehearsal); err != nil {
			return err
		}
		e.publish(ctx, d)
		return nil
	})
}

func (e *Engine) activate(ctx context.Context, d *playoutData, rehearsal bool) error {
	rd := d.rundown
	all, err := e.repo.ListRundowns(ctx)
	if err != nil {
		return storeErr(err, "listing rundowns")
	}
	for _, other := range all {
		if other.ID != rd.ID && other.StudioID == rd.StudioID && other.Active {
			return fmt.Errorf("%w: rundown %q is already active in studio %q", ErrConflict, other.ID, rd.StudioID)
		}
	}

	rd.Active = true
	rd.Rehearsal = rehearsal
	if err := e.saveRundown(ctx, rd); err != nil {
		return err
	}
	e.logger.Info("rundown activated", "rundown_id", rd.ID, "studio_id", rd.StudioID, "rehearsal", rehearsal)

	if rd.CurrentPartInstanceID == "" && rd.NextPartInstanceID == "" {
		if first := d.partAfterInstance(nil); first != nil {
			part := *first
			return e.setNextPart(ctx, d, &part, false, nil)
		}
	}
	return nil
}

// Deactivate takes a rundown off air. The on-air part is stopped and an
// un-taken next instance is discarded.
func (e *Engine) Deactivate(ctx context.Context, rundownID string) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		rd := d.rundown
		if !rd.Active {
			return nil
		}
		now := e.clock.Now()
		if cur := d.current(); cur != nil && cur.IsPlaying() {
			if err := e.stopPart(ctx, d, *cur, now); err != nil {
				return err
			}
		}
		if nx := d.next(); nx != nil && !nx.IsTaken() {
			if err := e.discardInstance(ctx, d, nx.ID); err != nil {
				return err
			}
		}
		rd.Active = false
		rd.PreviousPartInstanceID = ""
		rd.CurrentPartInstanceID = ""
		rd.NextPartInstanceID = ""
		rd.NextPartManual = false
		rd.NextTimeOffset = nil
		rd.HoldState = rundown.HoldStateNone
		if err := e.saveRundown(ctx, rd); err != nil {
			return err
		}
		e.logger.Info("rundown deactivated", "rundown_id", rd.ID)
		e.publish(ctx, d)
		return nil
	})
}

// Reset discards all playback history of a rundown. An active rundown may
// only be reset in rehearsal.
func (e *Engine) Reset(ctx context.Context, rundownID string) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		if d.rundown.Active && !d.rundown.Rehearsal {
			return fmt.Errorf("%w: rundown %q is on air", ErrInvalidState, rundownID)
		}
		if err := e.reset(ctx, d); err != nil {
			return err
		}
		e.publish(ctx, d)
		return nil
	})
}

// ResetAndActivate resets a rundown and activates it in one locked step.
func (e *Engine) ResetAndActivate(ctx context.Context, rundownID string, rehearsal bool) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		if d.rundown.Active && !d.rundown.Rehearsal {
			return fmt.Errorf("%w: rundown %q is on air", ErrInvalidState, rundownID)
		}
		if err := e.reset(ctx, d); err != nil {
			return err
		}
		if err := e.activate(ctx, d, rehearsal); err != nil {
			return err
		}
		e.publish(ctx, d)
		return nil
	})
}

func (e *Engine) reset(ctx context.Context, d *playoutData) error {
	rd := d.rundown

	for _, p := range d.parts {
		if p.DynamicallyInserted {
			if err := e.repo.DeletePart(ctx, p.ID); err != nil {
				return storeErr(err, "removing queued part %q", p.ID)
			}
		}
	}
	pieces, err := e.repo.ListPieces(ctx, rd.ID)
	if err != nil {
		return storeErr(err, "listing pieces of %q", rd.ID)
	}
	for _, p := range pieces {
		switch {
		case p.DynamicallyInserted:
			if err := e.repo.DeletePiece(ctx, p.ID); err != nil {
				return storeErr(err, "removing dynamic piece %q", p.ID)
			}
		case p.OriginalLifespan != "":
			p.Lifespan = p.OriginalLifespan
			p.OriginalLifespan = ""
			if err := e.repo.SavePiece(ctx, &p); err != nil {
				return storeErr(err, "restoring piece %q", p.ID)
			}
		}
	}
	if err := e.reloadParts(ctx, d); err != nil {
		return err
	}

	ids := make([]string, 0, len(d.instances))
	for i := range d.instances {
		ids = append(ids, d.instances[i].ID)
	}
	if len(ids) > 0 {
		stored, err := e.repo.ListPieceInstances(ctx, ids...)
		if err != nil {
			return storeErr(err, "listing piece instances of %q", rd.ID)
		}
		for i := range stored {
			if stored[i].Reset {
				continue
			}
			stored[i].Reset = true
			if err := e.repo.SavePieceInstance(ctx, &stored[i]); err != nil {
				return storeErr(err, "resetting piece instance %q", stored[i].ID)
			}
		}
		for i := range d.instances {
			pi := d.instances[i]
			pi.Reset = true
			if err := e.repo.SavePartInstance(ctx, &pi); err != nil {
				return storeErr(err, "resetting part instance %q", pi.ID)
			}
		}
	}
	d.instances = nil

	rd.PreviousPartInstanceID = ""
	rd.CurrentPartInstanceID = ""
	rd.NextPartInstanceID = ""
	rd.NextPartManual = false
	rd.NextTimeOffset = nil
	rd.HoldState = rundown.HoldStateNone
	rd.StartedPlayback = nil
	if err := e.saveRundown(ctx, rd); err != nil {
		return err
	}

	if _, err := e.propagate(ctx, d, nil, true); err != nil {
		return err
	}
	e.logger.Info("rundown reset", "rundown_id", rd.ID, "instances", len(ids))

	if rd.Active {
		if first := d.partAfterInstance(nil); first != nil {
			part := *first
			return e.setNextPart(ctx, d, &part, false, nil)
		}
	}
	return nil
}
