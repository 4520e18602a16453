package playout

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/timeline"
)

// Take puts the next part on air.
//
// A take during an active hold completes the hold instead. A take while the
// current part's in-transition is still running fails with
// ErrTransitionInProgress.
func (e *Engine) Take(ctx context.Context, rundownID string) error {
	now := e.clock.Now()
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		return e.take(ctx, d, now)
	})
}

func (e *Engine) take(ctx context.Context, d *playoutData, now int64) error {
	rd := d.rundown
	if err := requireActive(rd); err != nil {
		return err
	}
	if rd.NextPartInstanceID == "" {
		return fmt.Errorf("%w: rundown %q has no next part", ErrInvalidState, rd.ID)
	}

	var prev *rundown.PartInstance
	if cur := d.current(); cur != nil {
		cp := *cur
		prev = &cp
		if err := e.checkTransition(d, cp, now); err != nil {
			return err
		}
	}

	switch rd.HoldState {
	case rundown.HoldStateComplete:
		rd.HoldState = rundown.HoldStateNone
	case rundown.HoldStateActive:
		return e.completeHold(ctx, d)
	}

	nx := d.next()
	if nx == nil {
		return fmt.Errorf("%w: next part instance %q of rundown %q is missing", ErrInternal, rd.NextPartInstanceID, rd.ID)
	}
	taking := *nx
	firstTake := prev == nil && rd.StartedPlayback == nil

	if err := e.beforeTake(ctx, d, prev, taking, now); err != nil {
		return err
	}

	var prospective *rundown.Part
	if p := d.partAfterInstance(&taking); p != nil {
		cp := *p
		prospective = &cp
	}

	e.callHook("OnPreTake", func() error {
		return e.blueprint.OnPreTake(ctx, PartEventContext{Rundown: *rd, PartInstance: taking})
	})

	var endState []byte
	if prev != nil {
		pieces, err := e.piecesOf(ctx, *prev)
		if err != nil {
			return err
		}
		window := e.resolveActiveWindow(*prev, pieces)
		e.callHook("GetEndStateForPart", func() error {
			st, err := e.blueprint.GetEndStateForPart(ctx, *rd, prev.PreviousPartEndState, window, now)
			if err != nil {
				return err
			}
			endState = st
			return nil
		})
	}

	if rd.HoldState == rundown.HoldStatePending {
		if prev != nil && prev.Part.HoldMode == rundown.HoldModeFrom && taking.Part.HoldMode == rundown.HoldModeTo {
			rd.HoldState = rundown.HoldStateActive
		} else {
			rd.HoldState = rundown.HoldStateNone
		}
	}

	offset := int64(0)
	if rd.NextTimeOffset != nil {
		offset = *rd.NextTimeOffset
	}
	taking.Timings.Take = rundown.Int64(now)
	taking.Timings.PlayOffset = rundown.Int64(offset)
	taking.PreviousPartEndState = endState

	rd.PreviousPartInstanceID = rd.CurrentPartInstanceID
	rd.CurrentPartInstanceID = taking.ID
	rd.NextPartInstanceID = ""
	rd.NextPartManual = false
	rd.NextTimeOffset = nil
	rd.Modified = now

	if prev != nil {
		prev.Timings.TakeOut = rundown.Int64(now)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.repo.SavePartInstance(gctx, &taking) })
	if prev != nil {
		g.Go(func() error { return e.repo.SavePartInstance(gctx, prev) })
	}
	g.Go(func() error { return e.repo.SaveRundown(gctx, rd) })
	if err := g.Wait(); err != nil {
		return storeErr(err, "committing take of %q", taking.ID)
	}
	d.putInstance(taking)
	if prev != nil {
		d.putInstance(*prev)
	}

	e.logger.Info("part taken",
		"rundown_id", rd.ID,
		"part_instance_id", taking.ID,
		"part_id", taking.Part.ID,
		"hold_state", rd.HoldState.String(),
	)

	if err := e.setNextPart(ctx, d, prospective, false, nil); err != nil {
		return err
	}

	if rd.HoldState == rundown.HoldStateActive && prev != nil {
		if err := e.startHold(ctx, *prev, taking); err != nil {
			return err
		}
	}

	if err := e.afterTake(ctx, d, taking); err != nil {
		return err
	}

	e.deferPostTake(ctx, *rd, taking, firstTake)
	return nil
}

// checkTransition rejects a take while the current part's in-transition runs.
// The transition is timed from reported playback; a part the gateway has not
// started yet can be taken straight away.
func (e *Engine) checkTransition(d *playoutData, cur rundown.PartInstance, now int64) error {
	if cur.Part.TransitionDuration <= 0 {
		return nil
	}
	prev := d.previous()
	if prev == nil || prev.Part.DisableOutTransition {
		return nil
	}
	started := cur.Timings.StartedPlayback
	if started != nil && now < *started+cur.Part.TransitionDuration {
		return fmt.Errorf("%w: part instance %q until %d", ErrTransitionInProgress, cur.ID, *started+cur.Part.TransitionDuration)
	}
	return nil
}

// beforeTake carries the unplayed remainder of overflowing pieces into the
// part being taken when it directly follows the current part in its segment.
func (e *Engine) beforeTake(ctx context.Context, d *playoutData, cur *rundown.PartInstance, taking rundown.PartInstance, now int64) error {
	if cur == nil {
		return nil
	}
	idx := d.partIndex(cur.Part.ID)
	if idx < 0 || idx+1 >= len(d.parts) {
		return nil
	}
	adjacent := d.parts[idx+1]
	if adjacent.SegmentID != cur.Part.SegmentID || adjacent.ID != taking.Part.ID {
		return nil
	}

	src := instanceSource{repo: e.repo}
	pieces, err := src.list(ctx, *cur)
	if err != nil {
		return err
	}
	var batch writeBatch
	for _, p := range pieces {
		if !p.Piece.Overflows || p.Piece.PlayoutDuration != nil || p.UserDuration != nil {
			continue
		}
		dur, ok := p.Piece.Enable.Duration.Number()
		if !ok || dur <= 0 {
			continue
		}
		begin := now
		switch {
		case p.Timings.StartedPlayback != nil:
			begin = *p.Timings.StartedPlayback
		case cur.Timings.StartedPlayback != nil:
			begin = *cur.Timings.StartedPlayback
		}
		remaining := dur - (now - begin)
		if remaining <= 0 {
			continue
		}

		clone := p.Piece
		clone.ID = p.Piece.ID + "_" + shortID()
		clone.PartID = taking.Part.ID
		clone.Enable = timeline.Enable{Start: timeline.At(0), Duration: timeline.At(remaining)}
		clone.Overflows = false
		clone.InfiniteID = ""
		clone.ContinuesRefID = p.Piece.ID
		clone.DynamicallyInserted = true
		batch.save(src, src.wrap(clone, taking, p.ID))

		e.logger.Debug("overflowing piece carried into next part",
			"piece_id", p.Piece.ID, "part_instance_id", taking.ID, "remaining_ms", remaining)
	}
	if err := batch.flush(ctx); err != nil {
		return fmt.Errorf("%w: carrying overflow into %q: %w", ErrInternal, taking.ID, err)
	}
	return nil
}

// afterTake refreshes continuations from the new current part and publishes.
func (e *Engine) afterTake(ctx context.Context, d *playoutData, taken rundown.PartInstance) error {
	if err := e.propagateFromInstance(ctx, d, taken); err != nil {
		return err
	}
	e.publish(ctx, d)

	if taken.Part.ShouldNotifyCurrentPlayingPart && e.notifier != nil {
		rd := *d.rundown
		e.guard.Defer(ctx, func() {
			e.timers.Add(1)
			time.AfterFunc(e.opts.NotifyDelay, func() {
				defer e.timers.Done()
				if err := e.notifier.NotifyCurrentPart(context.Background(), rd, taken); err != nil {
					e.logger.Error("notifying current part failed",
						"rundown_id", rd.ID, "part_instance_id", taken.ID, "error", err)
				}
			})
		})
	}
	return nil
}

// deferPostTake runs once the lock is released: it stamps TakeDone, calls
// the post-take hooks and records the take.
func (e *Engine) deferPostTake(ctx context.Context, rd rundown.Rundown, taken rundown.PartInstance, firstTake bool) {
	takeDone := e.clock.Now()
	e.guard.Defer(ctx, func() {
		bg := context.Background()
		err := e.run(bg, rd.ID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
			pi := d.instance(taken.ID)
			if pi == nil || pi.Timings.TakeDone != nil {
				return nil
			}
			cp := *pi
			cp.Timings.TakeDone = rundown.Int64(takeDone)
			return e.savePartInstance(ctx, d, &cp)
		})
		if err != nil {
			e.logger.Error("stamping take done failed", "rundown_id", rd.ID, "part_instance_id", taken.ID, "error", err)
		}

		ev := PartEventContext{Rundown: rd, PartInstance: taken}
		if firstTake {
			e.callHook("OnRundownFirstTake", func() error { return e.blueprint.OnRundownFirstTake(bg, ev) })
		}
		e.callHook("OnPostTake", func() error { return e.blueprint.OnPostTake(bg, ev) })

		if e.asRun != nil {
			tev := TakeEvent{
				StudioID:       rd.StudioID,
				RundownID:      rd.ID,
				PartInstanceID: taken.ID,
				PartID:         taken.Part.ID,
				Take:           *taken.Timings.Take,
				TakeDone:       takeDone,
			}
			if err := e.asRun.RecordTake(bg, tev); err != nil {
				e.logger.Error("recording take failed", "rundown_id", rd.ID, "part_instance_id", taken.ID, "error", err)
			}
		}
	})
}
