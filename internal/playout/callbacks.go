package playout

import (
	"context"
	"fmt"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/timeline"
)

// OnPartPlaybackStarted handles the gateway report that a part instance
// went on air at ts. Repeated reports for the same instance are ignored.
//
// A report for the next instance is an auto-next: the engine advances as if
// the part had been taken. A report for any other instance is logged and the
// instance becomes current.
func (e *Engine) OnPartPlaybackStarted(ctx context.Context, rundownID, partInstanceID string, ts int64) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		rd := d.rundown
		pi := d.instance(partInstanceID)
		if pi == nil {
			return fmt.Errorf("%w: part instance %q in rundown %q", ErrNotFound, partInstanceID, rundownID)
		}
		if pi.Timings.StartedPlayback != nil {
			return nil
		}
		if err := requireActive(rd); err != nil {
			return err
		}
		playing := *pi

		renext := false
		switch partInstanceID {
		case rd.CurrentPartInstanceID:
			if prev := d.previous(); prev != nil && prev.Timings.Duration == nil {
				if err := e.stopPart(ctx, d, *prev, ts); err != nil {
					return err
				}
			}
			e.markRundownStarted(ctx, rd, ts)

		case rd.NextPartInstanceID:
			if cur := d.current(); cur != nil {
				old := *cur
				if old.Timings.TakeOut == nil {
					old.Timings.TakeOut = rundown.Int64(ts)
				}
				if err := e.stopPart(ctx, d, old, ts); err != nil {
					return err
				}
			}
			e.markRundownStarted(ctx, rd, ts)
			rd.PreviousPartInstanceID = rd.CurrentPartInstanceID
			rd.CurrentPartInstanceID = playing.ID
			rd.NextPartInstanceID = ""
			rd.NextPartManual = false
			rd.NextTimeOffset = nil
			rd.HoldState = rundown.HoldStateNone
			if playing.Timings.Take == nil {
				playing.Timings.Take = rundown.Int64(ts)
			}
			if playing.Timings.PlayOffset == nil {
				playing.Timings.PlayOffset = rundown.Int64(0)
			}
			renext = true

		default:
			e.logger.Error("unexpected part started playback",
				"rundown_id", rd.ID,
				"part_instance_id", partInstanceID,
				"current_part_instance_id", rd.CurrentPartInstanceID,
				"next_part_instance_id", rd.NextPartInstanceID,
			)
			e.markRundownStarted(ctx, rd, ts)
			if rd.NextPartInstanceID == playing.ID {
				rd.NextPartInstanceID = ""
			}
			rd.PreviousPartInstanceID = ""
			rd.CurrentPartInstanceID = playing.ID
			if playing.Timings.Take == nil {
				playing.Timings.Take = rundown.Int64(ts)
			}
			renext = true
		}

		playing.Timings.StartedPlayback = rundown.Int64(ts)
		if err := e.savePartInstance(ctx, d, &playing); err != nil {
			return err
		}
		if err := e.saveRundown(ctx, rd); err != nil {
			return err
		}

		if renext {
			var after *rundown.Part
			if p := d.partAfterInstance(&playing); p != nil {
				cp := *p
				after = &cp
			}
			if err := e.setNextPart(ctx, d, after, false, nil); err != nil {
				return err
			}
		}

		e.recordAsRun(ctx, rd, AsRunEvent{
			SegmentID:      playing.SegmentID,
			PartInstanceID: playing.ID,
			Content:        AsRunStartedPlayback,
			Content2:       AsRunScopePart,
			Timestamp:      ts,
		})
		if !renext {
			e.publish(ctx, d)
			return nil
		}
		return e.afterTake(ctx, d, playing)
	})
}

// OnPartPlaybackStopped handles the gateway report that a part instance
// went off air at ts.
func (e *Engine) OnPartPlaybackStopped(ctx context.Context, rundownID, partInstanceID string, ts int64) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		pi := d.instance(partInstanceID)
		if pi == nil {
			return fmt.Errorf("%w: part instance %q in rundown %q", ErrNotFound, partInstanceID, rundownID)
		}
		if !pi.IsPlaying() {
			return nil
		}
		return e.stopPart(ctx, d, *pi, ts)
	})
}

// stopPart stamps the end of playback on a part that started.
func (e *Engine) stopPart(ctx context.Context, d *playoutData, pi rundown.PartInstance, ts int64) error {
	if pi.Timings.StartedPlayback == nil {
		if pi.Timings.TakeOut != nil {
			return e.savePartInstance(ctx, d, &pi)
		}
		return nil
	}
	if pi.Timings.Duration == nil {
		pi.Timings.Duration = rundown.Int64(ts - *pi.Timings.StartedPlayback)
	}
	if pi.Timings.StoppedPlayback == nil {
		pi.Timings.StoppedPlayback = rundown.Int64(ts)
	}
	if err := e.savePartInstance(ctx, d, &pi); err != nil {
		return err
	}
	e.recordAsRun(ctx, d.rundown, AsRunEvent{
		SegmentID:      pi.SegmentID,
		PartInstanceID: pi.ID,
		Content:        AsRunStoppedPlayback,
		Content2:       AsRunScopePart,
		Timestamp:      ts,
	})
	return nil
}

// markRundownStarted stamps the rundown's first playback. The caller saves.
func (e *Engine) markRundownStarted(ctx context.Context, rd *rundown.Rundown, ts int64) {
	if rd.StartedPlayback != nil {
		return
	}
	rd.StartedPlayback = rundown.Int64(ts)
	e.recordAsRun(ctx, rd, AsRunEvent{
		Content:   AsRunStartedPlayback,
		Content2:  AsRunScopeRundown,
		Timestamp: ts,
	})
}

// OnPiecePlaybackStarted handles the gateway report that a piece went on
// air. A piece that was scheduled "now" is pinned to the reported offset
// within its part.
func (e *Engine) OnPiecePlaybackStarted(ctx context.Context, rundownID, pieceInstanceID string, ts int64) error {
	return e.updatePiecePlayback(ctx, rundownID, pieceInstanceID, ts, func(p *rundown.PieceInstance, part *rundown.PartInstance) (string, bool) {
		if p.Timings.StartedPlayback != nil {
			return "", false
		}
		p.Timings.StartedPlayback = rundown.Int64(ts)
		if p.Piece.Enable.Start.IsNow() && part != nil && part.Timings.StartedPlayback != nil {
			p.Piece.Enable.Start = timeline.At(max(0, ts-*part.Timings.StartedPlayback))
		}
		return AsRunStartedPlayback, true
	})
}

// OnPiecePlaybackStopped handles the gateway report that a piece went off air.
func (e *Engine) OnPiecePlaybackStopped(ctx context.Context, rundownID, pieceInstanceID string, ts int64) error {
	return e.updatePiecePlayback(ctx, rundownID, pieceInstanceID, ts, func(p *rundown.PieceInstance, _ *rundown.PartInstance) (string, bool) {
		if !p.IsPlaying() {
			return "", false
		}
		p.Timings.StoppedPlayback = rundown.Int64(ts)
		return AsRunStoppedPlayback, true
	})
}

func (e *Engine) updatePiecePlayback(ctx context.Context, rundownID, pieceInstanceID string, ts int64, apply func(p *rundown.PieceInstance, part *rundown.PartInstance) (string, bool)) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		p, err := e.repo.GetPieceInstance(ctx, pieceInstanceID)
		if err != nil {
			return storeErr(err, "piece instance %q", pieceInstanceID)
		}
		if p.RundownID != rundownID {
			return fmt.Errorf("%w: piece instance %q in rundown %q", ErrNotFound, pieceInstanceID, rundownID)
		}
		part := d.instance(p.PartInstanceID)
		content, changed := apply(p, part)
		if !changed {
			return nil
		}
		if err := e.repo.SavePieceInstance(ctx, p); err != nil {
			return storeErr(err, "saving piece instance %q", p.ID)
		}
		segmentID := ""
		if part != nil {
			segmentID = part.SegmentID
		}
		e.recordAsRun(ctx, d.rundown, AsRunEvent{
			SegmentID:       segmentID,
			PartInstanceID:  p.PartInstanceID,
			PieceInstanceID: p.ID,
			Content:         content,
			Content2:        AsRunScopePiece,
			Timestamp:       ts,
		})
		return nil
	})
}
