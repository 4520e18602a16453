package playout

import (
	"context"
	"fmt"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/timeline"
)

// StartAdLib inserts an ad-lib. Queued ad-libs become a new part after the
// given instance's part and are set as next; others start now in the
// current part. It returns the id of the created piece instance.
func (e *Engine) StartAdLib(ctx context.Context, rundownID, partInstanceID, adLibID string, queue bool) (string, error) {
	var out string
	err := e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		rd := d.rundown
		if err := requireActive(rd); err != nil {
			return err
		}
		if rd.HoldState == rundown.HoldStatePending || rd.HoldState == rundown.HoldStateActive {
			return fmt.Errorf("%w: ad-libs are blocked during a %s hold", ErrInvalidState, rd.HoldState)
		}
		ad, err := e.repo.GetAdLibPiece(ctx, adLibID)
		if err != nil {
			return storeErr(err, "ad-lib %q", adLibID)
		}
		if ad.RundownID != rundownID {
			return fmt.Errorf("%w: ad-lib %q in rundown %q", ErrNotFound, adLibID, rundownID)
		}
		if ad.Invalid {
			return fmt.Errorf("%w: ad-lib %q is invalid", ErrInvalidArgument, adLibID)
		}
		pi := d.instance(partInstanceID)
		if pi == nil {
			return fmt.Errorf("%w: part instance %q in rundown %q", ErrNotFound, partInstanceID, rundownID)
		}
		if !queue && partInstanceID != rd.CurrentPartInstanceID {
			return fmt.Errorf("%w: part instance %q is not on air", ErrInvalidState, partInstanceID)
		}

		if queue {
			out, err = e.queueAdLib(ctx, d, *pi, *ad)
		} else {
			out, err = e.insertAdLib(ctx, d, *pi, *ad)
		}
		if err != nil {
			return err
		}
		e.logger.Info("ad-lib started", "rundown_id", rd.ID, "adlib_id", ad.ID, "queued", queue, "piece_instance_id", out)
		e.publish(ctx, d)
		return nil
	})
	return out, err
}

// adLibPiece turns an ad-lib template into a piece of part.
func adLibPiece(ad rundown.AdLibPiece, partID string, start timeline.Expression) rundown.Piece {
	p := rundown.Piece{
		ID:              ad.ID + "_" + shortID(),
		RundownID:       ad.RundownID,
		PartID:          partID,
		Name:            ad.Name,
		SourceLayerID:   ad.SourceLayerID,
		OutputLayerID:   ad.OutputLayerID,
		Enable:          timeline.Enable{Start: start},
		Lifespan:        ad.Lifespan,
		PrerollDuration: ad.PrerollDuration,
		Content:         ad.Content,
	}
	if p.Lifespan == "" {
		p.Lifespan = rundown.LifespanNormal
	}
	if ad.ExpectedDuration > 0 {
		p.Enable.Duration = timeline.At(ad.ExpectedDuration)
	}
	return p
}

func (e *Engine) queueAdLib(ctx context.Context, d *playoutData, pi rundown.PartInstance, ad rundown.AdLibPiece) (string, error) {
	idx := d.partIndex(pi.Part.ID)
	if idx < 0 {
		return "", fmt.Errorf("%w: part %q of instance %q", ErrNotFound, pi.Part.ID, pi.ID)
	}
	after := d.parts[idx]
	rank := after.Rank + 1
	if idx+1 < len(d.parts) && d.parts[idx+1].SegmentID == after.SegmentID {
		rank = (after.Rank + d.parts[idx+1].Rank) / 2
	}

	part := rundown.Part{
		ID:                  newInstanceID() + "_part",
		RundownID:           d.rundown.ID,
		SegmentID:           after.SegmentID,
		Title:               ad.Name,
		Rank:                rank,
		ExpectedDuration:    ad.ExpectedDuration,
		DynamicallyInserted: true,
		AfterPart:           after.ID,
	}
	if err := e.repo.SavePart(ctx, &part); err != nil {
		return "", storeErr(err, "saving queued part %q", part.ID)
	}
	piece := adLibPiece(ad, part.ID, timeline.At(0))
	if err := e.repo.SavePiece(ctx, &piece); err != nil {
		return "", storeErr(err, "saving queued piece %q", piece.ID)
	}
	if err := e.reloadParts(ctx, d); err != nil {
		return "", err
	}
	if err := e.setNextPart(ctx, d, &part, false, nil); err != nil {
		return "", err
	}
	return rundown.PieceInstanceID(d.rundown.NextPartInstanceID, piece.ID), nil
}

func (e *Engine) insertAdLib(ctx context.Context, d *playoutData, pi rundown.PartInstance, ad rundown.AdLibPiece) (string, error) {
	piece := adLibPiece(ad, pi.Part.ID, timeline.Now)
	src := instanceSource{repo: e.repo}
	inst := src.wrap(piece, pi, "")
	inst.AdLibSourceID = ad.ID
	inst.DynamicallyInserted = true
	if err := src.save(ctx, &inst); err != nil {
		return "", err
	}
	if err := e.cropInfinitesOnLayer(ctx, pi, inst); err != nil {
		return "", err
	}
	if err := e.stopInfinitesRunningOnLayer(ctx, d, pi, piece.SourceLayerID); err != nil {
		return "", err
	}
	return inst.ID, nil
}

// PieceTakeNow plays a copy of an existing piece in the current part from
// now on. A source piece in the current part is disabled, unless it is
// already on air. It returns the id of the copy.
func (e *Engine) PieceTakeNow(ctx context.Context, rundownID, partInstanceID, pieceInstanceID string) (string, error) {
	var out string
	err := e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		rd := d.rundown
		if err := requireActive(rd); err != nil {
			return err
		}
		pi := d.instance(partInstanceID)
		if pi == nil {
			return fmt.Errorf("%w: part instance %q in rundown %q", ErrNotFound, partInstanceID, rundownID)
		}
		if partInstanceID != rd.CurrentPartInstanceID {
			return fmt.Errorf("%w: part instance %q is not on air", ErrInvalidState, partInstanceID)
		}
		cur := *pi

		source, err := e.repo.GetPieceInstance(ctx, pieceInstanceID)
		if err != nil {
			return storeErr(err, "piece instance %q", pieceInstanceID)
		}
		if source.RundownID != rundownID {
			return fmt.Errorf("%w: piece instance %q in rundown %q", ErrNotFound, pieceInstanceID, rundownID)
		}

		src := instanceSource{repo: e.repo}
		if source.PartInstanceID == cur.ID {
			live, err := e.pieceIsLive(ctx, cur, source.ID)
			if err != nil {
				return err
			}
			if live {
				return fmt.Errorf("%w: piece instance %q is already on air", ErrConflict, source.ID)
			}
			source.Disabled = true
			source.Hidden = true
			if err := src.save(ctx, source); err != nil {
				return err
			}
		}

		piece := source.Piece
		piece.ID = source.Piece.ID + "_" + shortID()
		piece.PartID = cur.Part.ID
		piece.Enable = timeline.Enable{Start: timeline.Now, Duration: source.Piece.Enable.Duration}
		piece.PlayoutDuration = nil
		piece.InfiniteID = ""
		piece.OriginalLifespan = ""
		piece.OriginalInfiniteID = ""
		piece.HoldExtension = false
		piece.ContinuesRefID = ""
		piece.DynamicallyInserted = false

		inst := src.wrap(piece, cur, "")
		inst.AdLibSourceID = source.Piece.ID
		inst.DynamicallyInserted = true
		if err := src.save(ctx, &inst); err != nil {
			return err
		}
		if err := e.cropInfinitesOnLayer(ctx, cur, inst); err != nil {
			return err
		}
		if err := e.stopInfinitesRunningOnLayer(ctx, d, cur, piece.SourceLayerID); err != nil {
			return err
		}
		out = inst.ID
		e.publish(ctx, d)
		return nil
	})
	return out, err
}

// windowStart returns the resolved start of a piece instance in the active
// window of pi, relative to the part start.
func (e *Engine) windowStart(pi rundown.PartInstance, pieces []rundown.PieceInstance, pieceInstanceID string) (start int64, dur *int64, ok bool) {
	for _, w := range e.resolveActiveWindow(pi, pieces) {
		if w.ID != pieceInstanceID {
			continue
		}
		start, _ = w.Piece.Enable.Start.Number()
		return start, w.Piece.PlayoutDuration, true
	}
	return 0, nil, false
}

// pieceIsLive reports whether a piece of the on-air part is playing now.
func (e *Engine) pieceIsLive(ctx context.Context, pi rundown.PartInstance, pieceInstanceID string) (bool, error) {
	if pi.Timings.StartedPlayback == nil {
		return false, nil
	}
	pieces, err := e.piecesOf(ctx, pi)
	if err != nil {
		return false, err
	}
	start, dur, ok := e.windowStart(pi, pieces, pieceInstanceID)
	if !ok {
		return false, nil
	}
	rel := e.clock.Now() - *pi.Timings.StartedPlayback
	return start <= rel && (dur == nil || start+*dur > rel), nil
}

// StopAdLibPiece ends an inserted ad-lib piece now.
func (e *Engine) StopAdLibPiece(ctx context.Context, rundownID, partInstanceID, pieceInstanceID string) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		rd := d.rundown
		if err := requireActive(rd); err != nil {
			return err
		}
		pi := d.instance(partInstanceID)
		if pi == nil || partInstanceID != rd.CurrentPartInstanceID {
			return fmt.Errorf("%w: part instance %q is not on air", ErrInvalidArgument, partInstanceID)
		}
		cur := *pi

		p, err := e.repo.GetPieceInstance(ctx, pieceInstanceID)
		if err != nil {
			return storeErr(err, "piece instance %q", pieceInstanceID)
		}
		if p.PartInstanceID != cur.ID {
			return fmt.Errorf("%w: piece instance %q in part instance %q", ErrNotFound, pieceInstanceID, cur.ID)
		}
		if !p.DynamicallyInserted || p.AdLibSourceID == "" {
			return fmt.Errorf("%w: piece instance %q is not an ad-lib", ErrInvalidArgument, pieceInstanceID)
		}

		now := e.clock.Now()
		var elapsed int64
		switch {
		case p.Timings.StartedPlayback != nil:
			elapsed = now - *p.Timings.StartedPlayback
		case cur.Timings.StartedPlayback != nil:
			// A piece still starting "now" has not played yet.
			if off, ok := p.Piece.Enable.Start.Number(); ok {
				elapsed = now - *cur.Timings.StartedPlayback - off
			}
		}
		p.UserDuration = &rundown.UserDuration{Duration: rundown.Int64(max(0, elapsed))}
		if err := e.repo.SavePieceInstance(ctx, p); err != nil {
			return storeErr(err, "saving piece instance %q", p.ID)
		}
		if err := e.propagateFromInstance(ctx, d, cur); err != nil {
			return err
		}
		e.publish(ctx, d)
		return nil
	})
}

// StopPiecesOnLayer ends everything playing on a source layer of the on-air
// part now. It returns the number of pieces stopped.
func (e *Engine) StopPiecesOnLayer(ctx context.Context, rundownID, partInstanceID, sourceLayerID string) (int, error) {
	stopped := 0
	err := e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		rd := d.rundown
		if err := requireActive(rd); err != nil {
			return err
		}
		pi := d.instance(partInstanceID)
		if pi == nil || partInstanceID != rd.CurrentPartInstanceID {
			return fmt.Errorf("%w: part instance %q is not on air", ErrInvalidState, partInstanceID)
		}
		cur := *pi
		if cur.Timings.StartedPlayback == nil {
			return fmt.Errorf("%w: part instance %q has not started playback", ErrInvalidState, cur.ID)
		}
		rel := e.clock.Now() - *cur.Timings.StartedPlayback

		src := instanceSource{repo: e.repo}
		pieces, err := src.list(ctx, cur)
		if err != nil {
			return err
		}
		stored := make(map[string]rundown.PieceInstance, len(pieces))
		for _, p := range pieces {
			stored[p.ID] = p
		}

		var batch writeBatch
		for _, w := range e.resolveActiveWindow(cur, pieces) {
			if w.Piece.SourceLayerID != sourceLayerID || w.Disabled {
				continue
			}
			p, ok := stored[w.ID]
			if !ok || p.Timings.StoppedPlayback != nil {
				continue
			}
			start, _ := w.Piece.Enable.Start.Number()
			if isContinuation(p.Piece) {
				start = 0
			}
			if start >= rel {
				continue
			}
			if dur := w.Piece.PlayoutDuration; dur != nil && start+*dur <= rel {
				continue
			}
			p.UserDuration = &rundown.UserDuration{Duration: rundown.Int64(rel - start)}
			batch.save(src, p)
			stopped++
		}
		if err := batch.flush(ctx); err != nil {
			return fmt.Errorf("%w: stopping layer %q: %w", ErrInternal, sourceLayerID, err)
		}
		if err := e.propagateFromInstance(ctx, d, cur); err != nil {
			return err
		}
		e.publish(ctx, d)
		return nil
	})
	return stopped, err
}
