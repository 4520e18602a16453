package playout

import (
	"context"
	"fmt"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/timeline"
)

// ActivateHold arms a hold between the current part (hold mode "from") and
// the next part (hold mode "to"). The hold starts on the next take.
func (e *Engine) ActivateHold(ctx context.Context, rundownID string) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		rd := d.rundown
		if err := requireActive(rd); err != nil {
			return err
		}
		cur, nx := d.current(), d.next()
		if cur == nil || nx == nil {
			return fmt.Errorf("%w: hold needs a current and a next part", ErrInvalidState)
		}
		if cur.Part.HoldMode != rundown.HoldModeFrom || nx.Part.HoldMode != rundown.HoldModeTo {
			return fmt.Errorf("%w: parts %q and %q do not form a hold", ErrInvalidState, cur.Part.ID, nx.Part.ID)
		}
		if rd.HoldState != rundown.HoldStateNone {
			return fmt.Errorf("%w: rundown %q already has a %s hold", ErrInvalidState, rd.ID, rd.HoldState)
		}
		rd.HoldState = rundown.HoldStatePending
		if err := e.saveRundown(ctx, rd); err != nil {
			return err
		}
		e.publish(ctx, d)
		return nil
	})
}

// DeactivateHold disarms a pending hold.
func (e *Engine) DeactivateHold(ctx context.Context, rundownID string) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		rd := d.rundown
		if rd.HoldState != rundown.HoldStatePending {
			return fmt.Errorf("%w: rundown %q has a %s hold, not a pending one", ErrInvalidState, rd.ID, rd.HoldState)
		}
		rd.HoldState = rundown.HoldStateNone
		if err := e.saveRundown(ctx, rd); err != nil {
			return err
		}
		e.publish(ctx, d)
		return nil
	})
}

// startHold extends the hold pieces of the previous part into the part just
// taken. The originals are turned into chain heads that end with the taken
// part, and a clone is placed on the taken part.
func (e *Engine) startHold(ctx context.Context, prev, taken rundown.PartInstance) error {
	src := instanceSource{repo: e.repo}
	pieces, err := src.list(ctx, prev)
	if err != nil {
		return err
	}
	var batch writeBatch
	for _, p := range pieces {
		if !p.Piece.ExtendOnHold || p.Piece.HoldExtension {
			continue
		}
		if p.Piece.OriginalLifespan == "" {
			p.Piece.OriginalLifespan = p.Piece.Lifespan
		}
		p.Piece.OriginalInfiniteID = p.Piece.InfiniteID
		p.Piece.InfiniteID = p.Piece.ID
		p.Piece.Lifespan = rundown.LifespanOutOnNextPart
		batch.save(src, p)

		clone := p.Piece
		clone.ID = rundown.HoldExtensionID(p.Piece.ID)
		clone.PartID = taken.Part.ID
		clone.Enable = timeline.Enable{Start: timeline.At(0)}
		clone.HoldExtension = true
		clone.InfiniteID = p.Piece.ID
		clone.DynamicallyInserted = true
		clone.OriginalLifespan = ""
		clone.OriginalInfiniteID = ""
		batch.save(src, src.wrap(clone, taken, p.ID))
	}
	if err := batch.flush(ctx); err != nil {
		return fmt.Errorf("%w: extending hold into %q: %w", ErrInternal, taken.ID, err)
	}
	return nil
}

// completeHold ends an active hold: the clones leave the current part and
// the originals get their chain markers back.
func (e *Engine) completeHold(ctx context.Context, d *playoutData) error {
	rd := d.rundown
	rd.HoldState = rundown.HoldStateComplete
	src := instanceSource{repo: e.repo}
	var batch writeBatch

	if cur := d.current(); cur != nil {
		pieces, err := src.list(ctx, *cur)
		if err != nil {
			return err
		}
		for _, p := range pieces {
			if p.Piece.HoldExtension {
				batch.remove(src, p)
			}
		}
	}
	if prev := d.previous(); prev != nil {
		pieces, err := src.list(ctx, *prev)
		if err != nil {
			return err
		}
		for _, p := range pieces {
			if !p.Piece.ExtendOnHold || p.Piece.HoldExtension || p.Piece.OriginalLifespan == "" {
				continue
			}
			p.Piece.Lifespan = p.Piece.OriginalLifespan
			p.Piece.InfiniteID = p.Piece.OriginalInfiniteID
			p.Piece.OriginalLifespan = ""
			p.Piece.OriginalInfiniteID = ""
			batch.save(src, p)
		}
	}
	if err := batch.flush(ctx); err != nil {
		return fmt.Errorf("%w: completing hold: %w", ErrInternal, err)
	}
	if err := e.saveRundown(ctx, rd); err != nil {
		return err
	}
	e.logger.Info("hold completed", "rundown_id", rd.ID)
	e.publish(ctx, d)
	return nil
}
