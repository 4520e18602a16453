package playout

import (
	"context"
	"fmt"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// requireNoHold rejects changes of next while a hold is pending or running.
func requireNoHold(rd *rundown.Rundown) error {
	if rd.HoldState != rundown.HoldStateNone && rd.HoldState != rundown.HoldStateComplete {
		return fmt.Errorf("%w: rundown %q cannot change next during a %s hold", ErrInvalidState, rd.ID, rd.HoldState)
	}
	return nil
}

// SetNext points the rundown's next at partID. An empty partID clears next.
func (e *Engine) SetNext(ctx context.Context, rundownID, partID string, manual bool, timeOffset *int64) error {
	return e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		if err := requireActive(d.rundown); err != nil {
			return err
		}
		if err := requireNoHold(d.rundown); err != nil {
			return err
		}
		var part *rundown.Part
		if partID != "" {
			if part = d.part(partID); part == nil {
				return fmt.Errorf("%w: part %q in rundown %q", ErrNotFound, partID, rundownID)
			}
		}
		if err := e.setNextPart(ctx, d, part, manual, timeOffset); err != nil {
			return err
		}
		e.publish(ctx, d)
		return nil
	})
}

// setNextPart makes part the next part. An un-taken next instance of the
// same part keeps its id; any other un-taken next instance is discarded.
func (e *Engine) setNextPart(ctx context.Context, d *playoutData, part *rundown.Part, manual bool, timeOffset *int64) error {
	rd := d.rundown

	var oldNext *rundown.PartInstance
	if nx := d.next(); nx != nil && !nx.IsTaken() {
		cp := *nx
		oldNext = &cp
	}

	if part == nil {
		if oldNext != nil {
			if err := e.discardInstance(ctx, d, oldNext.ID); err != nil {
				return err
			}
		}
		rd.NextPartInstanceID = ""
		rd.NextPartManual = manual
		rd.NextTimeOffset = nil
		return e.saveRundown(ctx, rd)
	}

	if cur := d.current(); cur != nil && cur.Part.ID == part.ID {
		return fmt.Errorf("%w: part %q is on air and cannot be next", ErrInvalidArgument, part.ID)
	}
	if !part.IsPlayable() {
		return fmt.Errorf("%w: part %q is invalid and cannot be next", ErrInvalidArgument, part.ID)
	}

	target := *part
	if err := e.resetPartTemplate(ctx, d, target); err != nil {
		return err
	}

	id := newInstanceID()
	nextAt := e.clock.Now()
	if oldNext != nil {
		if oldNext.Part.ID == target.ID {
			id = oldNext.ID
			if oldNext.Timings.Next != nil {
				nextAt = *oldNext.Timings.Next
			}
		}
		if err := e.discardInstance(ctx, d, oldNext.ID); err != nil {
			return err
		}
	}

	if _, err := e.createInstance(ctx, d, target, id, nextAt); err != nil {
		return err
	}

	rd.NextPartInstanceID = id
	rd.NextPartManual = manual
	rd.NextTimeOffset = timeOffset
	if err := e.saveRundown(ctx, rd); err != nil {
		return err
	}

	_, err := e.propagate(ctx, d, d.partBefore(target.ID), false)
	return err
}

// resetPartTemplate drops runtime leftovers from a part before it is
// played again: parts queued after it, dynamically inserted template
// pieces and lifespans rewritten by ad-lib cropping.
func (e *Engine) resetPartTemplate(ctx context.Context, d *playoutData, part rundown.Part) error {
	changedParts := false
	for _, p := range d.parts {
		if p.DynamicallyInserted && p.AfterPart == part.ID {
			if err := e.repo.DeletePart(ctx, p.ID); err != nil {
				return storeErr(err, "removing queued part %q", p.ID)
			}
			changedParts = true
		}
	}
	if changedParts {
		if err := e.reloadParts(ctx, d); err != nil {
			return err
		}
	}

	pieces, err := e.repo.ListPieces(ctx, d.rundown.ID, part.ID)
	if err != nil {
		return storeErr(err, "listing pieces of part %q", part.ID)
	}
	for _, p := range pieces {
		switch {
		case p.DynamicallyInserted && !part.DynamicallyInserted:
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
	return nil
}

// createInstance persists a fresh instance of part with a copy of every
// template piece.
func (e *Engine) createInstance(ctx context.Context, d *playoutData, part rundown.Part, id string, nextAt int64) (rundown.PartInstance, error) {
	pi := rundown.PartInstance{
		ID:        id,
		RundownID: d.rundown.ID,
		SegmentID: part.SegmentID,
		TakeCount: d.maxTakeCount() + 1,
		Part:      part,
		Timings:   rundown.PartTimings{Next: rundown.Int64(nextAt)},
	}
	if err := e.savePartInstance(ctx, d, &pi); err != nil {
		return pi, err
	}

	pieces, err := e.repo.ListPieces(ctx, d.rundown.ID, part.ID)
	if err != nil {
		return pi, storeErr(err, "listing pieces of part %q", part.ID)
	}
	src := instanceSource{repo: e.repo}
	var batch writeBatch
	for _, p := range pieces {
		batch.save(src, rundown.WrapPieceToInstance(p, pi.ID))
	}
	if err := batch.flush(ctx); err != nil {
		return pi, fmt.Errorf("%w: copying pieces into %q: %w", ErrInternal, pi.ID, err)
	}
	return pi, nil
}

// discardInstance deletes an instance that never went on air.
func (e *Engine) discardInstance(ctx context.Context, d *playoutData, id string) error {
	if err := e.repo.DeletePartInstance(ctx, id); err != nil {
		return storeErr(err, "discarding part instance %q", id)
	}
	d.dropInstance(id)
	if d.rundown.NextPartInstanceID == id {
		d.rundown.NextPartInstanceID = ""
	}
	return nil
}

// MoveNext moves next by segments (vertical) and then by parts
// (horizontal). It returns the new next part id, or "" when no playable
// part was found and next was cleared.
func (e *Engine) MoveNext(ctx context.Context, rundownID string, horizontal, vertical int, manual bool) (string, error) {
	if horizontal == 0 && vertical == 0 {
		return "", fmt.Errorf("%w: move next delta (%d, %d)", ErrInvalidArgument, horizontal, vertical)
	}
	var out string
	err := e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		id, err := e.moveNext(ctx, d, horizontal, vertical, manual)
		if err != nil {
			return err
		}
		out = id
		e.publish(ctx, d)
		return nil
	})
	return out, err
}

func (e *Engine) moveNext(ctx context.Context, d *playoutData, horizontal, vertical int, manual bool) (string, error) {
	rd := d.rundown
	if err := requireActive(rd); err != nil {
		return "", err
	}
	if err := requireNoHold(rd); err != nil {
		return "", err
	}

	ref := d.next()
	if ref == nil {
		ref = d.current()
	}
	if ref == nil {
		return "", fmt.Errorf("%w: rundown %q has no next and no current part", ErrInvalidState, rd.ID)
	}
	if len(d.parts) == 0 {
		return "", fmt.Errorf("%w: rundown %q has no parts", ErrNotFound, rd.ID)
	}

	currentPartID := ""
	if cur := d.current(); cur != nil {
		currentPartID = cur.Part.ID
	}

	from := ref.Part.ID
	visited := make(map[string]bool)
	for {
		idx := d.partIndex(from)
		if idx < 0 {
			return "", fmt.Errorf("%w: part %q is not in rundown %q", ErrNotFound, from, rd.ID)
		}
		if vertical != 0 {
			si := d.segmentIndex(d.parts[idx].SegmentID)
			if si < 0 {
				return "", fmt.Errorf("%w: segment %q", ErrNotFound, d.parts[idx].SegmentID)
			}
			si += vertical
			if si < 0 || si >= len(d.segments) {
				return "", fmt.Errorf("%w: no segment at offset %d", ErrNotFound, vertical)
			}
			idx = d.firstPartOfSegment(d.segments[si].ID)
			if idx < 0 {
				return "", fmt.Errorf("%w: segment %q has no parts", ErrNotFound, d.segments[si].ID)
			}
		}
		idx = min(max(idx+horizontal, 0), len(d.parts)-1)
		target := d.parts[idx]

		if target.ID == currentPartID || !target.IsPlayable() {
			if visited[target.ID] {
				// Nothing left to next.
				return "", e.setNextPart(ctx, d, nil, manual, nil)
			}
			visited[target.ID] = true
			from = target.ID
			continue
		}
		if err := e.setNextPart(ctx, d, &target, manual, nil); err != nil {
			return "", err
		}
		return target.ID, nil
	}
}

func (d *playoutData) firstPartOfSegment(segmentID string) int {
	for i := range d.parts {
		if d.parts[i].SegmentID == segmentID {
			return i
		}
	}
	return -1
}
