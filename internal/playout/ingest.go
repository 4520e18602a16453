package playout

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// ingestErr classifies a repository error raised while storing ingest data.
func ingestErr(err error, format string, args ...any) error {
	if errors.Is(err, rundown.ErrInvalidDocument) {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArgument, fmt.Sprintf(format, args...), err)
	}
	return storeErr(err, format, args...)
}

// IngestChanged schedules a debounced recomputation of infinite
// continuations after the given segments changed. Calls arriving within
// the debounce window are merged into one run.
func (e *Engine) IngestChanged(rundownID string, segmentIDs ...string) {
	e.mu.Lock()
	e.pendingIngest[rundownID] = append(e.pendingIngest[rundownID], segmentIDs...)
	e.mu.Unlock()

	e.scheduler.Schedule(rundownID, e.opts.IngestDebounce, func(ctx context.Context) error {
		e.mu.Lock()
		changed := e.pendingIngest[rundownID]
		delete(e.pendingIngest, rundownID)
		e.mu.Unlock()

		return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
			return e.recomputeAfterIngest(ctx, d, changed)
		})
	})
}

// FlushIngest runs pending debounced ingest work for a rundown now.
func (e *Engine) FlushIngest(ctx context.Context, rundownID string) error {
	return e.guard.Run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context) error {
		return e.scheduler.Flush(ctx, rundownID)
	})
}

func (e *Engine) recomputeAfterIngest(ctx context.Context, d *playoutData, changed []string) error {
	var prev *rundown.Part
	for _, s := range d.segments {
		if slices.Contains(changed, s.ID) {
			prev = d.lastPartBeforeSegment(s.ID)
			break
		}
	}
	stats, err := e.propagate(ctx, d, prev, true)
	if err != nil {
		return err
	}
	e.logger.Debug("ingest recompute finished", "rundown_id", d.rundown.ID, "segments", len(changed), "writes", stats.writes())
	if d.rundown.Active {
		e.publish(ctx, d)
	}
	return nil
}

// EnsureNextPartIsValid re-points next after the rundown's parts changed.
func (e *Engine) EnsureNextPartIsValid(ctx context.Context, rundownID string) error {
	return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		if err := e.ensureNext(ctx, d); err != nil {
			return err
		}
		if d.rundown.Active {
			e.publish(ctx, d)
		}
		return nil
	})
}

// ensureNext keeps an automatic next on the part after current, and
// replaces a next whose part disappeared or became invalid.
func (e *Engine) ensureNext(ctx context.Context, d *playoutData) error {
	rd := d.rundown
	if !rd.Active || rd.NextPartInstanceID == "" {
		return nil
	}
	cur, nx := d.current(), d.next()

	var curPart, nextPart *rundown.Part
	if cur != nil {
		curPart = d.part(cur.Part.ID)
	}
	if nx != nil {
		if p := d.part(nx.Part.ID); p != nil && p.IsPlayable() {
			nextPart = p
		}
	}

	if cur != nil && curPart == nil {
		// Without the current template there is no way to tell what follows.
		if nextPart == nil {
			return e.setNextPart(ctx, d, nil, false, nil)
		}
		return nil
	}

	var expected *rundown.Part
	if curPart != nil {
		expected = d.partAfter(d.partIndex(curPart.ID))
	} else {
		expected = d.partAfterInstance(nil)
	}

	if nextPart != nil && (rd.NextPartManual || samePart(expected, nextPart)) {
		return nil
	}
	if expected == nil {
		return e.setNextPart(ctx, d, nil, false, nil)
	}
	target := *expected
	return e.setNextPart(ctx, d, &target, false, nil)
}

func samePart(a, b *rundown.Part) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

// AfterInsertParts re-points next after ingest inserted parts. With
// removePrevious, a manual next whose part was replaced follows the first
// new part carrying one of externalIDs.
func (e *Engine) AfterInsertParts(ctx context.Context, rundownID string, externalIDs []string, removePrevious bool) error {
	return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		if err := e.afterInsertParts(ctx, d, externalIDs, removePrevious); err != nil {
			return err
		}
		if d.rundown.Active {
			e.publish(ctx, d)
		}
		return nil
	})
}

// afterInsertParts picks a next after parts were inserted or replaced. A
// manual next that lost its part moves to the first new part with one of
// the given external ids.
func (e *Engine) afterInsertParts(ctx context.Context, d *playoutData, externalIDs []string, removePrevious bool) error {
	rd := d.rundown
	if !rd.Active {
		return nil
	}
	if rd.NextPartInstanceID == "" && rd.CurrentPartInstanceID != "" {
		_, err := e.moveNext(ctx, d, 1, 0, false)
		return err
	}
	if rd.NextPartManual && removePrevious {
		if nx := d.next(); nx != nil {
			if p := d.part(nx.Part.ID); p == nil || !p.IsPlayable() {
				for _, p := range d.parts {
					if p.IsPlayable() && p.ExternalID != "" && slices.Contains(externalIDs, p.ExternalID) {
						return e.setNextPart(ctx, d, &p, true, nil)
					}
				}
			}
		}
	}
	return e.ensureNext(ctx, d)
}

// RefreshPart applies template changes of a part to its un-taken next
// instance and to the continuations after it.
func (e *Engine) RefreshPart(ctx context.Context, rundownID, partID string) error {
	return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		if d.part(partID) == nil {
			return fmt.Errorf("%w: part %q in rundown %q", ErrNotFound, partID, rundownID)
		}
		if err := e.refreshPart(ctx, d, partID); err != nil {
			return err
		}
		if d.rundown.Active {
			e.publish(ctx, d)
		}
		return nil
	})
}

func (e *Engine) refreshPart(ctx context.Context, d *playoutData, partID string) error {
	part := d.part(partID)
	if part == nil {
		return nil
	}
	target := *part
	rd := d.rundown
	if nx := d.next(); nx != nil && !nx.IsTaken() && nx.Part.ID == partID && target.IsPlayable() {
		if err := e.setNextPart(ctx, d, &target, rd.NextPartManual, rd.NextTimeOffset); err != nil {
			return err
		}
	}
	_, err := e.propagate(ctx, d, d.lastPartBeforeSegment(target.SegmentID), false)
	return err
}

// SaveRundown stores rundown metadata from ingest. Playout state of an
// existing rundown is kept.
func (e *Engine) SaveRundown(ctx context.Context, rd *rundown.Rundown) error {
	if rd == nil || rd.ID == "" {
		return fmt.Errorf("%w: rundown without id", ErrInvalidArgument)
	}
	return e.guard.Run(ctx, rd.ID, guard.PriorityIngest, func(ctx context.Context) error {
		existing, err := e.repo.GetRundown(ctx, rd.ID)
		switch {
		case err == nil:
			rd.Active = existing.Active
			rd.Rehearsal = existing.Rehearsal
			rd.PreviousPartInstanceID = existing.PreviousPartInstanceID
			rd.CurrentPartInstanceID = existing.CurrentPartInstanceID
			rd.NextPartInstanceID = existing.NextPartInstanceID
			rd.NextPartManual = existing.NextPartManual
			rd.NextTimeOffset = existing.NextTimeOffset
			rd.HoldState = existing.HoldState
			rd.StartedPlayback = existing.StartedPlayback
		case errors.Is(err, rundown.ErrNotFound):
			*rd = rundown.Rundown{ID: rd.ID, StudioID: rd.StudioID, ExternalID: rd.ExternalID, Name: rd.Name}
		default:
			return storeErr(err, "rundown %q", rd.ID)
		}
		rd.Modified = e.clock.Now()
		if err := e.repo.SaveRundown(ctx, rd); err != nil {
			return ingestErr(err, "saving rundown %q", rd.ID)
		}
		return nil
	})
}

// RemoveRundown deletes an inactive rundown and everything it owns.
func (e *Engine) RemoveRundown(ctx context.Context, rundownID string) error {
	return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		if d.rundown.Active {
			return fmt.Errorf("%w: rundown %q is active", ErrInvalidState, rundownID)
		}
		if err := e.repo.DeleteRundown(ctx, rundownID); err != nil {
			return storeErr(err, "removing rundown %q", rundownID)
		}
		e.scheduler.Cancel(rundownID)
		e.mu.Lock()
		delete(e.snapshots, rundownID)
		delete(e.generations, rundownID)
		delete(e.pendingIngest, rundownID)
		e.mu.Unlock()
		e.logger.Info("rundown removed", "rundown_id", rundownID)
		return nil
	})
}

// SaveSegment stores a segment from ingest.
func (e *Engine) SaveSegment(ctx context.Context, s *rundown.Segment) error {
	return e.run(ctx, s.RundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		if err := e.repo.SaveSegment(ctx, s); err != nil {
			return ingestErr(err, "saving segment %q", s.ID)
		}
		if err := e.reloadParts(ctx, d); err != nil {
			return err
		}
		if err := e.ensureNext(ctx, d); err != nil {
			return err
		}
		e.IngestChanged(s.RundownID, s.ID)
		return nil
	})
}

// RemoveSegment deletes a segment and its parts.
func (e *Engine) RemoveSegment(ctx context.Context, rundownID, segmentID string) error {
	return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		for _, p := range d.parts {
			if p.SegmentID != segmentID {
				continue
			}
			if err := e.repo.DeletePart(ctx, p.ID); err != nil {
				return storeErr(err, "removing part %q", p.ID)
			}
		}
		if err := e.repo.DeleteSegment(ctx, segmentID); err != nil {
			return storeErr(err, "removing segment %q", segmentID)
		}
		if err := e.reloadParts(ctx, d); err != nil {
			return err
		}
		if err := e.ensureNext(ctx, d); err != nil {
			return err
		}
		e.IngestChanged(rundownID, segmentID)
		return nil
	})
}

// SavePart stores a part from ingest. Its segment must exist.
func (e *Engine) SavePart(ctx context.Context, p *rundown.Part) error {
	return e.run(ctx, p.RundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		if d.segmentIndex(p.SegmentID) < 0 {
			return fmt.Errorf("%w: part %q references unknown segment %q", ErrInvalidArgument, p.ID, p.SegmentID)
		}
		if err := e.repo.SavePart(ctx, p); err != nil {
			return ingestErr(err, "saving part %q", p.ID)
		}
		if err := e.reloadParts(ctx, d); err != nil {
			return err
		}
		if err := e.refreshPart(ctx, d, p.ID); err != nil {
			return err
		}
		if err := e.ensureNext(ctx, d); err != nil {
			return err
		}
		e.IngestChanged(p.RundownID, p.SegmentID)
		return nil
	})
}

// RemovePart deletes a part and its template pieces.
func (e *Engine) RemovePart(ctx context.Context, rundownID, partID string) error {
	return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		part := d.part(partID)
		if part == nil {
			return nil
		}
		segmentID := part.SegmentID
		if err := e.repo.DeletePart(ctx, partID); err != nil {
			return storeErr(err, "removing part %q", partID)
		}
		if err := e.reloadParts(ctx, d); err != nil {
			return err
		}
		if err := e.ensureNext(ctx, d); err != nil {
			return err
		}
		e.IngestChanged(rundownID, segmentID)
		return nil
	})
}

// SavePiece stores a template piece from ingest. Its part must exist.
func (e *Engine) SavePiece(ctx context.Context, p *rundown.Piece) error {
	return e.run(ctx, p.RundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		part := d.part(p.PartID)
		if part == nil {
			return fmt.Errorf("%w: part %q for piece %q", ErrNotFound, p.PartID, p.ID)
		}
		segmentID := part.SegmentID
		if err := e.repo.SavePiece(ctx, p); err != nil {
			return ingestErr(err, "saving piece %q", p.ID)
		}
		if err := e.refreshPart(ctx, d, p.PartID); err != nil {
			return err
		}
		e.IngestChanged(p.RundownID, segmentID)
		return nil
	})
}

// RemovePiece deletes a template piece.
func (e *Engine) RemovePiece(ctx context.Context, rundownID, pieceID string) error {
	return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		p, err := e.repo.GetPiece(ctx, pieceID)
		if errors.Is(err, rundown.ErrNotFound) {
			return nil
		}
		if err != nil {
			return storeErr(err, "piece %q", pieceID)
		}
		if err := e.repo.DeletePiece(ctx, pieceID); err != nil {
			return storeErr(err, "removing piece %q", pieceID)
		}
		if err := e.refreshPart(ctx, d, p.PartID); err != nil {
			return err
		}
		if part := d.part(p.PartID); part != nil {
			e.IngestChanged(rundownID, part.SegmentID)
		}
		return nil
	})
}

// SaveAdLibPiece stores an ad-lib template.
func (e *Engine) SaveAdLibPiece(ctx context.Context, a *rundown.AdLibPiece) error {
	return e.run(ctx, a.RundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		if err := e.repo.SaveAdLibPiece(ctx, a); err != nil {
			return ingestErr(err, "saving ad-lib %q", a.ID)
		}
		return nil
	})
}

// RemoveAdLibPiece deletes an ad-lib template.
func (e *Engine) RemoveAdLibPiece(ctx context.Context, rundownID, adLibID string) error {
	return e.run(ctx, rundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		if err := e.repo.DeleteAdLibPiece(ctx, adLibID); err != nil {
			return storeErr(err, "removing ad-lib %q", adLibID)
		}
		return nil
	})
}

// ReplaceSegment swaps the whole content of a segment in one step. Parts
// inserted by queued ad-libs are kept.
func (e *Engine) ReplaceSegment(ctx context.Context, s *rundown.Segment, parts []rundown.Part, pieces []rundown.Piece) error {
	return e.run(ctx, s.RundownID, guard.PriorityIngest, func(ctx context.Context, d *playoutData) error {
		newParts := make(map[string]bool, len(parts))
		externalIDs := make([]string, 0, len(parts))
		for _, p := range parts {
			newParts[p.ID] = true
			if p.ExternalID != "" {
				externalIDs = append(externalIDs, p.ExternalID)
			}
		}
		for _, p := range pieces {
			if !newParts[p.PartID] {
				return fmt.Errorf("%w: piece %q references part %q outside segment %q", ErrInvalidArgument, p.ID, p.PartID, s.ID)
			}
		}

		for _, p := range d.parts {
			if p.SegmentID == s.ID && !p.DynamicallyInserted {
				if err := e.repo.DeletePart(ctx, p.ID); err != nil {
					return storeErr(err, "removing part %q", p.ID)
				}
			}
		}
		if err := e.repo.SaveSegment(ctx, s); err != nil {
			return ingestErr(err, "saving segment %q", s.ID)
		}
		for i := range parts {
			parts[i].RundownID = s.RundownID
			parts[i].SegmentID = s.ID
			if err := e.repo.SavePart(ctx, &parts[i]); err != nil {
				return ingestErr(err, "saving part %q", parts[i].ID)
			}
		}
		for i := range pieces {
			pieces[i].RundownID = s.RundownID
			if err := e.repo.SavePiece(ctx, &pieces[i]); err != nil {
				return ingestErr(err, "saving piece %q", pieces[i].ID)
			}
		}
		if err := e.reloadParts(ctx, d); err != nil {
			return err
		}

		if nx := d.next(); nx != nil && newParts[nx.Part.ID] {
			if err := e.refreshPart(ctx, d, nx.Part.ID); err != nil {
				return err
			}
		}
		if err := e.afterInsertParts(ctx, d, externalIDs, true); err != nil {
			return err
		}
		e.IngestChanged(s.RundownID, s.ID)
		return nil
	})
}
