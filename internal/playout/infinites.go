package playout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/timeline"
)

// maxConcurrentWrites bounds the storage writes a propagation batch issues at once.
const maxConcurrentWrites = 8

// propagationStats counts what one propagation run wrote.
type propagationStats struct {
	Inserted    int
	Updated     int
	Removed     int
	Unchanged   int
	HeadsMarked int

	// StoppedAt is the part where the run exited early, if it did.
	StoppedAt string
}

func (s propagationStats) writes() int {
	return s.Inserted + s.Updated + s.Removed + s.HeadsMarked
}

// activeInfinite is the piece currently carrying a chain on a source layer.
type activeInfinite struct {
	piece     rundown.PieceInstance
	segmentID string
}

// writeBatch collects the writes of one run. They execute concurrently and
// all complete before flush returns.
type writeBatch struct {
	ops []func(ctx context.Context) error
}

func (b *writeBatch) save(src pieceSource, p rundown.PieceInstance) {
	b.ops = append(b.ops, func(ctx context.Context) error { return src.save(ctx, &p) })
}

func (b *writeBatch) remove(src pieceSource, p rundown.PieceInstance) {
	b.ops = append(b.ops, func(ctx context.Context) error { return src.remove(ctx, p) })
}

func (b *writeBatch) flush(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWrites)
	for _, op := range b.ops {
		g.Go(func() error { return op(gctx) })
	}
	b.ops = nil
	return g.Wait()
}

// opensInfinite reports whether p runs open ended beyond its part.
func opensInfinite(p rundown.PieceInstance) bool {
	return p.Piece.Lifespan.IsInfinite() && !p.HasExplicitEnd() && !p.Piece.Virtual
}

// samePiece compares two piece instances by their stored form.
func samePiece(a, b rundown.PieceInstance) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// propagate recomputes infinite continuations for the parts after prevPart,
// or for the whole rundown when prevPart is nil.
func (e *Engine) propagate(ctx context.Context, d *playoutData, prevPart *rundown.Part, runUntilEnd bool) (propagationStats, error) {
	var stats propagationStats
	var batch writeBatch
	active := make(map[string]activeInfinite)

	if prevPart == nil {
		runUntilEnd = true
	}

	startIdx := 0
	if prevPart != nil {
		idx := d.partIndex(prevPart.ID)
		if idx < 0 {
			return stats, fmt.Errorf("%w: part %q is not in rundown %q", ErrNotFound, prevPart.ID, d.rundown.ID)
		}
		startIdx = idx + 1

		prevInst := rundown.ResolveOrWrapPart(d.instances, *prevPart)
		src := e.sourceFor(prevInst)
		pieces, err := src.list(ctx, prevInst)
		if err != nil {
			return stats, err
		}
		for _, it := range e.orderPieces(prevInst, pieces) {
			p := it.PieceInstance
			layer := p.Piece.SourceLayerID
			if p.Piece.Virtual {
				continue
			}
			if !opensInfinite(p) {
				delete(active, layer)
				continue
			}
			if p.Piece.InfiniteID == "" {
				p.Piece.InfiniteID = p.Piece.ID
				batch.save(src, p)
				stats.HeadsMarked++
			}
			if p.Piece.Lifespan != rundown.LifespanOutOnNextPart {
				active[layer] = activeInfinite{piece: p, segmentID: prevInst.SegmentID}
			}
		}
	}
	// Chain heads of the seed part are stored before the forward scan reads
	// any later part.
	if err := batch.flush(ctx); err != nil {
		return stats, fmt.Errorf("%w: marking infinite chain heads: %w", ErrInternal, err)
	}

	for i := startIdx; i < len(d.parts); i++ {
		part := d.parts[i]
		inst := rundown.ResolveOrWrapPart(d.instances, part)
		src := e.sourceFor(inst)
		pieces, err := src.list(ctx, inst)
		if err != nil {
			return stats, err
		}
		items := e.orderPieces(inst, pieces)

		// Chains that ended with their segment.
		for layer, a := range active {
			lifespan := a.piece.Piece.Lifespan
			if !lifespan.IsInfinite() || (lifespan == rundown.LifespanOutOnNextSegment && a.segmentID != part.SegmentID) {
				delete(active, layer)
			}
		}

		removed := make(map[string]bool)
		midInfinites := 0
		for _, it := range items {
			p := it.Piece
			if !isContinuation(p) || p.HoldExtension {
				continue
			}
			if p.Lifespan.IsInfinite() && !p.Enable.HasEnd() {
				midInfinites++
			}
			a, ok := active[p.SourceLayerID]
			if !ok || a.piece.Piece.InfiniteID != p.InfiniteID {
				batch.remove(src, it.PieceInstance)
				removed[it.ID] = true
				stats.Removed++
			}
		}

		if !runUntilEnd && e.opts.InfiniteEarlyExit && len(active) == 0 && midInfinites == 0 && len(removed) == 0 {
			stats.StoppedAt = part.ID
			break
		}

		remaining := make([]OrderedPiece, 0, len(items))
		for _, it := range items {
			if !removed[it.ID] {
				remaining = append(remaining, it)
			}
		}

		layers := make([]string, 0, len(active))
		for layer := range active {
			layers = append(layers, layer)
		}
		sort.Strings(layers)

		consumed := make(map[string]bool)
		var continuations []rundown.PieceInstance
		for _, layer := range layers {
			a := active[layer]

			var existing *rundown.PieceInstance
			var others []OrderedPiece
			for _, it := range remaining {
				if it.Piece.SourceLayerID != layer {
					continue
				}
				if existing == nil && it.Piece.InfiniteID != "" && it.Piece.InfiniteID == a.piece.Piece.InfiniteID {
					found := it.PieceInstance
					existing = &found
					consumed[it.ID] = true
					continue
				}
				if it.Piece.Virtual {
					continue
				}
				others = append(others, it)
			}

			allowInsert := true
			if len(others) > 0 {
				delete(active, layer)
				first, last := others[0], others[len(others)-1]
				if last.Piece.Lifespan.IsInfinite() && last.Piece.Lifespan != rundown.LifespanOutOnNextPart {
					active[layer] = activeInfinite{piece: first.PieceInstance, segmentID: part.SegmentID}
				}
				if rundown.StartsAtZero(first.Piece) {
					// It would never be visible.
					allowInsert = false
				}
			}

			cont := a.piece.Piece
			cont.ID = rundown.ContinuationPieceID(a.piece.Piece.InfiniteID, part.ID)
			cont.PartID = part.ID
			cont.ContinuesRefID = a.piece.Piece.ID
			cont.DynamicallyInserted = true
			cont.HoldExtension = false
			cont.PlayoutDuration = nil
			cont.Enable = timeline.Enable{Start: timeline.At(0)}
			if len(others) > 0 {
				cont.Enable.End = timeline.Ref(PieceGroupID(others[0].Piece.ID), "start", 0)
				cont.Lifespan = rundown.LifespanNormal
			}
			ci := src.wrap(cont, inst, a.piece.ID)
			if existing != nil {
				ci.UserDuration = existing.UserDuration
				ci.Timings = existing.Timings
			}

			switch {
			case existing != nil && allowInsert && samePiece(*existing, ci):
				stats.Unchanged++
			case existing != nil && allowInsert && existing.ID == ci.ID:
				batch.save(src, ci)
				stats.Updated++
			default:
				if existing != nil {
					batch.remove(src, *existing)
					stats.Removed++
				}
				if allowInsert {
					batch.save(src, ci)
					stats.Inserted++
				}
			}
			if allowInsert {
				continuations = append(continuations, ci)
			}
		}

		// Refresh the active set from what this part now holds.
		scan := continuations
		for _, it := range remaining {
			if !consumed[it.ID] {
				scan = append(scan, it.PieceInstance)
			}
		}
		for _, p := range scan {
			layer := p.Piece.SourceLayerID
			if p.Piece.Virtual {
				continue
			}
			if !opensInfinite(p) {
				delete(active, layer)
				continue
			}
			if p.Piece.Lifespan == rundown.LifespanOutOnNextPart {
				continue
			}
			if p.Piece.InfiniteID == "" {
				p.Piece.InfiniteID = p.Piece.ID
				batch.save(src, p)
				stats.HeadsMarked++
			}
			active[layer] = activeInfinite{piece: p, segmentID: part.SegmentID}
		}
	}

	if err := batch.flush(ctx); err != nil {
		return stats, fmt.Errorf("%w: writing infinite continuations: %w", ErrInternal, err)
	}
	e.logger.Debug("infinite propagation finished",
		"rundown_id", d.rundown.ID,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"removed", stats.Removed,
		"unchanged", stats.Unchanged,
		"heads_marked", stats.HeadsMarked,
		"stopped_at", stats.StoppedAt,
	)
	return stats, nil
}

// propagateFromInstance propagates from the part an instance plays.
func (e *Engine) propagateFromInstance(ctx context.Context, d *playoutData, pi rundown.PartInstance) error {
	part := d.part(pi.Part.ID)
	if part == nil {
		e.logger.Warn("part of instance no longer exists, propagating from start",
			"part_instance_id", pi.ID, "part_id", pi.Part.ID)
		_, err := e.propagate(ctx, d, nil, true)
		return err
	}
	_, err := e.propagate(ctx, d, part, false)
	return err
}

// cropInfinitesOnLayer ends every other infinite piece on the new piece's
// layer where the new piece starts.
func (e *Engine) cropInfinitesOnLayer(ctx context.Context, pi rundown.PartInstance, added rundown.PieceInstance) error {
	src := e.sourceFor(pi)
	pieces, err := src.list(ctx, pi)
	if err != nil {
		return err
	}
	var batch writeBatch
	for _, p := range pieces {
		if p.ID == added.ID || !p.Piece.Lifespan.IsInfinite() || p.Piece.SourceLayerID != added.Piece.SourceLayerID {
			continue
		}
		p.UserDuration = &rundown.UserDuration{
			End: timeline.Ref(PieceGroupID(added.Piece.ID), "start", added.Piece.PrerollDuration),
		}
		if p.Piece.OriginalLifespan == "" {
			p.Piece.OriginalLifespan = p.Piece.Lifespan
		}
		p.Piece.Lifespan = rundown.LifespanNormal
		batch.save(src, p)
	}
	if err := batch.flush(ctx); err != nil {
		return fmt.Errorf("%w: cropping infinites on %q: %w", ErrInternal, added.Piece.SourceLayerID, err)
	}
	return nil
}

// stopInfinitesRunningOnLayer removes the continuations of a layer from the
// parts after pi, up to the first part without one, and from the next
// instance. It then propagates again from pi.
func (e *Engine) stopInfinitesRunningOnLayer(ctx context.Context, d *playoutData, pi rundown.PartInstance, layer string) error {
	idx := d.partIndex(pi.Part.ID)
	if idx < 0 {
		return fmt.Errorf("%w: rundown %q does not have part %q for instance %q", ErrNotFound, d.rundown.ID, pi.Part.ID, pi.ID)
	}

	isLayerContinuation := func(p rundown.PieceInstance) bool {
		return p.Piece.Lifespan.IsInfinite() && isContinuation(p.Piece) && p.Piece.SourceLayerID == layer
	}

	for i := idx + 1; i < len(d.parts); i++ {
		inst := rundown.ResolveOrWrapPart(d.instances, d.parts[i])
		src := e.sourceFor(inst)
		pieces, err := src.list(ctx, inst)
		if err != nil {
			return err
		}
		found := false
		for _, p := range pieces {
			if isLayerContinuation(p) {
				found = true
				if err := src.remove(ctx, p); err != nil {
					return err
				}
			}
		}
		if !found {
			break
		}
	}

	if next := d.next(); next != nil {
		nextInst := *next
		src := e.sourceFor(nextInst)
		pieces, err := src.list(ctx, nextInst)
		if err != nil {
			return err
		}
		for _, p := range pieces {
			if isLayerContinuation(p) {
				if err := src.remove(ctx, p); err != nil {
					return err
				}
			}
		}
	}

	return e.propagateFromInstance(ctx, d, pi)
}
