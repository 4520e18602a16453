package playout

import (
	"context"
	"fmt"
	"sort"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/timeline"
)

const pieceGroupPrefix = "piece_group_"

// PieceGroupID returns the timeline object id of a piece. Enable expressions
// reference other pieces through it, as in "#piece_group_<id>.start".
func PieceGroupID(pieceID string) string { return pieceGroupPrefix + pieceID }

// OrderedPiece is a piece instance with its resolved start inside the part.
type OrderedPiece struct {
	rundown.PieceInstance
	ResolvedStart int64
	Resolved      bool
}

// pieceTimelineEnable returns the enable a piece is scheduled with. A user
// duration wins over the playout duration, which wins over the template.
func pieceTimelineEnable(p rundown.PieceInstance) timeline.Enable {
	en := timeline.Enable{Start: p.Piece.Enable.Start}
	switch {
	case p.UserDuration != nil && p.UserDuration.End.IsSet():
		en.End = p.UserDuration.End
	case p.UserDuration != nil && p.UserDuration.Duration != nil:
		en.Duration = timeline.At(*p.UserDuration.Duration)
	case p.Piece.PlayoutDuration != nil:
		en.Duration = timeline.At(*p.Piece.PlayoutDuration)
	default:
		en.End = p.Piece.Enable.End
		en.Duration = p.Piece.Enable.Duration
	}
	return en
}

// isContinuation reports whether p is a non-head link of an infinite chain.
func isContinuation(p rundown.Piece) bool {
	return p.InfiniteID != "" && p.InfiniteID != p.ID
}

// orderPieces resolves the pieces of a part instance and returns them in
// play order. Pieces keep their stored enable; only the resolver input is
// adjusted.
func (e *Engine) orderPieces(pi rundown.PartInstance, pieces []rundown.PieceInstance) []OrderedPiece {
	now := e.clock.Now()
	started := pi.Timings.StartedPlayback

	objs := make([]timeline.Object, 0, len(pieces))
	for _, p := range pieces {
		en := pieceTimelineEnable(p)
		switch {
		case !en.Start.IsSet() || en.Start.IsZero():
			if isContinuation(p.Piece) {
				// Continuations must stay gapless.
				en.Start = timeline.At(0)
			} else {
				en.Start = timeline.At(e.opts.ZeroStartEpoch)
			}
		case en.Start.IsNow():
			if started != nil {
				en.Start = timeline.At(now - *started + e.opts.NowEpoch)
			} else {
				en.Start = timeline.At(0)
			}
		}
		objs = append(objs, timeline.Object{ID: PieceGroupID(p.Piece.ID), Enable: en})
	}

	res := timeline.Resolve(objs, timeline.Options{})

	out := make([]OrderedPiece, 0, len(pieces))
	var unresolved []string
	for _, p := range pieces {
		op := OrderedPiece{PieceInstance: p}
		if ro := res.Objects[PieceGroupID(p.Piece.ID)]; ro != nil && ro.Resolved && len(ro.Instances) > 0 {
			op.ResolvedStart = ro.Instances[0].Start
			op.Resolved = true
		} else if !p.Piece.Virtual {
			// Virtual pieces are markers and never resolve.
			unresolved = append(unresolved, p.ID)
		}
		out = append(out, op)
	}
	if len(unresolved) > 0 {
		e.logger.Error("unresolved pieces in part instance",
			"part_instance_id", pi.ID,
			"count", len(unresolved),
			"piece_instance_ids", unresolved,
		)
	}

	sortOrdered(out)
	return out
}

// sortOrdered sorts by resolved start. On a tie a transition plays after
// its tie-mate.
func sortOrdered(items []OrderedPiece) {
	sort.SliceStable(items, func(i, j int) bool {
		return lessByStart(items[i].ResolvedStart, items[j].ResolvedStart, items[i].Piece, items[j].Piece)
	})
}

func lessByStart(sa, sb int64, a, b rundown.Piece) bool {
	if sa != sb {
		return sa < sb
	}
	return !a.IsTransition && b.IsTransition
}

// resolveActiveWindow returns the pieces of a part instance with concrete
// timing: Enable.Start holds the resolved start and PlayoutDuration the
// resolved length. An infinite piece is bounded by the next piece on its
// source layer.
func (e *Engine) resolveActiveWindow(pi rundown.PartInstance, pieces []rundown.PieceInstance) []rundown.PieceInstance {
	now := e.clock.Now()
	started := pi.Timings.StartedPlayback

	objs := make([]timeline.Object, 0, len(pieces))
	for _, p := range pieces {
		en := pieceTimelineEnable(p)
		switch {
		case en.Start.IsNow() && started != nil:
			en.Start = timeline.At(now - *started)
		case !en.Start.IsSet() || en.Start.IsZero() || en.Start.IsNow():
			en.Start = timeline.At(1)
		}
		objs = append(objs, timeline.Object{ID: PieceGroupID(p.Piece.ID), Enable: en})
	}
	res := timeline.Resolve(objs, timeline.Options{})

	type event struct {
		start int64
		end   *int64
		piece rundown.PieceInstance
	}
	events := make([]event, 0, len(pieces))
	var unresolved []string
	for _, p := range pieces {
		ev := event{piece: p}
		if ro := res.Objects[PieceGroupID(p.Piece.ID)]; ro != nil && ro.Resolved && len(ro.Instances) > 0 {
			ev.start = ro.Instances[0].Start
			ev.end = ro.Instances[0].End
		} else {
			unresolved = append(unresolved, p.ID)
		}
		events = append(events, ev)
	}
	if len(unresolved) > 0 {
		e.logger.Warn("unresolved pieces in active window",
			"part_instance_id", pi.ID,
			"count", len(unresolved),
			"piece_instance_ids", unresolved,
		)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return lessByStart(events[i].start, events[j].start, events[i].piece.Piece, events[j].piece.Piece)
	})

	out := make([]rundown.PieceInstance, len(events))
	starts := make([]int64, len(events))
	for i, ev := range events {
		p := ev.piece.Clone()
		starts[i] = max(0, ev.start-1)
		p.Piece.Enable = timeline.Enable{Start: timeline.At(starts[i])}
		p.Piece.PlayoutDuration = nil
		if ev.end != nil && *ev.end-ev.start > 0 {
			p.Piece.PlayoutDuration = rundown.Int64(*ev.end - ev.start)
		}
		out[i] = p
	}

	for i := range out {
		if !out[i].Piece.Lifespan.IsInfinite() {
			continue
		}
		for j := i + 1; j < len(out); j++ {
			if out[j].Piece.SourceLayerID != out[i].Piece.SourceLayerID {
				continue
			}
			d := starts[j] - starts[i]
			if cur := out[i].Piece.PlayoutDuration; cur == nil || d < *cur {
				out[i].Piece.PlayoutDuration = rundown.Int64(d)
			}
			break
		}
	}
	return out
}

// ResolveActiveWindow returns the concretely timed pieces of a part instance.
func (e *Engine) ResolveActiveWindow(ctx context.Context, rundownID, partInstanceID string) ([]rundown.PieceInstance, error) {
	var out []rundown.PieceInstance
	err := e.run(ctx, rundownID, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		pi := d.instance(partInstanceID)
		if pi == nil {
			return fmt.Errorf("%w: part instance %q", ErrNotFound, partInstanceID)
		}
		pieces, err := e.piecesOf(ctx, *pi)
		if err != nil {
			return err
		}
		out = e.resolveActiveWindow(*pi, pieces)
		return nil
	})
	return out, err
}
