package playout

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/timeline"
)

// propagateFrom runs propagation from the named part, or over the whole
// rundown when prev is empty.
func (f *fixture) propagateFrom(prev string, runUntilEnd bool) propagationStats {
	f.t.Helper()
	var stats propagationStats
	err := f.engine.run(f.ctx, testRundown, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		var part *rundown.Part
		if prev != "" {
			part = d.part(prev)
		}
		var err error
		stats, err = f.engine.propagate(ctx, d, part, runUntilEnd)
		return err
	})
	if err != nil {
		f.t.Fatalf("propagate: %v", err)
	}
	return stats
}

func TestPropagate_Lifespans(t *testing.T) {
	tests := []struct {
		name     string
		lifespan rundown.PieceLifespan
		want     map[string]bool
	}{
		{"infinite runs to the end", rundown.LifespanInfinite, map[string]bool{"bg_p2": true, "bg_p3": true, "bg_p4": true}},
		{"segment scoped", rundown.LifespanOutOnNextSegment, map[string]bool{"bg_p2": true, "bg_p3": false, "bg_p4": false}},
		{"part scoped", rundown.LifespanOutOnNextPart, map[string]bool{"bg_p2": false, "bg_p3": false, "bg_p4": false}},
		{"normal", rundown.LifespanNormal, map[string]bool{"bg_p2": false, "bg_p3": false, "bg_p4": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			f.piece("bg", "p1", "cam", tt.lifespan, 0)
			f.propagateFrom("", true)

			for id, want := range tt.want {
				if got := f.hasPiece(id); got != want {
					t.Errorf("continuation %s present = %v, want %v", id, got, want)
				}
			}
		})
	}
}

func TestPropagate_ContinuationShape(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.piece("bg", "p1", "cam", rundown.LifespanInfinite, 2000)
	f.propagateFrom("", true)

	head, err := f.repo.GetPiece(f.ctx, "bg")
	if err != nil {
		t.Fatalf("GetPiece(bg): %v", err)
	}
	if !head.IsChainHead() {
		t.Errorf("head InfiniteID = %q, want bg", head.InfiniteID)
	}

	cont, err := f.repo.GetPiece(f.ctx, "bg_p2")
	if err != nil {
		t.Fatalf("GetPiece(bg_p2): %v", err)
	}
	if cont.InfiniteID != "bg" || cont.ContinuesRefID != "bg" || !cont.DynamicallyInserted {
		t.Errorf("continuation markers = %+v", cont)
	}
	if !cont.Enable.Start.IsZero() {
		t.Errorf("continuation start = %q, want 0", cont.Enable.Start)
	}
	if cont.PartID != "p2" || cont.SourceLayerID != "cam" {
		t.Errorf("continuation placed in %s on %s", cont.PartID, cont.SourceLayerID)
	}
}

func TestPropagate_Idempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.piece("bg", "p1", "cam", rundown.LifespanInfinite, 0)
	f.piece("gfx", "p1", "overlay", rundown.LifespanOutOnNextSegment, 500)

	first := f.propagateFrom("", true)
	if first.Inserted != 4 || first.HeadsMarked != 2 {
		t.Errorf("first run = %+v, want 4 inserted and 2 heads", first)
	}

	second := f.propagateFrom("", true)
	if second.writes() != 0 {
		t.Errorf("second run wrote %+v, want nothing", second)
	}
	if second.Unchanged != 4 {
		t.Errorf("second run unchanged = %d, want 4", second.Unchanged)
	}
}

func TestPropagate_EndsAtNextPieceOnLayer(t *testing.T) {
	t.Run("piece at zero replaces the chain", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		f.piece("bg", "p1", "cam", rundown.LifespanInfinite, 0)
		f.piece("cut", "p3", "cam", rundown.LifespanNormal, 0)
		f.propagateFrom("", true)

		if !f.hasPiece("bg_p2") {
			t.Error("missing continuation in p2")
		}
		if f.hasPiece("bg_p3") || f.hasPiece("bg_p4") {
			t.Error("chain continued past a piece starting at zero on its layer")
		}
	})

	t.Run("later piece crops the continuation", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		f.piece("bg", "p1", "cam", rundown.LifespanInfinite, 0)
		f.piece("cut", "p3", "cam", rundown.LifespanNormal, 2000)
		f.propagateFrom("", true)

		cont, err := f.repo.GetPiece(f.ctx, "bg_p3")
		if err != nil {
			t.Fatalf("GetPiece(bg_p3): %v", err)
		}
		if want := timeline.Ref(PieceGroupID("cut"), "start", 0); cont.Enable.End != want {
			t.Errorf("continuation end = %q, want %q", cont.Enable.End, want)
		}
		if cont.Lifespan != rundown.LifespanNormal {
			t.Errorf("cropped continuation lifespan = %s, want normal", cont.Lifespan)
		}
		if f.hasPiece("bg_p4") {
			t.Error("chain continued past the cropping piece")
		}
	})
}

func TestPropagate_RemovesOrphanedContinuations(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.piece("bg", "p1", "cam", rundown.LifespanInfinite, 0)
	f.propagateFrom("", true)
	if !f.hasPiece("bg_p4") {
		t.Fatal("setup: chain not propagated")
	}

	if err := f.repo.DeletePiece(f.ctx, "bg"); err != nil {
		t.Fatalf("DeletePiece: %v", err)
	}
	stats := f.propagateFrom("", true)
	if stats.Removed != 3 {
		t.Errorf("removed = %d, want 3", stats.Removed)
	}
	for _, id := range []string{"bg_p2", "bg_p3", "bg_p4"} {
		if f.hasPiece(id) {
			t.Errorf("orphan %s survived", id)
		}
	}
}

func TestPropagate_EarlyExit(t *testing.T) {
	ghost := func(f *fixture) {
		f.savePiece(&rundown.Piece{
			ID:            "ghost_p3",
			RundownID:     testRundown,
			PartID:        "p3",
			SourceLayerID: "cam",
			InfiniteID:    "ghost",
			Lifespan:      rundown.LifespanNormal,
			Enable:        timeline.Enable{Start: timeline.At(0), Duration: timeline.At(500)},
		})
	}

	t.Run("stops at the first quiet part", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		ghost(f)
		stats := f.propagateFrom("p1", false)
		if stats.StoppedAt != "p2" {
			t.Errorf("StoppedAt = %q, want p2", stats.StoppedAt)
		}
		if !f.hasPiece("ghost_p3") {
			t.Error("early exit must not reach p3")
		}
	})

	t.Run("disabled walks every part", func(t *testing.T) {
		opts := DefaultTimingOptions()
		opts.InfiniteEarlyExit = false
		opts.IngestDebounce = time.Hour
		f := newFixture(t, &opts, nil)
		ghost(f)
		stats := f.propagateFrom("p1", false)
		if stats.StoppedAt != "" {
			t.Errorf("StoppedAt = %q, want none", stats.StoppedAt)
		}
		if f.hasPiece("ghost_p3") {
			t.Error("stale continuation survived a full walk")
		}
	})

	t.Run("run to end ignores the option", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		ghost(f)
		if stats := f.propagateFrom("p1", true); stats.StoppedAt != "" || stats.Removed != 1 {
			t.Errorf("stats = %+v, want one removal and no early stop", stats)
		}
	})
}

func TestPropagate_IntoNextInstance(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.piece("bg", "p1", "cam", rundown.LifespanInfinite, 0)
	f.activate()
	f.take()

	nx := f.next()
	if nx == nil || nx.Part.ID != "p2" {
		t.Fatalf("next = %+v, want p2", nx)
	}
	var cont *rundown.PieceInstance
	for _, p := range f.pieceInstances(nx.ID) {
		if p.Piece.InfiniteID == "bg" {
			cont = &p
		}
	}
	if cont == nil {
		t.Fatal("next instance has no continuation of bg")
	}
	if cont.ContinuesRefID == "" || cont.Piece.SourceLayerID != "cam" {
		t.Errorf("continuation = %+v", cont)
	}
}

func TestStopInfinitesRunningOnLayer(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.piece("bg", "p1", "cam", rundown.LifespanInfinite, 0)
	f.activate()
	f.take()

	err := f.engine.run(f.ctx, testRundown, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		cur := *d.current()
		// Turn the head into a bounded piece so nothing propagates again.
		pieces, err := f.engine.piecesOf(ctx, cur)
		if err != nil {
			return err
		}
		for _, p := range pieces {
			if p.Piece.ID == "bg" {
				p.UserDuration = &rundown.UserDuration{Duration: rundown.Int64(1000)}
				if err := f.repo.SavePieceInstance(ctx, &p); err != nil {
					return err
				}
			}
		}
		return f.engine.stopInfinitesRunningOnLayer(ctx, d, cur, "cam")
	})
	if err != nil {
		t.Fatalf("stopInfinitesRunningOnLayer: %v", err)
	}

	for _, p := range f.pieceInstances(f.next().ID) {
		if p.Piece.InfiniteID == "bg" {
			t.Errorf("continuation %s survived in next instance", p.ID)
		}
	}
	for _, id := range []string{"bg_p3", "bg_p4"} {
		if f.hasPiece(id) {
			t.Errorf("template continuation %s survived", id)
		}
	}
}

// failingPieces fails template piece reads for one part.
type failingPieces struct {
	*rundown.MemoryRepository
	partID string
}

func (r failingPieces) ListPieces(ctx context.Context, rundownID string, partIDs ...string) ([]rundown.Piece, error) {
	if slices.Contains(partIDs, r.partID) {
		return nil, errors.New("disk on fire")
	}
	return r.MemoryRepository.ListPieces(ctx, rundownID, partIDs...)
}

func TestPropagate_StoresSeedHeadsFirst(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.piece("bg", "p1", "cam", rundown.LifespanInfinite, 0)

	e := New(Deps{Repo: failingPieces{MemoryRepository: f.repo, partID: "p2"}, Clock: f.clock})
	defer e.Close()
	err := e.run(f.ctx, testRundown, guard.PriorityPlayout, func(ctx context.Context, d *playoutData) error {
		_, err := e.propagate(ctx, d, d.part("p1"), false)
		return err
	})
	if err == nil {
		t.Fatal("propagate succeeded with a failing part")
	}

	head, err := f.repo.GetPiece(f.ctx, "bg")
	if err != nil {
		t.Fatalf("GetPiece: %v", err)
	}
	if head.InfiniteID != "bg" {
		t.Errorf("chain head InfiniteID = %q, want bg", head.InfiniteID)
	}
}
