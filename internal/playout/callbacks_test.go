package playout

import (
	"errors"
	"testing"

	"github.com/nerrad567/playout-core/internal/rundown"
)

func TestOnPartPlaybackStarted_Current(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.activate()
	f.take()
	f.clock.Advance(200)

	cur := f.started()
	if cur.Timings.StartedPlayback == nil || *cur.Timings.StartedPlayback != f.clock.Now() {
		t.Errorf("StartedPlayback = %v, want %d", cur.Timings.StartedPlayback, f.clock.Now())
	}
	if rd := f.rd(); rd.StartedPlayback == nil || *rd.StartedPlayback != f.clock.Now() {
		t.Errorf("rundown StartedPlayback = %v", rd.StartedPlayback)
	}

	// A repeated report changes nothing.
	f.clock.Advance(50)
	if err := f.engine.OnPartPlaybackStarted(f.ctx, testRundown, cur.ID, f.clock.Now()); err != nil {
		t.Fatalf("repeated OnPartPlaybackStarted: %v", err)
	}
	f.engine.WaitIdle()

	if again := f.current(); *again.Timings.StartedPlayback != *cur.Timings.StartedPlayback {
		t.Errorf("StartedPlayback moved to %d", *again.Timings.StartedPlayback)
	}
	if n := f.asRun.countEvents(AsRunStartedPlayback, AsRunScopePart); n != 1 {
		t.Errorf("part started events = %d, want 1", n)
	}
	if n := f.asRun.countEvents(AsRunStartedPlayback, AsRunScopeRundown); n != 1 {
		t.Errorf("rundown started events = %d, want 1", n)
	}
}

func TestOnPartPlaybackStarted_StopsPrevious(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.activate()
	f.take()
	f.started()
	f.clock.Advance(3000)
	f.take()
	f.clock.Advance(100)
	f.started()

	prev := f.instance(f.rd().PreviousPartInstanceID)
	if prev.Timings.Duration == nil || *prev.Timings.Duration != 3100 {
		t.Errorf("previous duration = %v, want 3100", prev.Timings.Duration)
	}
	if prev.Timings.StoppedPlayback == nil {
		t.Error("previous part not stopped")
	}
}

func TestOnPartPlaybackStarted_AutoNext(t *testing.T) {
	f := newFixture(t, nil, func(parts map[string]*rundown.Part) {
		parts["p1"].AutoNext = true
	})
	f.activate()
	f.take()
	p1 := f.started()
	p2 := f.next()

	f.clock.Advance(4000)
	if err := f.engine.OnPartPlaybackStarted(f.ctx, testRundown, p2.ID, f.clock.Now()); err != nil {
		t.Fatalf("OnPartPlaybackStarted(next): %v", err)
	}

	rd := f.rd()
	if rd.CurrentPartInstanceID != p2.ID || rd.PreviousPartInstanceID != p1.ID {
		t.Errorf("pointers = prev %q cur %q, want %q %q", rd.PreviousPartInstanceID, rd.CurrentPartInstanceID, p1.ID, p2.ID)
	}
	if nx := f.next(); nx == nil || nx.Part.ID != "p3" {
		t.Errorf("next = %+v, want p3", nx)
	}

	old := f.instance(p1.ID)
	if old.Timings.Duration == nil || *old.Timings.Duration != 4000 {
		t.Errorf("p1 duration = %v, want 4000", old.Timings.Duration)
	}
	if old.Timings.TakeOut == nil || *old.Timings.TakeOut != f.clock.Now() {
		t.Errorf("p1 TakeOut = %v, want %d", old.Timings.TakeOut, f.clock.Now())
	}
	cur := f.current()
	if cur.Timings.Take == nil || *cur.Timings.Take != f.clock.Now() || cur.Timings.PlayOffset == nil {
		t.Errorf("auto-nexted part timings = %+v", cur.Timings)
	}
}

func TestOnPartPlaybackStarted_Errors(t *testing.T) {
	f := newFixture(t, nil, nil)
	err := f.engine.OnPartPlaybackStarted(f.ctx, testRundown, "missing", f.clock.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown instance = %v, want ErrNotFound", err)
	}

	f.activate()
	nx := f.next()
	if err := f.engine.Deactivate(f.ctx, testRundown); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	err = f.engine.OnPartPlaybackStarted(f.ctx, testRundown, nx.ID, f.clock.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("discarded instance = %v, want ErrNotFound", err)
	}
}

func TestOnPartPlaybackStopped(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.activate()
	f.take()

	// Stopping a part that never started is ignored.
	if err := f.engine.OnPartPlaybackStopped(f.ctx, testRundown, f.current().ID, f.clock.Now()); err != nil {
		t.Fatalf("OnPartPlaybackStopped before start: %v", err)
	}
	if f.current().Timings.StoppedPlayback != nil {
		t.Error("unstarted part marked stopped")
	}

	cur := f.started()
	f.clock.Advance(2500)
	for range 2 {
		if err := f.engine.OnPartPlaybackStopped(f.ctx, testRundown, cur.ID, f.clock.Now()); err != nil {
			t.Fatalf("OnPartPlaybackStopped: %v", err)
		}
	}
	f.engine.WaitIdle()

	got := f.current()
	if got.Timings.Duration == nil || *got.Timings.Duration != 2500 {
		t.Errorf("duration = %v, want 2500", got.Timings.Duration)
	}
	if n := f.asRun.countEvents(AsRunStoppedPlayback, AsRunScopePart); n != 1 {
		t.Errorf("part stopped events = %d, want 1", n)
	}
}

func TestPiecePlaybackCallbacks(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.piece("gfx", "p1", "overlay", rundown.LifespanNormal, 500)
	f.piece("vo", "p1", "audio", rundown.LifespanNormal, 0)
	f.activate()
	f.take()
	cur := f.started()
	gfx := rundown.PieceInstanceID(cur.ID, "gfx")
	vo := rundown.PieceInstanceID(cur.ID, "vo")

	// Stop before start is a no-op.
	if err := f.engine.OnPiecePlaybackStopped(f.ctx, testRundown, vo, f.clock.Now()); err != nil {
		t.Fatalf("OnPiecePlaybackStopped before start: %v", err)
	}

	f.clock.Advance(500)
	for range 2 {
		if err := f.engine.OnPiecePlaybackStarted(f.ctx, testRundown, gfx, f.clock.Now()); err != nil {
			t.Fatalf("OnPiecePlaybackStarted: %v", err)
		}
	}
	f.clock.Advance(1000)
	if err := f.engine.OnPiecePlaybackStopped(f.ctx, testRundown, gfx, f.clock.Now()); err != nil {
		t.Fatalf("OnPiecePlaybackStopped: %v", err)
	}
	f.engine.WaitIdle()

	p, err := f.repo.GetPieceInstance(f.ctx, gfx)
	if err != nil {
		t.Fatalf("GetPieceInstance: %v", err)
	}
	if p.Timings.StartedPlayback == nil || *p.Timings.StartedPlayback != clockStart+500 {
		t.Errorf("piece started = %v, want %d", p.Timings.StartedPlayback, clockStart+500)
	}
	if p.Timings.StoppedPlayback == nil || *p.Timings.StoppedPlayback != clockStart+1500 {
		t.Errorf("piece stopped = %v, want %d", p.Timings.StoppedPlayback, clockStart+1500)
	}
	if n := f.asRun.countEvents(AsRunStartedPlayback, AsRunScopePiece); n != 1 {
		t.Errorf("piece started events = %d, want 1", n)
	}
	if n := f.asRun.countEvents(AsRunStoppedPlayback, AsRunScopePiece); n != 1 {
		t.Errorf("piece stopped events = %d, want 1", n)
	}

	if err := f.engine.OnPiecePlaybackStarted(f.ctx, testRundown, "missing", f.clock.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown piece instance = %v, want ErrNotFound", err)
	}
}
