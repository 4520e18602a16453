package playout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/timeline"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now atomic.Int64
}

func newFakeClock(start int64) *fakeClock {
	c := &fakeClock{}
	c.now.Store(start)
	return c
}

func (c *fakeClock) Now() int64       { return c.now.Load() }
func (c *fakeClock) Advance(ms int64) { c.now.Add(ms) }

// recordingPublisher captures every published snapshot.
type recordingPublisher struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (p *recordingPublisher) PublishSnapshot(_ context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

func (p *recordingPublisher) all() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	cpy := make([]Snapshot, len(p.snaps))
	copy(cpy, p.snaps)
	return cpy
}

// recordingBlueprint counts hook calls and hands out a fixed end state.
type recordingBlueprint struct {
	mu       sync.Mutex
	calls    map[string]int
	endState json.RawMessage
	panicPre bool
	failPost bool
}

func newRecordingBlueprint() *recordingBlueprint {
	return &recordingBlueprint{calls: make(map[string]int)}
}

func (b *recordingBlueprint) count(hook string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[hook]
}

func (b *recordingBlueprint) hit(hook string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[hook]++
}

func (b *recordingBlueprint) OnPreTake(context.Context, PartEventContext) error {
	b.hit("pre")
	if b.panicPre {
		panic("blueprint exploded")
	}
	return nil
}

func (b *recordingBlueprint) OnPostTake(context.Context, PartEventContext) error {
	b.hit("post")
	if b.failPost {
		return errors.New("post-take failed")
	}
	return nil
}

func (b *recordingBlueprint) OnRundownFirstTake(context.Context, PartEventContext) error {
	b.hit("first")
	return nil
}

func (b *recordingBlueprint) GetEndStateForPart(context.Context, rundown.Rundown, json.RawMessage, []rundown.PieceInstance, int64) (json.RawMessage, error) {
	b.hit("end_state")
	return b.endState, nil
}

// recordingAsRun captures as-run events and takes.
type recordingAsRun struct {
	mu     sync.Mutex
	events []AsRunEvent
	takes  []TakeEvent
}

func (r *recordingAsRun) RecordEvent(_ context.Context, ev AsRunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingAsRun) RecordTake(_ context.Context, ev TakeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.takes = append(r.takes, ev)
	return nil
}

func (r *recordingAsRun) countEvents(content, scope string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Content == content && ev.Content2 == scope {
			n++
		}
	}
	return n
}

func (r *recordingAsRun) takeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.takes)
}

// recordingNotifier counts current-part notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	parts []string
}

func (n *recordingNotifier) NotifyCurrentPart(_ context.Context, _ rundown.Rundown, pi rundown.PartInstance) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parts = append(n.parts, pi.Part.ID)
	return nil
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.parts...)
}

// ─── Fixture ────────────────────────────────────────────────────────────────

const (
	testRundown = "r1"
	testStudio  = "studio0"
	clockStart  = int64(1_700_000_000_000)
)

type fixture struct {
	t         *testing.T
	ctx       context.Context
	repo      *rundown.MemoryRepository
	clock     *fakeClock
	engine    *Engine
	publisher *recordingPublisher
	blueprint *recordingBlueprint
	asRun     *recordingAsRun
	notifier  *recordingNotifier
}

// newFixture builds an engine over a rundown with two segments:
//
//	seg1: p1, p2
//	seg2: p3, p4
//
// Parts may be adjusted with the mutate callback before they are stored.
func newFixture(t *testing.T, opts *TimingOptions, mutate func(parts map[string]*rundown.Part)) *fixture {
	t.Helper()

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		repo:      rundown.NewMemoryRepository(),
		clock:     newFakeClock(clockStart),
		publisher: &recordingPublisher{},
		blueprint: newRecordingBlueprint(),
		asRun:     &recordingAsRun{},
		notifier:  &recordingNotifier{},
	}

	if err := f.repo.SaveRundown(f.ctx, &rundown.Rundown{ID: testRundown, StudioID: testStudio, Name: "Evening News"}); err != nil {
		t.Fatalf("SaveRundown: %v", err)
	}
	for _, s := range []rundown.Segment{
		{ID: "seg1", RundownID: testRundown, Name: "Opening", Rank: 1},
		{ID: "seg2", RundownID: testRundown, Name: "Weather", Rank: 2},
	} {
		if err := f.repo.SaveSegment(f.ctx, &s); err != nil {
			t.Fatalf("SaveSegment: %v", err)
		}
	}
	parts := map[string]*rundown.Part{
		"p1": {ID: "p1", RundownID: testRundown, SegmentID: "seg1", Title: "Headlines", Rank: 1, ExternalID: "ext-p1"},
		"p2": {ID: "p2", RundownID: testRundown, SegmentID: "seg1", Title: "Lead story", Rank: 2, ExternalID: "ext-p2"},
		"p3": {ID: "p3", RundownID: testRundown, SegmentID: "seg2", Title: "Forecast", Rank: 1, ExternalID: "ext-p3"},
		"p4": {ID: "p4", RundownID: testRundown, SegmentID: "seg2", Title: "Goodbye", Rank: 2, ExternalID: "ext-p4"},
	}
	if mutate != nil {
		mutate(parts)
	}
	for _, p := range parts {
		if err := f.repo.SavePart(f.ctx, p); err != nil {
			t.Fatalf("SavePart: %v", err)
		}
	}

	if opts == nil {
		o := DefaultTimingOptions()
		o.NotifyDelay = time.Millisecond
		o.IngestDebounce = time.Hour
		opts = &o
	}
	f.engine = New(Deps{
		Repo:       f.repo,
		Blueprint:  f.blueprint,
		Publishers: []Publisher{f.publisher},
		Notifier:   f.notifier,
		AsRun:      f.asRun,
		Clock:      f.clock,
		Options:    opts,
	})
	t.Cleanup(f.engine.Close)
	return f
}

// piece stores a template piece starting at start with no end.
func (f *fixture) piece(id, partID, layer string, lifespan rundown.PieceLifespan, start int64) *rundown.Piece {
	f.t.Helper()
	p := &rundown.Piece{
		ID:            id,
		RundownID:     testRundown,
		PartID:        partID,
		Name:          id,
		SourceLayerID: layer,
		Enable:        timeline.Enable{Start: timeline.At(start)},
		Lifespan:      lifespan,
	}
	f.savePiece(p)
	return p
}

func (f *fixture) savePiece(p *rundown.Piece) {
	f.t.Helper()
	if err := f.repo.SavePiece(f.ctx, p); err != nil {
		f.t.Fatalf("SavePiece(%s): %v", p.ID, err)
	}
}

func (f *fixture) rd() *rundown.Rundown {
	f.t.Helper()
	rd, err := f.repo.GetRundown(f.ctx, testRundown)
	if err != nil {
		f.t.Fatalf("GetRundown: %v", err)
	}
	return rd
}

func (f *fixture) instance(id string) *rundown.PartInstance {
	f.t.Helper()
	if id == "" {
		return nil
	}
	pi, err := f.repo.GetPartInstance(f.ctx, id)
	if err != nil {
		f.t.Fatalf("GetPartInstance(%s): %v", id, err)
	}
	return pi
}

func (f *fixture) current() *rundown.PartInstance { return f.instance(f.rd().CurrentPartInstanceID) }
func (f *fixture) next() *rundown.PartInstance    { return f.instance(f.rd().NextPartInstanceID) }

// pieceInstances lists the live piece instances of a part instance.
func (f *fixture) pieceInstances(partInstanceID string) []rundown.PieceInstance {
	f.t.Helper()
	all, err := f.repo.ListPieceInstances(f.ctx, partInstanceID)
	if err != nil {
		f.t.Fatalf("ListPieceInstances: %v", err)
	}
	out := all[:0]
	for _, p := range all {
		if !p.Reset {
			out = append(out, p)
		}
	}
	return out
}

func (f *fixture) hasPiece(id string) bool {
	f.t.Helper()
	_, err := f.repo.GetPiece(f.ctx, id)
	if err != nil && !errors.Is(err, rundown.ErrNotFound) {
		f.t.Fatalf("GetPiece(%s): %v", id, err)
	}
	return err == nil
}

func (f *fixture) activate() {
	f.t.Helper()
	if err := f.engine.Activate(f.ctx, testRundown, false); err != nil {
		f.t.Fatalf("Activate: %v", err)
	}
}

func (f *fixture) take() {
	f.t.Helper()
	if err := f.engine.Take(f.ctx, testRundown); err != nil {
		f.t.Fatalf("Take: %v", err)
	}
}

// started reports playback of the current part at the clock's time.
func (f *fixture) started() *rundown.PartInstance {
	f.t.Helper()
	cur := f.current()
	if err := f.engine.OnPartPlaybackStarted(f.ctx, testRundown, cur.ID, f.clock.Now()); err != nil {
		f.t.Fatalf("OnPartPlaybackStarted: %v", err)
	}
	return f.current()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
