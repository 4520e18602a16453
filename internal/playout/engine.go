package playout

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// Deps are the collaborators of an Engine. Only Repo is required.
type Deps struct {
	Repo       rundown.Repository
	Guard      *guard.Guard
	Scheduler  *guard.Scheduler
	Blueprint  Blueprint
	Publishers []Publisher
	Notifier   Notifier
	AsRun      AsRunRecorder
	Clock      Clock
	Logger     Logger
	Options    *TimingOptions
}

// Engine is the playout state machine.
//
// Every exported operation runs under the rundown's guard lock, so callers
// may use an Engine from any number of goroutines.
type Engine struct {
	repo       rundown.Repository
	guard      *guard.Guard
	scheduler  *guard.Scheduler
	blueprint  Blueprint
	publishers []Publisher
	notifier   Notifier
	asRun      AsRunRecorder
	clock      Clock
	logger     Logger
	opts       TimingOptions

	mu            sync.Mutex
	generations   map[string]uint64
	snapshots     map[string]Snapshot
	pendingIngest map[string][]string
	ownsScheduler bool

	// timers tracks delayed notifications still waiting to fire.
	timers sync.WaitGroup
}

// New creates an engine. A missing guard or scheduler is created, and the
// scheduler and guard are linked both ways so pending ingest work always runs
// before playout work on the same rundown.
func New(deps Deps) *Engine {
	e := &Engine{
		repo:          deps.Repo,
		guard:         deps.Guard,
		scheduler:     deps.Scheduler,
		blueprint:     deps.Blueprint,
		publishers:    deps.Publishers,
		notifier:      deps.Notifier,
		asRun:         deps.AsRun,
		clock:         deps.Clock,
		logger:        deps.Logger,
		generations:   make(map[string]uint64),
		snapshots:     make(map[string]Snapshot),
		pendingIngest: make(map[string][]string),
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.clock == nil {
		e.clock = SystemClock()
	}
	if e.blueprint == nil {
		e.blueprint = NoopBlueprint{}
	}
	if deps.Options != nil {
		e.opts = *deps.Options
	} else {
		e.opts = DefaultTimingOptions()
	}
	if e.guard == nil {
		e.guard = guard.New(guard.Options{Logger: e.logger})
	}
	if e.scheduler == nil {
		e.scheduler = guard.NewScheduler(e.logger)
		e.ownsScheduler = true
	}
	e.guard.SetFlusher(e.scheduler)
	e.scheduler.SetLocker(e.guard)
	return e
}

// AddPublisher registers another snapshot publisher. It must be called
// before the engine is used.
func (e *Engine) AddPublisher(p Publisher) {
	e.publishers = append(e.publishers, p)
}

// Close cancels pending debounced work and waits for deferred side effects.
func (e *Engine) Close() {
	if e.ownsScheduler {
		e.scheduler.Close()
	}
	e.WaitIdle()
}

// WaitIdle blocks until every deferred side effect queued so far has run,
// including delayed notifications.
func (e *Engine) WaitIdle() {
	e.guard.WaitDeferred()
	e.timers.Wait()
}

// playoutData is the per-operation view of a rundown, loaded under the lock.
type playoutData struct {
	rundown   *rundown.Rundown
	segments  []rundown.Segment
	parts     []rundown.Part
	instances []rundown.PartInstance
}

// run executes fn under the rundown lock with freshly loaded data.
func (e *Engine) run(ctx context.Context, rundownID string, prio guard.Priority, fn func(ctx context.Context, d *playoutData) error) error {
	return e.guard.Run(ctx, rundownID, prio, func(ctx context.Context) error {
		d, err := e.load(ctx, rundownID)
		if err != nil {
			return err
		}
		return fn(ctx, d)
	})
}

func (e *Engine) load(ctx context.Context, rundownID string) (*playoutData, error) {
	rd, err := e.repo.GetRundown(ctx, rundownID)
	if err != nil {
		return nil, storeErr(err, "rundown %q", rundownID)
	}
	segments, err := e.repo.ListSegments(ctx, rundownID)
	if err != nil {
		return nil, storeErr(err, "listing segments of %q", rundownID)
	}
	parts, err := e.repo.ListParts(ctx, rundownID)
	if err != nil {
		return nil, storeErr(err, "listing parts of %q", rundownID)
	}
	instances, err := e.repo.ListPartInstances(ctx, rundownID, false)
	if err != nil {
		return nil, storeErr(err, "listing part instances of %q", rundownID)
	}
	rundown.SortSegments(segments)
	rundown.SortParts(parts, segments)
	return &playoutData{rundown: rd, segments: segments, parts: parts, instances: instances}, nil
}

// reloadParts refreshes the template parts after ingest or ad-lib changes.
func (e *Engine) reloadParts(ctx context.Context, d *playoutData) error {
	parts, err := e.repo.ListParts(ctx, d.rundown.ID)
	if err != nil {
		return storeErr(err, "listing parts of %q", d.rundown.ID)
	}
	segments, err := e.repo.ListSegments(ctx, d.rundown.ID)
	if err != nil {
		return storeErr(err, "listing segments of %q", d.rundown.ID)
	}
	rundown.SortSegments(segments)
	rundown.SortParts(parts, segments)
	d.parts, d.segments = parts, segments
	return nil
}

func (d *playoutData) partIndex(id string) int {
	for i := range d.parts {
		if d.parts[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *playoutData) part(id string) *rundown.Part {
	if i := d.partIndex(id); i >= 0 {
		return &d.parts[i]
	}
	return nil
}

func (d *playoutData) segmentIndex(id string) int {
	for i := range d.segments {
		if d.segments[i].ID == id {
			return i
		}
	}
	return -1
}

// partAfter returns the first playable part after index i.
func (d *playoutData) partAfter(i int) *rundown.Part {
	for j := i + 1; j < len(d.parts); j++ {
		if d.parts[j].IsPlayable() {
			return &d.parts[j]
		}
	}
	return nil
}

// partAfterInstance returns the first playable part after the instance's
// part. A nil instance yields the first playable part of the rundown.
func (d *playoutData) partAfterInstance(pi *rundown.PartInstance) *rundown.Part {
	if pi == nil {
		return d.partAfter(-1)
	}
	i := d.partIndex(pi.Part.ID)
	if i < 0 {
		return nil
	}
	return d.partAfter(i)
}

// partBefore returns the part immediately before the given part, if any.
func (d *playoutData) partBefore(id string) *rundown.Part {
	if i := d.partIndex(id); i > 0 {
		return &d.parts[i-1]
	}
	return nil
}

// lastPartBeforeSegment returns the last part of the segment preceding segmentID.
func (d *playoutData) lastPartBeforeSegment(segmentID string) *rundown.Part {
	si := d.segmentIndex(segmentID)
	if si <= 0 {
		return nil
	}
	prev := d.segments[si-1].ID
	var last *rundown.Part
	for i := range d.parts {
		if d.parts[i].SegmentID == prev {
			last = &d.parts[i]
		}
	}
	return last
}

func (d *playoutData) instance(id string) *rundown.PartInstance {
	if id == "" {
		return nil
	}
	for i := range d.instances {
		if d.instances[i].ID == id {
			return &d.instances[i]
		}
	}
	return nil
}

func (d *playoutData) current() *rundown.PartInstance {
	return d.instance(d.rundown.CurrentPartInstanceID)
}

func (d *playoutData) next() *rundown.PartInstance {
	return d.instance(d.rundown.NextPartInstanceID)
}

func (d *playoutData) previous() *rundown.PartInstance {
	return d.instance(d.rundown.PreviousPartInstanceID)
}

// putInstance inserts or replaces an instance in the loaded view.
func (d *playoutData) putInstance(pi rundown.PartInstance) {
	for i := range d.instances {
		if d.instances[i].ID == pi.ID {
			d.instances[i] = pi
			return
		}
	}
	d.instances = append(d.instances, pi)
}

func (d *playoutData) dropInstance(id string) {
	for i := range d.instances {
		if d.instances[i].ID == id {
			d.instances = append(d.instances[:i], d.instances[i+1:]...)
			return
		}
	}
}

func (d *playoutData) maxTakeCount() int {
	n := 0
	for _, pi := range d.instances {
		if pi.TakeCount > n {
			n = pi.TakeCount
		}
	}
	return n
}

func (e *Engine) saveRundown(ctx context.Context, rd *rundown.Rundown) error {
	rd.Modified = e.clock.Now()
	if err := e.repo.SaveRundown(ctx, rd); err != nil {
		return storeErr(err, "saving rundown %q", rd.ID)
	}
	return nil
}

func (e *Engine) savePartInstance(ctx context.Context, d *playoutData, pi *rundown.PartInstance) error {
	if err := e.repo.SavePartInstance(ctx, pi); err != nil {
		return storeErr(err, "saving part instance %q", pi.ID)
	}
	d.putInstance(*pi)
	return nil
}

// requireActive rejects work on an inactive rundown.
func requireActive(rd *rundown.Rundown) error {
	if !rd.Active {
		return fmt.Errorf("%w: rundown %q is not active", ErrInvalidState, rd.ID)
	}
	return nil
}

// newInstanceID returns a fresh part instance id.
func newInstanceID() string { return uuid.NewString() }

// shortID returns a short random id fragment.
func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// callHook runs a blueprint hook, logging errors and recovering panics.
func (e *Engine) callHook(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("blueprint hook panicked", "hook", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		e.logger.Error("blueprint hook failed", "hook", name, "error", err)
	}
}

// recordAsRun queues an as-run event behind the lock.
func (e *Engine) recordAsRun(ctx context.Context, rd *rundown.Rundown, ev AsRunEvent) {
	if e.asRun == nil {
		return
	}
	ev.StudioID = rd.StudioID
	ev.RundownID = rd.ID
	ev.Rehearsal = rd.Rehearsal
	e.guard.Defer(ctx, func() {
		if err := e.asRun.RecordEvent(context.Background(), ev); err != nil {
			e.logger.Error("recording as-run event failed", "rundown_id", ev.RundownID, "content", ev.Content, "error", err)
		}
	})
}
