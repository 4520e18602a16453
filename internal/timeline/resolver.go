package timeline

import "sort"

// Object is an input to Resolve.
type Object struct {
	ID     string
	Enable Enable
}

// Instance is one resolved occurrence of an object. End is nil when the
// object runs open ended.
type Instance struct {
	Start int64
	End   *int64
}

// ResolvedObject holds the outcome for a single object.
type ResolvedObject struct {
	ID        string
	Resolved  bool
	Instances []Instance
}

// Statistics summarises a resolution run.
type Statistics struct {
	ResolvedCount   int
	UnresolvedCount int
}

// Result is the output of Resolve.
type Result struct {
	Objects    map[string]*ResolvedObject
	Statistics Statistics
}

// Options control evaluation of "now".
type Options struct {
	Time int64
}

type resolveState int

const (
	stateUnvisited resolveState = iota
	stateVisiting
	stateDone
)

type resolver struct {
	opts    Options
	objects map[string]Object
	state   map[string]resolveState
	out     map[string]*ResolvedObject
}

// Resolve computes concrete instances for every object. Objects are resolved
// independently of input order; duplicate ids keep the last definition.
func Resolve(objects []Object, opts Options) Result {
	r := &resolver{
		opts:    opts,
		objects: make(map[string]Object, len(objects)),
		state:   make(map[string]resolveState, len(objects)),
		out:     make(map[string]*ResolvedObject, len(objects)),
	}
	ids := make([]string, 0, len(objects))
	for _, o := range objects {
		if _, seen := r.objects[o.ID]; !seen {
			ids = append(ids, o.ID)
		}
		r.objects[o.ID] = o
	}
	sort.Strings(ids)

	res := Result{Objects: r.out}
	for _, id := range ids {
		ro := r.resolve(id)
		if ro.Resolved {
			res.Statistics.ResolvedCount++
		} else {
			res.Statistics.UnresolvedCount++
		}
	}
	return res
}

func (r *resolver) resolve(id string) *ResolvedObject {
	if ro, ok := r.out[id]; ok && r.state[id] == stateDone {
		return ro
	}
	obj, ok := r.objects[id]
	if !ok {
		return &ResolvedObject{ID: id}
	}
	if r.state[id] == stateVisiting {
		// Cycle.
		return &ResolvedObject{ID: id}
	}
	r.state[id] = stateVisiting

	ro := &ResolvedObject{ID: id}
	if start, ok := r.eval(obj.Enable.Start); ok {
		inst := Instance{Start: start}
		endOK := true
		switch {
		case obj.Enable.End.IsSet():
			if end, ok := r.eval(obj.Enable.End); ok {
				inst.End = clampEnd(start, end)
			} else {
				endOK = false
			}
		case obj.Enable.Duration.IsSet():
			if d, ok := r.eval(obj.Enable.Duration); ok {
				inst.End = clampEnd(start, start+d)
			} else {
				endOK = false
			}
		}
		if endOK {
			ro.Resolved = true
			ro.Instances = []Instance{inst}
		}
	}

	r.state[id] = stateDone
	r.out[id] = ro
	return ro
}

func (r *resolver) eval(e Expression) (int64, bool) {
	if !e.IsSet() {
		return 0, false
	}
	t, err := e.parse()
	if err != nil {
		return 0, false
	}
	if t.now {
		return r.opts.Time, true
	}
	if t.refID == "" {
		return t.offset, true
	}
	target := r.resolve(t.refID)
	if !target.Resolved || len(target.Instances) == 0 {
		return 0, false
	}
	inst := target.Instances[0]
	if t.boundary == "end" {
		if inst.End == nil {
			return 0, false
		}
		return *inst.End + t.offset, true
	}
	return inst.Start + t.offset, true
}

func clampEnd(start, end int64) *int64 {
	if end < start {
		end = start
	}
	return &end
}
