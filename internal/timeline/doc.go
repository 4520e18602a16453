// Package timeline resolves declarative enable expressions into concrete
// start and end instants.
//
// An enable carries up to three expressions (start, end, duration). Each
// expression is one of:
//
//   - an absolute offset in milliseconds ("0", "1500")
//   - the literal "now", evaluated against Options.Time
//   - a reference to another object's boundary, optionally offset:
//     "#group_a.start", "#group_a.end - 200", "#group_b.start + 40"
//
// Resolve walks the reference graph depth first. Objects whose start cannot
// be computed (missing reference, cycle, reference to an open end) are
// reported as unresolved; the caller decides whether that is an error.
//
// # Usage
//
//	res := timeline.Resolve([]timeline.Object{
//	    {ID: "bg", Enable: timeline.Enable{Start: timeline.At(100)}},
//	    {ID: "lower_third", Enable: timeline.Enable{Start: "#bg.start + 2000", Duration: timeline.At(5000)}},
//	}, timeline.Options{})
//	lt := res.Objects["lower_third"] // Resolved=true, Instances[0].Start=2100
package timeline
