package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidExpression is returned when an expression cannot be parsed.
var ErrInvalidExpression = errors.New("timeline: invalid expression")

// refPattern matches "#<id>.<start|end>" with an optional "+ n" or "- n".
var refPattern = regexp.MustCompile(`^#(.+)\.(start|end)\s*(?:([+-])\s*(\d+))?$`)

// Now is the literal expression evaluated against Options.Time.
const Now Expression = "now"

// Expression is a single enable term. The zero value means "not set".
//
// On the wire numeric expressions are encoded as JSON numbers and everything
// else as JSON strings, so documents stay readable by other tooling.
type Expression string

// At returns an absolute expression for the given millisecond offset.
func At(ms int64) Expression {
	return Expression(strconv.FormatInt(ms, 10))
}

// Ref returns a reference expression to the boundary ("start" or "end") of
// the object with the given id, shifted by offset milliseconds.
func Ref(id, boundary string, offset int64) Expression {
	s := "#" + id + "." + boundary
	switch {
	case offset > 0:
		s += " + " + strconv.FormatInt(offset, 10)
	case offset < 0:
		s += " - " + strconv.FormatInt(-offset, 10)
	}
	return Expression(s)
}

// IsSet reports whether the expression carries a value.
func (e Expression) IsSet() bool { return strings.TrimSpace(string(e)) != "" }

// IsNow reports whether the expression is the literal "now".
func (e Expression) IsNow() bool { return strings.TrimSpace(string(e)) == string(Now) }

// Number returns the absolute value of a numeric expression.
func (e Expression) Number() (int64, bool) {
	s := strings.TrimSpace(string(e))
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// IsZero reports whether the expression is the absolute value 0.
func (e Expression) IsZero() bool {
	v, ok := e.Number()
	return ok && v == 0
}

// MarshalJSON encodes numeric expressions as numbers.
func (e Expression) MarshalJSON() ([]byte, error) {
	if v, ok := e.Number(); ok {
		return []byte(strconv.FormatInt(v, 10)), nil
	}
	return json.Marshal(string(e))
}

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (e *Expression) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*e = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*e = Expression(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidExpression, s)
	}
	*e = Expression(n.String())
	return nil
}

// term is a parsed expression.
type term struct {
	now      bool
	refID    string
	boundary string // "start" or "end"
	offset   int64
}

// parse breaks an expression into a reference (optional) and an offset.
func (e Expression) parse() (term, error) {
	s := strings.TrimSpace(string(e))
	if s == "" {
		return term{}, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}
	if s == string(Now) {
		return term{now: true}, nil
	}
	if v, ok := e.Number(); ok {
		return term{offset: v}, nil
	}
	if !strings.HasPrefix(s, "#") {
		return term{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
	}

	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return term{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
	}
	t := term{refID: m[1], boundary: m[2]}
	if m[4] != "" {
		v, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			return term{}, fmt.Errorf("%w: bad offset in %q", ErrInvalidExpression, s)
		}
		if m[3] == "-" {
			v = -v
		}
		t.offset = v
	}
	return t, nil
}

// Enable is the declarative timing of one object.
type Enable struct {
	Start    Expression `json:"start,omitempty"`
	End      Expression `json:"end,omitempty"`
	Duration Expression `json:"duration,omitempty"`
}

// HasEnd reports whether the enable bounds the object in time.
func (en Enable) HasEnd() bool { return en.End.IsSet() || en.Duration.IsSet() }
