package version

import (
	"fmt"
	"strings"
)

// Range is an interval over versions. A nil bound is unbounded.
type Range struct {
	Lower          *Version
	LowerInclusive bool
	Upper          *Version
	UpperInclusive bool
}

// ParseRange parses interval notation such as "[1.0,2.0)", "(,3]" or "[2.0,]".
// A bare version ("1.4") is shorthand for "[1.4,1.4]".
func ParseRange(expr string) (Range, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Range{}, fmt.Errorf("invalid range expression: empty")
	}

	open, closing := expr[0], expr[len(expr)-1]
	if (open != '[' && open != '(') || (closing != ']' && closing != ')') {
		v, err := Parse(expr)
		if err != nil {
			return Range{}, fmt.Errorf("invalid range expression %q: must start with '[' or '(' and end with ']' or ')'", expr)
		}
		return Range{Lower: &v, LowerInclusive: true, Upper: &v, UpperInclusive: true}, nil
	}
	if len(expr) < 2 {
		return Range{}, fmt.Errorf("invalid range expression %q", expr)
	}

	bounds := strings.Split(expr[1:len(expr)-1], ",")
	if len(bounds) != 2 {
		return Range{}, fmt.Errorf("invalid range expression %q: want two bounds separated by ','", expr)
	}

	r := Range{LowerInclusive: open == '[', UpperInclusive: closing == ']'}
	if s := strings.TrimSpace(bounds[0]); s != "" {
		v, err := Parse(s)
		if err != nil {
			return Range{}, fmt.Errorf("invalid lower bound in %q: %w", expr, err)
		}
		r.Lower = &v
	}
	if s := strings.TrimSpace(bounds[1]); s != "" {
		v, err := Parse(s)
		if err != nil {
			return Range{}, fmt.Errorf("invalid upper bound in %q: %w", expr, err)
		}
		r.Upper = &v
	}
	if r.Lower != nil && r.Upper != nil {
		c := r.Lower.Compare(*r.Upper)
		if c > 0 || (c == 0 && !(r.LowerInclusive && r.UpperInclusive)) {
			return Range{}, fmt.Errorf("invalid range expression %q: empty interval", expr)
		}
	}
	return r, nil
}

// Contains reports whether v lies inside the interval.
func (r Range) Contains(v Version) bool {
	if r.Lower != nil {
		c := v.Compare(*r.Lower)
		if c < 0 || (c == 0 && !r.LowerInclusive) {
			return false
		}
	}
	if r.Upper != nil {
		c := v.Compare(*r.Upper)
		if c > 0 || (c == 0 && !r.UpperInclusive) {
			return false
		}
	}
	return true
}

// String renders the range in interval notation.
func (r Range) String() string {
	var b strings.Builder
	if r.LowerInclusive {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	if r.Lower != nil {
		b.WriteString(r.Lower.String())
	}
	b.WriteByte(',')
	if r.Upper != nil {
		b.WriteString(r.Upper.String())
	}
	if r.UpperInclusive {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}
