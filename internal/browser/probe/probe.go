// Package probe models candidate selector sets: ordered lists of
// interchangeable element probes where the first visible match wins.
package probe

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects how a probe finds elements.
type Kind int

const (
	// CSS matches with document.querySelectorAll.
	CSS Kind = iota
	// Text matches the innermost elements whose normalized text contains
	// (or, when Exact, equals) Text.
	Text
	// HasText matches Selector elements whose text contains Text.
	HasText
)

func (k Kind) String() string {
	switch k {
	case CSS:
		return "css"
	case Text:
		return "text"
	case HasText:
		return "has-text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Probe is one way of locating a semantic element.
type Probe struct {
	Kind     Kind   `json:"kind"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Exact    bool   `json:"exact,omitempty"`
}

// String renders the probe in the notation ParseProbe accepts.
func (p Probe) String() string {
	switch p.Kind {
	case Text:
		if p.Exact {
			return fmt.Sprintf("text=%q", p.Text)
		}
		return "text=" + p.Text
	case HasText:
		return fmt.Sprintf("%s:has-text(%q)", p.Selector, p.Text)
	default:
		return p.Selector
	}
}

var hasTextPattern = regexp.MustCompile(`^(.*):has-text\((["'])(.*)(["'])\)$`)

// ParseProbe accepts the three notations used throughout the suite:
//
//	text=Logout               case-insensitive substring
//	text="Back to Home"       exact, after whitespace normalization
//	button:has-text("확인")   CSS plus a text filter
//
// Anything else is treated as a CSS selector.
func ParseProbe(expr string) (Probe, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Probe{}, fmt.Errorf("empty probe expression")
	}

	if rest, ok := strings.CutPrefix(expr, "text="); ok {
		if rest == "" {
			return Probe{}, fmt.Errorf("probe %q has no text", expr)
		}
		if len(rest) >= 2 && (rest[0] == '"' || rest[0] == '\'') && rest[len(rest)-1] == rest[0] {
			return Probe{Kind: Text, Text: rest[1 : len(rest)-1], Exact: true}, nil
		}
		return Probe{Kind: Text, Text: rest}, nil
	}

	if m := hasTextPattern.FindStringSubmatch(expr); m != nil {
		sel := strings.TrimSpace(m[1])
		if sel == "" {
			sel = "*"
		}
		if m[4] != m[2] {
			return Probe{}, fmt.Errorf("probe %q has mismatched quotes", expr)
		}
		if m[3] == "" {
			return Probe{}, fmt.Errorf("probe %q has an empty :has-text filter", expr)
		}
		return Probe{Kind: HasText, Selector: sel, Text: m[3]}, nil
	}

	return Probe{Kind: CSS, Selector: expr}, nil
}

// Set is an ordered candidate selector set for one semantic element. Order
// encodes preference; no member is privileged.
type Set struct {
	Name   string  `json:"name"`
	Probes []Probe `json:"probes"`
}

// NewSet parses every expression into a Set.
func NewSet(name string, exprs ...string) (Set, error) {
	set := Set{Name: name, Probes: make([]Probe, 0, len(exprs))}
	for _, e := range exprs {
		p, err := ParseProbe(e)
		if err != nil {
			return Set{}, fmt.Errorf("set %q: %w", name, err)
		}
		set.Probes = append(set.Probes, p)
	}
	return set, nil
}

// MustSet is NewSet for package-level tables; it panics on a malformed
// expression.
func MustSet(name string, exprs ...string) Set {
	set, err := NewSet(name, exprs...)
	if err != nil {
		panic(err)
	}
	return set
}

// Status is the tri-state outcome of probing a Set.
type Status int

const (
	// NotFound means every probe ran and none matched a visible element.
	NotFound Status = iota
	// Found means a visible element was located and tagged.
	Found
	// Errored means probing itself broke: the evaluation failed or every
	// probe raised.
	Errored
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Match is the result of probing a Set.
type Match struct {
	Status Status
	// Index of the winning probe in Set.Probes, -1 when not Found.
	Index int
	Probe Probe
	// Selector addresses the tagged element and is valid until the next
	// probe on the same page.
	Selector string
	Err      error
}

// Found reports whether a visible element was located.
func (m Match) Found() bool { return m.Status == Found }

func notFound(err error) Match {
	return Match{Status: NotFound, Index: -1, Err: err}
}

func errored(err error) Match {
	return Match{Status: Errored, Index: -1, Err: err}
}
