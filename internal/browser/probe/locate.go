package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// TagAttribute marks the element a successful probe located.
const TagAttribute = "data-rtsm-probe"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator runs a JavaScript expression in the page and decodes its
// by-value result into out.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out interface{}) error
}

// probeScript resolves a list of probes in one round trip. Visibility follows
// the same computed-style and bounding-box rules used for interaction, and
// text matching normalizes whitespace before comparing.
const probeScript = `
(args) => {
	const norm = (s) => (s || "").replace(/\s+/g, " ").trim();
	const isVisible = (el) => {
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none' || style.opacity === '0') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	};
	const textOf = (el) => norm(el.innerText !== undefined ? el.innerText : el.textContent);
	const textMatch = (el, p) => {
		const t = textOf(el);
		if (p.exact) return t === norm(p.text);
		return t.toLowerCase().includes(norm(p.text).toLowerCase());
	};
	const skip = new Set(['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE', 'HEAD']);
	const candidates = (p) => {
		switch (p.kind) {
		case 1: {
			const all = Array.from(document.body ? document.body.querySelectorAll('*') : []).filter((el) => !skip.has(el.tagName));
			const hits = all.filter((el) => textMatch(el, p));
			// Innermost only: drop any hit that contains another hit.
			return hits.filter((el) => !hits.some((o) => o !== el && el.contains(o)));
		}
		case 2:
			return Array.from(document.querySelectorAll(p.selector)).filter((el) => textMatch(el, p));
		default:
			return Array.from(document.querySelectorAll(p.selector));
		}
	};

	if (!args.countOnly) {
		document.querySelectorAll('[` + TagAttribute + `]').forEach((el) => el.removeAttribute('` + TagAttribute + `'));
	}

	const result = { index: -1, count: 0, errors: [] };
	for (let i = 0; i < args.probes.length; i++) {
		let found;
		try {
			found = candidates(args.probes[i]);
		} catch (e) {
			result.errors.push(String(e && e.message ? e.message : e));
			continue;
		}
		result.errors.push("");
		if (args.countOnly) {
			result.count += found.length;
			continue;
		}
		const el = found.find(isVisible);
		if (el) {
			el.setAttribute('` + TagAttribute + `', args.token);
			result.index = i;
			return result;
		}
	}
	return result;
}`

type probeArgs struct {
	Probes    []Probe `json:"probes"`
	Token     string  `json:"token"`
	CountOnly bool    `json:"countOnly"`
}

type probeResult struct {
	Index  int      `json:"index"`
	Count  int      `json:"count"`
	Errors []string `json:"errors"`
}

func buildExpression(args probeArgs) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode probe arguments: %w", err)
	}
	return "(" + probeScript + ")(" + string(raw) + ")", nil
}

// probeErrors reports whether every probe failed, along with the joined
// per-probe failures.
func probeErrors(probes []Probe, msgs []string) (bool, error) {
	var errs []error
	for i, msg := range msgs {
		if msg != "" && i < len(probes) {
			errs = append(errs, fmt.Errorf("probe %s: %s", probes[i], msg))
		}
	}
	return len(probes) > 0 && len(errs) == len(probes), errors.Join(errs...)
}

// Locate evaluates set against the page and tags the first visible match.
// It never returns an error value; failures are reported through
// Match.Status so callers can tell "absent" from "probe broke".
func Locate(ctx context.Context, ev Evaluator, set Set) Match {
	if len(set.Probes) == 0 {
		return notFound(nil)
	}

	token := uuid.NewString()
	expr, err := buildExpression(probeArgs{Probes: set.Probes, Token: token})
	if err != nil {
		return errored(err)
	}

	var res probeResult
	if err := ev.Evaluate(ctx, expr, &res); err != nil {
		return errored(fmt.Errorf("probing %q: %w", set.Name, err))
	}

	all, perr := probeErrors(set.Probes, res.Errors)
	if res.Index >= 0 && res.Index < len(set.Probes) {
		return Match{
			Status:   Found,
			Index:    res.Index,
			Probe:    set.Probes[res.Index],
			Selector: fmt.Sprintf(`[%s="%s"]`, TagAttribute, token),
		}
	}
	if all {
		return errored(fmt.Errorf("probing %q: %w", set.Name, perr))
	}
	return notFound(perr)
}

// Count returns how many elements match p, visible or not.
func Count(ctx context.Context, ev Evaluator, p Probe) (int, error) {
	expr, err := buildExpression(probeArgs{Probes: []Probe{p}, CountOnly: true})
	if err != nil {
		return 0, err
	}
	var res probeResult
	if err := ev.Evaluate(ctx, expr, &res); err != nil {
		return 0, fmt.Errorf("counting %s: %w", p, err)
	}
	if all, perr := probeErrors([]Probe{p}, res.Errors); all {
		return 0, perr
	}
	return res.Count, nil
}

// Describe renders a set for log fields.
func (s Set) Describe() string {
	parts := make([]string, len(s.Probes))
	for i, p := range s.Probes {
		parts[i] = p.String()
	}
	return s.Name + "[" + strings.Join(parts, ", ") + "]"
}
