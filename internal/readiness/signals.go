package readiness

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator runs a JavaScript expression and decodes its by-value result.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out interface{}) error
}

// signalsScript gathers every signal in one pass. Element text is
// textContent, so a short wrapper around a study name counts as well; body
// markers use innerText so script and style contents never match.
const signalsScript = `
(rules) => {
	const els = document.body ? Array.from(document.body.querySelectorAll('*')) : [];
	const headers = new Set(rules.headers || []);
	const categories = new Set(rules.categories || []);
	const out = { headers: 0, rows: 0, categories: 0, empty: false, loading: false };
	for (const el of els) {
		const raw = el.textContent;
		if (!raw) continue;
		const t = raw.trim();
		if (rules.rowPattern && t.includes(rules.rowPattern) && t.length < rules.rowMaxLen) out.rows++;
		if (categories.has(t)) out.categories++;
		if (headers.has(t)) out.headers++;
	}
	const body = document.body ? (document.body.innerText || "") : "";
	out.empty = !!rules.emptyMarker && body.includes(rules.emptyMarker);
	out.loading = (rules.loadingMarkers || []).some((m) => body.includes(m));
	return out;
}`

type scriptRules struct {
	Headers        []string `json:"headers"`
	RowPattern     string   `json:"rowPattern"`
	RowMaxLen      int      `json:"rowMaxLen"`
	Categories     []string `json:"categories"`
	EmptyMarker    string   `json:"emptyMarker"`
	LoadingMarkers []string `json:"loadingMarkers"`
}

// Collect takes one snapshot of the page.
func Collect(ctx context.Context, ev Evaluator, r Rules) (Signals, error) {
	maxLen := r.RowMaxLen
	if maxLen <= 0 {
		maxLen = 50
	}
	raw, err := json.Marshal(scriptRules{
		Headers:        r.Headers,
		RowPattern:     r.RowPattern,
		RowMaxLen:      maxLen,
		Categories:     r.Categories,
		EmptyMarker:    r.EmptyMarker,
		LoadingMarkers: r.LoadingMarkers,
	})
	if err != nil {
		return Signals{}, fmt.Errorf("failed to encode readiness rules: %w", err)
	}

	var s Signals
	if err := ev.Evaluate(ctx, "("+signalsScript+")("+string(raw)+")", &s); err != nil {
		return Signals{}, fmt.Errorf("collecting %s signals: %w", r.Name, err)
	}
	return s, nil
}
