// Package readiness decides whether a data-bearing view has finished an
// asynchronous load, distinguishing populated, empty and still-loading.
package readiness

// Rules describe what a settled view looks like.
type Rules struct {
	Name string
	// Headers are column header texts, matched by exact trimmed text.
	Headers []string
	// MinHeaders defaults to len(Headers) when zero.
	MinHeaders int
	// RowPattern is a substring identifying a data row; only short text
	// (under RowMaxLen characters) counts, so containers do not.
	RowPattern string
	RowMaxLen  int
	// Categories are tag texts, matched exactly, that accompany real rows.
	Categories     []string
	EmptyMarker    string
	LoadingMarkers []string
}

// StudyList matches the RTSM study list table.
var StudyList = Rules{
	Name:           "study_list",
	Headers:        []string{"Study Name", "Protocol No.", "DB Status"},
	MinHeaders:     3,
	RowPattern:     "RTSM_JK",
	RowMaxLen:      50,
	Categories:     []string{"SANDBOX", "REAL", "BETA"},
	EmptyMarker:    "No data is available",
	LoadingMarkers: []string{"Loading", "loading", "로딩", "불러오는 중", "Fetching"},
}

func (r Rules) minHeaders() int {
	if r.MinHeaders > 0 {
		return r.MinHeaders
	}
	return len(r.Headers)
}

// Signals is one snapshot of the view.
type Signals struct {
	Headers    int  `json:"headers"`
	Rows       int  `json:"rows"`
	Categories int  `json:"categories"`
	Empty      bool `json:"empty"`
	Loading    bool `json:"loading"`
}

// State is the verdict for a snapshot.
type State int

const (
	StillLoading State = iota
	LoadedWithData
	LoadedEmpty
)

func (s State) String() string {
	switch s {
	case LoadedWithData:
		return "loaded_with_data"
	case LoadedEmpty:
		return "loaded_empty"
	default:
		return "still_loading"
	}
}

// Ready reports whether the state is terminal.
func (s State) Ready() bool { return s != StillLoading }

// Evaluate is a pure function of the snapshot: ready requires enough
// headers, data or the empty marker, and no loading marker. Data wins over
// the empty marker, so a snapshot is never both.
func Evaluate(s Signals, r Rules) State {
	if s.Loading || s.Headers < r.minHeaders() {
		return StillLoading
	}
	if s.Rows > 0 && s.Categories > 0 {
		return LoadedWithData
	}
	if s.Empty {
		return LoadedEmpty
	}
	return StillLoading
}
