package sarif

// Go structs for the subset of SARIF 2.1.0 the reporter emits.
// Pointers are used for optional fields.

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

type Run struct {
	Tool        *Tool         `json:"tool"`
	Invocations []*Invocation `json:"invocations,omitempty"`
	Results     []*Result     `json:"results"`
	Properties  PropertyBag   `json:"properties,omitempty"`
}

type Tool struct {
	Driver *ToolComponent `json:"driver"`
}

type ToolComponent struct {
	Name           string                 `json:"name"`
	Version        *string                `json:"version,omitempty"`
	InformationURI *string                `json:"informationUri,omitempty"`
	Rules          []*ReportingDescriptor `json:"rules,omitempty"`
}

// ReportingDescriptor describes one scenario.
type ReportingDescriptor struct {
	ID               string                    `json:"id"`
	ShortDescription *MultiformatMessageString `json:"shortDescription,omitempty"`
}

// Invocation records when a run happened and whether it completed.
type Invocation struct {
	ExecutionSuccessful bool    `json:"executionSuccessful"`
	StartTimeUTC        *string `json:"startTimeUtc,omitempty"`
	EndTimeUTC          *string `json:"endTimeUtc,omitempty"`
}

type Result struct {
	RuleID     string      `json:"ruleId"`
	Kind       Kind        `json:"kind,omitempty"`
	Level      Level       `json:"level,omitempty"`
	Message    *Message    `json:"message"`
	Locations  []*Location `json:"locations,omitempty"`
	Properties PropertyBag `json:"properties,omitempty"`
}

type Location struct {
	PhysicalLocation *PhysicalLocation `json:"physicalLocation,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
}

type ArtifactLocation struct {
	URI *string `json:"uri,omitempty"`
}

type Message struct {
	Text *string `json:"text,omitempty"`
}

type MultiformatMessageString struct {
	Text *string `json:"text"`
}

type PropertyBag map[string]interface{}

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
	LevelNone    Level = "none"
)

type Kind string

const (
	KindPass          Kind = "pass"
	KindFail          Kind = "fail"
	KindNotApplicable Kind = "notApplicable"
)
