package domain

import "time"

// ErrorKind separates malformed model output from failures to reach the model at all.
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindMalformed ErrorKind = "malformed"
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindAuth      ErrorKind = "auth"
)

// RowResult is the value produced for one analyzed row.
type RowResult struct {
	Value   string
	Present bool
	Kind    ErrorKind
	Detail  string
}

func Value(v string) RowResult {
	return RowResult{Value: v, Present: true}
}

func Absent() RowResult {
	return RowResult{}
}

func Failed(kind ErrorKind, detail string) RowResult {
	return RowResult{Kind: kind, Detail: detail}
}

func (r RowResult) IsError() bool {
	return r.Kind != ErrorKindNone
}

// Cell is the CSV rendering: absent and failed rows export as empty cells.
func (r RowResult) Cell() string {
	if !r.Present {
		return ""
	}
	return r.Value
}

// RunSummary counts row outcomes for a finished pipeline run.
type RunSummary struct {
	Rows        int
	OK          int
	Absent      int
	Malformed   int
	Transport   int
	Auth        int
	PromptChars int
	ReplyChars  int
	Tokens      int64 // provider-reported, prompt plus completion
}

func (s *RunSummary) Add(r RowResult) {
	s.Rows++
	switch r.Kind {
	case ErrorKindMalformed:
		s.Malformed++
	case ErrorKindTransport:
		s.Transport++
	case ErrorKindAuth:
		s.Auth++
	default:
		if r.Present {
			s.OK++
		} else {
			s.Absent++
		}
	}
}

func (s RunSummary) Errors() int {
	return s.Malformed + s.Transport + s.Auth
}

// RunRecord is one finished run as stored in the history database.
type RunRecord struct {
	ID           int64
	RunID        string
	Source       string
	Mode         string
	Column       string
	OutputColumn string
	Preview      bool
	Provider     string
	Model        string
	Summary      RunSummary
	StartedAt    time.Time
	FinishedAt   time.Time
}

// CategoryCount is one ledger row, as displayed or stored.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}
