package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"gptqual/internal/domain"
	"gptqual/internal/ledger"
	"gptqual/internal/pipeline"
	"gptqual/internal/prompt"
	"gptqual/internal/storage/sqlite"
	"gptqual/internal/table"
)

// Run sources recorded in history.
const (
	SourceWeb      = "web"
	SourceSlack    = "slack"
	SourceSchedule = "schedule"
	SourceCLI      = "cli"
)

// Model is the completion client as seen by the analyzer.
type Model interface {
	pipeline.Model
	Provider() string
	Model() string
}

type Request struct {
	Source       string
	Table        *table.Table
	Column       string
	Mode         prompt.Mode
	OutputColumn string
	Preview      bool
	APIKey       string
	Progress     pipeline.ProgressFunc
}

// Outcome is a finished run: the augmented table plus its bookkeeping.
type Outcome struct {
	RunID        string
	Mode         string
	Column       string
	OutputColumn string
	Preview      bool
	Table        *table.Table
	Results      []domain.RowResult
	Categories   []domain.CategoryCount
	Summary      domain.RunSummary
	StartedAt    time.Time
	FinishedAt   time.Time
}

type Analyzer struct {
	model Model
	db    *sql.DB
	now   func() time.Time
}

// NewAnalyzer builds an analyzer. db may be nil, which disables run history.
func NewAnalyzer(model Model, db *sql.DB) *Analyzer {
	return &Analyzer{model: model, db: db, now: time.Now}
}

// Analyze runs one mode over one column and assembles the augmented table.
// Preview runs analyze and return only the head of the table.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Outcome, error) {
	if req.Table == nil {
		return nil, errors.New("analyze: no table loaded")
	}
	if req.Mode == nil {
		return nil, errors.New("analyze: no mode selected")
	}
	outputColumn := strings.TrimSpace(req.OutputColumn)
	if outputColumn == "" {
		outputColumn = table.DefaultOutputColumn
	}
	texts, err := req.Table.Column(req.Column)
	if err != nil {
		return nil, err
	}

	source := req.Table
	run := pipeline.Full
	if req.Preview {
		source = req.Table.Head(pipeline.PreviewRows)
		run = pipeline.Preview
	}

	started := a.now()
	res, err := run(ctx, a.model, pipeline.Request{
		Mode:     req.Mode,
		Texts:    texts,
		Ledger:   ledger.New(),
		APIKey:   req.APIKey,
		Progress: req.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze column %q: %w", req.Column, err)
	}
	assembled, err := table.Assemble(source, outputColumn, res.Results)
	if err != nil {
		return nil, fmt.Errorf("assemble %q: %w", outputColumn, err)
	}

	outcome := &Outcome{
		RunID:        ulid.Make().String(),
		Mode:         req.Mode.Name(),
		Column:       req.Column,
		OutputColumn: outputColumn,
		Preview:      req.Preview,
		Table:        assembled,
		Results:      res.Results,
		Summary:      res.Summary,
		StartedAt:    started,
		FinishedAt:   a.now(),
	}
	if _, ok := req.Mode.(prompt.Categorize); ok {
		outcome.Categories = res.Ledger.Entries()
		if total := res.Ledger.Total(); total != res.Summary.OK {
			log.Printf("analysis run=%s ledger total %d differs from ok rows %d", outcome.RunID, total, res.Summary.OK)
		}
	}

	log.Printf("analysis run=%s source=%s mode=%s column=%s preview=%t rows=%d ok=%d absent=%d errors=%d categories=%d tokens=%d",
		outcome.RunID, req.Source, outcome.Mode, req.Column, req.Preview,
		res.Summary.Rows, res.Summary.OK, res.Summary.Absent, res.Summary.Errors(),
		res.Ledger.Len(), res.Summary.Tokens)
	a.record(req.Source, outcome)
	return outcome, nil
}

func (a *Analyzer) record(source string, o *Outcome) {
	if a.db == nil {
		return
	}
	rec := domain.RunRecord{
		RunID:        o.RunID,
		Source:       source,
		Mode:         o.Mode,
		Column:       o.Column,
		OutputColumn: o.OutputColumn,
		Preview:      o.Preview,
		Provider:     a.model.Provider(),
		Model:        a.model.Model(),
		Summary:      o.Summary,
		StartedAt:    o.StartedAt,
		FinishedAt:   o.FinishedAt,
	}
	if _, err := sqlite.InsertRun(a.db, rec); err != nil {
		log.Printf("analysis history insert run=%s error (non-fatal): %v", o.RunID, err)
		return
	}
	if err := sqlite.InsertRunCategories(a.db, o.RunID, o.Categories); err != nil {
		log.Printf("analysis history categories run=%s error (non-fatal): %v", o.RunID, err)
	}
}

// Start launches a session analysis in the background and returns its job.
// Every job gets its own ledger; a session accepts one job at a time.
func (a *Analyzer) Start(ctx context.Context, sess *Session, jobs *Jobs, req Request) (*Job, error) {
	if req.Mode == nil {
		return nil, errors.New("analyze: no mode selected")
	}
	if sess.Table.ColumnIndex(req.Column) < 0 {
		return nil, fmt.Errorf("%w: %q", table.ErrColumnNotFound, req.Column)
	}
	if !sess.begin() {
		return nil, ErrSessionBusy
	}
	if req.APIKey != "" {
		sess.SetAPIKey(req.APIKey)
	} else {
		req.APIKey = sess.APIKey()
	}
	req.Source = SourceWeb
	req.Table = sess.Table
	if strings.TrimSpace(req.OutputColumn) == "" {
		req.OutputColumn = table.DefaultOutputColumn
	}

	job := jobs.Create(sess.ID, req.Mode.Name(), req.Column, req.OutputColumn, req.Preview)
	req.Progress = func(fraction float64) {
		job.Update(fraction)
		sess.touch(sess.clock())
	}
	go func() {
		outcome, err := a.Analyze(ctx, req)
		if err != nil {
			sess.end()
			log.Printf("analysis job=%s session=%s failed: %v", job.ID, sess.ID, err)
			job.Fail(err)
			return
		}
		sess.record(outcome)
		sess.touch(sess.clock())
		sess.end()
		job.Complete(outcome, SummaryLine(outcome.Summary))
	}()
	return job, nil
}

// SummaryLine renders a run summary for humans.
func SummaryLine(s domain.RunSummary) string {
	line := fmt.Sprintf("%d rows analyzed: %d ok, %d without a value", s.Rows, s.OK, s.Absent)
	if s.Errors() > 0 {
		line += fmt.Sprintf(", %d malformed replies, %d transport errors, %d auth errors", s.Malformed, s.Transport, s.Auth)
	}
	if s.Tokens > 0 {
		line += fmt.Sprintf(" (%d tokens)", s.Tokens)
	}
	return line
}

// CategoryLines renders ledger entries one per line as "label: count".
func CategoryLines(entries []domain.CategoryCount) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %d\n", e.Category, e.Count)
	}
	return b.String()
}
