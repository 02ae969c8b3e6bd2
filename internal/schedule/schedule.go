package schedule

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"

	"gptqual/internal/analysis"
	"gptqual/internal/config"
	"gptqual/internal/prompt"
	"gptqual/internal/table"
)

type analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Outcome, error)
}

// poster is the slice of the Slack client used for run summaries.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// RunResult describes one scheduled execution.
type RunResult struct {
	Name       string
	OutputPath string
	Outcome    *analysis.Outcome
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// OutputPath names the export for a run started at the given time.
func OutputPath(dir, runName string, at time.Time) string {
	name := strings.Trim(unsafeName.ReplaceAllString(runName, "-"), "-")
	if name == "" {
		name = "run"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s", name, at.Format("20060102-150405"), table.DefaultExportName))
}

// RunOnce reads the run's input, analyzes it and writes the augmented table
// under exportDir.
func RunOnce(ctx context.Context, run config.ScheduledRun, a analyzer, exportDir string, now time.Time) (RunResult, error) {
	result := RunResult{Name: run.Name}

	mode, err := prompt.ParseMode(run.Mode, run.Prompt)
	if err != nil {
		return result, err
	}
	f, err := os.Open(run.InputPath)
	if err != nil {
		return result, fmt.Errorf("open input: %w", err)
	}
	t, err := table.ReadCSV(f)
	f.Close()
	if err != nil {
		return result, fmt.Errorf("read %s: %w", run.InputPath, err)
	}

	outcome, err := a.Analyze(ctx, analysis.Request{
		Source:       analysis.SourceSchedule,
		Table:        t,
		Column:       run.Column,
		Mode:         mode,
		OutputColumn: run.OutputColumn,
		Preview:      run.Preview,
	})
	if err != nil {
		return result, err
	}
	result.Outcome = outcome

	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return result, fmt.Errorf("create export dir: %w", err)
	}
	path := OutputPath(exportDir, run.Name, now)
	if err := writeTable(path, outcome.Table); err != nil {
		return result, err
	}
	result.OutputPath = path
	return result, nil
}

func writeTable(path string, t *table.Table) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	if err := t.WriteCSV(out); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write export: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close export: %w", err)
	}
	return os.Rename(tmp, path)
}

// FormatRunSummary returns the message posted after a scheduled run.
func FormatRunSummary(result RunResult, runErr error) string {
	if runErr != nil {
		return fmt.Sprintf("Scheduled run %s failed: %v", result.Name, runErr)
	}
	msg := fmt.Sprintf("Scheduled run %s complete: %s", result.Name, analysis.SummaryLine(result.Outcome.Summary))
	if result.OutputPath != "" {
		msg += fmt.Sprintf("\nSaved to %s", result.OutputPath)
	}
	if lines := analysis.CategoryLines(result.Outcome.Categories); lines != "" {
		msg += "\nCategories:\n" + strings.TrimRight(lines, "\n")
	}
	return msg
}

// Start launches one loop per scheduled run. Loops stop when ctx is done.
// api may be nil, in which case summaries are only logged.
func Start(ctx context.Context, cfg config.Config, a analyzer, api poster) {
	if len(cfg.ScheduledRuns) == 0 {
		log.Println("Scheduled runs disabled (scheduled_runs not set)")
		return
	}
	for _, run := range cfg.ScheduledRuns {
		sched, err := cron.ParseStandard(run.Schedule)
		if err != nil {
			log.Printf("Invalid schedule for run %s '%s': %v, run disabled", run.Name, run.Schedule, err)
			continue
		}
		log.Printf("Scheduled run %s (cron: %s) column=%s mode=%s input=%s", run.Name, run.Schedule, run.Column, run.Mode, run.InputPath)
		go loop(ctx, cfg, run, sched, a, api)
	}
}

func loop(ctx context.Context, cfg config.Config, run config.ScheduledRun, sched cron.Schedule, a analyzer, api poster) {
	for {
		now := time.Now().In(cfg.Location)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next run of %s at %s (in %s)", run.Name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		result, runErr := RunOnce(ctx, run, a, cfg.ExportDir, time.Now().In(cfg.Location))
		summary := FormatRunSummary(result, runErr)
		log.Printf("%s", summary)

		if api != nil && cfg.ReportChannelID != "" {
			if _, _, err := api.PostMessageContext(ctx, cfg.ReportChannelID, slack.MsgOptionText(summary, false)); err != nil {
				log.Printf("Scheduled run %s post error: %v", run.Name, err)
			}
		}
	}
}
