package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"gptqual/internal/analysis"
	"gptqual/internal/httpx"
	"gptqual/internal/integrations/llm"
	"gptqual/internal/prompt"
	"gptqual/internal/storage/sqlite"
	"gptqual/internal/table"
)

type cliOptions struct {
	inputPath    string
	outputPath   string
	column       string
	mode         string
	customPrompt string
	outputColumn string
	preview      bool
	provider     string
	model        string
	maxTokens    int
	auditLogPath string
	dbPath       string
	timeout      int
}

func main() {
	_ = godotenv.Load()
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatalf("gptqual-cli: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts); err != nil {
		log.Fatalf("gptqual-cli: %v", err)
	}
}

func parseFlags(args []string, output io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("gptqual-cli", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.inputPath, "input", "", "CSV file to analyze")
	fs.StringVar(&opts.outputPath, "output", table.DefaultExportName, "CSV file to write the augmented table to")
	fs.StringVar(&opts.column, "column", "", "Column whose cells are sent to the model")
	fs.StringVar(&opts.mode, "mode", "", "Analysis mode: "+strings.Join(prompt.Modes(), ", "))
	fs.StringVar(&opts.customPrompt, "prompt", "", "Instruction for custom mode")
	fs.StringVar(&opts.outputColumn, "output-column", table.DefaultOutputColumn, "Name of the appended result column")
	fs.BoolVar(&opts.preview, "preview", false, "Analyze only the first rows, truncated")
	fs.StringVar(&opts.provider, "provider", envOr("LLM_PROVIDER", "openai"), "Completion provider (openai or anthropic)")
	fs.StringVar(&opts.model, "model", os.Getenv("LLM_MODEL"), "Model name (provider default when empty)")
	fs.IntVar(&opts.maxTokens, "max-tokens", 100, "Maximum tokens per reply")
	fs.StringVar(&opts.auditLogPath, "audit-log", "gpt_qual.log", "Append-only log of every model call")
	fs.StringVar(&opts.dbPath, "db", "", "SQLite database for run history (disabled when empty)")
	fs.IntVar(&opts.timeout, "timeout", 90, "Timeout in seconds for each model call")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s --input FILE --column NAME --mode MODE [options]\n\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.inputPath = strings.TrimSpace(opts.inputPath)
	opts.column = strings.TrimSpace(opts.column)
	opts.outputPath = strings.TrimSpace(opts.outputPath)

	if opts.inputPath == "" {
		fs.Usage()
		return opts, errors.New("missing required --input file")
	}
	if opts.column == "" {
		fs.Usage()
		return opts, errors.New("missing required --column")
	}
	if opts.mode == "" {
		fs.Usage()
		return opts, errors.New("missing required --mode")
	}
	if opts.outputPath == "" {
		return opts, errors.New("--output must not be empty")
	}
	if opts.maxTokens < 1 {
		return opts, fmt.Errorf("invalid --max-tokens %d: must be >= 1", opts.maxTokens)
	}
	return opts, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, opts cliOptions) error {
	mode, err := prompt.ParseMode(opts.mode, opts.customPrompt)
	if err != nil {
		return err
	}
	t, err := readTable(opts.inputPath)
	if err != nil {
		return err
	}

	httpx.ConfigureExternalHTTPClient(opts.timeout)
	audit, closer, err := llm.OpenAuditLog(opts.auditLogPath)
	if err != nil {
		return err
	}
	defer closer.Close()
	completer, err := llm.NewCompleter(opts.provider, opts.model, os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"), os.Getenv("ANTHROPIC_API_KEY"))
	if err != nil {
		return err
	}
	client := llm.NewClient(completer, int64(opts.maxTokens), audit)

	var db *sql.DB
	if opts.dbPath != "" {
		db, err = sqlite.InitDB(opts.dbPath)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer db.Close()
	}

	outcome, err := analysis.NewAnalyzer(client, db).Analyze(ctx, analysis.Request{
		Source:       analysis.SourceCLI,
		Table:        t,
		Column:       opts.column,
		Mode:         mode,
		OutputColumn: opts.outputColumn,
		Preview:      opts.preview,
		Progress:     progressPrinter(os.Stderr),
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	if err := writeTable(opts.outputPath, outcome.Table); err != nil {
		return err
	}
	fmt.Printf("%s\n", analysis.SummaryLine(outcome.Summary))
	if lines := analysis.CategoryLines(outcome.Categories); lines != "" {
		fmt.Print(lines)
	}
	fmt.Printf("Saved to %s\n", opts.outputPath)
	return nil
}

// progressPrinter redraws a single percentage line.
func progressPrinter(w io.Writer) func(float64) {
	return func(fraction float64) {
		fmt.Fprintf(w, "\rAnalyzing... %3.0f%%", fraction*100)
	}
}

func readTable(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	t, err := table.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

func writeTable(path string, t *table.Table) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
