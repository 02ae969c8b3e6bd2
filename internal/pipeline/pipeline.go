package pipeline

import (
	"context"
	"log"

	"gptqual/internal/domain"
	"gptqual/internal/integrations/llm"
	"gptqual/internal/ledger"
	"gptqual/internal/prompt"
)

const (
	PreviewRows     = 10
	PreviewMaxChars = 500
)

// Model is the part of the model client the pipeline depends on.
type Model interface {
	Call(ctx context.Context, userPrompt, apiKey string) (llm.Response, error)
}

// ProgressFunc receives completed/total after every row.
type ProgressFunc func(fraction float64)

// Request describes one run over an ordered list of row texts.
type Request struct {
	Mode  prompt.Mode
	Texts []string
	// Ledger is read for Categorize prompts and updated with every returned label.
	// A nil ledger starts a fresh one.
	Ledger   *ledger.Ledger
	MaxChars int
	APIKey   string
	Progress ProgressFunc
}

type Result struct {
	Results []domain.RowResult
	Ledger  *ledger.Ledger
	Summary domain.RunSummary
}

// Run processes rows strictly in order, one call per row. A failed row is
// recorded and the run moves on; only context cancellation stops it early.
func Run(ctx context.Context, model Model, req Request) (Result, error) {
	led := req.Ledger
	if led == nil {
		led = ledger.New()
	}
	_, categorize := req.Mode.(prompt.Categorize)

	res := Result{
		Results: make([]domain.RowResult, 0, len(req.Texts)),
		Ledger:  led,
	}
	total := len(req.Texts)
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		text = prompt.Truncate(text, req.MaxChars)
		var categories []string
		if categorize {
			categories = led.Categories()
		}
		userPrompt := prompt.Build(req.Mode, text, categories)

		resp, err := model.Call(ctx, userPrompt, req.APIKey)
		res.Summary.PromptChars += resp.PromptChars
		res.Summary.ReplyChars += resp.ReplyChars
		res.Summary.Tokens += resp.Usage.TotalTokens()

		var row domain.RowResult
		if err != nil {
			kind := llm.KindOf(err)
			log.Printf("pipeline row=%d mode=%s kind=%s err=%v", i, req.Mode.Name(), kind, err)
			row = domain.Failed(kind, err.Error())
		} else if value, ok := resp.Lookup(req.Mode.Key()); ok {
			row = domain.Value(value)
		} else {
			row = domain.Absent()
		}

		if categorize {
			led.Record(row.Value, row.Present)
		}
		res.Results = append(res.Results, row)
		res.Summary.Add(row)

		if req.Progress != nil {
			req.Progress(float64(i+1) / float64(total))
		}
	}
	return res, nil
}

// Preview runs the first PreviewRows texts, each cut to PreviewMaxChars.
func Preview(ctx context.Context, model Model, req Request) (Result, error) {
	if len(req.Texts) > PreviewRows {
		req.Texts = req.Texts[:PreviewRows]
	}
	req.MaxChars = PreviewMaxChars
	return Run(ctx, model, req)
}

// Full runs every text without truncation.
func Full(ctx context.Context, model Model, req Request) (Result, error) {
	req.MaxChars = 0
	return Run(ctx, model, req)
}
