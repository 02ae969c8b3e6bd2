package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gptqual/internal/domain"
	"gptqual/internal/integrations/llm"
	"gptqual/internal/ledger"
	"gptqual/internal/prompt"
)

type scriptedReply struct {
	fields map[string]any
	err    error
}

type fakeModel struct {
	replies []scriptedReply
	prompts []string
	keys    []string
	usage   llm.Usage
}

func (f *fakeModel) Call(_ context.Context, userPrompt, apiKey string) (llm.Response, error) {
	f.prompts = append(f.prompts, userPrompt)
	f.keys = append(f.keys, apiKey)
	reply := scriptedReply{fields: map[string]any{}}
	if n := len(f.prompts) - 1; n < len(f.replies) {
		reply = f.replies[n]
	}
	return llm.Response{Fields: reply.fields, PromptChars: len(userPrompt), ReplyChars: 10, Usage: f.usage}, reply.err
}

func fields(key, value string) scriptedReply {
	return scriptedReply{fields: map[string]any{key: value}}
}

func cells(results []domain.RowResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Cell()
	}
	return out
}

func TestSentimentEndToEnd(t *testing.T) {
	model := &fakeModel{replies: []scriptedReply{
		fields("sentiment", "Positive"),
		fields("sentiment", "Negative"),
	}}

	res, err := Full(context.Background(), model, Request{
		Mode:  prompt.Sentiment{},
		Texts: []string{"great product", "terrible service"},
	})
	if err != nil {
		t.Fatalf("Full returned error: %v", err)
	}
	if got := strings.Join(cells(res.Results), ","); got != "Positive,Negative" {
		t.Fatalf("results = %s, want Positive,Negative", got)
	}
	if !strings.Contains(model.prompts[0], "great product") || !strings.Contains(model.prompts[1], "terrible service") {
		t.Fatalf("prompts out of order: %q", model.prompts)
	}
	if res.Summary.OK != 2 || res.Summary.Rows != 2 {
		t.Fatalf("unexpected summary: %+v", res.Summary)
	}
}

func TestOutputLengthAndOrderMatchInput(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}
	var replies []scriptedReply
	for _, tx := range texts {
		replies = append(replies, fields("response", "echo:"+tx))
	}
	model := &fakeModel{replies: replies}

	res, err := Full(context.Background(), model, Request{Mode: prompt.Custom{Instruction: "Echo"}, Texts: texts})
	if err != nil {
		t.Fatalf("Full returned error: %v", err)
	}
	if len(res.Results) != len(texts) {
		t.Fatalf("len(results) = %d, want %d", len(res.Results), len(texts))
	}
	for i, tx := range texts {
		if res.Results[i].Cell() != "echo:"+tx {
			t.Fatalf("result[%d] = %q, want echo:%s", i, res.Results[i].Cell(), tx)
		}
	}
}

func TestCategorizeUpdatesLedger(t *testing.T) {
	model := &fakeModel{replies: []scriptedReply{
		fields("category", "Shipping"),
		fields("category", "Billing"),
		{fields: map[string]any{"error": llm.InvalidJSONMessage}, err: &llm.CallError{Kind: domain.ErrorKindMalformed, Err: errors.New("eof")}},
		fields("category", "Shipping"),
		{fields: map[string]any{"other": "x"}},
	}}

	res, err := Full(context.Background(), model, Request{
		Mode:  prompt.Categorize{},
		Texts: []string{"late", "charged twice", "???", "lost parcel", "hello"},
	})
	if err != nil {
		t.Fatalf("Full returned error: %v", err)
	}

	recorded := 0
	for _, r := range res.Results {
		if r.Present {
			recorded++
			if res.Ledger.Count(r.Value) < 1 {
				t.Fatalf("label %q missing from ledger", r.Value)
			}
		}
	}
	if res.Ledger.Total() != recorded {
		t.Fatalf("ledger total = %d, want %d", res.Ledger.Total(), recorded)
	}
	if res.Ledger.Count("Shipping") != 2 || res.Ledger.Count("Billing") != 1 {
		t.Fatalf("ledger counts = %v, want Shipping=2 Billing=1", res.Ledger.Entries())
	}
	if got := res.Ledger.Categories(); strings.Join(got, ",") != "Shipping,Billing" {
		t.Fatalf("ledger order = %v", got)
	}
	if !strings.Contains(model.prompts[1], "existing categories: Shipping or make") {
		t.Fatalf("second prompt must list the first label: %s", model.prompts[1])
	}
	if !strings.Contains(model.prompts[3], "existing categories: Shipping, Billing or make") {
		t.Fatalf("fourth prompt must list both labels: %s", model.prompts[3])
	}
	if res.Results[2].Kind != domain.ErrorKindMalformed {
		t.Fatalf("row 2 kind = %q, want malformed", res.Results[2].Kind)
	}
	if res.Summary.Malformed != 1 || res.Summary.Absent != 1 || res.Summary.OK != 3 {
		t.Fatalf("unexpected summary: %+v", res.Summary)
	}
}

func TestCategorizeUsesProvidedLedger(t *testing.T) {
	led := ledger.New()
	led.Record("Existing", true)
	model := &fakeModel{replies: []scriptedReply{fields("category", "Existing")}}

	res, err := Full(context.Background(), model, Request{Mode: prompt.Categorize{}, Texts: []string{"x"}, Ledger: led})
	if err != nil {
		t.Fatalf("Full returned error: %v", err)
	}
	if res.Ledger != led {
		t.Fatal("expected the provided ledger to be returned")
	}
	if led.Count("Existing") != 2 {
		t.Fatalf("Existing count = %d, want 2", led.Count("Existing"))
	}
}

func TestNonCategorizeLeavesLedgerUntouched(t *testing.T) {
	led := ledger.New()
	model := &fakeModel{replies: []scriptedReply{fields("sentiment", "Positive")}}
	if _, err := Full(context.Background(), model, Request{Mode: prompt.Sentiment{}, Texts: []string{"x"}, Ledger: led}); err != nil {
		t.Fatalf("Full returned error: %v", err)
	}
	if led.Len() != 0 {
		t.Fatalf("sentiment run must not touch the ledger, got %v", led.Entries())
	}
}

func TestFailuresDoNotAbortRun(t *testing.T) {
	model := &fakeModel{replies: []scriptedReply{
		{err: &llm.CallError{Kind: domain.ErrorKindAuth, Err: errors.New("401")}},
		{err: &llm.CallError{Kind: domain.ErrorKindTransport, Err: errors.New("reset")}},
		fields("salient", "False"),
	}}
	res, err := Full(context.Background(), model, Request{Mode: prompt.MarkSalient{}, Texts: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("Full returned error: %v", err)
	}
	if len(model.prompts) != 3 {
		t.Fatalf("expected every row attempted once, got %d calls", len(model.prompts))
	}
	if res.Results[0].Kind != domain.ErrorKindAuth || res.Results[1].Kind != domain.ErrorKindTransport {
		t.Fatalf("unexpected kinds: %q %q", res.Results[0].Kind, res.Results[1].Kind)
	}
	if res.Results[2].Cell() != "False" {
		t.Fatalf("row 2 = %q, want False", res.Results[2].Cell())
	}
	if res.Summary.Errors() != 2 {
		t.Fatalf("summary errors = %d, want 2", res.Summary.Errors())
	}
}

func TestSummaryCountsTokensForEveryCall(t *testing.T) {
	model := &fakeModel{
		replies: []scriptedReply{
			fields("sentiment", "Positive"),
			{err: &llm.CallError{Kind: domain.ErrorKindMalformed, Err: errors.New("eof")}},
			fields("sentiment", "Negative"),
		},
		usage: llm.Usage{InputTokens: 40, OutputTokens: 7},
	}
	res, err := Full(context.Background(), model, Request{Mode: prompt.Sentiment{}, Texts: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("Full returned error: %v", err)
	}
	if res.Summary.Tokens != 3*47 {
		t.Fatalf("summary tokens = %d, want %d", res.Summary.Tokens, 3*47)
	}
}

func TestPreviewTruncatesAndLimitsRows(t *testing.T) {
	long := strings.Repeat("x", 600)
	texts := make([]string, 12)
	for i := range texts {
		texts[i] = long
	}

	preview := &fakeModel{}
	res, err := Preview(context.Background(), preview, Request{Mode: prompt.Sentiment{}, Texts: texts})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if len(res.Results) != PreviewRows || len(preview.prompts) != PreviewRows {
		t.Fatalf("preview processed %d rows, want %d", len(preview.prompts), PreviewRows)
	}

	full := &fakeModel{}
	if _, err := Full(context.Background(), full, Request{Mode: prompt.Sentiment{}, Texts: texts[:1]}); err != nil {
		t.Fatalf("Full returned error: %v", err)
	}

	if preview.prompts[0] == full.prompts[0] {
		t.Fatal("expected preview and full prompts to differ for a 600-char row")
	}
	if !strings.Contains(full.prompts[0], long) {
		t.Fatal("full run must not truncate")
	}
	if strings.Contains(preview.prompts[0], strings.Repeat("x", 501)) || !strings.Contains(preview.prompts[0], strings.Repeat("x", 500)) {
		t.Fatal("preview must truncate to exactly 500 characters")
	}
}

func TestProgressSequence(t *testing.T) {
	var progress []float64
	model := &fakeModel{}
	_, err := Full(context.Background(), model, Request{
		Mode:     prompt.Sentiment{},
		Texts:    []string{"a", "b", "c"},
		Progress: func(f float64) { progress = append(progress, f) },
	})
	if err != nil {
		t.Fatalf("Full returned error: %v", err)
	}
	if len(progress) != 3 {
		t.Fatalf("expected one progress report per row, got %v", progress)
	}
	if progress[0] <= 0 {
		t.Fatalf("first progress must be above 0, got %v", progress[0])
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress decreased: %v", progress)
		}
	}
	if progress[len(progress)-1] != 1.0 {
		t.Fatalf("final progress = %v, want 1.0", progress[len(progress)-1])
	}
}

func TestPassesAPIKeyThrough(t *testing.T) {
	model := &fakeModel{}
	if _, err := Full(context.Background(), model, Request{Mode: prompt.Sentiment{}, Texts: []string{"a"}, APIKey: "sk-session"}); err != nil {
		t.Fatalf("Full returned error: %v", err)
	}
	if model.keys[0] != "sk-session" {
		t.Fatalf("api key = %q, want sk-session", model.keys[0])
	}
}

func TestCancelledContextStopsBetweenRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &fakeModel{}
	_, err := Full(ctx, model, Request{
		Mode:     prompt.Sentiment{},
		Texts:    []string{"a", "b", "c"},
		Progress: func(f float64) { cancel() },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(model.prompts) != 1 {
		t.Fatalf("expected one call before cancellation, got %d", len(model.prompts))
	}
}
