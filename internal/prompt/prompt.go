package prompt

import (
	"fmt"
	"strings"
)

// SystemInstruction is sent with every completion request.
const SystemInstruction = "You are an AI model that provides structured JSON responses."

// Mode is one of the fixed analysis operations. The set is closed: only the
// types in this package implement it.
type Mode interface {
	// Name is the user-facing identifier accepted by ParseMode.
	Name() string
	// Key is the JSON field the model is asked to return.
	Key() string
	// Prompt builds the user instruction for one row. categories is the
	// ledger snapshot and is only read by Categorize.
	Prompt(text string, categories []string) string

	sealed()
}

type Sentiment struct{}

type Categorize struct{}

type MarkSalient struct{}

type Custom struct {
	Instruction string
}

func (Sentiment) Name() string { return "sentiment" }
func (Sentiment) Key() string  { return "sentiment" }
func (Sentiment) sealed()      {}

func (Sentiment) Prompt(text string, _ []string) string {
	return fmt.Sprintf("Analyze the sentiment of the following text and respond with a JSON object containing 'sentiment' with values 'Positive', 'Negative', or 'Neutral': %s. ", text)
}

func (Categorize) Name() string { return "categorize" }
func (Categorize) Key() string  { return "category" }
func (Categorize) sealed()      {}

func (Categorize) Prompt(text string, categories []string) string {
	existing := strings.Join(categories, ", ")
	return fmt.Sprintf("Categorize the following text: %s based on its essential meaning. Essentially a 1-5 word summary. Respond with one of these existing categories: %s or make a new one. Respond with a JSON object containing 'category'.", text, existing)
}

func (MarkSalient) Name() string { return "mark salient" }
func (MarkSalient) Key() string  { return "salient" }
func (MarkSalient) sealed()      {}

func (MarkSalient) Prompt(text string, _ []string) string {
	return fmt.Sprintf("Determine if the following text is salient for marketing purposes: %s. Respond with a JSON object containing 'salient' with values 'True' or 'False'.", text)
}

func (Custom) Name() string { return "custom" }
func (Custom) Key() string  { return "response" }
func (Custom) sealed()      {}

func (c Custom) Prompt(text string, _ []string) string {
	return fmt.Sprintf("%s: %s. Respond with a JSON object containing 'response'.", c.Instruction, text)
}

// Modes lists the selectable mode names in display order.
func Modes() []string {
	return []string{"sentiment", "categorize", "mark salient", "custom"}
}

// ParseMode resolves a user selection. customPrompt is required for custom mode
// and ignored otherwise.
func ParseMode(name, customPrompt string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sentiment":
		return Sentiment{}, nil
	case "categorize", "category":
		return Categorize{}, nil
	case "mark salient", "mark_salient", "mark-salient", "salient":
		return MarkSalient{}, nil
	case "custom":
		instruction := strings.TrimSpace(customPrompt)
		if instruction == "" {
			return nil, fmt.Errorf("custom mode requires a prompt")
		}
		return Custom{Instruction: instruction}, nil
	default:
		return nil, fmt.Errorf("unknown analysis mode %q (want one of: %s)", name, strings.Join(Modes(), ", "))
	}
}

// Build returns the instruction for one row.
func Build(mode Mode, text string, categories []string) string {
	return mode.Prompt(text, categories)
}

// Truncate keeps at most max characters of text. max <= 0 disables truncation.
func Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}
