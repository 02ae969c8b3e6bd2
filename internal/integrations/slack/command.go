package slackbot

import (
	"fmt"
	"strings"

	"gptqual/internal/prompt"
)

// AnalyzeCommand is the parsed form of a message like
//
//	analyze column=review mode=categorize output=topic preview
//	analyze column=review mode=custom prompt="Summarize in five words"
type AnalyzeCommand struct {
	Column       string
	Mode         prompt.Mode
	OutputColumn string
	Preview      bool
}

// IsAnalyzeCommand reports whether text starts with the analyze keyword.
func IsAnalyzeCommand(text string) bool {
	fields := strings.Fields(text)
	return len(fields) > 0 && strings.EqualFold(fields[0], "analyze")
}

// ParseAnalyzeCommand parses key=value arguments after the analyze keyword.
// Values may be double-quoted to include spaces.
func ParseAnalyzeCommand(text string) (AnalyzeCommand, error) {
	args, err := splitArgs(text)
	if err != nil {
		return AnalyzeCommand{}, err
	}
	if len(args) == 0 || !strings.EqualFold(args[0], "analyze") {
		return AnalyzeCommand{}, fmt.Errorf("message must start with `analyze`")
	}

	var cmd AnalyzeCommand
	var modeName, customPrompt string
	for _, arg := range args[1:] {
		key, value, hasValue := strings.Cut(arg, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !hasValue {
			if key == "preview" {
				cmd.Preview = true
				continue
			}
			return AnalyzeCommand{}, fmt.Errorf("unexpected argument %q (want key=value)", arg)
		}
		switch key {
		case "column", "col":
			cmd.Column = value
		case "mode":
			modeName = value
		case "output", "out":
			cmd.OutputColumn = value
		case "prompt":
			customPrompt = value
		case "preview":
			cmd.Preview = value == "" || strings.EqualFold(value, "true") || value == "1" || strings.EqualFold(value, "yes")
		default:
			return AnalyzeCommand{}, fmt.Errorf("unknown option %q", key)
		}
	}

	if strings.TrimSpace(cmd.Column) == "" {
		return AnalyzeCommand{}, fmt.Errorf("missing column=<name>")
	}
	if modeName == "" {
		return AnalyzeCommand{}, fmt.Errorf("missing mode=<%s>", strings.Join(modeArgNames(), "|"))
	}
	mode, err := prompt.ParseMode(modeName, customPrompt)
	if err != nil {
		return AnalyzeCommand{}, err
	}
	cmd.Mode = mode
	return cmd, nil
}

func modeArgNames() []string {
	names := prompt.Modes()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ReplaceAll(n, " ", "_")
	}
	return out
}

// splitArgs splits on whitespace, keeping double-quoted runs together and
// dropping the quotes. Slack's smart quotes are treated as plain quotes.
func splitArgs(text string) ([]string, error) {
	text = strings.NewReplacer("“", `"`, "”", `"`).Replace(text)
	var args []string
	var cur strings.Builder
	inQuotes, started := false, false
	for _, r := range text {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			started = true
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}

func helpText() string {
	lines := []string{
		"*GPT Qual*",
		"",
		"Share a CSV file in a channel with me and write the command in the same message:",
		"`analyze column=<column> mode=<" + strings.Join(modeArgNames(), "|") + "> [output=<column>] [preview] [prompt=\"...\"]`",
		">*Example:* `analyze column=review mode=sentiment`",
		">*Custom:* `analyze column=review mode=custom prompt=\"List the product mentioned\"`",
		"",
		"`preview` analyzes the first 10 rows with text cut to 500 characters.",
		"The result comes back as `analyzed_data.csv` in the thread.",
		"`/gptqual help` shows this message.",
	}
	return strings.Join(lines, "\n")
}
