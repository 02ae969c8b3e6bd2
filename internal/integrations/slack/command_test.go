package slackbot

import (
	"strings"
	"testing"

	"gptqual/internal/prompt"
)

func TestParseAnalyzeCommand(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		column   string
		mode     string
		output   string
		preview  bool
		custom   string
		errorHas string
	}{
		{name: "basic", text: "analyze column=review mode=sentiment", column: "review", mode: "sentiment"},
		{name: "preview flag", text: "Analyze column=review mode=categorize output=topic preview", column: "review", mode: "categorize", output: "topic", preview: true},
		{name: "preview value", text: "analyze col=review mode=mark_salient preview=false", column: "review", mode: "mark salient"},
		{name: "quoted column", text: `analyze column="customer comment" mode=sentiment`, column: "customer comment", mode: "sentiment"},
		{name: "custom prompt", text: `analyze column=review mode=custom prompt="List the product mentioned"`, column: "review", mode: "custom", custom: "List the product mentioned"},
		{name: "smart quotes", text: "analyze column=review mode=custom prompt=“Summarize briefly”", column: "review", mode: "custom", custom: "Summarize briefly"},
		{name: "missing column", text: "analyze mode=sentiment", errorHas: "missing column"},
		{name: "missing mode", text: "analyze column=review", errorHas: "missing mode"},
		{name: "unknown mode", text: "analyze column=review mode=poetry", errorHas: "unknown analysis mode"},
		{name: "custom without prompt", text: "analyze column=review mode=custom", errorHas: "requires a prompt"},
		{name: "unknown option", text: "analyze column=review mode=sentiment color=blue", errorHas: "unknown option"},
		{name: "bare word", text: "analyze column=review mode=sentiment please", errorHas: "unexpected argument"},
		{name: "unterminated quote", text: `analyze column="review mode=sentiment`, errorHas: "unterminated"},
		{name: "wrong keyword", text: "summarize column=review mode=sentiment", errorHas: "must start"},
	}

	for _, tt := range tests {
		cmd, err := ParseAnalyzeCommand(tt.text)
		if tt.errorHas != "" {
			if err == nil || !strings.Contains(err.Error(), tt.errorHas) {
				t.Fatalf("%s: expected error containing %q, got %v", tt.name, tt.errorHas, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if cmd.Column != tt.column || cmd.Mode.Name() != tt.mode || cmd.OutputColumn != tt.output || cmd.Preview != tt.preview {
			t.Fatalf("%s: got column=%q mode=%q output=%q preview=%t", tt.name, cmd.Column, cmd.Mode.Name(), cmd.OutputColumn, cmd.Preview)
		}
		if tt.custom != "" {
			c, ok := cmd.Mode.(prompt.Custom)
			if !ok || c.Instruction != tt.custom {
				t.Fatalf("%s: custom instruction = %+v", tt.name, cmd.Mode)
			}
		}
	}
}

func TestIsAnalyzeCommand(t *testing.T) {
	if !IsAnalyzeCommand("  analyze column=a") {
		t.Fatal("expected analyze prefix to match")
	}
	if IsAnalyzeCommand("please analyze this") || IsAnalyzeCommand("") {
		t.Fatal("only a leading analyze keyword should match")
	}
}

func TestHelpTextListsModes(t *testing.T) {
	help := helpText()
	for _, m := range []string{"sentiment", "categorize", "mark_salient", "custom"} {
		if !strings.Contains(help, m) {
			t.Fatalf("help text missing mode %q", m)
		}
	}
}
