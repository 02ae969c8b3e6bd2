package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gptqual/internal/table"
)

func TestParseFlagsDefaults(t *testing.T) {
	var out bytes.Buffer
	opts, err := parseFlags([]string{"--input", "reviews.csv", "--column", "review", "--mode", "sentiment"}, &out)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.outputPath != table.DefaultExportName {
		t.Fatalf("default output = %q", opts.outputPath)
	}
	if opts.outputColumn != table.DefaultOutputColumn {
		t.Fatalf("default output column = %q", opts.outputColumn)
	}
	if opts.maxTokens != 100 || opts.preview {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestParseFlagsMissingRequired(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--column", "review", "--mode", "sentiment"}, "--input"},
		{[]string{"--input", "a.csv", "--mode", "sentiment"}, "--column"},
		{[]string{"--input", "a.csv", "--column", "review"}, "--mode"},
		{[]string{"--input", "a.csv", "--column", "review", "--mode", "sentiment", "--max-tokens", "0"}, "max-tokens"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		_, err := parseFlags(tt.args, &out)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("args %v: expected error mentioning %q, got %v", tt.args, tt.want, err)
		}
	}
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	p := progressPrinter(&out)
	p(0.5)
	p(1)
	if got := out.String(); got != "\rAnalyzing...  50%\rAnalyzing... 100%" {
		t.Fatalf("progress output = %q", got)
	}
}

func TestReadWriteTable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(in, []byte("id,text\n1,hello\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	tbl, err := readTable(in)
	if err != nil {
		t.Fatalf("readTable: %v", err)
	}
	out := filepath.Join(dir, "nested", "analyzed_data.csv")
	if err := writeTable(out, tbl); err != nil {
		t.Fatalf("writeTable: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "id,text\n1,hello\n" {
		t.Fatalf("output = %q", data)
	}
	if _, err := readTable(filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatal("expected error for missing input")
	}
}
