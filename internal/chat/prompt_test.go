package chat

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/firechair/knowledge-console/internal/conversation"
	"github.com/firechair/knowledge-console/internal/retrieval"
	"github.com/firechair/knowledge-console/internal/tools"
)

func TestBuildPrompt(t *testing.T) {
	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "earlier question"},
		{Role: conversation.RoleAssistant, Content: "earlier answer"},
		{Role: conversation.RoleTool, Content: `{"x":1}`},
	}
	matches := []retrieval.Match{
		{Filename: "guide.md", Content: "chunk one"},
		{Filename: "notes.txt", Content: "chunk two"},
	}
	results := []tools.Result{
		{Name: "crypto", Data: json.RawMessage(`{"bitcoin":{"usd":64000}}`)},
		{Name: "weather", Err: "tool disabled"},
	}

	got := buildPrompt(history, "current question", matches, results)

	for _, want := range []string{
		"User: earlier question",
		"Assistant: earlier answer",
		"[Source: guide.md]",
		"chunk one",
		"[Source: notes.txt]",
		"crypto",
		`"usd": 64000`,
		"Question: current question",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}

	// Tool messages stay out of the transcript section; failed
	// connectors stay out of the live data section.
	if strings.Contains(got, `{"x":1}`) {
		t.Error("prompt contains tool message from history")
	}
	if strings.Contains(got, "tool disabled") {
		t.Error("prompt contains failed connector output")
	}

	// Sections appear in reading order.
	ctxIdx := strings.Index(got, "Context from documents")
	dataIdx := strings.Index(got, "Live data")
	qIdx := strings.Index(got, "Question:")
	if !(ctxIdx < dataIdx && dataIdx < qIdx) {
		t.Errorf("section order wrong: context=%d data=%d question=%d", ctxIdx, dataIdx, qIdx)
	}
}

func TestBuildPromptMinimal(t *testing.T) {
	got := buildPrompt(nil, "just a question", nil, nil)
	if got != "Question: just a question" {
		t.Errorf("prompt = %q, want bare question", got)
	}
}

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "How do channels work?", "How do channels work?"},
		{"first line only", "First line\nsecond line", "First line"},
		{"collapsed whitespace", "  lots   of\tspace  ", "lots of space"},
		{"empty falls back", "   \n  ", "New Conversation"},
		{
			"long truncated",
			strings.Repeat("word ", 30),
			strings.TrimSpace(strings.Repeat("word ", 10)) + "…",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateTitle(tt.in); got != tt.want {
				t.Errorf("GenerateTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
