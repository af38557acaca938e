package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/firechair/knowledge-console/internal/conversation"
	"github.com/firechair/knowledge-console/internal/retrieval"
	"github.com/firechair/knowledge-console/internal/tools"
)

// systemPrompt grounds the model in the retrieved context.
const systemPrompt = "You are a knowledgeable assistant. Answer using the " +
	"provided context when it is relevant. When the context does not contain " +
	"the answer, say so instead of guessing. Cite sources by filename when " +
	"you use them."

// historyWindow bounds how many prior messages enter the prompt.
const historyWindow = 6

// titleRunes caps generated conversation titles.
const titleRunes = 50

// buildPrompt assembles the user-turn prompt from conversation history,
// retrieved chunks, and connector data.
func buildPrompt(history []conversation.Message, question string, matches []retrieval.Match, toolResults []tools.Result) string {
	var b strings.Builder

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			switch m.Role {
			case conversation.RoleUser:
				b.WriteString("User: ")
			case conversation.RoleAssistant:
				b.WriteString("Assistant: ")
			default:
				continue
			}
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(matches) > 0 {
		b.WriteString("Context from documents:\n")
		for _, m := range matches {
			b.WriteString("[Source: ")
			b.WriteString(m.Filename)
			b.WriteString("]\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}

	var withData []tools.Result
	for _, r := range toolResults {
		if r.OK() {
			withData = append(withData, r)
		}
	}
	if len(withData) > 0 {
		b.WriteString("Live data:\n")
		for _, r := range withData {
			b.WriteString(r.Name)
			b.WriteString(":\n")
			b.WriteString(marshalIndent(r.Data))
			b.WriteString("\n\n")
		}
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// GenerateTitle derives a conversation title from its first message:
// the first line, whitespace collapsed, truncated on a rune boundary.
func GenerateTitle(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return "New Conversation"
	}
	if utf8.RuneCountInString(line) <= titleRunes {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:titleRunes])) + "…"
}
