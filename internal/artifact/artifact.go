// Package artifact extracts renderable artifact directives from model
// output.
//
// Models emit self-contained artifacts (code files, documents, diagrams)
// wrapped in an artifact tag:
//
//	<artifact type="code" title="Fibonacci" language="python">
//	def fib(n): ...
//	</artifact>
//
// Parse pulls the first directive out of the response and returns the
// surrounding prose with the tag removed.
package artifact

import "strings"

const (
	tagStart = "<artifact "
	tagEnd   = "</artifact>"
)

// Directive is one extracted artifact.
type Directive struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

// Parse scans text for an artifact tag. It returns the directive, or nil
// when none is present, plus the text with the tag stripped. Malformed
// tags are left in place rather than guessed at.
func Parse(text string) (*Directive, string) {
	start := strings.Index(text, tagStart)
	if start == -1 {
		return nil, text
	}

	headEnd := strings.Index(text[start:], ">")
	if headEnd == -1 {
		return nil, text
	}
	headEnd += start

	end := strings.Index(text[headEnd:], tagEnd)
	if end == -1 {
		return nil, text
	}
	end += headEnd

	head := text[start+len(tagStart) : headEnd]
	d := &Directive{
		Type:     extractAttr(head, "type"),
		Title:    extractAttr(head, "title"),
		Language: extractAttr(head, "language"),
		Content:  strings.TrimSpace(text[headEnd+1 : end]),
	}
	if d.Type == "" || d.Content == "" {
		return nil, text
	}
	if d.Title == "" {
		d.Title = "Untitled"
	}

	cleaned := strings.TrimSpace(text[:start] + text[end+len(tagEnd):])
	return d, cleaned
}

// extractAttr pulls a double-quoted attribute value out of a tag head.
func extractAttr(head, name string) string {
	marker := name + `="`
	i := strings.Index(head, marker)
	if i == -1 {
		return ""
	}
	rest := head[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j == -1 {
		return ""
	}
	return rest[:j]
}
