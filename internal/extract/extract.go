// Package extract converts uploaded files into indexable plain text.
package extract

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Sentinel errors.
var (
	// ErrUnsupportedFormat indicates the file type cannot be indexed.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrUnsupportedEncoding indicates the file is not valid UTF-8.
	ErrUnsupportedEncoding = errors.New("document is not valid UTF-8")
)

// Text extracts plain text from an uploaded file. The format is picked
// by filename extension, falling back to the declared content type.
// Plain text and markdown pass through; HTML is stripped to its visible
// text.
func Text(filename, contentType string, r io.Reader) (string, error) {
	switch format(filename, contentType) {
	case "text":
		return plainText(r)
	case "html":
		return htmlText(r)
	default:
		return "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedFormat, filename, contentType)
	}
}

func format(filename, contentType string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return "text"
	case ".html", ".htm":
		return "html"
	}

	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(mediaType) {
	case "text/plain", "text/markdown":
		return "text"
	case "text/html":
		return "html"
	}
	return ""
}

func plainText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	if !utf8.Valid(data) {
		return "", ErrUnsupportedEncoding
	}
	return string(data), nil
}

func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return collapseWhitespace(root.Text()), nil
}

// collapseWhitespace normalizes runs of whitespace left behind by tag
// removal while keeping paragraph breaks.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lines := strings.Split(s, "\n")
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			if blank > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(line)
		blank = 0
	}
	return b.String()
}
