package retrieval

import (
	"strings"
	"testing"
)

func TestChunkerSplit(t *testing.T) {
	t.Run("short text is a single chunk", func(t *testing.T) {
		c := NewChunker(500, 50)
		got := c.Split("hello world")
		if len(got) != 1 || got[0] != "hello world" {
			t.Fatalf("Split() = %v, want single chunk", got)
		}
	})

	t.Run("whitespace-only yields nothing", func(t *testing.T) {
		c := NewChunker(500, 50)
		if got := c.Split("   \n\t  "); got != nil {
			t.Fatalf("Split() = %v, want nil", got)
		}
	})

	t.Run("windows overlap by the configured amount", func(t *testing.T) {
		c := NewChunker(10, 4)
		text := "abcdefghijklmnopqrstuvwxyz"
		got := c.Split(text)
		want := []string{"abcdefghij", "ghijklmnop", "mnopqrstuv", "stuvwxyz"}
		if len(got) != len(want) {
			t.Fatalf("Split() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		c := NewChunker(4, 1)
		got := c.Split("日本語のテキストです")
		for i, chunk := range got {
			if strings.ContainsRune(chunk, '�') {
				t.Errorf("chunk %d split mid-character: %q", i, chunk)
			}
			if n := len([]rune(chunk)); n > 4 {
				t.Errorf("chunk %d has %d runes, want <= 4", i, n)
			}
		}
	})

	t.Run("reassembly covers the full text", func(t *testing.T) {
		c := NewChunker(10, 4)
		text := "abcdefghijklmnopqrstuvwxyz0123456789"
		var rebuilt strings.Builder
		step := 10 - 4
		for i, chunk := range c.Split(text) {
			if i == 0 {
				rebuilt.WriteString(chunk)
				continue
			}
			runes := []rune(chunk)
			if len(runes) > step {
				rebuilt.WriteString(string(runes[4:]))
			} else {
				rebuilt.WriteString(chunk)
			}
		}
		// Overlap-aware reassembly must reproduce the original.
		if rebuilt.String() != text {
			t.Errorf("reassembled = %q, want %q", rebuilt.String(), text)
		}
	})

	t.Run("bad parameters fall back to defaults", func(t *testing.T) {
		c := NewChunker(0, -1)
		if c.size != DefaultChunkSize || c.overlap != DefaultChunkOverlap {
			t.Errorf("NewChunker(0, -1) = %+v, want defaults", c)
		}
		c = NewChunker(100, 100)
		if c.overlap >= c.size {
			t.Errorf("overlap %d not clamped below size %d", c.overlap, c.size)
		}
	})
}
