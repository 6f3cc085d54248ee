package core

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "partial BOM at start is kept",
			input:    []byte{0xEF, 0xBB, 'a'},
			expected: "?a",
		},
		{
			name:     "invalid byte replaced",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he?lo",
		},
		{
			name:     "multibyte preserved",
			input:    []byte("Köln,Zürich"),
			expected: "Köln,Zürich",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(CleanText(tt.input))
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestReadContent(t *testing.T) {
	t.Run("hash matches HashContent", func(t *testing.T) {
		c, err := ReadContent(strings.NewReader("a,b\n1,2\n"), 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Hash != HashContent([]byte("a,b\n1,2\n")) {
			t.Errorf("hash mismatch: %s", c.Hash)
		}
		if len(c.Hash) != 64 {
			t.Errorf("hash length = %d, want 64", len(c.Hash))
		}
	})

	t.Run("exactly at limit", func(t *testing.T) {
		if _, err := ReadContent(strings.NewReader("12345"), 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		_, err := ReadContent(strings.NewReader("123456"), 5)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("err = %v, want ErrFileTooLarge", err)
		}
	})

	t.Run("different content different hash", func(t *testing.T) {
		a, _ := ReadContent(strings.NewReader("x"), 0)
		b, _ := ReadContent(strings.NewReader("y"), 0)
		if a.Hash == b.Hash {
			t.Error("expected different hashes")
		}
	})
}
