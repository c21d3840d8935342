package chronograph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{"fits", "short text", 100, []string{"short text"}},
		{"disabled", "short text", 0, []string{"short text"}},
		{"paragraphs", "first para\n\nsecond para\n\nthird", 24, []string{"first para\n\nsecond para", "third"}},
		{"sentences", "One two three. Four five six. Seven.", 16, []string{"One two three.", "Four five six.", "Seven."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkText(tt.text, tt.maxChars))
		})
	}
}

func TestChunkTextBoundsChunks(t *testing.T) {
	text := strings.Repeat("word ", 500)
	for _, c := range chunkText(text, 64) {
		assert.LessOrEqual(t, len(c), 64)
		assert.NotEmpty(t, c)
	}
}
