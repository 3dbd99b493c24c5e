package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wargame-agent/backend/internal/tokenizer"
)

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func TestSegmentEmptyInput(t *testing.T) {
	s := NewSegmenter(100, 20, tokenizer.NewWord())

	assert.Nil(t, s.Segment(""))
	assert.Nil(t, s.Segment("   \n\n\t  "))
}

func TestSegmentShortDocumentSingleChunk(t *testing.T) {
	s := NewSegmenter(100, 20, tokenizer.NewWord())

	text := words("w", 40)
	chunks := s.Segment(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSegmentOverlapInvariant(t *testing.T) {
	tok := tokenizer.NewWord()
	s := NewSegmenter(50, 10, tok)

	text := words("w", 173)
	chunks := s.Segment(text)
	require.Greater(t, len(chunks), 2)

	for i, chunk := range chunks {
		count := tok.Count(chunk)
		assert.LessOrEqual(t, count, 50, "chunk %d exceeds max tokens", i)
	}

	for i := 0; i+1 < len(chunks); i++ {
		prev := strings.Fields(chunks[i])
		next := strings.Fields(chunks[i+1])
		require.GreaterOrEqual(t, len(prev), 10)
		tail := prev[len(prev)-10:]
		head := next[:10]
		assert.Equal(t, tail, head, "chunks %d and %d do not overlap by exactly 10 tokens", i, i+1)
	}
}

func TestSegmentDeterministic(t *testing.T) {
	s := NewSegmenter(50, 10, tokenizer.NewWord())
	text := words("w", 500)

	first := s.Segment(text)
	second := s.Segment(text)

	require.Equal(t, first, second)
}

func TestSegmentParagraphNotSplit(t *testing.T) {
	paraA := words("a", 30)
	paraB := words("b", 30)
	text := paraA + "\n\n" + paraB

	s := NewSegmenter(40, 5, tokenizer.NewWord())
	chunks := s.Segment(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, paraA, chunks[0])
	assert.NotContains(t, chunks[0], "b0")
	assert.True(t, strings.HasSuffix(chunks[1], paraB))
}

func TestSegmentFencedCodeBlockNotSplit(t *testing.T) {
	intro := words("intro", 30)
	fence := "```\n" + words("code", 20) + "\n```"
	text := intro + "\n\n" + fence

	s := NewSegmenter(40, 5, tokenizer.NewWord())
	chunks := s.Segment(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, intro, chunks[0])
	assert.NotContains(t, chunks[0], "```")
	assert.Contains(t, chunks[1], "code0")
	assert.Contains(t, chunks[1], "code19")
}

func TestSegmentListItemsNotSplit(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, "- "+words(fmt.Sprintf("item%d_", i), 7))
	}
	text := strings.Join(lines, "\n")

	s := NewSegmenter(20, 4, tokenizer.NewWord())
	chunks := s.Segment(text)
	require.NotEmpty(t, chunks)

	tok := tokenizer.NewWord()
	for i, chunk := range chunks {
		assert.LessOrEqual(t, tok.Count(chunk), 20, "chunk %d exceeds max tokens", i)
		assert.False(t, strings.HasSuffix(chunk, "-"), "chunk %d ends mid list item", i)
		trailing := chunk[strings.LastIndexByte(chunk, '\n')+1:]
		fields := strings.Fields(trailing)
		assert.Len(t, fields, 8, "chunk %d cuts a list item short: %q", i, trailing)
	}
}

func TestSegmentOversizedUnitHardSplit(t *testing.T) {
	tok := tokenizer.NewWord()
	s := NewSegmenter(30, 5, tok)

	text := words("w", 100)
	chunks := s.Segment(text)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, tok.Count(chunk), 30, "chunk %d exceeds max tokens", i)
	}

	assert.True(t, strings.HasPrefix(chunks[0], "w0 "))
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "w99"))
}
