// Package chunking splits extracted document text into overlapping,
// token-bounded segments without breaking structural units.
package chunking

import (
	"regexp"
	"strings"

	"github.com/wargame-agent/backend/internal/tokenizer"
)

const (
	DefaultMaxTokens     = 800
	DefaultOverlapTokens = 200
)

var listItemRe = regexp.MustCompile(`^(\d{1,3}[.)]|[-*+•])\s`)

// Segmenter produces chunks with a sliding token window. The window advances
// by maxTokens-overlapTokens per step; a cut that would split a structural
// unit (paragraph, list item, table row, fenced code block) is pushed back to
// the unit's start, so chunks may be shorter than maxTokens but never longer.
// Output is deterministic for identical input and configuration.
type Segmenter struct {
	maxTokens     int
	overlapTokens int
	tok           tokenizer.Tokenizer
}

func NewSegmenter(maxTokens, overlapTokens int, tok tokenizer.Tokenizer) *Segmenter {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 4
	}
	if tok == nil {
		tok = tokenizer.NewWord()
	}
	return &Segmenter{maxTokens: maxTokens, overlapTokens: overlapTokens, tok: tok}
}

// Segment returns the ordered chunk texts for text. Empty or whitespace-only
// input yields zero chunks.
func (s *Segmenter) Segment(text string) []string {
	tokens := s.tok.Tokenize(text)
	n := len(tokens)
	if n == 0 {
		return nil
	}

	starts := unitStarts(text)
	unitOf, firstToken := mapTokensToUnits(tokens, starts)

	var chunks []string
	start := 0
	for {
		end := start + s.maxTokens
		if end >= n {
			chunks = append(chunks, slice(text, tokens, start, n))
			break
		}

		if unitOf[end-1] == unitOf[end] {
			cut := firstToken[unitOf[end]]
			if cut > start {
				end = cut
			}
		}

		chunks = append(chunks, slice(text, tokens, start, end))

		next := end - s.overlapTokens
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

func slice(text string, tokens []tokenizer.Token, i, j int) string {
	return text[tokens[i].Start:tokens[j-1].End]
}

// unitStarts returns the byte offsets at which structural units begin: the
// first line after a blank line, each list item, each table row, and each
// fenced code block (treated as a single unit).
func unitStarts(text string) []int {
	var starts []int
	inFence := false
	afterBreak := true

	offset := 0
	for offset < len(text) {
		newline := strings.IndexByte(text[offset:], '\n')
		var line string
		var next int
		if newline < 0 {
			line = text[offset:]
			next = len(text)
		} else {
			line = text[offset : offset+newline]
			next = offset + newline + 1
		}

		trimmed := strings.TrimSpace(line)
		fenceDelim := strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")

		switch {
		case inFence:
			if fenceDelim {
				inFence = false
				afterBreak = true
			}
		case fenceDelim:
			starts = append(starts, offset)
			inFence = true
		case trimmed == "":
			afterBreak = true
		case listItemRe.MatchString(trimmed) || strings.HasPrefix(trimmed, "|"):
			starts = append(starts, offset)
			afterBreak = false
		case afterBreak:
			starts = append(starts, offset)
			afterBreak = false
		}

		offset = next
	}

	return starts
}

func mapTokensToUnits(tokens []tokenizer.Token, starts []int) (unitOf []int, firstToken []int) {
	unitOf = make([]int, len(tokens))
	if len(starts) == 0 {
		firstToken = []int{0}
		return unitOf, firstToken
	}

	firstToken = make([]int, len(starts))
	u := 0
	for i, t := range tokens {
		for u+1 < len(starts) && starts[u+1] <= t.Start {
			u++
			firstToken[u] = i
		}
		unitOf[i] = u
	}
	return unitOf, firstToken
}
