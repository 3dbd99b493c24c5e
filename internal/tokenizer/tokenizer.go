// Package tokenizer provides the pluggable token counting used by the
// segmenter. Tokens carry byte offsets so chunk text can be sliced verbatim
// from the source document.
package tokenizer

import "unicode"

// Token is one token's span in the source text, as byte offsets.
type Token struct {
	Start int
	End   int
}

type Tokenizer interface {
	Tokenize(text string) []Token
	Count(text string) int
}

// Word tokenizes contiguous non-whitespace runs. It approximates embedding
// model tokenization closely enough for window sizing while keeping offsets
// exact.
type Word struct{}

func NewWord() Word { return Word{} }

func (Word) Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Start: start, End: len(text)})
	}
	return tokens
}

func (w Word) Count(text string) int {
	return len(w.Tokenize(text))
}
