package embedding

import (
	"context"
	"crypto/sha256"
)

const DefaultDimension = 1536

// Fake is the deterministic offline provider: the SHA-256 digest of the text
// is repeated to the configured dimension and each byte scaled to [0, 1].
// The same text always produces the same vector, with no network involved.
type Fake struct {
	dim int
}

func NewFake(dim int) *Fake {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Fake{dim: dim}
}

func (f *Fake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		digest := sha256.Sum256([]byte(text))
		vector := make([]float32, f.dim)
		for j := 0; j < f.dim; j++ {
			vector[j] = float32(digest[j%len(digest)]) / 255.0
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (f *Fake) Dimension() int {
	return f.dim
}
