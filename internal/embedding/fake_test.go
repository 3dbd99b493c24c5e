package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeDeterministic(t *testing.T) {
	f := NewFake(64)

	first, err := f.Embed(context.Background(), []string{"urban defense", "logistics"})
	require.NoError(t, err)
	second, err := f.Embed(context.Background(), []string{"urban defense", "logistics"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first[0], first[1])
}

func TestFakeDimensionAndRange(t *testing.T) {
	f := NewFake(0)
	assert.Equal(t, DefaultDimension, f.Dimension())

	vectors, err := f.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Len(t, vectors[0], DefaultDimension)

	for _, v := range vectors[0] {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}
