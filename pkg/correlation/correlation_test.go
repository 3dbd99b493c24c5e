package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithIDIgnoresEmpty(t *testing.T) {
	ctx := WithID(context.Background(), "")
	assert.Empty(t, FromContext(ctx))

	ctx = WithID(ctx, "req-7")
	assert.Equal(t, "req-7", FromContext(ctx))
}

func TestEnsureGeneratesOnce(t *testing.T) {
	ctx, id := Ensure(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))

	same, again := Ensure(ctx)
	assert.Equal(t, id, again, "an existing id must be kept")
	assert.Equal(t, ctx, same)
}
