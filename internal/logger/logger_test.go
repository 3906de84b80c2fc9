package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "staff-1")
	ctx = WithGroupID(ctx, "branch-1")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "staff-1", GetUserID(ctx))
	assert.Equal(t, "", GetUserID(context.Background()))
	assert.NotNil(t, FromContext(ctx))
}
