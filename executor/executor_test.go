package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassRetryable(t *testing.T) {
	assert.True(t, ClassTransient.Retryable())
	assert.True(t, ClassUpstreamUnavail.Retryable())
	assert.True(t, ClassTimeout.Retryable())
	assert.False(t, ClassEmptyResult.Retryable())
	assert.False(t, ClassParseFailed.Retryable())
	assert.False(t, ClassUnsupportedFormat.Retryable())
	assert.False(t, ClassCancelled.Retryable())
}

func TestWithTimeoutPassesThroughSuccess(t *testing.T) {
	err := withTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithTimeoutClassifiesDeadlineExceeded(t *testing.T) {
	err := withTimeout(context.Background(), time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	var execErr *Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, ClassTimeout, execErr.Class)
}

func TestWithTimeoutClassifiesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	err := withTimeout(parent, time.Second, func(ctx context.Context) error {
		return errors.New("some failure")
	})
	require.Error(t, err)
	var execErr *Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, ClassCancelled, execErr.Class)
}
