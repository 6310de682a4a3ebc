package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMultimodalUpstream struct {
	result ExtractionResult
	err    error
}

func (s *stubMultimodalUpstream) ExtractStructured(ctx context.Context, kind domain.DocumentKind, stream io.Reader, text string) (ExtractionResult, error) {
	return s.result, s.err
}

func TestExtractionExecutorReturnsResultWhenRequiredFieldPresent(t *testing.T) {
	upstream := &stubMultimodalUpstream{result: ExtractionResult{
		Fields:     map[string]any{"monthly_income": 3000.0},
		Confidence: 0.8,
	}}
	exec := NewExtractionExecutor(upstream, 0)

	result, err := exec.Run(context.Background(), ExtractionRequest{Kind: domain.BankStatement, Stream: strings.NewReader("doc")})
	require.NoError(t, err)
	assert.Equal(t, 3000.0, result.Fields["monthly_income"])
}

func TestExtractionExecutorClassifiesMissingRequiredFieldsAsParseFailed(t *testing.T) {
	upstream := &stubMultimodalUpstream{result: ExtractionResult{
		Fields:     map[string]any{"some_other_field": "x"},
		Confidence: 0.8,
	}}
	exec := NewExtractionExecutor(upstream, 0)

	_, err := exec.Run(context.Background(), ExtractionRequest{Kind: domain.BankStatement, Stream: strings.NewReader("doc")})
	require.Error(t, err)
	var execErr *Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, ClassParseFailed, execErr.Class)
	assert.False(t, execErr.Class.Retryable())
}

func TestExtractionExecutorAcceptsEitherRequiredFieldForIdentityCard(t *testing.T) {
	upstream := &stubMultimodalUpstream{result: ExtractionResult{
		Fields:     map[string]any{"national_id": "123"},
		Confidence: 0.7,
	}}
	exec := NewExtractionExecutor(upstream, 0)

	result, err := exec.Run(context.Background(), ExtractionRequest{Kind: domain.IdentityCard, Stream: strings.NewReader("doc")})
	require.NoError(t, err)
	assert.Equal(t, "123", result.Fields["national_id"])
}

func TestExtractionExecutorPropagatesUpstreamError(t *testing.T) {
	upstream := &stubMultimodalUpstream{err: NewError(ClassTimeout, "slow")}
	exec := NewExtractionExecutor(upstream, 0)

	_, err := exec.Run(context.Background(), ExtractionRequest{Kind: domain.BankStatement, Stream: strings.NewReader("doc")})
	require.Error(t, err)
	var execErr *Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, ClassTimeout, execErr.Class)
}
