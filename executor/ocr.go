package executor

import (
	"context"
	"io"
	"time"
)

// OCRResult is the typed success output of §4.3.1.
type OCRResult struct {
	Text       string
	Confidence float64
	PageCount  int
}

// OCRUpstream is the collaborator interface of §6: extract_text(stream,
// content_type) -> {text, confidence, pages}, with cancellation via ctx.
type OCRUpstream interface {
	ExtractText(ctx context.Context, stream io.Reader, contentType string) (OCRResult, error)
}

// HTTPOCRUpstream implements OCRUpstream over HTTPUpstream.
type HTTPOCRUpstream struct {
	*HTTPUpstream
}

func (u *HTTPOCRUpstream) ExtractText(ctx context.Context, stream io.Reader, contentType string) (OCRResult, error) {
	data, err := io.ReadAll(stream)
	if err != nil {
		return OCRResult{}, NewError(ClassTransient, "read document stream: "+err.Error())
	}
	req := struct {
		ContentType string `json:"content_type"`
		Data        []byte `json:"data"`
	}{ContentType: contentType, Data: data}

	var resp OCRResult
	if err := u.postJSON(ctx, "/ocr/extract", req, &resp); err != nil {
		return OCRResult{}, err
	}
	return resp, nil
}

// OCRExecutor adapts OCRUpstream to the Stage Executor contract.
type OCRExecutor struct {
	Upstream OCRUpstream
	Timeout  time.Duration // default 60s per §4.3.1
}

// NewOCRExecutor constructs an executor with the default 60s timeout.
func NewOCRExecutor(upstream OCRUpstream, timeout time.Duration) *OCRExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OCRExecutor{Upstream: upstream, Timeout: timeout}
}

// Run extracts text from the given document stream, classifying the result
// per §4.3.1: unreadable formats, confidence below 0.1 or empty text, and
// timeouts all map to distinct error classes so the engine's retry policy
// (§4.4.4) can decide without re-inspecting raw upstream errors.
func (e *OCRExecutor) Run(ctx context.Context, stream io.Reader, contentType string) (OCRResult, error) {
	var result OCRResult
	err := withTimeout(ctx, e.Timeout, func(cctx context.Context) error {
		r, err := e.Upstream.ExtractText(cctx, stream, contentType)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return OCRResult{}, err
	}

	if result.Confidence < 0.1 || result.Text == "" {
		return OCRResult{}, NewError(ClassEmptyResult, "OCR returned no usable text")
	}
	return result, nil
}
