package executor

import (
	"context"
	"io"
	"time"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
)

// ExtractionRequest is the typed input of §4.3.2.
type ExtractionRequest struct {
	Kind          domain.DocumentKind
	OCRText       string
	StorageHandle string
	Stream        io.Reader
}

// ExtractionResult is the kind-specific structured output of §4.3.2.
type ExtractionResult struct {
	Fields     map[string]any
	Confidence float64
}

// MultimodalUpstream is the collaborator interface of §6:
// extract_structured(kind, stream, text) -> fields_map, with cancellation.
type MultimodalUpstream interface {
	ExtractStructured(ctx context.Context, kind domain.DocumentKind, stream io.Reader, text string) (ExtractionResult, error)
}

// HTTPMultimodalUpstream implements MultimodalUpstream over HTTPUpstream.
type HTTPMultimodalUpstream struct {
	*HTTPUpstream
}

func (u *HTTPMultimodalUpstream) ExtractStructured(ctx context.Context, kind domain.DocumentKind, stream io.Reader, text string) (ExtractionResult, error) {
	data, err := io.ReadAll(stream)
	if err != nil {
		return ExtractionResult{}, NewError(ClassTransient, "read document stream: "+err.Error())
	}
	req := struct {
		Kind domain.DocumentKind `json:"kind"`
		Text string              `json:"text"`
		Data []byte              `json:"data"`
	}{Kind: kind, Text: text, Data: data}

	var resp ExtractionResult
	if err := u.postJSON(ctx, "/multimodal/extract", req, &resp); err != nil {
		return ExtractionResult{}, err
	}
	return resp, nil
}

// ExtractionExecutor adapts MultimodalUpstream to the Stage Executor
// contract.
type ExtractionExecutor struct {
	Upstream MultimodalUpstream
	Timeout  time.Duration // default 90s per §4.3.2
}

// NewExtractionExecutor constructs an executor with the default 90s
// timeout.
func NewExtractionExecutor(upstream MultimodalUpstream, timeout time.Duration) *ExtractionExecutor {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ExtractionExecutor{Upstream: upstream, Timeout: timeout}
}

// requiredFields lists the kind-specific keys a caller (the decision
// policy) depends on; if the model omits all of them the result is treated
// as PARSE_FAILED rather than silently proceeding with an empty map.
var requiredFields = map[domain.DocumentKind][]string{
	domain.BankStatement: {"monthly_income", "closing_balance"},
	domain.IdentityCard:  {"national_id", "full_name"},
}

// Run calls the multimodal upstream for req.Kind. An UPSTREAM_UNAVAILABLE
// error here is not escalated by this executor — per §4.3.2 the engine
// treats it as a partial-success contributor, not a hard failure; the
// executor's job is only to classify, not to decide policy.
func (e *ExtractionExecutor) Run(ctx context.Context, req ExtractionRequest) (ExtractionResult, error) {
	var result ExtractionResult
	err := withTimeout(ctx, e.Timeout, func(cctx context.Context) error {
		r, err := e.Upstream.ExtractStructured(cctx, req.Kind, req.Stream, req.OCRText)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return ExtractionResult{}, err
	}

	for _, field := range requiredFields[req.Kind] {
		if _, ok := result.Fields[field]; ok {
			return result, nil
		}
	}
	return ExtractionResult{}, NewError(ClassParseFailed, "model returned no recognizable fields")
}
