package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrorKind classifies a failed external call.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindBadResponse ErrorKind = "bad_response"
	KindAuth        ErrorKind = "auth"
	KindBadRequest  ErrorKind = "bad_request"
	KindRateLimit   ErrorKind = "rate_limit"
	KindUnavailable ErrorKind = "unavailable"
)

// CallError is a classified model or embedding failure.
type CallError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *CallError) Retryable() bool {
	switch e.Kind {
	case KindAuth, KindBadRequest:
		return false
	default:
		return true
	}
}

var errorMapper = llms.OpenAIErrorMapper()

// Classify wraps err in a *CallError. Already classified errors are returned as is.
func Classify(op string, err error) *CallError {
	if err == nil {
		return nil
	}

	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}

	kind := KindUnavailable
	switch {
	case errors.Is(err, ErrEmptyResponse):
		kind = KindBadResponse
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	default:
		mapped := errorMapper.WrapError(err)
		switch {
		case llms.IsTimeoutError(mapped):
			kind = KindTimeout
		case llms.IsAuthenticationError(mapped):
			kind = KindAuth
		case llms.IsRateLimitError(mapped), llms.IsQuotaExceededError(mapped):
			kind = KindRateLimit
		case llms.IsInvalidRequestError(mapped), llms.IsTokenLimitError(mapped), llms.IsContentFilterError(mapped):
			kind = KindBadRequest
		}
	}

	return &CallError{Kind: kind, Op: op, Err: err}
}
