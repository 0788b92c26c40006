package engine

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrBrainDisabled is returned by a brain with no configured provider.
var ErrBrainDisabled = errors.New("engine: no LLM provider configured")

// ErrorClass groups model failures by what the caller should do about them.
type ErrorClass string

const (
	ErrorClassAuth            ErrorClass = "AUTH"
	ErrorClassRateLimit       ErrorClass = "RATE_LIMIT"
	ErrorClassTimeout         ErrorClass = "TIMEOUT"
	ErrorClassBilling         ErrorClass = "BILLING"
	ErrorClassContextOverflow ErrorClass = "CONTEXT_OVERFLOW"
	// ErrorClassParse means the model answered but not with a valid envelope.
	ErrorClassParse   ErrorClass = "PARSE"
	ErrorClassUnknown ErrorClass = "UNKNOWN"
)

// Transient reports whether the user should be told to retry shortly.
func (c ErrorClass) Transient() bool {
	return c == ErrorClassTimeout || c == ErrorClassRateLimit
}

// providerWording maps phrases seen in provider error text to a class.
// Order matters: the first class with a matching phrase wins.
var providerWording = []struct {
	class   ErrorClass
	phrases []string
}{
	{ErrorClassAuth, []string{"401", "403", "unauthorized", "forbidden", "invalid key", "invalid api key", "permission denied"}},
	{ErrorClassRateLimit, []string{"429", "rate limit", "rate_limit", "quota", "too many requests", "overloaded"}},
	{ErrorClassTimeout, []string{"deadline exceeded", "timeout", "timed out"}},
	{ErrorClassBilling, []string{"billing", "payment", "insufficient funds", "credit balance"}},
	{ErrorClassContextOverflow, []string{"context_length", "context length", "context window", "maximum context", "token limit", "max tokens", "prompt is too long"}},
}

// ClassifyError sorts a model error into an ErrorClass. Typed errors are
// checked before the message text.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return ErrorClassParse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorClassTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, w := range providerWording {
		for _, p := range w.phrases {
			if strings.Contains(msg, p) {
				return w.class
			}
		}
	}
	return ErrorClassUnknown
}

// ParseError reports model output that could not be decoded into an
// Envelope. Raw is the untouched model text.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string { return "engine: parse model output: " + e.Reason }
