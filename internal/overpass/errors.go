package overpass

import "fmt"

// Kind classifies a failed Overpass call. Retry decisions key off it.
type Kind string

const (
	// KindTransport means the network transport failed before a response arrived.
	KindTransport Kind = "transport"
	// KindTimeout means the call exceeded its deadline, locally or upstream.
	KindTimeout Kind = "timeout"
	// KindRateLimited means the upstream rejected the request with 429.
	KindRateLimited Kind = "rate_limited"
	// KindDecode means the response body could not be decoded.
	KindDecode Kind = "decode"
	// KindInvalidRequest means the request was rejected before or by the
	// upstream as malformed; retrying the same request cannot help.
	KindInvalidRequest Kind = "invalid_request"
)

// Error represents a failed Overpass call.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("overpass %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("overpass %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether retrying the same call is expected to help.
// Transport failures, timeouts, and rate limits are worth retrying;
// malformed requests and undecodable responses are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}
