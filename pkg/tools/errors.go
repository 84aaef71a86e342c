package tools

// ErrorKind is the stable error taxonomy surfaced to clients.
type ErrorKind string

const (
	ErrKindMalformedRequest ErrorKind = "MalformedRequest"
	ErrKindUnknownTool      ErrorKind = "UnknownTool"
	ErrKindRateLimited      ErrorKind = "RateLimited"
	ErrKindNotFound         ErrorKind = "NotFound"
	ErrKindTimeout          ErrorKind = "Timeout"
	ErrKindInternalError    ErrorKind = "InternalError"
)

// Error is the error half of the response envelope. RetryAfter is only set
// for rate-limit rejections, in seconds.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	RetryAfter *int      `json:"retryAfter,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func errorResponse(kind ErrorKind, message string) Response {
	return Response{Err: &Error{Kind: kind, Message: message}}
}

func rateLimitedResponse(reason string, retryAfter int) Response {
	return Response{Err: &Error{
		Kind:       ErrKindRateLimited,
		Message:    reason,
		RetryAfter: &retryAfter,
	}}
}
