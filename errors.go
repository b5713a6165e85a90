package tameng

import (
	"errors"
	"fmt"
	"time"
)

// Error types carried in HTTPError.Type.
const (
	ErrorTypeCircuitOpen = "CircuitOpen"
	ErrorTypeTimeout     = "Timeout"
	ErrorTypeNetwork     = "Network"
	ErrorTypeHTTPStatus  = "HTTPStatus"
	ErrorTypeParse       = "Parse"
	ErrorTypeMiddleware  = "Middleware"
	ErrorTypeValidation  = "Validation"
)

// CodeParseError is the HTTPError.Code of a 2xx response whose body did not decode.
const CodeParseError = "PARSE_ERROR"

// Sentinel errors, one per failure kind. Match them with errors.Is.
var (
	ErrCircuitOpen = errors.New("tameng: circuit open")
	ErrTimeout     = errors.New("tameng: request timed out")
	ErrNetwork     = errors.New("tameng: network failure")
	ErrHTTPStatus  = errors.New("tameng: unexpected http status")
	ErrParse       = errors.New("tameng: response parse failure")
	ErrMiddleware  = errors.New("tameng: middleware failure")
	ErrValidation  = errors.New("tameng: invalid configuration")

	// ErrSchedulerClosed is returned for tasks still queued when the scheduler closes.
	ErrSchedulerClosed = errors.New("tameng: scheduler closed")
)

var sentinelByType = map[string]error{
	ErrorTypeCircuitOpen: ErrCircuitOpen,
	ErrorTypeTimeout:     ErrTimeout,
	ErrorTypeNetwork:     ErrNetwork,
	ErrorTypeHTTPStatus:  ErrHTTPStatus,
	ErrorTypeParse:       ErrParse,
	ErrorTypeMiddleware:  ErrMiddleware,
	ErrorTypeValidation:  ErrValidation,
}

// HTTPError is the single error type returned by the client. It carries enough
// context for logging and metrics middleware to classify a failure without
// re-deriving it.
type HTTPError struct {
	Type    string
	Message string
	Status  int
	// Code is PARSE_ERROR, the response status text, or the network failure text.
	Code   string
	Data   any
	Config *RequestConfig
	URL    string
	Method string
	Cause  error

	Timestamp time.Time
}

// Error implements error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *HTTPError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches the sentinel for e.Type, or another *HTTPError of the same type.
func (e *HTTPError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*HTTPError); ok {
		return e.Type == targetErr.Type
	}
	if sentinel, ok := sentinelByType[e.Type]; ok {
		return target == sentinel
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *HTTPError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Code != "" {
		info += fmt.Sprintf("Code: %s\n", e.Code)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Status > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.Status)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// AsHTTPError extracts an *HTTPError from err's chain.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

func newHTTPError(errorType, message string, config *RequestConfig, cause error) *HTTPError {
	e := &HTTPError{
		Type:      errorType,
		Message:   message,
		Config:    config,
		Cause:     cause,
		Timestamp: time.Now(),
	}
	if config != nil {
		e.URL = config.URL
		e.Method = config.Method
	}
	return e
}
