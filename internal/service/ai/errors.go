package ai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies inference failures.
type ErrorKind int

const (
	KindTransport ErrorKind = iota + 1
	KindProtocol
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a *RequestError.
var (
	ErrTransport         = errors.New("inference endpoint unreachable")
	ErrProtocol          = errors.New("inference request failed")
	ErrMalformedResponse = errors.New("malformed inference response")
)

// RequestError is returned by every call to an inference endpoint.
type RequestError struct {
	Kind       ErrorKind
	StatusCode int
	Status     string
	Body       string
	Detail     string
	Cause      error
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case KindProtocol:
		msg := fmt.Sprintf("%s: %d %s", ErrProtocol, e.StatusCode, e.Status)
		if e.Body != "" {
			msg += " - " + e.Body
		}
		return msg
	case KindMalformedResponse:
		return fmt.Sprintf("%s: %s", ErrMalformedResponse, e.Detail)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", ErrTransport, e.Cause)
		}
		return ErrTransport.Error()
	}
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels so callers do not need a type assertion.
func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrProtocol:
		return e.Kind == KindProtocol
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	}
	return false
}

// KindOf returns the kind of a wrapped *RequestError, or 0.
func KindOf(err error) ErrorKind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return 0
}
