package ddns

import (
	"errors"
	"net/http"
	"strconv"
)

// Kind classifies an update failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	InsecureTransport
	MalformedCredential
	MissingParameter
	InvalidParameter
	ZoneNotFound
	RecordNotFound
	UpdateFailed
)

func (k Kind) String() string {
	switch k {
	case InsecureTransport:
		return "insecure_transport"
	case MalformedCredential:
		return "malformed_credential"
	case MissingParameter:
		return "missing_parameter"
	case InvalidParameter:
		return "invalid_parameter"
	case ZoneNotFound:
		return "zone_not_found"
	case RecordNotFound:
		return "record_not_found"
	case UpdateFailed:
		return "update_failed"
	}
	return "unknown"
}

// Status returns the HTTP status code reported to the client for a failure of kind k.
// Client mistakes are 400; everything caused by the provider or unexpected is 500.
func (k Kind) Status() int {
	switch k {
	case InsecureTransport, MalformedCredential, MissingParameter, InvalidParameter:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error is returned by every component of the update path.
//
// Reason is safe to show to the client.
// Err holds the underlying cause and is only logged.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

const unknownError = "Unknown Error"

// writeError converts err into a plain-text response and returns the status code written.
// Only the Reason of an *Error reaches the client.
func writeError(w http.ResponseWriter, err error) int {
	status := http.StatusInternalServerError
	message := unknownError
	var e *Error
	if errors.As(err, &e) {
		status = e.Kind.Status()
		if e.Reason != "" {
			message = e.Reason
		}
	}
	writeText(w, status, message)
	return status
}

func writeText(w http.ResponseWriter, status int, body string) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
