package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// From returns err as an *Error. Untyped errors become Unexpected.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnexpected, Code: "UNEXPECTED", Message: err.Error()}
}

// Write sends err as a JSON error body with the status of its kind.
func Write(w http.ResponseWriter, err error) {
	e := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(e.Kind))
	_ = json.NewEncoder(w).Encode(e)
}

// Decode rebuilds a typed error from a response body. The status is used
// when the body carries no kind.
func Decode(status int, body []byte) *Error {
	var e Error
	if err := json.Unmarshal(body, &e); err == nil && e.Kind != "" {
		return &e
	}
	return FromStatus(status, string(body))
}
