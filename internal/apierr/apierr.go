// Package apierr defines the typed error results exchanged between shards,
// the coordinator and their callers.
//
// Every failure that crosses an actor boundary is an *Error carrying a Kind
// (what class of failure it is), a short Code (which specific failure it is)
// and the method that produced it. Callers branch on the Kind:
//
//	if errors.Is(err, apierr.ErrAtCapacity) {
//	    // migrate
//	}
//
// Fatal kinds (ChunkOrder, HashMismatch, Decode and FailedToStore) abort
// the whole invocation and are never retried automatically.
package apierr

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindAtCapacity      Kind = "at_capacity"
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindChunkOrder      Kind = "chunk_order"
	KindHashMismatch    Kind = "hash_mismatch"
	KindDecode          Kind = "decode"
	KindProvision       Kind = "provision"
	KindInstall         Kind = "install"
	KindUpToDate        Kind = "up_to_date"
	KindNotEmpty        Kind = "not_empty"
	KindIndexOutOfRange Kind = "index_out_of_range"
	KindFailedToStore   Kind = "failed_to_store"
	KindUnauthorized    Kind = "unauthorized"
	KindBadRequest      Kind = "bad_request"
	KindUnexpected      Kind = "unexpected"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrAtCapacity      = &Error{Kind: KindAtCapacity}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrChunkOrder      = &Error{Kind: KindChunkOrder}
	ErrHashMismatch    = &Error{Kind: KindHashMismatch}
	ErrDecode          = &Error{Kind: KindDecode}
	ErrProvision       = &Error{Kind: KindProvision}
	ErrInstall         = &Error{Kind: KindInstall}
	ErrUpToDate        = &Error{Kind: KindUpToDate}
	ErrNotEmpty        = &Error{Kind: KindNotEmpty}
	ErrIndexOutOfRange = &Error{Kind: KindIndexOutOfRange}
	ErrFailedToStore   = &Error{Kind: KindFailedToStore}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrBadRequest      = &Error{Kind: KindBadRequest}
	ErrUnexpected      = &Error{Kind: KindUnexpected}
)

// Error is a typed failure.
type Error struct {
	Kind    Kind     `json:"kind"`
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message,omitempty"`
	Source  string   `json:"source,omitempty"`
	Method  string   `json:"method,omitempty"`
	Inputs  []string `json:"inputs,omitempty"`
}

var _ error = &Error{}

// New builds an error of the given kind.
func New(kind Kind, code, message, source, method string, inputs ...string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Source:  source,
		Method:  method,
		Inputs:  inputs,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Method != "" {
		fmt.Fprintf(&b, " in %s", e.Method)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is reports whether target is an *Error of the same kind. A target with a
// Code only matches errors with that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Fatal reports whether the error must abort the whole invocation.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindChunkOrder, KindHashMismatch, KindDecode, KindFailedToStore:
		return true
	}
	return false
}

// Status maps an error kind to the HTTP status used on the wire.
func Status(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindAtCapacity:
		return http.StatusInsufficientStorage
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotEmpty, KindUpToDate:
		return http.StatusConflict
	case KindIndexOutOfRange:
		return http.StatusRequestedRangeNotSatisfiable
	case KindChunkOrder, KindHashMismatch, KindDecode:
		return http.StatusUnprocessableEntity
	case KindProvision, KindInstall, KindFailedToStore:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus is the fallback used when a response carries no error body.
func FromStatus(status int, message string) *Error {
	kind := KindUnexpected
	switch status {
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusBadRequest:
		kind = KindBadRequest
	case http.StatusInsufficientStorage:
		kind = KindAtCapacity
	case http.StatusForbidden, http.StatusUnauthorized:
		kind = KindUnauthorized
	case http.StatusConflict:
		kind = KindNotEmpty
	case http.StatusRequestedRangeNotSatisfiable:
		kind = KindIndexOutOfRange
	}
	return &Error{Kind: kind, Code: fmt.Sprintf("HTTP_%d", status), Message: message}
}
