package apierr

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := New(KindAtCapacity, "CANISTER_AT_CAPACITY", "full", "profiles", "add")

	assert.True(t, errors.Is(err, ErrAtCapacity))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, &Error{Kind: KindAtCapacity, Code: "CANISTER_AT_CAPACITY"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindAtCapacity, Code: "OTHER"}))

	wrapped := errors.Wrap(err, "adding record")
	assert.True(t, errors.Is(wrapped, ErrAtCapacity))

	var target *Error
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "add", target.Method)
}

func TestErrorString(t *testing.T) {
	err := New(KindHashMismatch, "HASH_MISMATCH", "stored abc, computed def", "", "restore")
	assert.Equal(t, "hash_mismatch HASH_MISMATCH in restore: stored abc, computed def", err.Error())
}

func TestFatal(t *testing.T) {
	tests := []struct {
		kind  Kind
		fatal bool
	}{
		{KindChunkOrder, true},
		{KindHashMismatch, true},
		{KindDecode, true},
		{KindFailedToStore, true},
		{KindAtCapacity, false},
		{KindUpToDate, false},
		{KindProvision, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.fatal, (&Error{Kind: tt.kind}).Fatal())
		})
	}
}

func TestStatusRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindNotFound, KindAtCapacity, KindUnauthorized, KindIndexOutOfRange} {
		got := FromStatus(Status(kind), "")
		assert.Equal(t, kind, got.Kind)
	}
	assert.Equal(t, KindUnexpected, FromStatus(http.StatusTeapot, "").Kind)
}
