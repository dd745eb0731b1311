package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatic(t *testing.T) {
	g := NewStatic("ops", " ", "admin")

	assert.True(t, g.IsOwner("ops"))
	assert.True(t, g.IsOwner("admin"))
	assert.False(t, g.IsOwner(""))
	assert.False(t, g.IsOwner("alice"))

	assert.True(t, g.IsAuthenticated("alice"))
	assert.False(t, g.IsAuthenticated(""))

	g.AddOwner("alice")
	assert.True(t, g.IsOwner("alice"))
}

func TestRequire(t *testing.T) {
	parent := ""
	g := NewStatic("ops")
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	tests := []struct {
		name      string
		check     Check
		principal string
		want      int
	}{
		{"owner allowed", Owner(g), "ops", http.StatusNoContent},
		{"non owner rejected", Owner(g), "alice", http.StatusForbidden},
		{"authenticated allowed", Authenticated(g), "alice", http.StatusNoContent},
		{"anonymous rejected", Authenticated(g), "", http.StatusForbidden},
		{"unset parent rejects everyone", Is(func() string { return parent }), "", http.StatusForbidden},
		{"extra owner allowed", Owner(g, func() string { return "coordinator" }), "coordinator", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			if tt.principal != "" {
				req.Header.Set(Header, tt.principal)
			}
			rec := httptest.NewRecorder()
			Require(tt.check, ok)(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("parent check follows install", func(t *testing.T) {
		check := Is(func() string { return parent })
		assert.False(t, check("coordinator"))
		parent = "coordinator"
		assert.True(t, check("coordinator"))
		assert.False(t, check("alice"))
	})
}
