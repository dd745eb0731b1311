package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/chunk"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/record"
)

func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    any
		responseBody   any
		wantKind       apierr.Kind
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   &map[string]string{},
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    map[string]string{"test": "data"},
		},
		{
			name:           "typed error survives the wire",
			serverResponse: http.StatusConflict,
			serverBody:     `{"kind":"at_capacity","code":"SHARD_FULL","message":"full"}`,
			requestBody:    map[string]string{"test": "data"},
			wantKind:       apierr.KindAtCapacity,
			expectError:    true,
		},
		{
			name:           "untyped server error",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `internal error`,
			requestBody:    map[string]string{"test": "data"},
			wantKind:       apierr.KindUnexpected,
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int),
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					_, _ = w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)
			if !tt.expectError {
				require.NoError(t, err)
				if tt.responseBody != nil {
					assert.Equal(t, "ok", (*tt.responseBody.(*map[string]string))["status"])
				}
				return
			}
			require.Error(t, err)
			if tt.wantKind != "" {
				var e *apierr.Error
				require.True(t, errors.As(err, &e))
				assert.Equal(t, tt.wantKind, e.Kind)
			}
		})
	}
}

func TestPostJSONInvalidURL(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, PostJSON(ctx, "://invalid-url", map[string]string{"test": "data"}, nil))
	assert.Error(t, PostJSON(ctx, "http://localhost:99999", map[string]string{"test": "data"}, nil))
}

func TestClientSendsPrincipal(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get(guard.Header))
		WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	}))
	defer server.Close()

	var out map[string]string
	require.NoError(t, NewClient("ops", time.Second).GetJSON(context.Background(), server.URL, &out))
	assert.Equal(t, "ops", got.Load())
	assert.Equal(t, "yes", out["ok"])

	require.NoError(t, GetJSON(context.Background(), server.URL, nil))
	assert.Equal(t, "", got.Load(), "package helpers are anonymous")
}

func TestReadJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"id":"n1","addr":"http://a"}`, true},
		{"malformed", `{"id":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(tt.body))
			var node NodeInfo
			assert.Equal(t, tt.ok, ReadJSON(rec, req, &node))
			if tt.ok {
				assert.Equal(t, "n1", node.ID)
				return
			}
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			e := apierr.Decode(rec.Code, rec.Body.Bytes())
			assert.Equal(t, "INVALID_BODY", e.Code)
		})
	}
}

func TestRegisterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req RegisterRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "n1", req.Node.ID)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	node := NodeInfo{ID: "n1", Addr: "http://10.0.0.5:8081"}
	require.NoError(t, Register(context.Background(), server.URL, node, time.Millisecond, 5))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(-100)
	err := Register(context.Background(), server.URL, node, time.Millisecond, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register with coordinator")
}

func TestFilterChunkRange(t *testing.T) {
	fc := FilterChunk{ChunkIndex: 2, LastChunkIndex: 4}
	assert.Equal(t, chunk.Range{Index: 2, Last: 4}, fc.Range())
}

func TestParentClientCloseAndMigrate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shards/close_and_migrate", r.URL.Path)
		assert.Equal(t, "http://s0", r.Header.Get(guard.Header))
		var req MigrateRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		WriteJSON(w, http.StatusOK, MigrateResponse{Sibling: "http://s1"})
	}))
	defer server.Close()

	resp, err := NewParentClient(server.URL, "http://s0", time.Second).CloseAndMigrate(context.Background(), MigrateRequest{Caller: "http://s0", LastSeq: 3})
	require.NoError(t, err)
	assert.Equal(t, "http://s1", resp.Sibling)
}

func TestShardClientWriteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		WriteJSON(w, http.StatusOK, AddResult{Migrated: true, Sibling: "http://s1"})
	}))
	defer server.Close()
	ctx := context.Background()

	short := NewShardClient("coordinator", 50*time.Millisecond)
	_, err := short.Add(ctx, server.URL, "profile", record.Record{Username: "a"})
	assert.Error(t, err, "a slow migration outlives the request timeout")

	long := short.WithWriteTimeout(5 * time.Second)
	res, err := long.Add(ctx, server.URL, "profile", record.Record{Username: "a"})
	require.NoError(t, err)
	assert.Equal(t, "http://s1", res.Sibling)

	assert.Error(t, long.Health(ctx, server.URL), "other calls keep the request timeout")
}
