package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/guard"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// Client issues JSON requests on behalf of one principal. Non-2xx answers
// are decoded back into *apierr.Error so typed results survive the wire.
type Client struct {
	HTTP      *http.Client
	Principal string
}

// NewClient returns a client sending principal. A zero timeout keeps the
// shared five second default.
func NewClient(principal string, timeout time.Duration) *Client {
	hc := httpClient
	if timeout > 0 {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{HTTP: hc, Principal: principal}
}

// PostJSON posts body as JSON and decodes the answer into out when out
// is not nil.
func (c *Client) PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// GetJSON fetches url and decodes the answer into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Principal != "" {
		req.Header.Set(guard.Header, c.Principal)
	}
	hc := c.HTTP
	if hc == nil {
		hc = httpClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "http %s", req.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return apierr.Decode(resp.StatusCode, body)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostJSON posts body anonymously with the shared client.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return (&Client{HTTP: httpClient}).PostJSON(ctx, url, body, out)
}

// GetJSON fetches url anonymously with the shared client.
func GetJSON(ctx context.Context, url string, out any) error {
	return (&Client{HTTP: httpClient}).GetJSON(ctx, url, out)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes the request body into v, answering 400 on failure.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apierr.Write(w, apierr.New(apierr.KindBadRequest, "INVALID_BODY", err.Error(), "", r.URL.Path))
		return false
	}
	return true
}
