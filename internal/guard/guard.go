// Package guard answers the authorization questions asked by shard and
// coordinator handlers. A caller is identified by the principal carried in
// the X-Principal request header; an empty principal is anonymous.
package guard

import (
	"net/http"
	"strings"

	"github.com/dreamware/strata/internal/apierr"
)

// Header carries the calling principal.
const Header = "X-Principal"

// Guard decides what a principal may do.
type Guard interface {
	// IsOwner reports whether p may run backup and administrative operations.
	IsOwner(p string) bool
	// IsAuthenticated reports whether p may run domain operations.
	IsAuthenticated(p string) bool
}

// Static is a Guard over a fixed owner list. Any non-empty principal is
// authenticated.
type Static struct {
	owners map[string]struct{}
}

// NewStatic creates a guard with the given owners. Blank names are ignored.
func NewStatic(owners ...string) *Static {
	s := &Static{owners: make(map[string]struct{}, len(owners))}
	for _, o := range owners {
		if o = strings.TrimSpace(o); o != "" {
			s.owners[o] = struct{}{}
		}
	}
	return s
}

// AddOwner grants owner rights to p.
func (s *Static) AddOwner(p string) {
	if p != "" {
		s.owners[p] = struct{}{}
	}
}

// IsOwner reports whether p is one of the configured owners.
func (s *Static) IsOwner(p string) bool {
	_, ok := s.owners[p]
	return ok
}

// IsAuthenticated reports whether p is not anonymous.
func (s *Static) IsAuthenticated(p string) bool {
	return p != ""
}

// Principal returns the principal of r.
func Principal(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Check is a predicate over the calling principal.
type Check func(p string) bool

// Owner requires g.IsOwner or one of the extra principals.
func Owner(g Guard, extra ...func() string) Check {
	return func(p string) bool {
		if g.IsOwner(p) {
			return true
		}
		for _, e := range extra {
			if v := e(); v != "" && v == p {
				return true
			}
		}
		return false
	}
}

// Authenticated requires g.IsAuthenticated.
func Authenticated(g Guard) Check {
	return g.IsAuthenticated
}

// Is requires the principal returned by want. It is re-read on every call
// because a shard learns its parent only when it is installed.
func Is(want func() string) Check {
	return func(p string) bool {
		w := want()
		return w != "" && p == w
	}
}

// Require wraps next so it only runs when check accepts the caller.
func Require(check Check, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := Principal(r)
		if !check(p) {
			apierr.Write(w, apierr.New(apierr.KindUnauthorized, "UNAUTHORIZED",
				"caller is not allowed to perform this operation", "", r.URL.Path, p))
			return
		}
		next(w, r)
	}
}
