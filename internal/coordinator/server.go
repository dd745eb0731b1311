package coordinator

import (
	"net/http"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/record"
)

// ImageRequest replaces the code image.
type ImageRequest struct {
	Label   string `json:"label"`
	Version string `json:"version"`
	Data    []byte `json:"data"`
}

// UpgradeRequest names the shard to upgrade.
type UpgradeRequest struct {
	Address string `json:"address"`
}

// ShardListing is one entry of GET /shards.
type ShardListing struct {
	ShardDescriptor
	Health *ShardHealth `json:"health,omitempty"`
}

// Stats is the body of GET /stats.
type Stats struct {
	Shards     int             `json:"shards"`
	Available  string          `json:"available,omitempty"`
	Spares     int             `json:"spares"`
	Image      Image           `json:"image"`
	Aggregator AggregatorStats `json:"aggregator"`
}

// Server exposes the registry and the aggregator over HTTP.
type Server struct {
	Registry   *ShardRegistry
	Aggregator *Aggregator
	// Health is optional.
	Health *HealthMonitor
	// Pool receives /register offers. Without it registration is refused.
	Pool  *PoolProvisioner
	Guard guard.Guard
	// Kind tags records written without an explicit kind.
	Kind string
}

// Handler returns the coordinator routes:
//
//	GET  /health                     liveness
//	POST /register                   offer a spare node
//	GET  /shards                     descriptors with health
//	POST /shards/provision           provision a shard (owner)
//	POST /shards/close_and_migrate   called by a full shard about itself
//	POST /shards/upgrade             upgrade one shard (owner)
//	POST /shards/upgrade_all         upgrade every shard (owner)
//	GET  /image                      current code image
//	POST /image                      replace the code image (owner)
//	POST /records/add                write to the available shard
//	POST /query                      aggregate read
//	GET  /stats                      counters and latency
func (s *Server) Handler() http.Handler {
	authed := guard.Authenticated(s.Guard)
	owner := guard.Owner(s.Guard)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /shards", guard.Require(authed, s.handleListShards))
	mux.HandleFunc("POST /shards/provision", guard.Require(owner, func(w http.ResponseWriter, r *http.Request) {
		d, err := s.Registry.ProvisionShard(r.Context())
		respond(w, d, err)
	}))
	mux.HandleFunc("POST /shards/close_and_migrate", s.handleCloseAndMigrate)
	mux.HandleFunc("POST /shards/upgrade", guard.Require(owner, func(w http.ResponseWriter, r *http.Request) {
		var req UpgradeRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		d, err := s.Registry.UpgradeShard(r.Context(), req.Address)
		respond(w, d, err)
	}))
	mux.HandleFunc("POST /shards/upgrade_all", guard.Require(owner, func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Registry.UpgradeAll(r.Context())
		respond(w, res, err)
	}))
	mux.HandleFunc("GET /image", guard.Require(authed, func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, s.Registry.Image())
	}))
	mux.HandleFunc("POST /image", guard.Require(owner, func(w http.ResponseWriter, r *http.Request) {
		var req ImageRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		img, err := s.Registry.SetImage(req.Label, req.Version, req.Data)
		respond(w, img, err)
	}))
	mux.HandleFunc("POST /records/add", guard.Require(authed, func(w http.ResponseWriter, r *http.Request) {
		var req cluster.AddRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		if req.Kind == "" {
			req.Kind = s.Kind
		}
		res, err := s.Registry.Write(r.Context(), req.Kind, req.Record)
		respond(w, res, err)
	}))
	mux.HandleFunc("POST /query", guard.Require(authed, func(w http.ResponseWriter, r *http.Request) {
		var q Query
		if !cluster.ReadJSON(w, r, &q) {
			return
		}
		page, err := s.Aggregator.Aggregate(r.Context(), q)
		respond(w, page, err)
	}))
	mux.HandleFunc("GET /stats", guard.Require(authed, func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, s.stats())
	}))
	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if !cluster.ReadJSON(w, r, &req) {
		return
	}
	if s.Pool == nil {
		apierr.Write(w, apierr.New(apierr.KindValidation, "NO_SPARE_POOL",
			"this coordinator provisions its own shards", "", "register", req.Node.ID))
		return
	}
	if err := s.Pool.Offer(req.Node); err != nil {
		apierr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCloseAndMigrate only accepts a registered shard asking about
// itself.
func (s *Server) handleCloseAndMigrate(w http.ResponseWriter, r *http.Request) {
	var req cluster.MigrateRequest
	if !cluster.ReadJSON(w, r, &req) {
		return
	}
	p := guard.Principal(r)
	if p == "" || p != req.Caller || !s.Registry.IsShard(p) {
		apierr.Write(w, apierr.New(apierr.KindUnauthorized, "UNAUTHORIZED",
			"only a registered shard may close itself", "", "close_and_migrate", p, req.Caller))
		return
	}
	resp, err := s.Registry.CloseAndMigrate(r.Context(), req)
	respond(w, resp, err)
}

func (s *Server) handleListShards(w http.ResponseWriter, _ *http.Request) {
	shards := s.Registry.Shards()
	out := make([]ShardListing, len(shards))
	for i, d := range shards {
		out[i] = ShardListing{ShardDescriptor: d}
		if s.Health != nil {
			out[i].Health = s.Health.Health(d.Address)
		}
	}
	cluster.WriteJSON(w, http.StatusOK, struct {
		Shards []ShardListing `json:"shards"`
	}{Shards: out})
}

func (s *Server) stats() Stats {
	st := Stats{
		Shards: len(s.Registry.Addresses()),
		Image:  s.Registry.Image(),
	}
	if d, err := s.Registry.PickAvailableShard(""); err == nil {
		st.Available = d.Address
	}
	if s.Pool != nil {
		st.Spares = len(s.Pool.Spares())
	}
	if s.Aggregator != nil {
		st.Aggregator = s.Aggregator.Stats()
	}
	return st
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		apierr.Write(w, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, v)
}

// Page is the answer to POST /query.
type Page = record.Page[record.Entry]
