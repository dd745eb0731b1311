package shard

import (
	"net/http"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/codec"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/record"
)

// Handler exposes a node over HTTP.
//
// Routes:
//
//	GET  /health                  liveness
//	POST /install                 install (anyone authenticated) or upgrade (parent)
//	GET  /metadata                node description
//	POST /records/add             domain write, migrates on overflow
//	POST /records/add_by_parent   write forwarded by the parent
//	POST /records/update          replace a record
//	POST /records/get             read one record
//	GET  /records                 every record in sequence order
//	POST /records/filter          one chunk of the serialized filter result
//	POST /backup/snapshot         take a snapshot
//	POST /backup/upload           upload one chunk
//	POST /backup/finalize         hash the uploaded chunks
//	POST /backup/restore          verify and restore
//	POST /backup/download         read one chunk
//	GET  /backup/total            chunk count
//	GET  /backup/status           backup phase
//	POST /backup/clear            reset the backup
//
// Backup routes need an owner or the parent, filter and add_by_parent need
// the parent, everything else needs an authenticated caller.
func Handler(n *Node, g guard.Guard) http.Handler {
	authed := guard.Authenticated(g)
	parent := guard.Is(n.Parent)
	owner := guard.Owner(g, n.Parent)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /install", func(w http.ResponseWriter, r *http.Request) {
		handleInstall(n, g, w, r)
	})
	mux.HandleFunc("GET /metadata", guard.Require(authed, func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, n.Metadata())
	}))

	mux.HandleFunc("POST /records/add", guard.Require(authed, func(w http.ResponseWriter, r *http.Request) {
		var req cluster.AddRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		res, err := n.AddRecord(r.Context(), req.Kind, req.Record)
		if err != nil {
			apierr.Write(w, err)
			return
		}
		cluster.WriteJSON(w, http.StatusOK, res)
	}))
	mux.HandleFunc("POST /records/add_by_parent", guard.Require(parent, func(w http.ResponseWriter, r *http.Request) {
		var req cluster.AddRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		entry, err := n.AddByParent(req.Kind, req.Record)
		respond(w, entry, err)
	}))
	mux.HandleFunc("POST /records/update", guard.Require(authed, func(w http.ResponseWriter, r *http.Request) {
		var req cluster.UpdateRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		entry, err := n.Update(req.ID, req.Record)
		respond(w, entry, err)
	}))
	mux.HandleFunc("POST /records/get", guard.Require(authed, func(w http.ResponseWriter, r *http.Request) {
		var req cluster.GetRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		entry, err := n.Get(req.ID)
		respond(w, entry, err)
	}))
	mux.HandleFunc("GET /records", guard.Require(authed, func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, n.GetAll())
	}))
	mux.HandleFunc("POST /records/filter", guard.Require(parent, func(w http.ResponseWriter, r *http.Request) {
		var req cluster.FilterRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		out, err := n.FilterChunk(req.Filters, req.ChunkIndex, req.MaxChunkBytes)
		respond(w, out, err)
	}))

	mux.HandleFunc("POST /backup/snapshot", guard.Require(owner, func(w http.ResponseWriter, _ *http.Request) {
		hash, err := n.Snapshot()
		respond(w, cluster.HashResponse{Hash: hash}, err)
	}))
	mux.HandleFunc("POST /backup/upload", guard.Require(owner, func(w http.ResponseWriter, r *http.Request) {
		var req cluster.ChunkRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		if err := n.UploadChunk(req.Index, req.Data); err != nil {
			apierr.Write(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("POST /backup/finalize", guard.Require(owner, func(w http.ResponseWriter, _ *http.Request) {
		hash, err := n.FinalizeUpload()
		respond(w, cluster.HashResponse{Hash: hash}, err)
	}))
	mux.HandleFunc("POST /backup/restore", guard.Require(owner, func(w http.ResponseWriter, _ *http.Request) {
		hash, err := n.Restore()
		respond(w, cluster.HashResponse{Hash: hash}, err)
	}))
	mux.HandleFunc("POST /backup/download", guard.Require(owner, func(w http.ResponseWriter, r *http.Request) {
		var req cluster.ChunkRequest
		if !cluster.ReadJSON(w, r, &req) {
			return
		}
		data, err := n.DownloadChunk(req.Index)
		respond(w, cluster.ChunkResponse{Data: data}, err)
	}))
	mux.HandleFunc("GET /backup/total", guard.Require(owner, func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, cluster.TotalResponse{Total: n.TotalChunks()})
	}))
	mux.HandleFunc("GET /backup/status", guard.Require(owner, func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, n.BackupStatus())
	}))
	mux.HandleFunc("POST /backup/clear", guard.Require(owner, func(w http.ResponseWriter, _ *http.Request) {
		if err := n.ClearBackup(); err != nil {
			apierr.Write(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	return mux
}

// handleInstall lets any authenticated caller install a fresh node; once
// installed only the parent may upgrade it.
func handleInstall(n *Node, g guard.Guard, w http.ResponseWriter, r *http.Request) {
	p := guard.Principal(r)
	if !g.IsAuthenticated(p) || (n.Installed() && p != n.Parent()) {
		apierr.Write(w, apierr.New(apierr.KindUnauthorized, "UNAUTHORIZED",
			"caller may not install this node", "", "install", p))
		return
	}
	var req cluster.InstallRequest
	if !cluster.ReadJSON(w, r, &req) {
		return
	}
	if req.Mode == cluster.ModeInstall && req.Parent != p {
		apierr.Write(w, apierr.New(apierr.KindUnauthorized, "PARENT_MISMATCH",
			"a node can only be installed by its parent", "", "install", p, req.Parent))
		return
	}
	if err := n.Install(req); err != nil {
		apierr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		apierr.Write(w, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, v)
}

// DecodeRecord parses a record encoded for migration.
func DecodeRecord(data []byte) (record.Record, error) {
	var rec record.Record
	if err := codec.Unmarshal(data, &rec); err != nil {
		return record.Record{}, apierr.New(apierr.KindValidation, "INVALID_RECORD_BYTES", err.Error(), "", "decode_record")
	}
	return rec, nil
}
