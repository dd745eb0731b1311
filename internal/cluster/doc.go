// Package cluster holds the wire types and HTTP clients shared by the
// coordinator and the shard nodes of a Strata cluster.
//
// # Overview
//
// Every call between actors is a JSON request over HTTP. The caller names
// itself in the X-Principal header; shards name themselves by their
// address, the coordinator by its configured principal.
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │              │
//	              │ - Registry   │
//	              │ - Aggregator │
//	              │ - Health Mon │
//	              └──────┬───────┘
//	                     │ install, add, filter, health
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	│  Shard 0  │ │  Shard 1  │ │  Shard 2  │
//	│  closed   │ │  closed   │ │ available │
//	└───────────┘ └───────────┘ └───────────┘
//	      close_and_migrate goes back up
//
// # Clients
//
// Client issues requests for one principal. ShardClient wraps it with one
// method per shard route, taking the shard address first so a single
// client serves every shard. ParentClient is the shard's link back to the
// coordinator. Register offers a spare node to a coordinator and retries
// with a Fibonacci backoff.
//
// # Errors
//
// A non-2xx answer is decoded into *apierr.Error, so a caller can match a
// remote failure with errors.Is exactly as it would a local one:
//
//	_, err := shards.Add(ctx, addr, "profile", rec)
//	if errors.Is(err, apierr.ErrAtCapacity) {
//	    ...
//	}
//
// Transport failures stay untyped and are wrapped with the URL.
package cluster
