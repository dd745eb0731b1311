// Package coordinator implements the control plane of a Strata cluster: the
// registry of shards, the migration protocol that grows the cluster one
// shard at a time, the fan-out aggregator that answers filtered reads and
// the health monitor that watches every shard.
//
// # Overview
//
// The coordinator is the parent of every shard it installs. Exactly one
// shard is available for writes at any time. Earlier shards are closed and
// keep answering reads. When the available shard fills up, it asks the
// coordinator to close it and to store the overflowing record on a new
// sibling, which becomes the available shard.
//
//	┌──────────────────────────────────────────┐
//	│               COORDINATOR                │
//	├──────────────────────────────────────────┤
//	│                                          │
//	│  ┌────────────────────────────────────┐  │
//	│  │  ShardRegistry                     │  │
//	│  │  - descriptors, image, pending     │  │
//	│  │  - provision, install, upgrade     │  │
//	│  │  - close_and_migrate               │  │
//	│  └────────────────────────────────────┘  │
//	│                                          │
//	│  ┌────────────────────────────────────┐  │
//	│  │  Aggregator                        │  │
//	│  │  - bounded fan-out to all shards   │  │
//	│  │  - chunked reads in index order    │  │
//	│  │  - merge, sort, paginate           │  │
//	│  └────────────────────────────────────┘  │
//	│                                          │
//	│  ┌────────────────────────────────────┐  │
//	│  │  HealthMonitor                     │  │
//	│  │  - periodic /health probes         │  │
//	│  └────────────────────────────────────┘  │
//	│                                          │
//	│  Provisioner: LocalProvisioner or        │
//	│               PoolProvisioner            │
//	└──────────────────────────────────────────┘
//
// # Shard Lifecycle
//
// A Provisioner creates an uninstalled node and returns its address. The
// registry then installs the node with the current code image, the shard
// capacity and the coordinator principal. Install calls that fail on the
// transport are retried with a Fibonacci backoff. A node that was created
// but never installed is kept in the pending list and reused by the next
// provision, so a failed install does not leak nodes. Shard indexes are
// reserved only by provisions that succeed.
//
// A shard provisioned while another one is available does not become
// available itself. It is registered as a standby and the next migration
// hands over to it without creating a node.
//
// LocalProvisioner starts shard nodes inside the coordinator process on
// loopback listeners. PoolProvisioner hands out nodes that registered
// themselves through POST /register.
//
// # Migration Protocol
//
// The caller's descriptor walks through the migration states below. Every
// transition is persisted before the registry talks to another actor.
//
//	""  ──▶ provisioning ──▶ forwarding ──▶ migrated
//	 ▲           │                │
//	 └─ failed ──┘                └──▶ forward_failed
//	  provision
//
// Entering forwarding closes the caller, records its last sequence number
// and registers the sibling as available in one locked step. If the
// forward of the record then fails, the caller stays closed and the error
// is reported; the registry does not reopen shards. A repeated request from
// a caller that already migrated is routed to the current available shard.
//
// A migration is not cancelled when the calling shard hangs up. It runs
// under its own deadline, and the timeouts are ordered so that the write
// which triggered it always outlasts it:
//
//	migrate timeout < shard parent timeout < coordinator write timeout
//
// # Aggregate Reads
//
// Aggregate sends the same filters to every shard, at most fanOut at a
// time. Each shard's result is drained chunk by chunk and reassembled in
// index order. A shard that cannot be reached, or whose bytes do not
// decode, contributes no records and is logged. A chunk ordering violation
// aborts the whole query. Records are merged in shard order, sorted once
// and then paginated.
//
// # Concurrency
//
// ShardRegistry is an actor guarded by a single mutex. The mutex is never
// held across a call to a shard or to the provisioner. Concurrent writes
// that find no available shard share one bootstrap through singleflight.
//
// # Persistence
//
// Descriptors, the image and the pending list are saved through a
// storage.Persister after every mutation. A registry created on the same
// state resumes with the same shards.
package coordinator
