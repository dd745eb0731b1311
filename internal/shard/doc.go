// Package shard implements a shard node: one capacity-bounded record table,
// its backup slot and the link back to the coordinator that installed it.
//
// # Lifecycle
//
// A node starts uninstalled. It is either started by the coordinator's
// local provisioner or registered as a spare and later claimed. The
// coordinator installs it with its address, capacity, code version and the
// parent principal:
//
//	n, _ := shard.NewNode("node-1")
//	_ = n.Install(cluster.InstallRequest{
//	    Mode:     cluster.ModeInstall,
//	    Parent:   "coordinator",
//	    Address:  "http://10.0.0.7:8081",
//	    Capacity: 10000,
//	    Version:  "1.4.0",
//	})
//
// Upgrades keep the table and change only the recorded version.
//
// # Overflow
//
// AddRecord stores a record locally while the table has room. The write that
// finds the table full is not rejected back to the client: the node asks its
// parent to close it and store the record on a freshly provisioned sibling,
// then answers with the sibling's identifier and Migrated set.
//
//	  client        shard (full)            coordinator            sibling
//	    │ add ───────▶ │                        │                      │
//	    │              │ close_and_migrate ───▶ │ provision + install ▶│
//	    │              │                        │ add_by_parent ──────▶│
//	    │              │ ◀─── sibling, id ──────│                      │
//	    │ ◀── migrated │                        │                      │
//
// # Concurrency
//
// Node is an actor with a single mutex. The mutex is held for whole
// operations, including snapshot and restore, and released before the call
// to the parent so no lock is ever held across actors.
//
// # Persistence
//
// After every mutation the node saves its install parameters and table
// through a storage.Persister. The backup slot has a persister of its own
// and is saved only by backup operations, so a write never re-encodes the
// backup chunks. A mutation whose save fails is rolled back. A node
// restarted on the same files resumes with the same records, sequence
// counter and backup.
package shard
