/*
Package engine implements the metadata engine (C3): the durable record of
one user's filesystem tree, and the serialization that makes every mutation
on that tree appear atomic.

Storage. Each user owns one bbolt database, opened lazily by a Registry on
first request and kept open for the process lifetime. A single "meta" bucket
holds every record, keyed by prefix rather than split across buckets —
root, node:{id}, children:{parent_id}, chunk:{file_id}:{order}, stats, and
system_version — so a fresh migration only has to ensure one bucket exists.
This generalizes the teacher's bucket-per-kind boltdb.go to a keyspace the
size of one user's tree rather than one cluster's worth of resource kinds,
and follows cellstate-treedb's technique of keeping the children index as
its own prefixed key range instead of embedding child lists in the parent's
serialized record, so adding one child never rewrites the parent.

Concurrency. A UserActor owns its bbolt handle exclusively and serializes
every mutating call through a command channel drained by one goroutine —
the same single-owner-per-subsystem shape as the teacher's Manager owning
the only *storage.Store, generalized from "one owner per process" to "one
owner per user". Reads also go through the actor so a reader never observes
a torn write from a concurrent mutation.
*/
package engine
