// Package vectorstore stores embedded documents in named collections.
//
// Two backends implement Store: ChromemStore (embedded chromem-go, the
// default) and QdrantStore (Qdrant over gRPC). Neither creates
// collections implicitly; writes and searches against a missing
// collection fail with ErrCollectionNotFound so callers can report how
// to provision it.
package vectorstore
