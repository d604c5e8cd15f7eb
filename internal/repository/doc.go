// Package repository holds the value types that flow through RepoRadar:
// repository identities and metadata snapshots fetched from GitHub, the
// display payload persisted alongside each vector record, and the outcome
// types reported by indexing and search.
//
// Everything here is a plain value. Metadata is never mutated after a fetch;
// a re-index replaces the whole snapshot.
package repository
