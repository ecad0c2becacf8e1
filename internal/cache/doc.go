// Package cache reconciles remote state into the local mirror.
//
// The Reconciler is the only writer of items and relations. It applies the
// version rule of the repository, keeps unsynced local edits out of reach
// of remote upserts, refreshes the derived edge set of a source system as a
// whole, and serves read-through lookups that fall back to a stale cached
// value when the remote fetch fails.
//
// Edge refreshes are serialized per source system; item upserts for
// different keys may run concurrently.
package cache
