// Package connector defines the boundary between the sync core and the
// external planning and tracking systems.
//
// Real connectors (HTTP clients, auth, pagination quirks) live outside the
// core. They satisfy Fetcher and report failures as *FetchError so the
// coordinator can decide what is worth retrying.
//
// Retry classification is strict: only Transient failures (network errors
// and HTTP 5xx) are retryable. Every 4xx, including 429, fails the batch.
package connector
