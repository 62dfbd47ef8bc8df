// Package provider holds the error taxonomy shared by the external
// service adapters (extraction, boundary, embedding). Adapters normalize
// provider responses into these sentinels so the processing loop can pick
// a backoff without knowing which provider failed.
package provider

import "errors"

var (
	// ErrRateLimited marks a 429-class response. Retried with the
	// extended rate-limit backoff instead of the standard one.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrTransient marks a retryable provider failure (5xx, timeouts,
	// connection resets).
	ErrTransient = errors.New("transient provider error")
)
