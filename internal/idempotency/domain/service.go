package domain

import (
	"context"
	"time"
)

// Store is the request-outcome cache consulted by webhook ingestion.
//
// The store is two-phase: CheckOrReserve atomically claims the token on a
// miss (relying on the unique key constraint), so concurrent requests
// carrying the same token can never both observe a miss and both execute
// the real operation. The reservation holder must Commit the outcome, or
// Release when no durable outcome could be produced.
type Store interface {
	// CheckOrReserve looks up the token and claims it when absent.
	//   Miss      - the caller now holds the reservation and runs the
	//               real operation.
	//   Hit       - a live committed record with a matching hash exists;
	//               replay the cached response verbatim.
	//   Conflict  - the token was reused for a different request.
	//   InFlight  - another request holds the reservation and has not
	//               committed yet; the caller must not process.
	CheckOrReserve(ctx context.Context, key, requestHash string) (Result, error)

	// Commit durably caches the outcome on the reserved row so every
	// replay within ttl gets the identical response.
	Commit(ctx context.Context, key, requestHash string, status int, body []byte, ttl time.Duration) error

	// Release drops an uncommitted reservation after a processing
	// failure, so the provider's retry is not stuck behind it.
	Release(ctx context.Context, key string) error

	// Cleanup deletes expired records and returns the number removed.
	// Safe to run concurrently with lookups and commits.
	Cleanup(ctx context.Context) (int64, error)
}
