package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Key caches the outcome of a request keyed by the caller-supplied
// idempotency token. A row starts as an uncommitted reservation
// (ResponseStatus zero) and becomes immutable once the outcome is
// committed. An expired row is logically absent even before the sweep
// deletes it.
type Key struct {
	Key            string    `gorm:"primaryKey;type:text" json:"key"`
	RequestHash    string    `gorm:"type:text;not null" json:"request_hash"`
	ResponseStatus int       `gorm:"not null;default:0" json:"response_status"`
	ResponseBody   []byte    `gorm:"not null" json:"response_body"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	ExpiresAt      time.Time `gorm:"not null;index" json:"expires_at"`
}

// TableName sets the database table name.
func (Key) TableName() string { return "idempotency_keys" }

// Expired reports whether the row is past its TTL at now.
func (k Key) Expired(now time.Time) bool {
	return !k.ExpiresAt.After(now)
}

// Committed reports whether an outcome has been written to the row.
func (k Key) Committed() bool {
	return k.ResponseStatus != 0
}

// State tags the outcome of a CheckOrReserve lookup.
type State int

const (
	// StateMiss means the caller claimed the reservation and runs the
	// real operation; it must Commit (or Release) before responding.
	StateMiss State = iota
	// StateHit means a live committed record with the same request hash
	// exists; the caller must replay the cached response verbatim.
	StateHit
	// StateConflict means the token was reused for a different request.
	StateConflict
	// StateInFlight means another request holds the reservation and has
	// not committed its outcome yet.
	StateInFlight
)

// Result is the outcome of a lookup. Status and Body are set only on a Hit.
type Result struct {
	State  State
	Status int
	Body   []byte
}

var (
	// ErrKeyConflict reports an idempotency token reused with a different
	// request hash. Never processed; surfaced as a client error.
	ErrKeyConflict = errors.New("idempotency_key_conflict")

	// ErrStoreUnavailable wraps storage failures. The ingestion path fails
	// closed on it: processing without a durable dedup record risks double
	// effects.
	ErrStoreUnavailable = errors.New("idempotency_store_unavailable")
)

// ReservationTTL bounds how long an uncommitted reservation can block
// redeliveries of the same token when its holder dies mid-request.
const ReservationTTL = 2 * time.Minute

// HashRequest digests the parts of a request that define its identity.
// Presenting the same token with a different digest is a conflict.
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
