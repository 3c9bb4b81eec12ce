// Package domain defines the inbound webhook envelope, the closed set of
// event types the platform accepts, and the handler contracts ingestion
// dispatches to.
package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrUnknownEventType = errors.New("unknown_event_type")
)

// EventType is the discriminator carried by every delivery. The set is
// closed: dispatch switches over these constants so an unhandled type is
// a visible gap, not a runtime default.
type EventType string

const (
	EventTypeCallStarted          EventType = "call.started"
	EventTypeCallEnded            EventType = "call.ended"
	EventTypeTranscriptReady      EventType = "transcript.ready"
	EventTypeInvoicePaid          EventType = "invoice.paid"
	EventTypeInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventTypeSubscriptionUpdated  EventType = "subscription.updated"
)

// Envelope is a parsed inbound delivery. Data holds the decoded per-type
// payload struct; Raw is the original body for audit redaction.
type Envelope struct {
	EventID   string
	Type      EventType
	OrgID     snowflake.ID
	Timestamp time.Time
	Data      any
	Raw       []byte
}

// CallStartedData marks a dial attempt answered by the callee.
type CallStartedData struct {
	CallID     string     `json:"call_id"`
	CampaignID *string    `json:"campaign_id"`
	Phone      string     `json:"phone"`
	StartedAt  *time.Time `json:"started_at"`
}

// CallEndedData is the call-completion report. Cost is in USD cents.
type CallEndedData struct {
	CallID      string     `json:"call_id"`
	CampaignID  *string    `json:"campaign_id"`
	EndedReason string     `json:"ended_reason"`
	Duration    int64      `json:"duration_seconds"`
	Cost        int64      `json:"cost_cents"`
	Disposition string     `json:"disposition"`
	EndedAt     *time.Time `json:"ended_at"`
}

type TranscriptReadyData struct {
	CallID     string `json:"call_id"`
	Transcript string `json:"transcript"`
	Summary    string `json:"summary"`
}

type InvoicePaidData struct {
	InvoiceID string `json:"invoice_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type InvoicePaymentFailedData struct {
	InvoiceID string `json:"invoice_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reason    string `json:"reason"`
}

type SubscriptionUpdatedData struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
}

type rawEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	OrgID     string          `json:"org_id"`
	Timestamp *time.Time      `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ParseEnvelope validates the wire body against the closed event set and
// decodes the per-type payload. The provider event ID and discriminator
// are mandatory.
func ParseEnvelope(body []byte) (*Envelope, error) {
	if !json.Valid(body) {
		return nil, ErrInvalidPayload
	}

	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" || strings.TrimSpace(raw.Type) == "" {
		return nil, ErrInvalidPayload
	}

	env := &Envelope{
		EventID: strings.TrimSpace(raw.ID),
		Type:    EventType(strings.TrimSpace(raw.Type)),
		Raw:     body,
	}
	if raw.Timestamp != nil {
		env.Timestamp = raw.Timestamp.UTC()
	}
	if trimmed := strings.TrimSpace(raw.OrgID); trimmed != "" {
		orgID, err := snowflake.ParseString(trimmed)
		if err != nil {
			return nil, ErrInvalidPayload
		}
		env.OrgID = orgID
	}

	data, err := decodeData(env.Type, raw.Data)
	if err != nil {
		return nil, err
	}
	env.Data = data
	return env, nil
}

func decodeData(eventType EventType, data json.RawMessage) (any, error) {
	switch eventType {
	case EventTypeCallStarted:
		return decodeInto[CallStartedData](data)
	case EventTypeCallEnded:
		return decodeInto[CallEndedData](data)
	case EventTypeTranscriptReady:
		return decodeInto[TranscriptReadyData](data)
	case EventTypeInvoicePaid:
		return decodeInto[InvoicePaidData](data)
	case EventTypeInvoicePaymentFailed:
		return decodeInto[InvoicePaymentFailedData](data)
	case EventTypeSubscriptionUpdated:
		return decodeInto[SubscriptionUpdatedData](data)
	default:
		return nil, ErrUnknownEventType
	}
}

func decodeInto[T any](data json.RawMessage) (*T, error) {
	var out T
	if len(data) == 0 {
		return nil, ErrInvalidPayload
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, ErrInvalidPayload
	}
	return &out, nil
}
