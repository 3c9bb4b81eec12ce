package domain

import (
	"context"
	"errors"
)

// CallHandler processes voice-provider call lifecycle events.
type CallHandler interface {
	HandleCallStarted(ctx context.Context, env *Envelope, data *CallStartedData) error
	HandleCallEnded(ctx context.Context, env *Envelope, data *CallEndedData) error
	HandleTranscriptReady(ctx context.Context, env *Envelope, data *TranscriptReadyData) error
}

// BillingHandler processes payment-provider subscription events.
type BillingHandler interface {
	HandleInvoicePaid(ctx context.Context, env *Envelope, data *InvoicePaidData) error
	HandleInvoicePaymentFailed(ctx context.Context, env *Envelope, data *InvoicePaymentFailedData) error
	HandleSubscriptionUpdated(ctx context.Context, env *Envelope, data *SubscriptionUpdatedData) error
}

// IngestRequest is one inbound delivery as received on the wire.
type IngestRequest struct {
	Provider       string
	Method         string
	Path           string
	IdempotencyKey string
	Body           []byte
}

// IngestResponse is what the transport returns to the delivering provider.
// Replays of a keyed request must receive this verbatim.
type IngestResponse struct {
	Status int
	Body   []byte
}

// Ingestor owns routing and the dedup/audit protocol around handlers.
type Ingestor interface {
	Ingest(ctx context.Context, req IngestRequest) (IngestResponse, error)
}

type retryableError struct {
	cause error
}

func (e *retryableError) Error() string { return e.cause.Error() }

func (e *retryableError) Unwrap() error { return e.cause }

// Retryable marks a handler failure as one the delivering provider should
// retry. Unmarked failures are terminal: the delivery is acknowledged and
// only the audit row records the failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{cause: err}
}

// IsRetryable reports whether err carries a Retryable mark anywhere in its
// chain.
func IsRetryable(err error) bool {
	var marked *retryableError
	return errors.As(err, &marked)
}
