package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/apexhq/apex/internal/clock"
	"github.com/apexhq/apex/internal/config"
	idempotencydomain "github.com/apexhq/apex/internal/idempotency/domain"
	obsmetrics "github.com/apexhq/apex/internal/observability/metrics"
	webhookdomain "github.com/apexhq/apex/internal/webhook/domain"
	"github.com/apexhq/apex/internal/webhook/redact"
	webhookeventdomain "github.com/apexhq/apex/internal/webhookevent/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// replayWait bounds how long a losing concurrent delivery polls for the
// winner's committed response before asking the provider to retry.
const (
	replayWait     = 2 * time.Second
	replayInterval = 100 * time.Millisecond
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	Store      idempotencydomain.Store
	Events     webhookeventdomain.Log
	Calls      webhookdomain.CallHandler
	Billing    webhookdomain.BillingHandler
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	cfg        config.Config
	clock      clock.Clock
	store      idempotencydomain.Store
	events     webhookeventdomain.Log
	calls      webhookdomain.CallHandler
	billing    webhookdomain.BillingHandler
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) webhookdomain.Ingestor {
	return &Service{
		log:        p.Log.Named("webhook.ingest"),
		cfg:        p.Cfg,
		clock:      p.Clock,
		store:      p.Store,
		events:     p.Events,
		calls:      p.Calls,
		billing:    p.Billing,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest runs the full delivery protocol: idempotency check, parse,
// redact, record, dispatch, commit. Every accepted delivery that reaches
// the record step leaves exactly one audit row. Store unavailability fails
// the request; processing without dedup protection risks double effects.
func (s *Service) Ingest(ctx context.Context, req webhookdomain.IngestRequest) (webhookdomain.IngestResponse, error) {
	if req.IdempotencyKey == "" {
		return s.process(ctx, req)
	}

	requestHash := idempotencydomain.HashRequest(req.Method, req.Path, req.Body)

	res, err := s.store.CheckOrReserve(ctx, req.IdempotencyKey, requestHash)
	if err != nil {
		return webhookdomain.IngestResponse{}, err
	}
	switch res.State {
	case idempotencydomain.StateHit:
		if s.obsMetrics != nil {
			s.obsMetrics.RecordIdempotencyHit(ctx)
		}
		return webhookdomain.IngestResponse{Status: res.Status, Body: res.Body}, nil
	case idempotencydomain.StateConflict:
		return webhookdomain.IngestResponse{}, idempotencydomain.ErrKeyConflict
	case idempotencydomain.StateInFlight:
		return s.awaitReplay(ctx, req, requestHash)
	}
	return s.runAsOwner(ctx, req, requestHash)
}

// runAsOwner executes the delivery while this request holds the key's
// reservation, then settles it: commit the outcome, or release on an
// infrastructure failure so the provider's retry can run the operation.
func (s *Service) runAsOwner(ctx context.Context, req webhookdomain.IngestRequest, requestHash string) (webhookdomain.IngestResponse, error) {
	resp, err := s.process(ctx, req)
	if err != nil {
		if relErr := s.store.Release(ctx, req.IdempotencyKey); relErr != nil {
			s.log.Warn("release reservation", zap.String("key", req.IdempotencyKey), zap.Error(relErr))
		}
		return webhookdomain.IngestResponse{}, err
	}

	if err := s.store.Commit(ctx, req.IdempotencyKey, requestHash, resp.Status, resp.Body, s.cfg.IdempotencyTTL); err != nil {
		return webhookdomain.IngestResponse{}, err
	}
	return resp, nil
}

// process produces the delivery outcome. Returned errors are infra
// failures only; handler and validation outcomes become responses so they
// can be committed and replayed.
func (s *Service) process(ctx context.Context, req webhookdomain.IngestRequest) (webhookdomain.IngestResponse, error) {
	env, parseErr := webhookdomain.ParseEnvelope(req.Body)
	if parseErr != nil {
		return s.recordRejected(ctx, req, parseErr)
	}

	record, err := s.events.Record(ctx, env.OrgID, env.EventID, string(env.Type), redact.JSON(env.Raw))
	if err != nil {
		return webhookdomain.IngestResponse{}, err
	}

	if err := s.dispatch(ctx, env); err != nil {
		if markErr := s.events.MarkFailed(ctx, record.ID); markErr != nil {
			s.log.Warn("mark delivery failed", zap.Int64("event", int64(record.ID)), zap.Error(markErr))
		}
		s.recordMetric(ctx, string(env.Type), string(webhookeventdomain.StatusFailed))

		if webhookdomain.IsRetryable(err) {
			s.log.Error("webhook handler failed, provider will retry",
				zap.String("event_type", string(env.Type)),
				zap.String("event_id", env.EventID),
				zap.Error(err))
			return jsonResponse(http.StatusInternalServerError, map[string]any{
				"error": err.Error(),
			}), nil
		}

		s.log.Warn("webhook handler failed terminally",
			zap.String("event_type", string(env.Type)),
			zap.String("event_id", env.EventID),
			zap.Error(err))
		return jsonResponse(http.StatusOK, map[string]any{
			"received": true,
			"status":   string(webhookeventdomain.StatusFailed),
		}), nil
	}

	s.recordMetric(ctx, string(env.Type), string(webhookeventdomain.StatusProcessed))
	return jsonResponse(http.StatusOK, map[string]any{
		"received": true,
		"status":   string(webhookeventdomain.StatusProcessed),
	}), nil
}

// recordRejected audits a delivery that failed validation as ignored and
// builds the client-error response.
func (s *Service) recordRejected(ctx context.Context, req webhookdomain.IngestRequest, cause error) (webhookdomain.IngestResponse, error) {
	eventID, eventType := sniffIdentity(req.Body)

	record, err := s.events.Record(ctx, 0, eventID, eventType, redact.JSON(req.Body))
	if err != nil {
		return webhookdomain.IngestResponse{}, err
	}
	if err := s.events.MarkIgnored(ctx, record.ID); err != nil {
		s.log.Warn("mark delivery ignored", zap.Int64("event", int64(record.ID)), zap.Error(err))
	}
	s.recordMetric(ctx, eventType, string(webhookeventdomain.StatusIgnored))

	return jsonResponse(http.StatusBadRequest, map[string]any{
		"error": cause.Error(),
	}), nil
}

func (s *Service) dispatch(ctx context.Context, env *webhookdomain.Envelope) error {
	switch data := env.Data.(type) {
	case *webhookdomain.CallStartedData:
		return s.calls.HandleCallStarted(ctx, env, data)
	case *webhookdomain.CallEndedData:
		return s.calls.HandleCallEnded(ctx, env, data)
	case *webhookdomain.TranscriptReadyData:
		return s.calls.HandleTranscriptReady(ctx, env, data)
	case *webhookdomain.InvoicePaidData:
		return s.billing.HandleInvoicePaid(ctx, env, data)
	case *webhookdomain.InvoicePaymentFailedData:
		return s.billing.HandleInvoicePaymentFailed(ctx, env, data)
	case *webhookdomain.SubscriptionUpdatedData:
		return s.billing.HandleSubscriptionUpdated(ctx, env, data)
	default:
		return webhookdomain.ErrUnknownEventType
	}
}

// awaitReplay polls for the concurrent winner's committed response. A
// timeout surfaces as a server error so the provider retries into a cache
// hit.
func (s *Service) awaitReplay(ctx context.Context, req webhookdomain.IngestRequest, requestHash string) (webhookdomain.IngestResponse, error) {
	deadline := s.clock.Now().Add(replayWait)
	for s.clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return webhookdomain.IngestResponse{}, ctx.Err()
		case <-time.After(replayInterval):
		}

		res, err := s.store.CheckOrReserve(ctx, req.IdempotencyKey, requestHash)
		if err != nil {
			return webhookdomain.IngestResponse{}, err
		}
		switch res.State {
		case idempotencydomain.StateHit:
			if s.obsMetrics != nil {
				s.obsMetrics.RecordIdempotencyHit(ctx)
			}
			return webhookdomain.IngestResponse{Status: res.Status, Body: res.Body}, nil
		case idempotencydomain.StateConflict:
			return webhookdomain.IngestResponse{}, idempotencydomain.ErrKeyConflict
		case idempotencydomain.StateMiss:
			// The winner released after a failure and this poll
			// re-reserved the key. Run the delivery as the new owner.
			return s.runAsOwner(ctx, req, requestHash)
		}
	}
	return webhookdomain.IngestResponse{}, fmt.Errorf("%w: awaiting concurrent delivery", idempotencydomain.ErrStoreUnavailable)
}

func (s *Service) recordMetric(ctx context.Context, eventType, status string) {
	if s.obsMetrics == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	s.obsMetrics.RecordWebhookEvent(ctx, eventType, status)
}

// sniffIdentity best-effort extracts traceability fields from a rejected
// body.
func sniffIdentity(body []byte) (string, string) {
	var probe struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", ""
	}
	return probe.ID, probe.Type
}

func jsonResponse(status int, payload map[string]any) webhookdomain.IngestResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{}`)
	}
	return webhookdomain.IngestResponse{Status: status, Body: body}
}
