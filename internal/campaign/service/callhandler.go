package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/apexhq/apex/internal/campaign/domain"
	"github.com/apexhq/apex/internal/clock"
	crmdomain "github.com/apexhq/apex/internal/crm/domain"
	webhookdomain "github.com/apexhq/apex/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errUnknownCall marks a provider call id with no local row. Retrying
// the delivery cannot fix it, so it is terminal.
var errUnknownCall = errors.New("unknown_provider_call")

type CallHandlerParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Leads crmdomain.Repository
}

type callHandler struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	leads crmdomain.Repository
}

func NewCallHandler(p CallHandlerParams) webhookdomain.CallHandler {
	return &callHandler{
		db:    p.DB,
		log:   p.Log.Named("campaign.callhandler"),
		clock: p.Clock,
		repo:  p.Repo,
		leads: p.Leads,
	}
}

func (h *callHandler) HandleCallStarted(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.CallStartedData) error {
	startedAt := h.clock.Now()
	if data.StartedAt != nil {
		startedAt = *data.StartedAt
	}

	affected, err := h.repo.StartCall(ctx, h.db, env.OrgID, data.CallID, startedAt)
	if err != nil {
		return webhookdomain.Retryable(fmt.Errorf("start call: %w", err))
	}
	if affected > 0 {
		return nil
	}

	// Either the row never existed or a duplicate delivery already
	// moved it past dialing.
	call, err := h.repo.FindCallByProviderID(ctx, h.db, env.OrgID, data.CallID)
	if err != nil {
		return webhookdomain.Retryable(fmt.Errorf("find call: %w", err))
	}
	if call == nil {
		return fmt.Errorf("%w: %s", errUnknownCall, data.CallID)
	}
	h.log.Debug("call.started replayed after start",
		zap.String("provider_call_id", data.CallID),
		zap.String("status", call.Status),
	)
	return nil
}

func (h *callHandler) HandleCallEnded(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.CallEndedData) error {
	call, err := h.repo.FindCallByProviderID(ctx, h.db, env.OrgID, data.CallID)
	if err != nil {
		return webhookdomain.Retryable(fmt.Errorf("find call: %w", err))
	}
	if call == nil {
		return fmt.Errorf("%w: %s", errUnknownCall, data.CallID)
	}
	if terminalCallStatus(call.Status) {
		h.log.Debug("call.ended replayed after settle",
			zap.String("provider_call_id", data.CallID),
		)
		return nil
	}

	now := h.clock.Now()
	endedAt := now
	if data.EndedAt != nil {
		endedAt = *data.EndedAt
	}

	call.Status = callStatusForReason(data.EndedReason)
	call.EndedReason = data.EndedReason
	call.Duration = int(data.Duration)
	call.Cost = data.Cost
	call.EndedAt = &endedAt
	if err := h.repo.FinishCall(ctx, h.db, call); err != nil {
		return webhookdomain.Retryable(fmt.Errorf("finish call: %w", err))
	}

	leadStatus := crmdomain.LeadStatusFailed
	if call.Status == domain.CallStatusCompleted {
		leadStatus = crmdomain.LeadStatusCalled
	}
	disposition := data.Disposition
	if disposition == "" {
		disposition = data.EndedReason
	}
	if _, err := h.leads.SettleLead(ctx, h.db, env.OrgID, call.LeadID, leadStatus, disposition, now); err != nil {
		return webhookdomain.Retryable(fmt.Errorf("settle lead: %w", err))
	}

	h.log.Info("call settled",
		zap.String("provider_call_id", data.CallID),
		zap.String("status", call.Status),
		zap.String("ended_reason", data.EndedReason),
		zap.Int64("duration_seconds", data.Duration),
	)
	return nil
}

func (h *callHandler) HandleTranscriptReady(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.TranscriptReadyData) error {
	affected, err := h.repo.AttachTranscript(ctx, h.db, env.OrgID, data.CallID, data.Transcript, data.Summary)
	if err != nil {
		return webhookdomain.Retryable(fmt.Errorf("attach transcript: %w", err))
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", errUnknownCall, data.CallID)
	}
	return nil
}

func terminalCallStatus(status string) bool {
	switch status {
	case domain.CallStatusCompleted, domain.CallStatusFailed, domain.CallStatusNoAnswer:
		return true
	}
	return false
}

// callStatusForReason maps the provider ended_reason onto the local
// call state.
func callStatusForReason(reason string) string {
	switch reason {
	case "customer-ended-call", "assistant-ended-call", "assistant-said-end-call-phrase":
		return domain.CallStatusCompleted
	case "customer-did-not-answer", "no-answer", "busy", "voicemail":
		return domain.CallStatusNoAnswer
	default:
		return domain.CallStatusFailed
	}
}
