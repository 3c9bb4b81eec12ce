package service

import (
	"context"
	"errors"
	"strings"

	"github.com/apexhq/apex/internal/organization/domain"
	webhookdomain "github.com/apexhq/apex/internal/webhook/domain"
	"go.uber.org/zap"
)

var errMissingOrganization = errors.New("delivery missing organization")

// BillingHandler applies payment-provider webhooks to the tenant's
// subscription status.
type BillingHandler struct {
	log    *zap.Logger
	orgSvc domain.Service
}

func NewBillingHandler(log *zap.Logger, orgSvc domain.Service) webhookdomain.BillingHandler {
	return &BillingHandler{
		log:    log.Named("organization.billing"),
		orgSvc: orgSvc,
	}
}

func (h *BillingHandler) HandleInvoicePaid(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.InvoicePaidData) error {
	return h.transition(ctx, env, domain.SubscriptionActive)
}

func (h *BillingHandler) HandleInvoicePaymentFailed(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.InvoicePaymentFailedData) error {
	h.log.Warn("invoice payment failed",
		zap.String("org_id", env.OrgID.String()),
		zap.String("invoice_id", data.InvoiceID),
		zap.String("reason", data.Reason))
	return h.transition(ctx, env, domain.SubscriptionPastDue)
}

func (h *BillingHandler) HandleSubscriptionUpdated(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.SubscriptionUpdatedData) error {
	status := strings.ToLower(strings.TrimSpace(data.Status))
	if !domain.ValidSubscriptionStatus(status) {
		return domain.ErrInvalidStatus
	}
	return h.transition(ctx, env, status)
}

// transition maps outcomes for the ingestion layer: unknown tenant and
// bad input are terminal, storage failures are retryable.
func (h *BillingHandler) transition(ctx context.Context, env *webhookdomain.Envelope, status string) error {
	if env.OrgID == 0 {
		return errMissingOrganization
	}

	err := h.orgSvc.SetSubscriptionStatus(ctx, env.OrgID, status)
	if err == nil {
		h.log.Info("subscription status updated",
			zap.String("org_id", env.OrgID.String()),
			zap.String("status", status))
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidStatus) {
		return err
	}
	return webhookdomain.Retryable(err)
}
