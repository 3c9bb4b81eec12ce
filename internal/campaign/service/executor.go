package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apexhq/apex/internal/campaign/domain"
	"github.com/apexhq/apex/internal/clock"
	crmdomain "github.com/apexhq/apex/internal/crm/domain"
	obsmetrics "github.com/apexhq/apex/internal/observability/metrics"
	orgdomain "github.com/apexhq/apex/internal/organization/domain"
	"github.com/apexhq/apex/internal/providers/vapi"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const campaignFetchBatch = 50

// Dialer is the slice of the voice provider client the executor needs.
type Dialer interface {
	CreateCall(ctx context.Context, apiKey string, req vapi.CreateCallRequest) (*vapi.Call, error)
}

type ExecutorParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	Leads      crmdomain.Repository
	Orgs       orgdomain.Service
	Vapi       *vapi.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Executor struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	repo    domain.Repository
	leads   crmdomain.Repository
	orgs    orgdomain.Service
	dialer  Dialer
	metrics *obsmetrics.Metrics
}

func NewExecutor(p ExecutorParams) domain.Executor {
	return &Executor{
		db:      p.DB,
		log:     p.Log.Named("campaign.executor"),
		clock:   p.Clock,
		genID:   p.GenID,
		repo:    p.Repo,
		leads:   p.Leads,
		orgs:    p.Orgs,
		dialer:  p.Vapi,
		metrics: p.ObsMetrics,
	}
}

// ProcessCampaigns runs one tick over every active campaign. One
// campaign's failure is joined into the returned error but never stops
// the others.
func (e *Executor) ProcessCampaigns(ctx context.Context) error {
	now := e.clock.Now()

	var (
		errs    []error
		afterID snowflake.ID
		seen    int
	)
	for {
		batch, err := e.repo.FetchActive(ctx, e.db, afterID, campaignFetchBatch)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch active campaigns: %w", err))
			break
		}
		if len(batch) == 0 {
			break
		}

		for _, campaign := range batch {
			if ctx.Err() != nil {
				return errors.Join(append(errs, ctx.Err())...)
			}
			if err := e.processCampaign(ctx, campaign, now); err != nil {
				errs = append(errs, fmt.Errorf("campaign %s: %w", campaign.ID, err))
			}
			seen++
		}
		afterID = batch[len(batch)-1].ID
	}

	if seen > 0 {
		e.log.Info("campaign tick finished",
			zap.Int("campaigns", seen),
			zap.Int("failures", len(errs)),
		)
	}
	return errors.Join(errs...)
}

func (e *Executor) processCampaign(ctx context.Context, campaign *domain.Campaign, now time.Time) error {
	log := e.log.With(
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("org_id", campaign.OrgID.String()),
	)

	if err := e.repo.TouchLastTick(ctx, e.db, campaign.ID, now); err != nil {
		return fmt.Errorf("touch last tick: %w", err)
	}

	if !campaign.WithinCallingHours(now) {
		log.Debug("outside calling hours")
		return e.maybeComplete(ctx, campaign, now, log)
	}

	budget, err := e.dialBudget(ctx, campaign, now)
	if err != nil {
		return err
	}
	if budget <= 0 {
		log.Debug("no dial budget")
		return e.maybeComplete(ctx, campaign, now, log)
	}

	creds, err := e.orgs.Credentials(ctx, campaign.OrgID)
	if err != nil {
		if errors.Is(err, orgdomain.ErrMissingCredentials) || errors.Is(err, orgdomain.ErrNotFound) {
			log.Warn("campaign has no usable credentials", zap.Error(err))
			return nil
		}
		return fmt.Errorf("load credentials: %w", err)
	}

	leads, err := e.leads.ClaimLeads(ctx, e.db, campaign.OrgID, campaign.ID, budget, now)
	if err != nil {
		return fmt.Errorf("claim leads: %w", err)
	}

	var dialErrs []error
	for _, lead := range leads {
		if err := e.dialLead(ctx, campaign, lead, creds.APIKey, now); err != nil {
			dialErrs = append(dialErrs, fmt.Errorf("lead %s: %w", lead.ID, err))
		}
	}
	if err := e.maybeComplete(ctx, campaign, now, log); err != nil {
		dialErrs = append(dialErrs, err)
	}
	return errors.Join(dialErrs...)
}

// dialBudget is the number of calls this tick may place for the
// campaign, bounded by the concurrency and daily caps.
func (e *Executor) dialBudget(ctx context.Context, campaign *domain.Campaign, now time.Time) (int, error) {
	inFlight, err := e.repo.CountCallsInFlight(ctx, e.db, campaign.ID)
	if err != nil {
		return 0, fmt.Errorf("count in-flight calls: %w", err)
	}
	today, err := e.repo.CountCallsSince(ctx, e.db, campaign.ID, campaign.DayStart(now))
	if err != nil {
		return 0, fmt.Errorf("count daily calls: %w", err)
	}

	budget := int64(campaign.MaxConcurrentCalls) - inFlight
	if remaining := int64(campaign.DailyCallCap) - today; remaining < budget {
		budget = remaining
	}
	if budget < 0 {
		budget = 0
	}
	return int(budget), nil
}

func (e *Executor) dialLead(ctx context.Context, campaign *domain.Campaign, lead *crmdomain.Lead, apiKey string, now time.Time) error {
	call, err := e.dialer.CreateCall(ctx, apiKey, vapi.CreateCallRequest{
		AssistantID:   campaign.AssistantID,
		PhoneNumberID: campaign.PhoneNumberID,
		Customer: vapi.CallCustomer{
			Number: lead.Phone,
			Name:   lead.Name,
		},
		Metadata: map[string]string{
			"org_id":      campaign.OrgID.String(),
			"campaign_id": campaign.ID.String(),
			"lead_id":     lead.ID.String(),
		},
	})
	if err != nil {
		e.recordCall(ctx, "rejected")
		if _, settleErr := e.leads.SettleLead(ctx, e.db, campaign.OrgID, lead.ID, crmdomain.LeadStatusFailed, "dial_error", now); settleErr != nil {
			return errors.Join(err, fmt.Errorf("settle lead after dial failure: %w", settleErr))
		}
		return err
	}

	row := domain.Call{
		ID:             e.genID.Generate(),
		OrgID:          campaign.OrgID,
		CampaignID:     campaign.ID,
		LeadID:         lead.ID,
		ProviderCallID: call.ID,
		Status:         domain.CallStatusDialing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.repo.InsertCall(ctx, e.db, &row); err != nil {
		// The provider call is out; the call.ended webhook will not
		// match a row. Surface loudly.
		e.log.Error("placed call has no local row",
			zap.String("provider_call_id", call.ID),
			zap.Error(err),
		)
		return fmt.Errorf("insert call row: %w", err)
	}

	e.recordCall(ctx, "placed")
	return nil
}

// maybeComplete finishes a campaign once every lead is settled and no
// call is still in flight.
func (e *Executor) maybeComplete(ctx context.Context, campaign *domain.Campaign, now time.Time, log *zap.Logger) error {
	remaining, err := e.leads.CountRemaining(ctx, e.db, campaign.OrgID, campaign.ID)
	if err != nil {
		return fmt.Errorf("count remaining leads: %w", err)
	}
	if remaining > 0 {
		return nil
	}
	inFlight, err := e.repo.CountCallsInFlight(ctx, e.db, campaign.ID)
	if err != nil {
		return fmt.Errorf("count in-flight calls: %w", err)
	}
	if inFlight > 0 {
		return nil
	}

	affected, err := e.repo.CompleteIfExhausted(ctx, e.db, campaign.ID, now)
	if err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}
	if affected > 0 {
		log.Info("campaign completed")
	}
	return nil
}

func (e *Executor) recordCall(ctx context.Context, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordCampaignCall(ctx, outcome)
	}
}
