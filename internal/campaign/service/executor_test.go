package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apexhq/apex/internal/campaign/domain"
	"github.com/apexhq/apex/internal/campaign/repository"
	crmdomain "github.com/apexhq/apex/internal/crm/domain"
	crmrepository "github.com/apexhq/apex/internal/crm/repository"
	orgdomain "github.com/apexhq/apex/internal/organization/domain"
	"github.com/apexhq/apex/internal/providers/vapi"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Monday 14:00 UTC, inside the default 9-17 window.
var tickTime = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubDialer struct {
	mu       sync.Mutex
	requests []vapi.CreateCallRequest
	failWith error
	nextID   int
}

func (d *stubDialer) CreateCall(_ context.Context, _ string, req vapi.CreateCallRequest) (*vapi.Call, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	d.requests = append(d.requests, req)
	d.nextID++
	return &vapi.Call{ID: fmt.Sprintf("call_%d", d.nextID), Status: "queued"}, nil
}

type stubOrgs struct {
	credsErr error
}

func (s stubOrgs) Credentials(context.Context, snowflake.ID) (orgdomain.VapiCredentials, error) {
	if s.credsErr != nil {
		return orgdomain.VapiCredentials{}, s.credsErr
	}
	return orgdomain.VapiCredentials{APIKey: "vapi_key_test"}, nil
}

func (s stubOrgs) Create(context.Context, orgdomain.CreateOrganizationRequest) (*orgdomain.OrganizationResponse, error) {
	return nil, nil
}
func (s stubOrgs) GetByID(context.Context, string) (*orgdomain.OrganizationResponse, error) {
	return nil, nil
}
func (s stubOrgs) ListByOwner(context.Context, string) ([]orgdomain.OrganizationResponse, error) {
	return nil, nil
}
func (s stubOrgs) Update(context.Context, string, orgdomain.UpdateOrganizationRequest) (*orgdomain.OrganizationResponse, error) {
	return nil, nil
}
func (s stubOrgs) SetSubscriptionStatus(context.Context, snowflake.ID, string) error { return nil }

type executorFixture struct {
	exec     *Executor
	dialer   *stubDialer
	repo     domain.Repository
	leadRepo crmdomain.Repository
	db       *gorm.DB
	genID    *snowflake.Node
}

func newExecutorFixture(t *testing.T, now time.Time, orgs orgdomain.Service) *executorFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, conn.AutoMigrate(&domain.Campaign{}, &domain.Call{}, &crmdomain.Lead{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := repository.Provide()
	leadRepo := crmrepository.Provide()
	dialer := &stubDialer{}

	exec := &Executor{
		db:     conn,
		log:    zap.NewNop(),
		clock:  fixedClock{now: now},
		genID:  node,
		repo:   repo,
		leads:  leadRepo,
		orgs:   orgs,
		dialer: dialer,
	}
	return &executorFixture{
		exec:     exec,
		dialer:   dialer,
		repo:     repo,
		leadRepo: leadRepo,
		db:       conn,
		genID:    node,
	}
}

func (f *executorFixture) addCampaign(t *testing.T, campaign domain.Campaign) domain.Campaign {
	t.Helper()
	if campaign.ID == 0 {
		campaign.ID = f.genID.Generate()
	}
	if campaign.Status == "" {
		campaign.Status = domain.CampaignStatusActive
	}
	if campaign.DailyCallCap == 0 {
		campaign.DailyCallCap = 100
	}
	if campaign.MaxConcurrentCalls == 0 {
		campaign.MaxConcurrentCalls = 5
	}
	if campaign.CallingHoursEnd == 0 {
		campaign.CallingHoursStart = 9
		campaign.CallingHoursEnd = 17
	}
	if campaign.TimezoneName == "" {
		campaign.TimezoneName = "UTC"
	}
	require.NoError(t, f.repo.InsertCampaign(context.Background(), f.db, &campaign))
	return campaign
}

func (f *executorFixture) addLead(t *testing.T, orgID, campaignID snowflake.ID, phone string) crmdomain.Lead {
	t.Helper()
	lead := crmdomain.Lead{
		ID:         f.genID.Generate(),
		OrgID:      orgID,
		CampaignID: &campaignID,
		Phone:      phone,
		Status:     crmdomain.LeadStatusNew,
	}
	require.NoError(t, f.leadRepo.InsertLead(context.Background(), f.db, &lead))
	return lead
}

func (f *executorFixture) reloadCampaign(t *testing.T, orgID, id snowflake.ID) *domain.Campaign {
	t.Helper()
	campaign, err := f.repo.FindCampaignByID(context.Background(), f.db, orgID, id)
	require.NoError(t, err)
	require.NotNil(t, campaign)
	return campaign
}

func TestTickDialsLeadsWithinConcurrencyBudget(t *testing.T) {
	f := newExecutorFixture(t, tickTime, stubOrgs{})
	campaign := f.addCampaign(t, domain.Campaign{OrgID: 100, Name: "q2 outreach", MaxConcurrentCalls: 2})
	for i := 0; i < 3; i++ {
		f.addLead(t, 100, campaign.ID, fmt.Sprintf("+1555000%04d", i))
	}

	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))
	require.Len(t, f.dialer.requests, 2)

	var calls []domain.Call
	require.NoError(t, f.db.Find(&calls).Error)
	require.Len(t, calls, 2)
	for _, call := range calls {
		require.Equal(t, domain.CallStatusDialing, call.Status)
		require.NotEmpty(t, call.ProviderCallID)
	}

	// The two in-flight calls consume the whole budget, so a second
	// tick places nothing.
	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))
	require.Len(t, f.dialer.requests, 2)

	got := f.reloadCampaign(t, 100, campaign.ID)
	require.NotNil(t, got.LastTickAt)
}

func TestTickSkipsOutsideCallingHours(t *testing.T) {
	night := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	f := newExecutorFixture(t, night, stubOrgs{})
	campaign := f.addCampaign(t, domain.Campaign{OrgID: 100, Name: "q2 outreach"})
	f.addLead(t, 100, campaign.ID, "+15550000001")

	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))
	require.Empty(t, f.dialer.requests)

	// The tick is still recorded and the campaign stays active.
	got := f.reloadCampaign(t, 100, campaign.ID)
	require.NotNil(t, got.LastTickAt)
	require.Equal(t, domain.CampaignStatusActive, got.Status)
}

func TestTickRespectsDailyCap(t *testing.T) {
	f := newExecutorFixture(t, tickTime, stubOrgs{})
	campaign := f.addCampaign(t, domain.Campaign{OrgID: 100, Name: "q2 outreach", DailyCallCap: 1, MaxConcurrentCalls: 5})
	f.addLead(t, 100, campaign.ID, "+15550000001")
	f.addLead(t, 100, campaign.ID, "+15550000002")

	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))
	require.Len(t, f.dialer.requests, 1)
}

func TestPausedCampaignIsNotTicked(t *testing.T) {
	f := newExecutorFixture(t, tickTime, stubOrgs{})
	campaign := f.addCampaign(t, domain.Campaign{OrgID: 100, Name: "paused", Status: domain.CampaignStatusPaused})
	f.addLead(t, 100, campaign.ID, "+15550000001")

	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))
	require.Empty(t, f.dialer.requests)

	got := f.reloadCampaign(t, 100, campaign.ID)
	require.Nil(t, got.LastTickAt)
}

func TestDialFailureSettlesLeadAndJoinsError(t *testing.T) {
	f := newExecutorFixture(t, tickTime, stubOrgs{})
	campaign := f.addCampaign(t, domain.Campaign{OrgID: 100, Name: "q2 outreach"})
	lead := f.addLead(t, 100, campaign.ID, "+15550000001")

	f.dialer.failWith = errors.New("provider unavailable")
	err := f.exec.ProcessCampaigns(context.Background())
	require.Error(t, err)

	var got crmdomain.Lead
	require.NoError(t, f.db.Where("id = ?", lead.ID).Take(&got).Error)
	require.Equal(t, crmdomain.LeadStatusFailed, got.Status)
	require.Equal(t, "dial_error", got.Disposition)
}

func TestMissingCredentialsSkipsCampaign(t *testing.T) {
	f := newExecutorFixture(t, tickTime, stubOrgs{credsErr: orgdomain.ErrMissingCredentials})
	campaign := f.addCampaign(t, domain.Campaign{OrgID: 100, Name: "q2 outreach"})
	f.addLead(t, 100, campaign.ID, "+15550000001")

	// Unusable credentials should not fail the whole tick.
	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))
	require.Empty(t, f.dialer.requests)
}

func TestExhaustedCampaignCompletes(t *testing.T) {
	f := newExecutorFixture(t, tickTime, stubOrgs{})
	campaign := f.addCampaign(t, domain.Campaign{OrgID: 100, Name: "done"})

	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))

	got := f.reloadCampaign(t, 100, campaign.ID)
	require.Equal(t, domain.CampaignStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestCampaignWithInFlightCallsStaysActive(t *testing.T) {
	f := newExecutorFixture(t, tickTime, stubOrgs{})
	campaign := f.addCampaign(t, domain.Campaign{OrgID: 100, Name: "draining"})
	require.NoError(t, f.repo.InsertCall(context.Background(), f.db, &domain.Call{
		ID:             f.genID.Generate(),
		OrgID:          100,
		CampaignID:     campaign.ID,
		LeadID:         f.genID.Generate(),
		ProviderCallID: "call_live",
		Status:         domain.CallStatusInProgress,
	}))

	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))

	got := f.reloadCampaign(t, 100, campaign.ID)
	require.Equal(t, domain.CampaignStatusActive, got.Status)
}

func TestDialRequestCarriesCampaignMetadata(t *testing.T) {
	f := newExecutorFixture(t, tickTime, stubOrgs{})
	campaign := f.addCampaign(t, domain.Campaign{
		OrgID:         100,
		Name:          "q2 outreach",
		AssistantID:   "asst_1",
		PhoneNumberID: "pn_1",
	})
	lead := f.addLead(t, 100, campaign.ID, "+15550000001")

	require.NoError(t, f.exec.ProcessCampaigns(context.Background()))
	require.Len(t, f.dialer.requests, 1)

	req := f.dialer.requests[0]
	require.Equal(t, "asst_1", req.AssistantID)
	require.Equal(t, "pn_1", req.PhoneNumberID)
	require.Equal(t, "+15550000001", req.Customer.Number)
	require.Equal(t, campaign.ID.String(), req.Metadata["campaign_id"])
	require.Equal(t, lead.ID.String(), req.Metadata["lead_id"])
}
