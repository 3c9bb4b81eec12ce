package service

import (
	"context"
	"testing"
	"time"

	"github.com/apexhq/apex/internal/campaign/domain"
	crmdomain "github.com/apexhq/apex/internal/crm/domain"
	webhookdomain "github.com/apexhq/apex/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCallHandlerFixture(t *testing.T) (*callHandler, *executorFixture) {
	t.Helper()
	f := newExecutorFixture(t, tickTime, stubOrgs{})
	h := &callHandler{
		db:    f.db,
		log:   zap.NewNop(),
		clock: fixedClock{now: tickTime},
		repo:  f.repo,
		leads: f.leadRepo,
	}
	return h, f
}

func (f *executorFixture) addDialingCall(t *testing.T, orgID snowflake.ID, providerCallID string) (domain.Call, crmdomain.Lead) {
	t.Helper()
	campaign := f.addCampaign(t, domain.Campaign{OrgID: orgID, Name: "live"})
	lead := f.addLead(t, orgID, campaign.ID, "+15550000001")
	call := domain.Call{
		ID:             f.genID.Generate(),
		OrgID:          orgID,
		CampaignID:     campaign.ID,
		LeadID:         lead.ID,
		ProviderCallID: providerCallID,
		Status:         domain.CallStatusDialing,
	}
	require.NoError(t, f.repo.InsertCall(context.Background(), f.db, &call))
	return call, lead
}

func envelope(orgID snowflake.ID) *webhookdomain.Envelope {
	return &webhookdomain.Envelope{EventID: "evt_1", OrgID: orgID}
}

func TestCallStartedMovesCallToInProgress(t *testing.T) {
	h, f := newCallHandlerFixture(t)
	call, _ := f.addDialingCall(t, 100, "call_abc")

	data := &webhookdomain.CallStartedData{CallID: "call_abc"}
	require.NoError(t, h.HandleCallStarted(context.Background(), envelope(100), data))

	got, err := f.repo.FindCallByProviderID(context.Background(), f.db, 100, "call_abc")
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
	require.Equal(t, call.ID, got.ID)

	// A duplicate delivery is harmless.
	require.NoError(t, h.HandleCallStarted(context.Background(), envelope(100), data))
}

func TestCallStartedForUnknownCallIsTerminal(t *testing.T) {
	h, _ := newCallHandlerFixture(t)

	err := h.HandleCallStarted(context.Background(), envelope(100), &webhookdomain.CallStartedData{CallID: "call_missing"})
	require.Error(t, err)
	require.False(t, webhookdomain.IsRetryable(err))
}

func TestCallEndedSettlesCallAndLead(t *testing.T) {
	h, f := newCallHandlerFixture(t)
	_, lead := f.addDialingCall(t, 100, "call_abc")

	endedAt := tickTime.Add(3 * time.Minute)
	err := h.HandleCallEnded(context.Background(), envelope(100), &webhookdomain.CallEndedData{
		CallID:      "call_abc",
		EndedReason: "customer-ended-call",
		Duration:    180,
		Cost:        42,
		Disposition: "interested",
		EndedAt:     &endedAt,
	})
	require.NoError(t, err)

	call, err := f.repo.FindCallByProviderID(context.Background(), f.db, 100, "call_abc")
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusCompleted, call.Status)
	require.Equal(t, "customer-ended-call", call.EndedReason)
	require.Equal(t, 180, call.Duration)
	require.Equal(t, int64(42), call.Cost)
	require.NotNil(t, call.EndedAt)

	var got crmdomain.Lead
	require.NoError(t, f.db.Where("id = ?", lead.ID).Take(&got).Error)
	require.Equal(t, crmdomain.LeadStatusCalled, got.Status)
	require.Equal(t, "interested", got.Disposition)
}

func TestCallEndedNoAnswerFailsLead(t *testing.T) {
	h, f := newCallHandlerFixture(t)
	_, lead := f.addDialingCall(t, 100, "call_abc")

	err := h.HandleCallEnded(context.Background(), envelope(100), &webhookdomain.CallEndedData{
		CallID:      "call_abc",
		EndedReason: "no-answer",
	})
	require.NoError(t, err)

	call, err := f.repo.FindCallByProviderID(context.Background(), f.db, 100, "call_abc")
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusNoAnswer, call.Status)

	var got crmdomain.Lead
	require.NoError(t, f.db.Where("id = ?", lead.ID).Take(&got).Error)
	require.Equal(t, crmdomain.LeadStatusFailed, got.Status)
	require.Equal(t, "no-answer", got.Disposition)
}

func TestCallEndedReplayIsNoOp(t *testing.T) {
	h, f := newCallHandlerFixture(t)
	f.addDialingCall(t, 100, "call_abc")

	data := &webhookdomain.CallEndedData{CallID: "call_abc", EndedReason: "customer-ended-call", Disposition: "interested"}
	require.NoError(t, h.HandleCallEnded(context.Background(), envelope(100), data))

	// The replay must not overwrite the settled row.
	replay := &webhookdomain.CallEndedData{CallID: "call_abc", EndedReason: "silence-timed-out"}
	require.NoError(t, h.HandleCallEnded(context.Background(), envelope(100), replay))

	call, err := f.repo.FindCallByProviderID(context.Background(), f.db, 100, "call_abc")
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusCompleted, call.Status)
	require.Equal(t, "customer-ended-call", call.EndedReason)
}

func TestCallEndedForUnknownCallIsTerminal(t *testing.T) {
	h, _ := newCallHandlerFixture(t)

	err := h.HandleCallEnded(context.Background(), envelope(100), &webhookdomain.CallEndedData{CallID: "call_missing"})
	require.Error(t, err)
	require.False(t, webhookdomain.IsRetryable(err))
}

func TestCallEndedIsOrgScoped(t *testing.T) {
	h, f := newCallHandlerFixture(t)
	f.addDialingCall(t, 100, "call_abc")

	err := h.HandleCallEnded(context.Background(), envelope(200), &webhookdomain.CallEndedData{CallID: "call_abc"})
	require.Error(t, err)
	require.False(t, webhookdomain.IsRetryable(err))
}

func TestTranscriptReadyAttachesTranscript(t *testing.T) {
	h, f := newCallHandlerFixture(t)
	f.addDialingCall(t, 100, "call_abc")

	err := h.HandleTranscriptReady(context.Background(), envelope(100), &webhookdomain.TranscriptReadyData{
		CallID:     "call_abc",
		Transcript: "hello, this is apex",
		Summary:    "intro call",
	})
	require.NoError(t, err)

	call, err := f.repo.FindCallByProviderID(context.Background(), f.db, 100, "call_abc")
	require.NoError(t, err)
	require.Equal(t, "hello, this is apex", call.Transcript)
	require.Equal(t, "intro call", call.Summary)

	err = h.HandleTranscriptReady(context.Background(), envelope(100), &webhookdomain.TranscriptReadyData{CallID: "call_missing"})
	require.Error(t, err)
	require.False(t, webhookdomain.IsRetryable(err))
}
