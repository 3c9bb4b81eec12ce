package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/apexhq/apex/internal/cache"
	"github.com/apexhq/apex/internal/organization/domain"
	"github.com/apexhq/apex/internal/organization/repository"
	webhookdomain "github.com/apexhq/apex/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, conn.AutoMigrate(&domain.Organization{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(conn, repository.NewRepository(conn), node, cache.NewCredentialsCache()), conn
}

func TestCreateMasksVapiKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Create(ctx, domain.CreateOrganizationRequest{
		Name:       "Acme Dental",
		OwnerID:    "user_29x",
		VapiAPIKey: "vapi_sk_123456789",
	})
	require.NoError(t, err)
	require.Equal(t, "acme-dental", resp.Slug)
	require.Equal(t, domain.SubscriptionTrialing, resp.SubscriptionStatus)
	require.Equal(t, "vapi_sk_****6789", resp.VapiAPIKey)

	got, err := svc.GetByID(ctx, resp.ID)
	require.NoError(t, err)
	require.Equal(t, "vapi_sk_****6789", got.VapiAPIKey)
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme", OwnerID: "user_1"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme", OwnerID: "user_2"})
	require.ErrorIs(t, err, domain.ErrOrganizationExists)
}

func TestCredentialsReturnUnmaskedKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Create(ctx, domain.CreateOrganizationRequest{
		Name:       "Acme",
		OwnerID:    "user_1",
		VapiAPIKey: "vapi_sk_123456789",
	})
	require.NoError(t, err)

	orgID, err := snowflake.ParseString(resp.ID)
	require.NoError(t, err)

	creds, err := svc.Credentials(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, "vapi_sk_123456789", creds.APIKey)
}

func TestCredentialsMissingKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme", OwnerID: "user_1"})
	require.NoError(t, err)

	orgID, err := snowflake.ParseString(resp.ID)
	require.NoError(t, err)

	_, err = svc.Credentials(ctx, orgID)
	require.ErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestSetSubscriptionStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme", OwnerID: "user_1"})
	require.NoError(t, err)
	orgID, err := snowflake.ParseString(resp.ID)
	require.NoError(t, err)

	require.NoError(t, svc.SetSubscriptionStatus(ctx, orgID, domain.SubscriptionActive))

	got, err := svc.GetByID(ctx, resp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionActive, got.SubscriptionStatus)

	require.ErrorIs(t, svc.SetSubscriptionStatus(ctx, orgID, "gold"), domain.ErrInvalidStatus)
	require.ErrorIs(t, svc.SetSubscriptionStatus(ctx, snowflake.ID(42), domain.SubscriptionActive), domain.ErrNotFound)
}

func TestBillingHandlerTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	handler := NewBillingHandler(zap.NewNop(), svc)

	resp, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme", OwnerID: "user_1"})
	require.NoError(t, err)
	orgID, err := snowflake.ParseString(resp.ID)
	require.NoError(t, err)

	env := &webhookdomain.Envelope{OrgID: orgID}

	require.NoError(t, handler.HandleInvoicePaid(ctx, env, &webhookdomain.InvoicePaidData{InvoiceID: "in_1"}))
	got, err := svc.GetByID(ctx, resp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionActive, got.SubscriptionStatus)

	require.NoError(t, handler.HandleInvoicePaymentFailed(ctx, env, &webhookdomain.InvoicePaymentFailedData{InvoiceID: "in_2", Reason: "card_declined"}))
	got, err = svc.GetByID(ctx, resp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionPastDue, got.SubscriptionStatus)

	require.NoError(t, handler.HandleSubscriptionUpdated(ctx, env, &webhookdomain.SubscriptionUpdatedData{Status: "canceled"}))
	got, err = svc.GetByID(ctx, resp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionCanceled, got.SubscriptionStatus)
}

func TestBillingHandlerTerminalFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	handler := NewBillingHandler(zap.NewNop(), svc)

	// Unknown tenant and malformed input must not look retryable or the
	// provider would redeliver forever.
	err := handler.HandleInvoicePaid(ctx, &webhookdomain.Envelope{OrgID: 42}, &webhookdomain.InvoicePaidData{})
	require.Error(t, err)
	require.False(t, webhookdomain.IsRetryable(err))

	err = handler.HandleInvoicePaid(ctx, &webhookdomain.Envelope{}, &webhookdomain.InvoicePaidData{})
	require.Error(t, err)
	require.False(t, webhookdomain.IsRetryable(err))

	err = handler.HandleSubscriptionUpdated(ctx, &webhookdomain.Envelope{OrgID: 42}, &webhookdomain.SubscriptionUpdatedData{Status: "gold"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
	require.False(t, webhookdomain.IsRetryable(err))
}
