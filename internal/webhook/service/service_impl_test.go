package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/apexhq/apex/internal/clock"
	"github.com/apexhq/apex/internal/config"
	idempotencydomain "github.com/apexhq/apex/internal/idempotency/domain"
	idempotencyservice "github.com/apexhq/apex/internal/idempotency/service"
	webhookdomain "github.com/apexhq/apex/internal/webhook/domain"
	webhookeventdomain "github.com/apexhq/apex/internal/webhookevent/domain"
	webhookeventservice "github.com/apexhq/apex/internal/webhookevent/service"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubCallHandler struct {
	mu       sync.Mutex
	started  int
	ended    int
	failWith error
}

func (h *stubCallHandler) HandleCallStarted(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.CallStartedData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
	return h.failWith
}

func (h *stubCallHandler) HandleCallEnded(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.CallEndedData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended++
	return h.failWith
}

func (h *stubCallHandler) HandleTranscriptReady(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.TranscriptReadyData) error {
	return h.failWith
}

func (h *stubCallHandler) endedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

type stubBillingHandler struct {
	paid   int
	failed int
}

func (h *stubBillingHandler) HandleInvoicePaid(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.InvoicePaidData) error {
	h.paid++
	return nil
}

func (h *stubBillingHandler) HandleInvoicePaymentFailed(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.InvoicePaymentFailedData) error {
	h.failed++
	return nil
}

func (h *stubBillingHandler) HandleSubscriptionUpdated(ctx context.Context, env *webhookdomain.Envelope, data *webhookdomain.SubscriptionUpdatedData) error {
	return nil
}

type ingestFixture struct {
	ingestor webhookdomain.Ingestor
	db       *gorm.DB
	store    idempotencydomain.Store
	calls    *stubCallHandler
	billing  *stubBillingHandler
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = conn.Exec("PRAGMA busy_timeout = 5000").Error

	require.NoError(t, conn.AutoMigrate(&idempotencydomain.Key{}, &webhookeventdomain.Event{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	calls := &stubCallHandler{}
	billing := &stubBillingHandler{}
	store := idempotencyservice.NewStore(idempotencyservice.Params{DB: conn, Log: zap.NewNop()})

	ingestor := NewService(Params{
		Log:   zap.NewNop(),
		Cfg:   config.Config{IdempotencyTTL: time.Hour},
		Clock: clock.New(),
		Store: store,
		Events: webhookeventservice.NewService(webhookeventservice.Params{
			DB:    conn,
			Log:   zap.NewNop(),
			GenID: node,
		}),
		Calls:   calls,
		Billing: billing,
	})

	return &ingestFixture{ingestor: ingestor, db: conn, store: store, calls: calls, billing: billing}
}

func (f *ingestFixture) eventRows(t *testing.T) []webhookeventdomain.Event {
	t.Helper()
	var rows []webhookeventdomain.Event
	require.NoError(t, f.db.Order("id").Find(&rows).Error)
	return rows
}

func callEndedRequest(key string, body []byte) webhookdomain.IngestRequest {
	return webhookdomain.IngestRequest{
		Provider:       "vapi",
		Method:         http.MethodPost,
		Path:           "/webhooks/vapi",
		IdempotencyKey: key,
		Body:           body,
	}
}

var callEndedBody = []byte(`{
	"id": "evt_1",
	"type": "call.ended",
	"data": {"call_id": "call_1", "ended_reason": "customer-ended-call", "duration_seconds": 30, "cost_cents": 8}
}`)

func TestKeyedDeliveryReplaysWithoutSecondEffect(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	first, err := f.ingestor.Ingest(ctx, callEndedRequest("abc", callEndedBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, first.Status)
	require.JSONEq(t, `{"received": true, "status": "processed"}`, string(first.Body))

	rows := f.eventRows(t)
	require.Len(t, rows, 1)
	require.Equal(t, webhookeventdomain.StatusProcessed, rows[0].Status)
	require.Equal(t, "evt_1", rows[0].EventID)

	second, err := f.ingestor.Ingest(ctx, callEndedRequest("abc", callEndedBody))
	require.NoError(t, err)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.Body, second.Body)

	require.Len(t, f.eventRows(t), 1)
	require.Equal(t, 1, f.calls.endedCount())
}

func TestKeyReuseWithDifferentBodyConflicts(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, callEndedRequest("abc", callEndedBody))
	require.NoError(t, err)

	other := []byte(`{
		"id": "evt_2",
		"type": "call.ended",
		"data": {"call_id": "call_2", "ended_reason": "no-answer", "duration_seconds": 0, "cost_cents": 0}
	}`)
	_, err = f.ingestor.Ingest(ctx, callEndedRequest("abc", other))
	require.ErrorIs(t, err, idempotencydomain.ErrKeyConflict)

	require.Equal(t, 1, f.calls.endedCount())
	require.Len(t, f.eventRows(t), 1)
}

func TestUnkeyedDeliveriesAlwaysRun(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := f.ingestor.Ingest(ctx, callEndedRequest("", callEndedBody))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.Status)
	}

	require.Equal(t, 2, f.calls.endedCount())
	require.Len(t, f.eventRows(t), 2)
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	f := newIngestFixture(t)

	resp, err := f.ingestor.Ingest(context.Background(), callEndedRequest("", []byte(`{
		"id": "evt_9",
		"type": "call.mystery",
		"data": {}
	}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.Status)

	rows := f.eventRows(t)
	require.Len(t, rows, 1)
	require.Equal(t, webhookeventdomain.StatusIgnored, rows[0].Status)
	require.Equal(t, "evt_9", rows[0].EventID)
	require.Equal(t, 0, f.calls.endedCount())
}

func TestMalformedPayloadIsIgnored(t *testing.T) {
	f := newIngestFixture(t)

	resp, err := f.ingestor.Ingest(context.Background(), callEndedRequest("", []byte(`not json`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.Status)

	rows := f.eventRows(t)
	require.Len(t, rows, 1)
	require.Equal(t, webhookeventdomain.StatusIgnored, rows[0].Status)
}

func TestRetryableHandlerFailure(t *testing.T) {
	f := newIngestFixture(t)
	f.calls.failWith = webhookdomain.Retryable(errors.New("call row unavailable"))

	resp, err := f.ingestor.Ingest(context.Background(), callEndedRequest("", callEndedBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.Status)

	rows := f.eventRows(t)
	require.Len(t, rows, 1)
	require.Equal(t, webhookeventdomain.StatusFailed, rows[0].Status)
}

func TestTerminalHandlerFailureIsAcknowledged(t *testing.T) {
	f := newIngestFixture(t)
	f.calls.failWith = errors.New("unknown call")

	resp, err := f.ingestor.Ingest(context.Background(), callEndedRequest("", callEndedBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.JSONEq(t, `{"received": true, "status": "failed"}`, string(resp.Body))

	rows := f.eventRows(t)
	require.Len(t, rows, 1)
	require.Equal(t, webhookeventdomain.StatusFailed, rows[0].Status)
}

func TestRetryAfterRetryableFailureCommitsTheRetryOutcome(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	f.calls.failWith = webhookdomain.Retryable(errors.New("call row unavailable"))
	resp, err := f.ingestor.Ingest(ctx, callEndedRequest("abc", callEndedBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.Status)

	// The 500 outcome was committed: the provider's retry replays it
	// rather than re-running the handler. Retrying a keyed delivery past
	// a handler failure needs a fresh key.
	resp, err = f.ingestor.Ingest(ctx, callEndedRequest("abc", callEndedBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.Status)
	require.Equal(t, 1, f.calls.endedCount())
}

func TestPollerTakesOverAbandonedReservation(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	req := callEndedRequest("abc", callEndedBody)
	hash := idempotencydomain.HashRequest(req.Method, req.Path, req.Body)

	res, err := f.store.CheckOrReserve(ctx, "abc", hash)
	require.NoError(t, err)
	require.Equal(t, idempotencydomain.StateMiss, res.State)

	// The reservation holder hits an infrastructure failure and releases
	// while this delivery is polling for its outcome.
	go func() {
		time.Sleep(250 * time.Millisecond)
		_ = f.store.Release(ctx, "abc")
	}()

	resp, err := f.ingestor.Ingest(ctx, req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.JSONEq(t, `{"received": true, "status": "processed"}`, string(resp.Body))
	require.Equal(t, 1, f.calls.endedCount())

	// The takeover committed, so a later retry replays from cache.
	replay, err := f.ingestor.Ingest(ctx, req)
	require.NoError(t, err)
	require.Equal(t, resp.Body, replay.Body)
	require.Equal(t, 1, f.calls.endedCount())
}

func TestBillingEventsDispatchToBillingHandler(t *testing.T) {
	f := newIngestFixture(t)

	resp, err := f.ingestor.Ingest(context.Background(), callEndedRequest("", []byte(`{
		"id": "evt_inv",
		"type": "invoice.paid",
		"data": {"invoice_id": "in_1", "amount": 4900, "currency": "usd"}
	}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, 1, f.billing.paid)
	require.Equal(t, 0, f.calls.endedCount())
}
