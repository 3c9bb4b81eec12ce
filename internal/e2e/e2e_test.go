// Package e2e drives the assembled application over a real postgres
// database. The suite is skipped unless E2E_DATABASE_HOST is set.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/apexhq/apex/internal/campaign"
	"github.com/apexhq/apex/internal/clock"
	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/crm"
	"github.com/apexhq/apex/internal/idempotency"
	"github.com/apexhq/apex/internal/migration"
	"github.com/apexhq/apex/internal/observability"
	"github.com/apexhq/apex/internal/organization"
	"github.com/apexhq/apex/internal/providers/vapi"
	"github.com/apexhq/apex/internal/ratelimit"
	"github.com/apexhq/apex/internal/server"
	"github.com/apexhq/apex/internal/webhook"
	"github.com/apexhq/apex/internal/webhookevent"
	"github.com/apexhq/apex/pkg/db"
)

type testEnv struct {
	app     *fx.App
	server  *server.Server
	db      *gorm.DB
	baseURL string
	httpSrv *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	if strings.TrimSpace(os.Getenv("E2E_DATABASE_HOST")) == "" {
		fmt.Println("skipping e2e suite: E2E_DATABASE_HOST not set")
		os.Exit(0)
	}

	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resetDatabase(t, env.db)

	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_OrganizationAndLeadFlow(t *testing.T) {
	resetDatabase(t, env.db)
	client := &http.Client{Timeout: 10 * time.Second}

	orgReq := map[string]any{
		"name":         "Acme Dental",
		"owner_id":     "user_e2e",
		"vapi_api_key": "vapi_sk_e2e_secret",
	}
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/v1/organizations", orgReq, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create org: %d: %s", resp.StatusCode, string(body))
	}
	var org struct {
		ID         string `json:"id"`
		Slug       string `json:"slug"`
		VapiAPIKey string `json:"vapi_api_key"`
	}
	if err := json.Unmarshal(body, &org); err != nil {
		t.Fatalf("decode org: %v", err)
	}
	if org.Slug != "acme-dental" {
		t.Fatalf("unexpected slug %q", org.Slug)
	}
	if strings.Contains(org.VapiAPIKey, "e2e_secret") {
		t.Fatalf("vapi key leaked unmasked: %q", org.VapiAPIKey)
	}

	headers := map[string]string{server.HeaderOrg: org.ID}

	contactReq := map[string]any{
		"first_name": "Dana",
		"last_name":  "Reyes",
		"phone":      "+15550100",
	}
	resp, body = doJSON(t, client, http.MethodPost, env.baseURL+"/v1/contacts", contactReq, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create contact: %d: %s", resp.StatusCode, string(body))
	}

	leadReq := map[string]any{
		"phone": "+15550100",
		"name":  "Dana Reyes",
	}
	resp, body = doJSON(t, client, http.MethodPost, env.baseURL+"/v1/leads", leadReq, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create lead: %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, client, http.MethodGet, env.baseURL+"/v1/leads", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list leads: %d: %s", resp.StatusCode, string(body))
	}
	var leads struct {
		Leads []json.RawMessage `json:"leads"`
	}
	if err := json.Unmarshal(body, &leads); err != nil {
		t.Fatalf("decode leads: %v", err)
	}
	if len(leads.Leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leads.Leads))
	}

	// Another tenant must not see them.
	resp, body = doJSON(t, client, http.MethodGet, env.baseURL+"/v1/leads", nil, map[string]string{server.HeaderOrg: "999999999999999"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cross-tenant list leads: %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &leads); err != nil {
		t.Fatalf("decode cross-tenant leads: %v", err)
	}
	if len(leads.Leads) != 0 {
		t.Fatalf("expected no leads for other tenant, got %d", len(leads.Leads))
	}
}

func TestE2E_WebhookReplayReturnsCachedResponse(t *testing.T) {
	resetDatabase(t, env.db)
	client := &http.Client{Timeout: 10 * time.Second}

	payload := []byte(`{"id":"evt_e2e_1","type":"call.started","data":{"call_id":"call_unknown"}}`)
	headers := map[string]string{"Idempotency-Key": "e2e-key-1"}

	resp, first := doRaw(t, client, env.baseURL+"/webhooks/vapi", payload, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first delivery: %d: %s", resp.StatusCode, string(first))
	}

	resp, second := doRaw(t, client, env.baseURL+"/webhooks/vapi", payload, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay: %d: %s", resp.StatusCode, string(second))
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("replay body differs: %s vs %s", string(first), string(second))
	}

	// Same key, different payload is a client error.
	other := []byte(`{"id":"evt_e2e_2","type":"call.started","data":{"call_id":"call_other"}}`)
	resp, body := doRaw(t, client, env.baseURL+"/webhooks/vapi", other, headers)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for key reuse, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_CronTrigger(t *testing.T) {
	resetDatabase(t, env.db)
	client := &http.Client{Timeout: 10 * time.Second}

	resp, body := doJSON(t, client, http.MethodGet, env.baseURL+"/cron/process-campaigns", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cron trigger: %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &out); err != nil || !out.Success {
		t.Fatalf("unexpected cron response: %s", string(body))
	}

	resp, _ = doJSON(t, client, http.MethodPost, env.baseURL+"/cron/process-campaigns", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow: GET, got %q", allow)
	}
}

func startEnv() (*testEnv, error) {
	var (
		srv    *server.Server
		dbConn *gorm.DB
		cfg    config.Config
		log    *zap.Logger
	)

	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),

		organization.Module,
		crm.Module,
		campaign.Module,
		idempotency.Module,
		webhookevent.Module,
		webhook.Module,
		vapi.Module,
		ratelimit.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Populate(&srv, &dbConn, &cfg, &log),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if strings.ToLower(strings.TrimSpace(cfg.DBType)) != "postgres" {
		app.Stop(context.Background())
		return nil, fmt.Errorf("expected postgres db, got %s", cfg.DBType)
	}

	sqlDB, err := dbConn.DB()
	if err != nil {
		app.Stop(context.Background())
		return nil, err
	}
	if err := migration.RunMigrations(sqlDB); err != nil {
		app.Stop(context.Background())
		return nil, err
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:     app,
		server:  srv,
		db:      dbConn,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("DATABASE_TYPE", "postgres")
	_ = os.Setenv("DATABASE_HOST", os.Getenv("E2E_DATABASE_HOST"))
	setEnvIfEmpty("DATABASE_PORT", "5432")
	setEnvIfEmpty("DATABASE_NAME", "apex_e2e")
	setEnvIfEmpty("DATABASE_USER", "postgres")
	setEnvIfEmpty("DATABASE_SSLMODE", "disable")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	if err := truncateAllTables(dbConn); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func truncateAllTables(dbConn *gorm.DB) error {
	type tableRow struct {
		Name string `gorm:"column:tablename"`
	}
	var rows []tableRow
	if err := dbConn.Raw(
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename <> 'schema_migrations'`,
	).Scan(&rows).Error; err != nil {
		return err
	}

	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Name) == "" {
			continue
		}
		tables = append(tables, `"`+row.Name+`"`)
	}
	if len(tables) == 0 {
		return nil
	}

	stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	return dbConn.Exec(stmt).Error
}

func doJSON(t *testing.T, client *http.Client, method, url string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, body
}

func doRaw(t *testing.T, client *http.Client, url string, payload []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, body
}
