// Package vapi is a thin client for the voice provider's call API. API
// keys are per tenant and passed per request, never stored on the client.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apexhq/apex/internal/config"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

var (
	ErrUnauthorized = errors.New("vapi_unauthorized")
	ErrCallNotFound = errors.New("vapi_call_not_found")
)

// Doer lets tests substitute the HTTP transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	baseURL string
	http    Doer
	log     *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.VapiBaseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     log.Named("providers.vapi"),
	}
}

// NewWithDoer is the test constructor.
func NewWithDoer(baseURL string, doer Doer, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		log:     log.Named("providers.vapi"),
	}
}

type CreateCallRequest struct {
	AssistantID   string            `json:"assistantId"`
	PhoneNumberID string            `json:"phoneNumberId"`
	Customer      CallCustomer      `json:"customer"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type CallCustomer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type Call struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	EndedReason string     `json:"endedReason"`
	StartedAt   *time.Time `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt"`
	Cost        float64    `json:"cost"`
}

type apiError struct {
	Message string `json:"message"`
}

func (c *Client) CreateCall(ctx context.Context, apiKey string, req CreateCallRequest) (*Call, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var call Call
	if err := c.do(ctx, apiKey, http.MethodPost, "/call", bytes.NewReader(body), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Client) GetCall(ctx context.Context, apiKey, callID string) (*Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, ErrCallNotFound
	}

	var call Call
	if err := c.do(ctx, apiKey, http.MethodGet, "/call/"+callID, nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Client) do(ctx context.Context, apiKey, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return json.Unmarshal(payload, out)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case res.StatusCode == http.StatusNotFound:
		return ErrCallNotFound
	default:
		var apiErr apiError
		_ = json.Unmarshal(payload, &apiErr)
		message := strings.TrimSpace(apiErr.Message)
		if message == "" {
			message = http.StatusText(res.StatusCode)
		}
		return fmt.Errorf("vapi %s %s: %d %s", method, path, res.StatusCode, message)
	}
}
