package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/apexhq/apex/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyWebhookIngestOrg      = "webhook:ingest:org:%s"
	keyWebhookIngestEndpoint = "webhook:ingest:endpoint:%s"
)

// WebhookLimiter throttles inbound webhook deliveries per org and per
// endpoint. A nil limiter allows everything.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket

	orgRate       float64
	orgBurst      int
	endpointRate  float64
	endpointBurst int
}

// NewRedisClient builds the shared redis client, or nil when no addr is
// configured.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RateLimit.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RateLimit.RedisPassword),
		DB:       cfg.RateLimit.RedisDB,
	})
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.WebhookOrgRate <= 0 || limitCfg.WebhookOrgBurst <= 0 {
		return nil, errors.New("webhook org rate limit must be positive")
	}
	if limitCfg.WebhookEndpointRate <= 0 || limitCfg.WebhookEndpointBurst <= 0 {
		return nil, errors.New("webhook endpoint rate limit must be positive")
	}

	return &WebhookLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		orgRate:       limitCfg.WebhookOrgRate,
		orgBurst:      limitCfg.WebhookOrgBurst,
		endpointRate:  limitCfg.WebhookEndpointRate,
		endpointBurst: limitCfg.WebhookEndpointBurst,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WebhookLimiter) AllowOrg(ctx context.Context, orgID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookIngestOrg, strings.TrimSpace(orgID)), l.orgRate, l.orgBurst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *WebhookLimiter) AllowEndpoint(ctx context.Context, provider string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookIngestEndpoint, strings.TrimSpace(provider)), l.endpointRate, l.endpointBurst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
