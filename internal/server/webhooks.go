package server

import (
	"io"
	"strings"

	webhookdomain "github.com/apexhq/apex/internal/webhook/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandleProviderWebhook receives one provider delivery and returns the
// ingestion outcome. Keyed replays get the cached response verbatim.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	allowed, err := s.allowWebhook(c, provider)
	if err != nil {
		s.log.Warn("webhook rate limiter unavailable", zap.Error(err))
	} else if !allowed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimit(c.Request.Context(), "webhook", false)
		}
		AbortWithError(c, ErrTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.ingestor.Ingest(c.Request.Context(), webhookdomain.IngestRequest{
		Provider:       provider,
		Method:         c.Request.Method,
		Path:           c.Request.URL.Path,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		Body:           body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(resp.Status, "application/json", resp.Body)
}

// allowWebhook applies the endpoint bucket, then the org bucket when the
// delivery names an org. A limiter error lets the delivery through.
func (s *Server) allowWebhook(c *gin.Context, provider string) (bool, error) {
	if !s.webhookLimiter.Enabled() {
		return true, nil
	}
	allowed, err := s.webhookLimiter.AllowEndpoint(c.Request.Context(), provider)
	if err != nil || !allowed {
		return allowed, err
	}
	if orgID := strings.TrimSpace(c.GetHeader(HeaderOrg)); orgID != "" {
		return s.webhookLimiter.AllowOrg(c.Request.Context(), orgID)
	}
	return true, nil
}
