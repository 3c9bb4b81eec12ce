package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleProcessCampaigns is the externally triggered campaign tick. The
// method guard runs before anything else: a non-GET invocation never
// reaches the executor. Overlapping invocations are allowed, every claim
// in the executor is a compare-and-set.
func (s *Server) HandleProcessCampaigns(c *gin.Context) {
	if c.Request.Method != http.MethodGet {
		c.Header("Allow", http.MethodGet)
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error":   "method_not_allowed",
			"message": "use GET to trigger campaign processing",
		})
		return
	}

	if secret := s.cfg.CronSecret; secret != "" {
		provided := strings.TrimSpace(c.GetHeader("X-Cron-Secret"))
		if provided == "" {
			provided = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if provided != secret {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid cron secret",
			})
			return
		}
	}

	if err := s.executor.ProcessCampaigns(c.Request.Context()); err != nil {
		s.log.Error("campaign tick failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "campaign processing completed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
