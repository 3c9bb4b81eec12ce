// Package server wires the HTTP surface: webhook ingestion, the cron
// trigger, and the org-scoped admin CRUD.
package server

import (
	"context"
	"net/http"
	"time"

	campaigndomain "github.com/apexhq/apex/internal/campaign/domain"
	"github.com/apexhq/apex/internal/config"
	crmdomain "github.com/apexhq/apex/internal/crm/domain"
	"github.com/apexhq/apex/internal/observability"
	obsmiddleware "github.com/apexhq/apex/internal/observability/logger"
	obsmetrics "github.com/apexhq/apex/internal/observability/metrics"
	organizationdomain "github.com/apexhq/apex/internal/organization/domain"
	"github.com/apexhq/apex/internal/ratelimit"
	webhookdomain "github.com/apexhq/apex/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	genID           *snowflake.Node
	organizationSvc organizationdomain.Service
	crmSvc          crmdomain.Service
	campaignSvc     campaigndomain.Service
	executor        campaigndomain.Executor
	ingestor        webhookdomain.Ingestor
	webhookLimiter  *ratelimit.WebhookLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	OrganizationSvc organizationdomain.Service
	CrmSvc          crmdomain.Service
	CampaignSvc     campaigndomain.Service
	Executor        campaigndomain.Executor
	Ingestor        webhookdomain.Ingestor
	WebhookLimiter  *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		genID:           p.GenID,
		organizationSvc: p.OrganizationSvc,
		crmSvc:          p.CrmSvc,
		campaignSvc:     p.CampaignSvc,
		executor:        p.Executor,
		ingestor:        p.Ingestor,
		webhookLimiter:  p.WebhookLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerCronRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleProviderWebhook)
}

func (s *Server) registerCronRoutes() {
	// Any + in-handler guard so non-GET methods get a 405 with Allow
	// instead of gin's default 404.
	s.engine.Any("/cron/process-campaigns", s.HandleProcessCampaigns)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	orgs := v1.Group("/organizations")
	orgs.POST("", s.CreateOrganization)
	orgs.GET("", s.ListOrganizations)
	orgs.GET("/:id", s.GetOrganization)
	orgs.PATCH("/:id", s.UpdateOrganization)

	scoped := v1.Group("", s.OrgContext())

	contacts := scoped.Group("/contacts")
	contacts.POST("", s.CreateContact)
	contacts.GET("", s.ListContacts)
	contacts.GET("/:id", s.GetContact)
	contacts.PATCH("/:id", s.UpdateContact)
	contacts.DELETE("/:id", s.DeleteContact)

	leads := scoped.Group("/leads")
	leads.POST("", s.CreateLead)
	leads.GET("", s.ListLeads)
	leads.GET("/:id", s.GetLead)
	leads.PATCH("/:id", s.UpdateLead)
	leads.DELETE("/:id", s.DeleteLead)

	campaigns := scoped.Group("/campaigns")
	campaigns.POST("", s.CreateCampaign)
	campaigns.GET("", s.ListCampaigns)
	campaigns.GET("/:id", s.GetCampaign)
	campaigns.PATCH("/:id", s.UpdateCampaign)
	campaigns.POST("/:id/status", s.SetCampaignStatus)

	scoped.GET("/calls", s.ListCalls)
}
