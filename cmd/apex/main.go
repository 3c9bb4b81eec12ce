package main

import (
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
	"github.com/apexhq/apex/internal/scheduler"
	"github.com/apexhq/apex/internal/seed"
	"github.com/apexhq/apex/internal/server"
	"github.com/apexhq/apex/internal/webhook"
	"github.com/apexhq/apex/internal/webhookevent"
	"github.com/apexhq/apex/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// The apex binary runs the HTTP surface and the campaign tick loop in a
// single process. Split deployments use apps/api and apps/scheduler
// instead.
func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		seed.Module,
		clock.Module,

		// Domains
		organization.Module,
		crm.Module,
		campaign.Module,
		idempotency.Module,
		webhookevent.Module,
		webhook.Module,
		vapi.Module,
		ratelimit.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
