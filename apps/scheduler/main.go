package main

import (
	"github.com/apexhq/apex/internal/campaign"
	"github.com/apexhq/apex/internal/clock"
	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/crm"
	"github.com/apexhq/apex/internal/idempotency"
	"github.com/apexhq/apex/internal/observability"
	"github.com/apexhq/apex/internal/organization"
	"github.com/apexhq/apex/internal/providers/vapi"
	"github.com/apexhq/apex/internal/ratelimit"
	"github.com/apexhq/apex/internal/scheduler"
	"github.com/apexhq/apex/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// The scheduler binary runs the tick loop without the HTTP surface.
// Deployments that trigger ticks through the cron endpoint on the API
// do not need it.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		organization.Module,
		crm.Module,
		campaign.Module,
		idempotency.Module,
		vapi.Module,
		ratelimit.Module,

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
