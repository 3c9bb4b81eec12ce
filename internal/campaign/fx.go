package campaign

import (
	"github.com/apexhq/apex/internal/campaign/repository"
	"github.com/apexhq/apex/internal/campaign/service"
	"go.uber.org/fx"
)

var Module = fx.Module("campaign",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewExecutor),
	fx.Provide(service.NewCallHandler),
)
