package organization

import (
	"github.com/apexhq/apex/internal/cache"
	"github.com/apexhq/apex/internal/organization/repository"
	"github.com/apexhq/apex/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(cache.NewCredentialsCache),
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(service.NewBillingHandler),
)
