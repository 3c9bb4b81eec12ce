package crm

import (
	"github.com/apexhq/apex/internal/crm/repository"
	"github.com/apexhq/apex/internal/crm/service"
	"go.uber.org/fx"
)

var Module = fx.Module("crm.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
