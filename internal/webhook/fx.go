package webhook

import (
	"github.com/apexhq/apex/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(service.NewService),
)
