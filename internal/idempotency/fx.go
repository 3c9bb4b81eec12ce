package idempotency

import (
	"github.com/apexhq/apex/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency",
	fx.Provide(service.NewStore),
)
