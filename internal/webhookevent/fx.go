package webhookevent

import (
	"github.com/apexhq/apex/internal/webhookevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhookevent",
	fx.Provide(service.NewService),
)
