package vapi

import "go.uber.org/fx"

var Module = fx.Module("providers.vapi",
	fx.Provide(New),
)
