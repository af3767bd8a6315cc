package order

import "go.uber.org/fx"

// Module provides the pipeline service to Fx.
var Module = fx.Provide(NewService)
