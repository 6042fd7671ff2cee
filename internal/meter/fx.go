package meter

import (
	"github.com/smallbiznis/faktur/internal/meter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("meter.service",
	fx.Provide(service.NewService),
)
