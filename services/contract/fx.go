package contract

import (
	"go.uber.org/fx"
)

var Module = fx.Module("contract.engine",
	fx.Provide(NewEngine),
)
