package referral

import (
	"go.uber.org/fx"
)

var Module = fx.Module("referral.graph",
	fx.Provide(NewGraph),
)
