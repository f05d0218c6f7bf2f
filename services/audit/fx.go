package audit

import (
	"go.uber.org/fx"
)

var Module = fx.Module("audit.sink",
	fx.Provide(NewSink),
)
