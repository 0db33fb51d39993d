package telegram

import "go.uber.org/fx"

// Module Telegram 模块
// 提供: *APIDialer, Dialer
var Module = fx.Module("telegram",
	fx.Provide(
		NewDialer,
		func(d *APIDialer) Dialer { return d },
	),
)
