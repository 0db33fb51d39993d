package mail

import "go.uber.org/fx"

// Module 邮件模块
// 提供: *SendGrid, Sender
var Module = fx.Module("mail",
	fx.Provide(
		NewSendGrid,
		func(s *SendGrid) Sender { return s },
	),
)
