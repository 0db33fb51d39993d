package llm

import "go.uber.org/fx"

// Module LLM 模块
// 提供: *Client, Chatter, Extractor
var Module = fx.Module("llm",
	fx.Provide(
		New,
		func(c *Client) Chatter { return c },
		func(c *Client) Extractor { return c },
	),
)
