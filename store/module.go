package store

import "go.uber.org/fx"

// Module 存储模块
// 提供: *BotStore, *DocumentStore
var Module = fx.Module("store",
	fx.Provide(
		NewBotStore,
		NewDocumentStore,
	),
)
