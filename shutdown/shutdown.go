package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/aisgo/botrunner/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

/* ========================================================================
 * Shutdown Manager - 优雅关停管理器
 * ========================================================================
 * 职责: 收到 SIGINT / SIGTERM / SIGQUIT 后按优先级执行关停钩子
 * 顺序: 机器人 (停止轮询) → HTTP → fx 应用 (连接池)
 * 规则:
 *   - 同优先级钩子并行执行
 *   - 每个钩子受 HookTimeout 约束，整体受 Timeout 约束
 * ======================================================================== */

// Hook 关停钩子
type Hook func(ctx context.Context) error

type hookEntry struct {
	name     string
	hook     Hook
	priority int
}

type hookResult struct {
	name     string
	err      error
	duration time.Duration
}

// Manager 优雅关停管理器
type Manager struct {
	cfg   Config
	log   *logger.Logger
	mu    sync.Mutex
	hooks []hookEntry
	done  chan struct{}
	once  sync.Once
}

// ManagerParams 依赖参数
type ManagerParams struct {
	fx.In

	Logger *logger.Logger
	Config Config `optional:"true"`
}

// NewManager 创建优雅关停管理器
func NewManager(p ManagerParams) *Manager {
	cfg := p.Config
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Manager{
		cfg:  cfg,
		log:  p.Logger,
		done: make(chan struct{}),
	}
}

// Register 注册关停钩子
func (m *Manager) Register(name string, priority int, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hookEntry{name: name, hook: hook, priority: priority})
	m.log.Debug("registered shutdown hook", zap.String("name", name), zap.Int("priority", priority))
}

// Wait 阻塞直到收到关停信号或 ctx 结束，然后执行关停
func (m *Manager) Wait(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		m.log.Info("shutdown requested", zap.Error(ctx.Err()))
	}
	m.Shutdown(context.Background())
}

// Shutdown 执行关停，多次调用只执行一次
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.run(ctx)
		close(m.done)
	})
}

// Done 关停完成通道
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	m.mu.Lock()
	hooks := make([]hookEntry, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].priority < hooks[j].priority })
	m.log.Info("starting graceful shutdown", zap.Int("hooks", len(hooks)), zap.Duration("timeout", m.cfg.Timeout))

	failed := 0
	for start := 0; start < len(hooks); {
		end := start
		for end < len(hooks) && hooks[end].priority == hooks[start].priority {
			end++
		}
		if ctx.Err() != nil {
			m.log.Warn("shutdown timeout reached, skipping remaining hooks", zap.Int("skipped", len(hooks)-start))
			break
		}
		for _, r := range m.runGroup(ctx, hooks[start:end]) {
			if r.err != nil {
				failed++
				m.log.Error("shutdown hook failed", zap.String("name", r.name), zap.Duration("duration", r.duration), zap.Error(r.err))
				continue
			}
			m.log.Info("shutdown hook completed", zap.String("name", r.name), zap.Duration("duration", r.duration))
		}
		start = end
	}

	if failed == 0 && ctx.Err() == nil {
		m.log.Info("graceful shutdown completed")
	} else {
		m.log.Warn("graceful shutdown completed with errors", zap.Int("failed", failed), zap.Bool("timed_out", ctx.Err() != nil))
	}
}

// runGroup 并行执行同优先级钩子，整体超时时返回已完成的结果
func (m *Manager) runGroup(ctx context.Context, group []hookEntry) []hookResult {
	resultCh := make(chan hookResult, len(group))
	for _, h := range group {
		go func(entry hookEntry) {
			hctx := ctx
			if m.cfg.HookTimeout > 0 {
				var cancel context.CancelFunc
				hctx, cancel = context.WithTimeout(ctx, m.cfg.HookTimeout)
				defer cancel()
			}
			start := time.Now()
			err := entry.hook(hctx)
			resultCh <- hookResult{name: entry.name, err: err, duration: time.Since(start)}
		}(h)
	}

	results := make([]hookResult, 0, len(group))
	for len(results) < len(group) {
		select {
		case r := <-resultCh:
			results = append(results, r)
		case <-ctx.Done():
			m.log.Warn("timeout waiting for shutdown hooks", zap.Int("completed", len(results)), zap.Int("total", len(group)))
			return results
		}
	}
	return results
}

// Module FX 模块
// 提供: *Manager
var Module = fx.Module("shutdown",
	fx.Provide(NewManager),
)
