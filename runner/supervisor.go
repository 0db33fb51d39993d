package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/mail"
	"github.com/aisgo/botrunner/metrics"
	"github.com/aisgo/botrunner/store"
	"github.com/aisgo/botrunner/telegram"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

/* ========================================================================
 * Supervisor - 多机器人托管
 * ========================================================================
 * 职责: 启动全部活跃机器人，定期与 bots 表对齐（启动新增、停止停用、续期租约）
 * 并发: 每个机器人一个 goroutine 顺序处理更新，机器人之间互不阻塞
 * 生命周期: Start → (reconcile)* → Stop
 * ======================================================================== */

// Bots 机器人配置来源
type Bots interface {
	ListActive(ctx context.Context) ([]*store.Bot, error)
	SetUsername(ctx context.Context, id int64, username string) error
}

// BotStatus 运行中机器人的快照
type BotStatus struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
}

type runningBot struct {
	status  BotStatus
	tg      telegram.Bot
	handler *Handler
	lease   Lease
	cancel  context.CancelFunc
	done    chan struct{}
}

// Supervisor 机器人托管器
type Supervisor struct {
	cfg         Config
	bots        Bots
	dialer      telegram.Dialer
	leaser      Leaser
	deps        Deps
	emailDomain string
	log         *logger.Logger

	mu      sync.Mutex
	running map[int64]*runningBot
	started bool

	// 机器人 goroutine 的根 ctx，Stop 时取消
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewSupervisor 创建托管器
func NewSupervisor(cfg Config, bots Bots, dialer telegram.Dialer, leaser Leaser, deps Deps, emailDomain string, log *logger.Logger) *Supervisor {
	if leaser == nil {
		leaser = LocalLeaser{}
	}
	if emailDomain == "" {
		emailDomain = mail.DefaultDomain
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg.WithDefaults(),
		bots:        bots,
		dialer:      dialer,
		leaser:      leaser,
		deps:        deps,
		emailDomain: emailDomain,
		log:         log,
		running:     make(map[int64]*runningBot),
	}
}

// Start 启动全部活跃机器人并开始周期对齐
// 列表查询失败时返回错误；单个机器人启动失败只记录日志
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeAlreadyExists, "supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	bots, err := s.bots.ListActive(ctx)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return errors.Wrap(errors.ErrCodeUnavailable, "list active bots", err)
	}

	s.startAll(ctx, bots)
	s.log.Info("bot runner started", zap.Int("running", s.Count()), zap.Int("active", len(bots)))

	s.loopDone = make(chan struct{})
	go s.loop()
	return nil
}

func (s *Supervisor) loop() {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile(s.ctx)
		}
	}
}

// Reconcile 与 bots 表对齐一次
// 已停止时直接返回
func (s *Supervisor) Reconcile(ctx context.Context) {
	if s.ctx.Err() != nil {
		return
	}
	bots, err := s.bots.ListActive(ctx)
	if err != nil {
		s.log.Error("check for bots failed", zap.Error(err))
		return
	}

	active := make(map[int64]*store.Bot, len(bots))
	var pending []*store.Bot
	for _, b := range bots {
		active[b.ID] = b
		if rb := s.get(b.ID); rb != nil {
			rb.handler.SetProfile(b.Personality, b.Model)
			continue
		}
		pending = append(pending, b)
	}

	for _, id := range s.ids() {
		if _, ok := active[id]; !ok {
			s.log.Info("bot no longer active, stopping", zap.Int64("bot_id", id))
			s.stopBot(ctx, id)
		}
	}

	s.extendLeases(ctx)
	s.startAll(ctx, pending)
}

// startAll 并发启动，errgroup 仅用于限流与等待
func (s *Supervisor) startAll(ctx context.Context, bots []*store.Bot) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.StartConcurrency)
	for _, b := range bots {
		g.Go(func() error {
			if err := s.startBot(gctx, b); err != nil {
				if errors.Is(err, ErrLeaseHeld) {
					s.log.Debug("bot hosted by another runner", zap.Int64("bot_id", b.ID))
				} else {
					s.log.Error("failed to start bot", zap.Int64("bot_id", b.ID), zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Supervisor) startBot(ctx context.Context, b *store.Bot) error {
	if b.BotToken == "" {
		return nil
	}
	if s.get(b.ID) != nil {
		return nil
	}

	lease, err := s.leaser.Acquire(ctx, b.ID)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			metrics.BotStartsTotal.WithLabelValues("lease_held").Inc()
		} else {
			metrics.BotStartsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	tg, err := s.dialer.Dial(ctx, b.BotToken)
	if err != nil {
		metrics.BotStartsTotal.WithLabelValues("error").Inc()
		_ = lease.Release(context.WithoutCancel(ctx))
		return err
	}

	id := tg.Identity()
	email := mail.AddressFor(id.Username, s.emailDomain)
	if err := s.bots.SetUsername(ctx, b.ID, id.Username); err != nil {
		s.log.Warn("record bot username failed", zap.Int64("bot_id", b.ID), zap.Error(err))
	}

	handler := NewHandler(tg, Profile{
		BotID:       b.ID,
		OwnerID:     b.UserID,
		FirstName:   id.FirstName,
		Username:    id.Username,
		Email:       email,
		Personality: b.Personality,
		Model:       b.Model,
	}, s.deps, s.cfg, s.emailDomain)

	botCtx, cancel := context.WithCancel(s.ctx)
	rb := &runningBot{
		status: BotStatus{
			ID:        b.ID,
			OwnerID:   b.UserID,
			Username:  id.Username,
			Email:     email,
			Model:     b.Model,
			StartedAt: time.Now().UTC(),
		},
		tg:      tg,
		handler: handler,
		lease:   lease,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.running[b.ID]; exists {
		s.mu.Unlock()
		cancel()
		tg.Stop()
		_ = lease.Release(context.WithoutCancel(ctx))
		return nil
	}
	s.running[b.ID] = rb
	metrics.RunningBots.Set(float64(len(s.running)))
	s.mu.Unlock()

	go s.serve(botCtx, rb)

	metrics.BotStartsTotal.WithLabelValues("ok").Inc()
	s.log.Info("bot started",
		zap.Int64("bot_id", b.ID),
		zap.String("username", id.Username),
		zap.String("email", email),
		zap.Int64("owner_id", b.UserID),
	)
	return nil
}

// serve 顺序处理单个机器人的更新
// 处理使用脱离取消的 ctx，停止时正在处理的更新可以完成
func (s *Supervisor) serve(ctx context.Context, rb *runningBot) {
	defer close(rb.done)
	for u := range rb.tg.Updates(ctx) {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HandleTimeout)
		rb.handler.Handle(hctx, u)
		cancel()
	}

	// 更新通道意外关闭时移出，下次对齐时重新启动
	if ctx.Err() == nil {
		s.log.Warn("bot update stream ended", zap.Int64("bot_id", rb.status.ID))
		s.mu.Lock()
		if s.running[rb.status.ID] == rb {
			delete(s.running, rb.status.ID)
			metrics.RunningBots.Set(float64(len(s.running)))
		}
		s.mu.Unlock()
		rb.cancel()
		rb.tg.Stop()
		_ = rb.lease.Release(context.Background())
	}
}

func (s *Supervisor) extendLeases(ctx context.Context) {
	for _, id := range s.ids() {
		rb := s.get(id)
		if rb == nil {
			continue
		}
		if err := rb.lease.Extend(ctx); err != nil {
			s.log.Warn("bot lease lost, stopping", zap.Int64("bot_id", id), zap.Error(err))
			s.stopBot(ctx, id)
		}
	}
}

// stopBot 停止轮询并等待正在处理的更新结束
func (s *Supervisor) stopBot(ctx context.Context, id int64) {
	s.mu.Lock()
	rb, ok := s.running[id]
	if ok {
		delete(s.running, id)
		metrics.RunningBots.Set(float64(len(s.running)))
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	rb.cancel()
	rb.tg.Stop()
	select {
	case <-rb.done:
	case <-ctx.Done():
		s.log.Warn("timed out waiting for bot to stop", zap.Int64("bot_id", id))
	}
	if err := rb.lease.Release(context.WithoutCancel(ctx)); err != nil {
		s.log.Debug("release bot lease failed", zap.Int64("bot_id", id), zap.Error(err))
	}
}

// Stop 停止对齐循环和全部机器人
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	if s.loopDone != nil {
		select {
		case <-s.loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var wg sync.WaitGroup
	for _, id := range s.ids() {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.stopBot(ctx, id)
		}(id)
	}
	wg.Wait()

	s.log.Info("bot runner stopped")
	return ctx.Err()
}

// Running 运行中机器人快照，按 ID 排序
func (s *Supervisor) Running() []BotStatus {
	s.mu.Lock()
	out := make([]BotStatus, 0, len(s.running))
	for _, rb := range s.running {
		st := rb.status
		st.Model = rb.handler.Profile().Model
		out = append(out, st)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count 运行中机器人数
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// DeliverEmail 将入站邮件转发给收件机器人的所有者，返回成功转发的数量
func (s *Supervisor) DeliverEmail(ctx context.Context, email mail.InboundEmail) (int, error) {
	rcpts := make(map[string]struct{})
	for _, r := range email.Recipients() {
		rcpts[r] = struct{}{}
	}
	if len(rcpts) == 0 {
		return 0, errors.New(errors.ErrCodeInvalidArgument, "inbound email has no recipients")
	}

	var targets []*runningBot
	s.mu.Lock()
	for _, rb := range s.running {
		if _, ok := rcpts[rb.status.Email]; ok && rb.status.OwnerID != 0 {
			targets = append(targets, rb)
		}
	}
	s.mu.Unlock()

	delivered := 0
	var firstErr error
	text := email.Notification()
	for _, rb := range targets {
		err := rb.tg.SendText(ctx, rb.status.OwnerID, text, false)
		metrics.EmailsTotal.WithLabelValues("inbound", metrics.Status(err)).Inc()
		if err != nil {
			s.log.Warn("forward email failed", zap.Int64("bot_id", rb.status.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}

	if delivered == 0 && firstErr != nil {
		return 0, firstErr
	}
	s.log.Info("inbound email forwarded", zap.Int("delivered", delivered), zap.Int("recipients", len(rcpts)))
	return delivered, nil
}

func (s *Supervisor) get(id int64) *runningBot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[id]
}

func (s *Supervisor) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}
