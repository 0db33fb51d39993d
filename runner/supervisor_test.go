package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aisgo/botrunner/cache/redis"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/mail"
	"github.com/aisgo/botrunner/store"
	"github.com/aisgo/botrunner/telegram"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestSupervisor(env *testEnv, dialer *fakeDialer, leaser Leaser) *Supervisor {
	return NewSupervisor(Config{PollInterval: time.Hour}, env.bots, dialer, leaser, env.deps(), "", logger.NewNop())
}

func createBot(t *testing.T, env *testEnv, token string) *store.Bot {
	t.Helper()
	b := &store.Bot{UserID: ownerID, BotToken: token}
	if err := env.bots.Create(context.Background(), b); err != nil {
		t.Fatalf("create bot: %v", err)
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopSupervisor(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSupervisorStartsActiveBots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	active := createBot(t, env, "t1")
	inactive := createBot(t, env, "t2")
	if err := env.bots.SetActive(ctx, inactive.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	deployed := &store.Bot{UserID: ownerID, BotToken: "t3", RailwayServiceID: "svc-1"}
	if err := env.bots.Create(ctx, deployed); err != nil {
		t.Fatalf("create deployed bot: %v", err)
	}

	dialer := newFakeDialer()
	bot := newFakeBot("NeatlySFbot")
	dialer.add("t1", bot)
	dialer.add("t2", newFakeBot("Other"))
	dialer.add("t3", newFakeBot("Deployed"))

	s := newTestSupervisor(env, dialer, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopSupervisor(t, s)

	running := s.Running()
	if len(running) != 1 || running[0].ID != active.ID {
		t.Fatalf("unexpected running bots: %+v", running)
	}
	if running[0].Email != "neatlysf@crabpass.ai" || running[0].Username != "NeatlySFbot" || running[0].Model != store.DefaultModel {
		t.Fatalf("unexpected status: %+v", running[0])
	}
	if dialer.dialCount("t2") != 0 || dialer.dialCount("t3") != 0 {
		t.Fatalf("inactive or deployed bots should not be dialed")
	}

	got, err := env.bots.Get(ctx, active.ID)
	if err != nil {
		t.Fatalf("get bot: %v", err)
	}
	if got.BotUsername != "NeatlySFbot" {
		t.Fatalf("username not recorded: %q", got.BotUsername)
	}

	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
}

func TestSupervisorRoutesUpdates(t *testing.T) {
	env := newTestEnv(t)
	createBot(t, env, "t1")

	dialer := newFakeDialer()
	bot := newFakeBot("NeatlySFbot")
	dialer.add("t1", bot)

	s := newTestSupervisor(env, dialer, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopSupervisor(t, s)

	bot.updates <- telegram.Update{ChatID: ownerID, UserID: ownerID, Text: "hello"}
	bot.updates <- telegram.Update{ChatID: 5, UserID: 5, Text: "hello"}

	waitFor(t, "two replies", func() bool { return len(bot.messages()) == 2 })
	msgs := bot.messages()
	if msgs[0].ChatID != ownerID || msgs[0].Text != "Sure thing." {
		t.Fatalf("unexpected owner reply: %+v", msgs[0])
	}
	if msgs[1].ChatID != 5 {
		t.Fatalf("unexpected deny reply: %+v", msgs[1])
	}
}

func TestStartSkipsBrokenBots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.db.Create(&store.Bot{UserID: ownerID, BotToken: "", IsActive: true}).Error; err != nil {
		t.Fatalf("insert empty token bot: %v", err)
	}
	createBot(t, env, "bad")

	dialer := newFakeDialer()
	dialer.fail["bad"] = errors.New("unauthorized")

	s := newTestSupervisor(env, dialer, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start should tolerate broken bots: %v", err)
	}
	defer stopSupervisor(t, s)

	if s.Count() != 0 {
		t.Fatalf("expected no running bots, got %d", s.Count())
	}
	if dialer.dialCount("") != 0 {
		t.Fatalf("empty token should not be dialed")
	}

	s.Reconcile(ctx)
	if dialer.dialCount("bad") != 2 {
		t.Fatalf("failed bot should be retried on reconcile, dials=%d", dialer.dialCount("bad"))
	}

	delete(dialer.fail, "bad")
	dialer.add("bad", newFakeBot("FixedBot"))
	s.Reconcile(ctx)
	if s.Count() != 1 {
		t.Fatalf("expected recovered bot to run, got %d", s.Count())
	}
}

type failingBots struct{}

func (failingBots) ListActive(context.Context) ([]*store.Bot, error) {
	return nil, errors.New("connection refused")
}

func (failingBots) SetUsername(context.Context, int64, string) error { return nil }

func TestStartFailsWhenBotsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	s := NewSupervisor(Config{}, failingBots{}, newFakeDialer(), nil, env.deps(), "", logger.NewNop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
}

func TestReconcileStartsAndStopsBots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := createBot(t, env, "t1")
	dialer := newFakeDialer()
	firstBot := newFakeBot("FirstBot")
	secondBot := newFakeBot("SecondBot")
	dialer.add("t1", firstBot)
	dialer.add("t2", secondBot)

	s := newTestSupervisor(env, dialer, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopSupervisor(t, s)

	second := createBot(t, env, "t2")
	if err := env.bots.SetActive(ctx, first.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	s.Reconcile(ctx)

	running := s.Running()
	if len(running) != 1 || running[0].ID != second.ID {
		t.Fatalf("unexpected running bots: %+v", running)
	}
	if !firstBot.isStopped() {
		t.Fatalf("deactivated bot should be stopped")
	}
	if secondBot.isStopped() {
		t.Fatalf("new bot should be running")
	}
}

func TestReconcileSyncsProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b := createBot(t, env, "t1")
	dialer := newFakeDialer()
	bot := newFakeBot("NeatlySFbot")
	dialer.add("t1", bot)

	s := newTestSupervisor(env, dialer, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopSupervisor(t, s)

	if err := env.bots.Update(ctx, b.ID, map[string]any{"model": "mixtral", "personality": "You are terse."}); err != nil {
		t.Fatalf("update: %v", err)
	}
	s.Reconcile(ctx)

	if got := s.Running()[0].Model; got != "mixtral" {
		t.Fatalf("model not synced: %q", got)
	}

	bot.updates <- telegram.Update{ChatID: ownerID, UserID: ownerID, Text: "hi"}
	waitFor(t, "chat call", func() bool {
		env.chat.mu.Lock()
		defer env.chat.mu.Unlock()
		return len(env.chat.systems) == 1
	})
	env.chat.mu.Lock()
	system, model := env.chat.systems[0], env.chat.models[0]
	env.chat.mu.Unlock()
	if model != "mixtral" || system != "You are terse.\n\nYour email address is neatlysf@crabpass.ai. Users can receive emails at this address." {
		t.Fatalf("unexpected chat call: model=%q system=%q", model, system)
	}
}

func TestUpdateStreamEndRestartsBot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createBot(t, env, "t1")

	dialer := newFakeDialer()
	bot := newFakeBot("NeatlySFbot")
	dialer.add("t1", bot)

	s := newTestSupervisor(env, dialer, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopSupervisor(t, s)

	bot.closeUpdates()
	waitFor(t, "bot removal", func() bool { return s.Count() == 0 })

	dialer.add("t1", newFakeBot("NeatlySFbot"))
	s.Reconcile(ctx)
	if s.Count() != 1 || dialer.dialCount("t1") != 2 {
		t.Fatalf("expected restart, running=%d dials=%d", s.Count(), dialer.dialCount("t1"))
	}
}

func TestRedisLeasePreventsDoubleHosting(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.Wrap(rdb, logger.NewNop())

	env := newTestEnv(t)
	ctx := context.Background()
	b := createBot(t, env, "t1")

	dialer := newFakeDialer()
	dialer.add("t1", newFakeBot("NeatlySFbot"))

	first := newTestSupervisor(env, dialer, NewRedisLeaser(client, time.Minute))
	second := newTestSupervisor(env, dialer, NewRedisLeaser(client, time.Minute))

	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first: %v", err)
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("start second: %v", err)
	}
	defer stopSupervisor(t, second)

	if first.Count() != 1 || second.Count() != 0 {
		t.Fatalf("expected single host, first=%d second=%d", first.Count(), second.Count())
	}
	key := fmt.Sprintf("lock:bot:%d", b.ID)
	if !server.Exists(key) {
		t.Fatalf("expected lease key %s", key)
	}

	stopSupervisor(t, first)
	if server.Exists(key) {
		t.Fatalf("lease should be released on stop")
	}

	second.Reconcile(ctx)
	if second.Count() != 1 {
		t.Fatalf("second runner should take over, got %d", second.Count())
	}
}

func TestLostLeaseStopsBot(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := newTestEnv(t)
	ctx := context.Background()
	b := createBot(t, env, "t1")

	dialer := newFakeDialer()
	bot := newFakeBot("NeatlySFbot")
	dialer.add("t1", bot)

	s := newTestSupervisor(env, dialer, NewRedisLeaser(redis.Wrap(rdb, logger.NewNop()), time.Minute))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopSupervisor(t, s)

	// 另一副本抢占了租约
	key := fmt.Sprintf("lock:bot:%d", b.ID)
	if err := server.Set(key, "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Reconcile(ctx)

	if !bot.isStopped() {
		t.Fatalf("bot should stop after losing its lease")
	}
	if got, _ := server.Get(key); got != "someone-else" {
		t.Fatalf("foreign lease must be kept, got %q", got)
	}
}

func TestDeliverEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createBot(t, env, "t1")

	dialer := newFakeDialer()
	bot := newFakeBot("NeatlySFbot")
	dialer.add("t1", bot)

	s := newTestSupervisor(env, dialer, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopSupervisor(t, s)

	email := mail.InboundEmail{
		To:      "Neat <NeatlySF@crabpass.ai>, someone@example.com",
		From:    "alice@example.com",
		Subject: "Your W-2",
		Text:    "Attached.",
	}
	n, err := s.DeliverEmail(ctx, email)
	if err != nil || n != 1 {
		t.Fatalf("deliver: n=%d err=%v", n, err)
	}
	msgs := bot.messages()
	if len(msgs) != 1 || msgs[0].ChatID != ownerID || msgs[0].Text != email.Notification() {
		t.Fatalf("unexpected forward: %+v", msgs)
	}

	n, err = s.DeliverEmail(ctx, mail.InboundEmail{To: "nobody@crabpass.ai"})
	if err != nil || n != 0 {
		t.Fatalf("unknown recipient: n=%d err=%v", n, err)
	}

	if _, err := s.DeliverEmail(ctx, mail.InboundEmail{}); err == nil {
		t.Fatalf("expected error without recipients")
	}

	bot.mu.Lock()
	bot.sendErr = errors.New("blocked by user")
	bot.mu.Unlock()
	if _, err := s.DeliverEmail(ctx, email); err == nil {
		t.Fatalf("expected send error")
	}
}
