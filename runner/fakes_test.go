package runner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aisgo/botrunner/conversation"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/store"
	"github.com/aisgo/botrunner/taxdoc"
	"github.com/aisgo/botrunner/telegram"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type sentMessage struct {
	ChatID   int64
	Text     string
	Markdown bool
}

type fakeBot struct {
	id         telegram.Identity
	files      map[string][]byte
	rejectMD   bool
	updates    chan telegram.Update
	mu         sync.Mutex
	sent       []sentMessage
	typing     int
	stopped    bool
	stopOnce   sync.Once
	closeOnce  sync.Once
	sendErr    error
	downloadEr error
}

func newFakeBot(username string) *fakeBot {
	return &fakeBot{
		id:      telegram.Identity{ID: 1, Username: username, FirstName: "Neat"},
		files:   map[string][]byte{},
		updates: make(chan telegram.Update, 16),
	}
}

func (b *fakeBot) Identity() telegram.Identity { return b.id }

func (b *fakeBot) Updates(ctx context.Context) <-chan telegram.Update {
	out := make(chan telegram.Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-b.updates:
				if !ok {
					return
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (b *fakeBot) SendText(_ context.Context, chatID int64, text string, markdown bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	if markdown && b.rejectMD {
		return errors.New("can't parse entities")
	}
	b.sent = append(b.sent, sentMessage{ChatID: chatID, Text: text, Markdown: markdown})
	return nil
}

func (b *fakeBot) SendTyping(context.Context, int64) error {
	b.mu.Lock()
	b.typing++
	b.mu.Unlock()
	return nil
}

func (b *fakeBot) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	if b.downloadEr != nil {
		return nil, b.downloadEr
	}
	data, ok := b.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (b *fakeBot) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
	})
}

// closeUpdates 模拟更新通道意外关闭
func (b *fakeBot) closeUpdates() {
	b.closeOnce.Do(func() { close(b.updates) })
}

func (b *fakeBot) messages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]sentMessage, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *fakeBot) texts() []string {
	var out []string
	for _, m := range b.messages() {
		out = append(out, m.Text)
	}
	return out
}

func (b *fakeBot) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

type fakeDialer struct {
	mu    sync.Mutex
	bots  map[string]*fakeBot
	fail  map[string]error
	dials map[string]int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{bots: map[string]*fakeBot{}, fail: map[string]error{}, dials: map[string]int{}}
}

func (d *fakeDialer) add(token string, bot *fakeBot) {
	d.mu.Lock()
	d.bots[token] = bot
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(_ context.Context, token string) (telegram.Bot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[token]++
	if err := d.fail[token]; err != nil {
		return nil, err
	}
	bot, ok := d.bots[token]
	if !ok {
		return nil, errors.New("unauthorized")
	}
	return bot, nil
}

func (d *fakeDialer) dialCount(token string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[token]
}

type fakeChat struct {
	mu      sync.Mutex
	reply   string
	err     error
	models  []string
	systems []string
	history [][]conversation.Message
}

func (c *fakeChat) Chat(_ context.Context, model, system string, history []conversation.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append(c.models, model)
	c.systems = append(c.systems, system)
	c.history = append(c.history, history)
	return c.reply, c.err
}

type fakeVision struct {
	text string
}

func (v fakeVision) Extract(context.Context, []byte) taxdoc.Extraction {
	return taxdoc.Parse(v.text)
}

type fakeMail struct {
	mu   sync.Mutex
	err  error
	sent []string
	body []string
}

func (m *fakeMail) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+subject)
	m.body = append(m.body, body)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&store.Bot{}, &store.UserDocument{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testEnv struct {
	db      *gorm.DB
	bots    *store.BotStore
	docs    *store.DocumentStore
	history *conversation.MemoryStore
	chat    *fakeChat
	mail    *fakeMail
	vision  *fakeVision
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := openTestDB(t)
	history, err := conversation.NewMemoryStore(conversation.Config{Limit: 20})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return &testEnv{
		db:      db,
		bots:    store.NewBotStore(db),
		docs:    store.NewDocumentStore(db),
		history: history,
		chat:    &fakeChat{reply: "Sure thing."},
		mail:    &fakeMail{},
		vision:  &fakeVision{text: `{"doc_type":"W-2","payer_name":"Acme","amounts":{"wages":52000,"federal_withheld":6100.5,"state_withheld":0}}`},
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Documents: e.docs,
		History:   e.history,
		Chat:      e.chat,
		Vision:    e.vision,
		Mail:      e.mail,
		Log:       logger.NewNop(),
	}
}
