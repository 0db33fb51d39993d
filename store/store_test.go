package store

import (
	"context"
	"testing"

	"github.com/aisgo/botrunner/database"
	"github.com/aisgo/botrunner/errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

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
	if err := db.AutoMigrate(&Bot{}, &UserDocument{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestBotStoreListActive(t *testing.T) {
	db := openTestDB(t)
	bots := NewBotStore(db)
	ctx := context.Background()

	hosted := &Bot{UserID: 1, BotToken: "111:aaa"}
	external := &Bot{UserID: 2, BotToken: "222:bbb", RailwayServiceID: "svc-1"}
	inactive := &Bot{UserID: 3, BotToken: "333:ccc"}
	for _, b := range []*Bot{hosted, external, inactive} {
		if err := bots.Create(ctx, b); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := bots.SetActive(ctx, inactive.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, err := bots.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != hosted.ID {
		t.Fatalf("unexpected active bots: %+v", active)
	}
	if active[0].Model != DefaultModel {
		t.Fatalf("expected default model, got %q", active[0].Model)
	}
}

func TestBotStoreCreateDuplicate(t *testing.T) {
	bots := NewBotStore(openTestDB(t))
	ctx := context.Background()

	if err := bots.Create(ctx, &Bot{UserID: 1, BotToken: "111:aaa"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := bots.Create(ctx, &Bot{UserID: 2, BotToken: "111:aaa"})
	if errors.Code(err) != errors.ErrCodeAlreadyExists {
		t.Fatalf("expected already exists, got: %v", err)
	}
	if err := bots.Create(ctx, &Bot{UserID: 1}); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got: %v", err)
	}
}

func TestBotStoreUpdateWhitelist(t *testing.T) {
	bots := NewBotStore(openTestDB(t))
	ctx := context.Background()

	bot := &Bot{UserID: 1, BotToken: "111:aaa"}
	if err := bots.Create(ctx, bot); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := bots.Update(ctx, bot.ID, map[string]any{"personality": "You are terse.", "bot_token": "evil"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := bots.SetUsername(ctx, bot.ID, "NeatlySFbot"); err != nil {
		t.Fatalf("set username: %v", err)
	}

	got, err := bots.Get(ctx, bot.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Personality != "You are terse." || got.BotToken != "111:aaa" || got.BotUsername != "NeatlySFbot" {
		t.Fatalf("unexpected bot after update: %+v", got)
	}

	page, err := bots.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("unexpected total: %d", page.Total)
	}
}

func TestMaskedToken(t *testing.T) {
	cases := map[string]string{
		"123456:ABCdef": "123456:***",
		"opaque":        "***",
		"":              "",
	}
	for token, want := range cases {
		b := &Bot{BotToken: token}
		if got := b.MaskedToken(); got != want {
			t.Fatalf("MaskedToken(%q) = %q, want %q", token, got, want)
		}
	}
}

func TestDocumentStoreLifecycle(t *testing.T) {
	docs := NewDocumentStore(openTestDB(t))
	ctx := context.Background()

	for _, d := range []*UserDocument{
		{BotID: 1, UserID: 10, DocType: "W-2", ExtractedData: database.JSONB{"doc_type": "W-2"}, FileID: "f1"},
		{BotID: 1, UserID: 10, DocType: "pdf", ExtractedData: database.JSONB{"file_name": "a.pdf"}, FileID: "f2", FileName: "a.pdf"},
		{BotID: 1, UserID: 11, DocType: "receipt", FileID: "f3"},
		{BotID: 2, UserID: 10, DocType: "1098", FileID: "f4"},
	} {
		if err := docs.Save(ctx, d); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	list, err := docs.ListForUser(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].FileID != "f1" || list[1].FileName != "a.pdf" {
		t.Fatalf("unexpected documents: %+v", list)
	}
	if list[0].ExtractedData.GetString("doc_type") != "W-2" {
		t.Fatalf("unexpected extracted data: %v", list[0].ExtractedData)
	}

	n, err := docs.CountForUser(ctx, 1, 10)
	if err != nil || n != 2 {
		t.Fatalf("unexpected count %d: %v", n, err)
	}

	removed, err := docs.ClearForUser(ctx, 1, 10)
	if err != nil || removed != 2 {
		t.Fatalf("unexpected clear result %d: %v", removed, err)
	}
	n, _ = docs.CountForUser(ctx, 2, 10)
	if n != 1 {
		t.Fatalf("documents of other bots must survive, got %d", n)
	}

	if err := docs.Save(ctx, &UserDocument{BotID: 1}); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got: %v", err)
	}
}
