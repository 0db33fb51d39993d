package mail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"
)

func TestAddressFor(t *testing.T) {
	cases := map[string]string{
		"NeatlySFbot":    "neatlysf@crabpass.ai",
		"@Tax_Helper_Bot": "taxhelper@crabpass.ai",
		"robotbot":       "ro@crabpass.ai",
		"":               "",
	}
	for in, want := range cases {
		if got := AddressFor(in, ""); got != want {
			t.Fatalf("AddressFor(%q) = %q, want %q", in, got, want)
		}
	}
	if got := AddressFor("Ann_bot", "example.org"); got != "ann@example.org" {
		t.Fatalf("custom domain: %q", got)
	}
}

func TestSendGridSend(t *testing.T) {
	var got sendRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sg := NewSendGrid(Config{SendGridAPIKey: "SG.key", BaseURL: server.URL}, logger.NewNop())
	if err := sg.Send(context.Background(), "me@example.com", "Tax Summary", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if auth != "Bearer SG.key" {
		t.Fatalf("unexpected auth header: %q", auth)
	}
	if got.From.Email != DefaultFromEmail || got.From.Name != DefaultFromName {
		t.Fatalf("unexpected from: %+v", got.From)
	}
	if len(got.Personalizations) != 1 || got.Personalizations[0].To[0].Email != "me@example.com" {
		t.Fatalf("unexpected personalizations: %+v", got.Personalizations)
	}
	if got.Subject != "Tax Summary" || got.Content[0].Type != "text/plain" || got.Content[0].Value != "body" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSendGridRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sg := NewSendGrid(Config{SendGridAPIKey: "bad", BaseURL: server.URL}, logger.NewNop())
	err := sg.Send(context.Background(), "me@example.com", "s", "b")
	if !errors.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSendGridWithoutKey(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	sg := NewSendGrid(Config{BaseURL: server.URL}, logger.NewNop())
	if err := sg.Send(context.Background(), "me@example.com", "s", "b"); err == nil {
		t.Fatalf("expected error without api key")
	}
	if called {
		t.Fatalf("no request should be made without api key")
	}
}

func TestParseInbound(t *testing.T) {
	form := map[string]string{
		"to":      `"Neat" <NeatlySF@crabpass.ai>, other@example.com`,
		"from":    "Alice <alice@example.com>",
		"subject": " Hello ",
		"html":    "<p>hi</p>",
	}
	email := ParseInbound(func(k string) string { return form[k] })
	if email.Subject != "Hello" || email.Text != "<p>hi</p>" {
		t.Fatalf("unexpected email: %+v", email)
	}

	rcpts := email.Recipients()
	if len(rcpts) != 2 || rcpts[0] != "neatlysf@crabpass.ai" || rcpts[1] != "other@example.com" {
		t.Fatalf("unexpected recipients: %v", rcpts)
	}
}

func TestRecipientsFallback(t *testing.T) {
	email := InboundEmail{To: "<A@x.io>, b@y.io, not an address;"}
	rcpts := email.Recipients()
	if len(rcpts) != 3 || rcpts[0] != "a@x.io" || rcpts[1] != "b@y.io" {
		t.Fatalf("unexpected recipients: %v", rcpts)
	}
}

func TestNotification(t *testing.T) {
	email := InboundEmail{From: "alice@example.com", Text: strings.Repeat("x", maxForwardRunes+10)}
	msg := email.Notification()
	if !strings.Contains(msg, "Subject: (no subject)") || !strings.HasSuffix(msg, "…") {
		t.Fatalf("unexpected notification: %q", msg[:80])
	}
}
