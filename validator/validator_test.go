package validator

import (
	"errors"
	"testing"
)

type profile struct {
	Personality string `json:"personality" validate:"max=10" error_msg:"max:personality too long"`
}

type createRequest struct {
	UserID   int64    `json:"user_id" validate:"required,gt=0" error_msg:"required:user_id is required|gt:user_id must be positive"`
	BotToken string   `json:"bot_token" validate:"required,contains=:"`
	Model    string   `json:"model,omitempty" validate:"omitempty,oneof=llama mixtral"`
	Profile  *profile `json:"profile"`
}

func TestValidateCustomMessages(t *testing.T) {
	t.Parallel()
	v := New()

	err := v.Validate(&createRequest{Model: "gpt", Profile: &profile{Personality: "far too long for this"}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}

	if got := verr.Get("user_id"); len(got) != 1 || got[0] != "user_id is required" {
		t.Fatalf("unexpected user_id errors: %v", got)
	}
	if got := verr.Get("bot_token"); len(got) != 1 {
		t.Fatalf("expected default bot_token message, got %v", got)
	}
	if got := verr.Get("model"); len(got) != 1 {
		t.Fatalf("expected model error, got %v", got)
	}
	if got := verr.Get("profile.personality"); len(got) != 1 || got[0] != "personality too long" {
		t.Fatalf("unexpected nested errors: %v (all: %v)", got, verr.Errors)
	}
}

func TestValidateCachedMessagesStable(t *testing.T) {
	t.Parallel()
	v := New()

	for i := 0; i < 3; i++ {
		err := v.Validate(createRequest{UserID: -1, BotToken: "1:abc"})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if got := verr.Get("user_id"); len(got) != 1 || got[0] != "user_id must be positive" {
			t.Fatalf("run %d: unexpected message: %v", i, got)
		}
	}
}

func TestValidatePasses(t *testing.T) {
	t.Parallel()
	if err := New().Validate(&createRequest{UserID: 42, BotToken: "123:abc", Model: "llama"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := New().Validate(nil); err != nil {
		t.Fatalf("nil should pass: %v", err)
	}
}
