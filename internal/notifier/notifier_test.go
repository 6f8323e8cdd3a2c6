package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

func TestDeliverPostsWebhookPayload(t *testing.T) {
	t.Parallel()
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := New(Config{WebhookURL: srv.URL, Username: "Reminder Bot"}, logx.Nop())
	if err := s.Deliver(context.Background(), "hello", false); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got.Content != "hello" || got.Username != "Reminder Bot" {
		t.Fatalf("payload = %+v", got)
	}
	if got.AllowedMentions == nil || len(got.AllowedMentions.Parse) == 0 {
		t.Fatalf("allowed_mentions missing: %+v", got)
	}
}

func TestDeliverBroadcastPrefix(t *testing.T) {
	t.Parallel()
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		content = p.Content
	}))
	defer srv.Close()

	s := New(Config{WebhookURL: srv.URL}, logx.Nop())
	if err := s.Deliver(context.Background(), "digest body", true); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !strings.HasPrefix(content, "@everyone\n") {
		t.Fatalf("content = %q, want @everyone prefix", content)
	}
}

func TestDeliverTruncatesLongContent(t *testing.T) {
	t.Parallel()
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		content = p.Content
	}))
	defer srv.Close()

	s := New(Config{WebhookURL: srv.URL, RatePerSec: 10}, logx.Nop())

	// The limit counts characters, and the cut must land on a rune boundary
	// even for multi-byte content.
	if err := s.Deliver(context.Background(), strings.Repeat("⏰", maxContentLen+500), false); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if n := utf8.RuneCountInString(content); n != maxContentLen {
		t.Fatalf("rune count = %d, want %d", n, maxContentLen)
	}
	if !utf8.ValidString(content) {
		t.Fatal("truncation produced invalid UTF-8")
	}

	// Short content passes through untouched.
	if err := s.Deliver(context.Background(), "short", false); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if content != "short" {
		t.Fatalf("content = %q", content)
	}
}

func TestDeliverErrors(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if err := s.Deliver(context.Background(), "x", false); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s = New(Config{WebhookURL: srv.URL, Timeout: time.Second}, logx.Nop())
	if err := s.Deliver(context.Background(), "x", false); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}
