// Package notifier implements the outbound notification port over a Discord
// incoming webhook. Delivery is best-effort and at-most-once: failures are
// reported to the caller for logging, never retried here.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

// Discord rejects message content above this length, counted in characters,
// not bytes.
const maxContentLen = 2000

type Config struct {
	WebhookURL string
	Username   string // optional display-name override
	RatePerSec int    // 0 means a conservative default
	Timeout    time.Duration
}

type Service struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (s *Service) Enabled() bool {
	return strings.TrimSpace(s.cfg.WebhookURL) != ""
}

// webhookPayload is the "execute webhook" request body.
type webhookPayload struct {
	Content         string           `json:"content"`
	Username        string           `json:"username,omitempty"`
	AllowedMentions *allowedMentions `json:"allowed_mentions,omitempty"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// Deliver posts text to the notifications channel. broadcast=true prepends
// @everyone, mirroring how manual bot announcements address the channel.
func (s *Service) Deliver(ctx context.Context, text string, broadcast bool) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	content := text
	if broadcast {
		content = "@everyone\n" + content
	}
	content = truncateRunes(content, maxContentLen)

	body, err := json.Marshal(webhookPayload{
		Content:         content,
		Username:        s.cfg.Username,
		AllowedMentions: &allowedMentions{Parse: []string{"everyone", "users"}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post: unexpected status %s", resp.Status)
	}
	return nil
}

// truncateRunes cuts on a rune boundary. The digest and reminder texts are
// emoji-heavy, so a byte slice could split a rune and produce invalid UTF-8.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
