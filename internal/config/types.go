package config

// Config is the full daemon configuration, decoded strictly from JSON or
// YAML (unknown keys are rejected so typos surface early).
//
// All duration fields are Go duration strings (e.g. "30m", "6h").
type Config struct {
	Discord  DiscordConfig     `json:"discord"`
	HTTP     HTTPConfig        `json:"http"`
	Logging  LoggingConfig     `json:"logging"`
	Storage  StorageConfig     `json:"storage"`
	Reminder ReminderConfig    `json:"reminder"`
	Mentions map[string]string `json:"mentions,omitempty"` // screen name -> Discord user id
}

// DiscordConfig points at the notifications channel's incoming webhook.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:5000"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ReminderConfig controls the scheduling core.
//
// Defaults (when fields are omitted/zero):
//   - lead: "30m"
//   - lookahead: "720h" (30 days)
//   - digest_at: "08:00"
//   - refresh_every: "6h"
//   - prune_after: "2160h" (90 days)
//   - workers: 1
//   - queue_size: 64
type ReminderConfig struct {
	Lead         string `json:"lead,omitempty"`
	Lookahead    string `json:"lookahead,omitempty"`
	DigestAt     string `json:"digest_at,omitempty"` // HH:MM local
	RefreshEvery string `json:"refresh_every,omitempty"`
	PruneAfter   string `json:"prune_after,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
}
