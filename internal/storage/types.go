package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("item not found")

// Config configures the SQLite item store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
