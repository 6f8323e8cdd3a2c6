package storage

import (
	"context"
	"time"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

// Store is the item persistence API. The reminder core only uses the read
// side (ListPending); the HTTP layer owns mutations.
type Store interface {
	Create(ctx context.Context, it item.Item) (item.Item, error)
	Get(ctx context.Context, id string) (item.Item, error)
	List(ctx context.Context) ([]item.Item, error)
	ListPending(ctx context.Context) ([]item.Item, error)
	Search(ctx context.Context, kind item.Kind, term string) ([]item.Item, error)
	Update(ctx context.Context, it item.Item) error
	SetStatus(ctx context.Context, id string, st item.Status) error
	Delete(ctx context.Context, id string) error
	PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// Open initializes the SQLite store at cfg.Path, creating it (and its
// schema) on first use.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
