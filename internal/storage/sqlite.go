package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/item"
	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const itemColumns = "id, type, name, due_date, status, mention, repeat_interval, category, notes, priority, color"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, it item.Item) (item.Item, error) {
	it = it.Normalize()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (type, name, due_date, status, mention, repeat_interval, category, notes, priority, color)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.Kind, it.Name, it.Due, it.Status, it.Mention, it.Repeat, it.Category, it.Notes, it.Priority, it.Color,
	)
	if err != nil {
		return item.Item{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return item.Item{}, err
	}
	it.ID = strconv.FormatInt(id, 10)
	return it, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (item.Item, error) {
	n, err := parseID(id)
	if err != nil {
		return item.Item{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, n)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item.Item{}, ErrNotFound
	}
	return it, err
}

func (s *sqliteStore) List(ctx context.Context) ([]item.Item, error) {
	return s.query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY due_date ASC`)
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]item.Item, error) {
	return s.query(ctx, `SELECT `+itemColumns+` FROM items WHERE status = 'pending' ORDER BY due_date ASC`)
}

func (s *sqliteStore) Search(ctx context.Context, kind item.Kind, term string) ([]item.Item, error) {
	pattern := "%" + strings.TrimSpace(term) + "%"
	if kind == "" {
		return s.query(ctx,
			`SELECT `+itemColumns+` FROM items
			 WHERE name LIKE ? OR category LIKE ? OR notes LIKE ?
			 ORDER BY due_date ASC`, pattern, pattern, pattern)
	}
	return s.query(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE type = ? AND (name LIKE ? OR category LIKE ? OR notes LIKE ?)
		 ORDER BY due_date ASC`, kind, pattern, pattern, pattern)
}

func (s *sqliteStore) Update(ctx context.Context, it item.Item) error {
	n, err := parseID(it.ID)
	if err != nil {
		return ErrNotFound
	}
	it = it.Normalize()
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET type=?, name=?, due_date=?, status=?, mention=?, repeat_interval=?,
		        category=?, notes=?, priority=?, color=?, updated_at=CURRENT_TIMESTAMP
		 WHERE id=?`,
		it.Kind, it.Name, it.Due, it.Status, it.Mention, it.Repeat, it.Category, it.Notes, it.Priority, it.Color, n,
	)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *sqliteStore) SetStatus(ctx context.Context, id string, st item.Status) error {
	n, err := parseID(id)
	if err != nil {
		return ErrNotFound
	}
	if st != item.StatusPending && st != item.StatusCompleted {
		return fmt.Errorf("invalid status %q", st)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, st, n)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id=?`, n)
	if err != nil {
		return err
	}
	return requireRows(res)
}

// PruneCompleted drops completed items whose last update is older than the
// retention window.
func (s *sqliteStore) PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE status = 'completed' AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]item.Item, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (item.Item, error) {
	var it item.Item
	var id int64
	err := r.Scan(&id, &it.Kind, &it.Name, &it.Due, &it.Status, &it.Mention,
		&it.Repeat, &it.Category, &it.Notes, &it.Priority, &it.Color)
	if err != nil {
		return item.Item{}, err
	}
	it.ID = strconv.FormatInt(id, 10)
	return it, nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid item id %q", id)
	}
	return n, nil
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
