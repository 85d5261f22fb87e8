package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const loadCacheSize = 1024

// KV is the partitioned key-value store. With a DSN it runs on Postgres;
// without one it keeps everything in memory, which is what tests and local
// development use.
type KV struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error

	mu    sync.RWMutex
	items map[string]Item

	loadCache *lru.Cache[string, Item]
}

// NewMemory returns an in-memory KV with Postgres semantics.
func NewMemory() *KV {
	return &KV{items: make(map[string]Item)}
}

// NewPostgres opens a Postgres-backed KV and verifies connectivity.
func NewPostgres(dsn string) (*KV, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, Item](loadCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &KV{db: db, loadCache: cache}, nil
}

func (s *KV) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *KV) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS coach_items (
  pk TEXT NOT NULL,
  sk TEXT NOT NULL,
  body JSONB NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
  PRIMARY KEY (pk, sk)
);
CREATE INDEX IF NOT EXISTS idx_coach_items_pk ON coach_items (pk);
`)
	})
	return s.schemaErr
}

// Save upserts one item. The body must be valid JSON.
func (s *KV) Save(ctx context.Context, pk, sk string, body json.RawMessage) error {
	if s == nil {
		return fmt.Errorf("store: kv is nil")
	}
	pk = strings.TrimSpace(pk)
	sk = strings.TrimSpace(sk)
	if pk == "" || sk == "" {
		return fmt.Errorf("store: pk and sk are required")
	}
	if !json.Valid(body) {
		return fmt.Errorf("store: body is not valid JSON")
	}

	if s.db == nil {
		s.mu.Lock()
		s.items[pk+"\x00"+sk] = Item{PK: pk, SK: sk, Body: append(json.RawMessage(nil), body...), UpdatedAt: time.Now().UTC()}
		s.mu.Unlock()
		return nil
	}

	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO coach_items (pk, sk, body, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (pk, sk)
DO UPDATE SET body=EXCLUDED.body, updated_at=NOW()`, pk, sk, []byte(body))
	if err != nil {
		return err
	}
	if s.loadCache != nil {
		s.loadCache.Remove(pk + "\x00" + sk)
	}
	return nil
}

// Load fetches one item, or ErrNotFound.
func (s *KV) Load(ctx context.Context, pk, sk string) (Item, error) {
	if s == nil {
		return Item{}, fmt.Errorf("store: kv is nil")
	}
	pk = strings.TrimSpace(pk)
	sk = strings.TrimSpace(sk)
	if pk == "" || sk == "" {
		return Item{}, fmt.Errorf("store: pk and sk are required")
	}

	if s.db == nil {
		s.mu.RLock()
		it, ok := s.items[pk+"\x00"+sk]
		s.mu.RUnlock()
		if !ok {
			return Item{}, ErrNotFound
		}
		return it, nil
	}

	if err := s.ensureSchema(ctx); err != nil {
		return Item{}, fmt.Errorf("store: ensure schema: %w", err)
	}
	cacheKey := pk + "\x00" + sk
	if s.loadCache != nil {
		if cached, ok := s.loadCache.Get(cacheKey); ok {
			return cached, nil
		}
	}
	row := s.db.QueryRowContext(ctx, `SELECT pk, sk, body, updated_at
FROM coach_items WHERE pk = $1 AND sk = $2`, pk, sk)
	var it Item
	var body []byte
	if err := row.Scan(&it.PK, &it.SK, &body, &it.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	it.Body = body
	if s.loadCache != nil {
		s.loadCache.Add(cacheKey, it)
	}
	return it, nil
}

// Query returns every item in the partition whose sort key starts with
// skPrefix, ordered by sort key. An empty prefix returns the whole partition.
func (s *KV) Query(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	if s == nil {
		return nil, fmt.Errorf("store: kv is nil")
	}
	pk = strings.TrimSpace(pk)
	if pk == "" {
		return nil, fmt.Errorf("store: pk is required")
	}

	if s.db == nil {
		s.mu.RLock()
		out := make([]Item, 0, 16)
		for _, it := range s.items {
			if it.PK == pk && strings.HasPrefix(it.SK, skPrefix) {
				out = append(out, it)
			}
		}
		s.mu.RUnlock()
		sort.Slice(out, func(i, j int) bool { return out[i].SK < out[j].SK })
		return out, nil
	}

	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT pk, sk, body, updated_at
FROM coach_items WHERE pk = $1 AND sk LIKE $2 || '%' ORDER BY sk`, pk, skPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Item, 0, 16)
	for rows.Next() {
		var it Item
		var body []byte
		if err := rows.Scan(&it.PK, &it.SK, &body, &it.UpdatedAt); err != nil {
			return nil, err
		}
		it.Body = body
		out = append(out, it)
	}
	return out, rows.Err()
}

// Delete removes one item. Deleting a missing item is not an error.
func (s *KV) Delete(ctx context.Context, pk, sk string) error {
	if s == nil {
		return fmt.Errorf("store: kv is nil")
	}
	pk = strings.TrimSpace(pk)
	sk = strings.TrimSpace(sk)
	if pk == "" || sk == "" {
		return fmt.Errorf("store: pk and sk are required")
	}

	if s.db == nil {
		s.mu.Lock()
		delete(s.items, pk+"\x00"+sk)
		s.mu.Unlock()
		return nil
	}

	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM coach_items WHERE pk = $1 AND sk = $2`, pk, sk)
	if err == nil && s.loadCache != nil {
		s.loadCache.Remove(pk + "\x00" + sk)
	}
	return err
}
