// Package vector indexes coaching history for semantic retrieval. Entries
// carry an embedding when an Embedder is configured; search falls back to
// keyword matching when embeddings are unavailable, so retrieval degrades
// instead of failing.
package vector

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// MaxMetadataBytes bounds the serialized metadata per entry. Oversized
// metadata is a caller bug, not something to silently truncate.
const MaxMetadataBytes = 40960

const defaultSearchLimit = 10

const queryCacheSize = 256

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entry is one indexed history record.
type Entry struct {
	ID         int64          `json:"id"`
	UserID     string         `json:"user_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Similarity float64        `json:"similarity,omitempty"`
}

// Index is a sqlite-backed history index.
type Index struct {
	db       *sql.DB
	embedder Embedder
	log      *zap.Logger

	mu         sync.RWMutex
	queryCache *lru.Cache[string, []Entry]
}

// Open opens (or creates) the index at path. Use ":memory:" for an
// ephemeral index. The embedder may be nil; search then runs keyword-only.
func Open(path string, embedder Embedder, log *zap.Logger) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("vector: path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("vector: open index: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL,
  content TEXT NOT NULL,
  metadata TEXT NOT NULL DEFAULT '{}',
  embedding BLOB,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_history_user ON history (user_id);
`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vector: ensure schema: %w", err)
	}
	cache, err := lru.New[string, []Entry](queryCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db, embedder: embedder, log: log, queryCache: cache}, nil
}

func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// Store indexes one history record. Embedding failure is logged and the
// record is stored without one; it stays reachable via keyword search.
func (ix *Index) Store(ctx context.Context, userID, content string, metadata map[string]any) error {
	if ix == nil {
		return fmt.Errorf("vector: index is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("vector: user_id is required")
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("vector: content is required")
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("vector: marshal metadata: %w", err)
	}
	if len(metaJSON) > MaxMetadataBytes {
		return fmt.Errorf("vector: metadata is %d bytes, limit %d", len(metaJSON), MaxMetadataBytes)
	}

	var blob []byte
	if ix.embedder != nil {
		emb, err := ix.embedder.Embed(ctx, content)
		if err != nil {
			ix.log.Warn("embedding failed, storing without vector", zap.Error(err))
		} else {
			blob = encodeFloat32SliceToBlob(emb)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err = ix.db.ExecContext(ctx,
		`INSERT INTO history (user_id, content, metadata, embedding) VALUES (?, ?, ?, ?)`,
		userID, content, string(metaJSON), blob)
	if err != nil {
		return fmt.Errorf("vector: store entry: %w", err)
	}
	ix.queryCache.Purge()
	return nil
}

// Search returns the user's closest history entries. With an embedder it
// ranks by cosine similarity; without one, or when the semantic path fails,
// it falls back to keyword matching.
func (ix *Index) Search(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	if ix == nil {
		return nil, fmt.Errorf("vector: index is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("vector: user_id is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	cacheKey := fmt.Sprintf("%s\x00%s\x00%d", userID, query, limit)
	if cached, ok := ix.queryCache.Get(cacheKey); ok {
		return cached, nil
	}

	var (
		entries []Entry
		err     error
	)
	if ix.embedder != nil {
		entries, err = ix.searchSemantic(ctx, userID, query, limit)
		if err != nil {
			ix.log.Warn("semantic search failed, falling back to keywords", zap.Error(err))
			entries, err = ix.searchKeyword(ctx, userID, query, limit)
		}
	} else {
		entries, err = ix.searchKeyword(ctx, userID, query, limit)
	}
	if err != nil {
		return nil, err
	}
	ix.queryCache.Add(cacheKey, entries)
	return entries, nil
}

func (ix *Index) searchSemantic(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	emb, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryBlob := encodeFloat32SliceToBlob(emb)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rows, err := ix.db.QueryContext(ctx, `
SELECT id, user_id, content, metadata, created_at,
  vec_distance_cosine(embedding, ?) AS distance
FROM history
WHERE user_id = ? AND embedding IS NOT NULL
ORDER BY distance ASC
LIMIT ?`, queryBlob, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metaJSON string
		var distance float64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &metaJSON, &e.CreatedAt, &distance); err != nil {
			continue
		}
		// Cosine distance is 1 - similarity.
		e.Similarity = 1.0 - distance
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (ix *Index) searchKeyword(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(keywords))
	args := []any{userID}
	for _, kw := range keywords {
		conditions = append(conditions, "LOWER(content) LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	args = append(args, limit)

	sqlQuery := fmt.Sprintf(`
SELECT id, user_id, content, metadata, created_at FROM history
WHERE user_id = ? AND (%s)
ORDER BY created_at DESC LIMIT ?`, strings.Join(conditions, " OR "))

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rows, err := ix.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metaJSON string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &metaJSON, &e.CreatedAt); err != nil {
			continue
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func encodeFloat32SliceToBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}
