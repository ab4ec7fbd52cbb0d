package embedding

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Cache is an Embedder decorator that stores vectors in a local SQLite file keyed by
// the SHA-256 of model and text.
type Cache struct {
	db     *sql.DB
	next   Embedder
	model  string
	logger *zap.Logger
}

// OpenCache opens (or creates) the cache database at path.
func OpenCache(path, model string, next Embedder, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("embedding cache: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS embeddings (
		key        TEXT PRIMARY KEY,
		vector     BLOB NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("embedding cache: init schema: %w", err)
	}
	return &Cache{db: db, next: next, model: model, logger: logger}, nil
}

// EmbedBatch returns cached vectors and embeds only the misses, preserving input order.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, t := range texts {
		keys[i] = c.key(t)
		vec, err := c.get(ctx, keys[i])
		if err != nil {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		if vec != nil {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) > 0 {
		vectors, err := c.next.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(missTexts) {
			return nil, fmt.Errorf("%w: got %d for %d", ErrLengthMismatch, len(vectors), len(missTexts))
		}
		for j, i := range missIdx {
			out[i] = vectors[j]
			if err := c.put(ctx, keys[i], vectors[j]); err != nil {
				c.logger.Warn("embedding cache write failed", zap.Error(err))
			}
		}
	}
	c.logger.Debug("embedded batch", zap.Int("texts", len(texts)), zap.Int("cache_misses", len(missTexts)))
	return out, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) get(ctx context.Context, key string) ([]float32, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeVector(blob)
}

func (c *Cache) put(ctx context.Context, key string, vec []float32) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO embeddings (key, vector) VALUES (?, ?)`, key, encodeVector(vec))
	return err
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
