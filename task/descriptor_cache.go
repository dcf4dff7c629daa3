package task

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DescriptorKey derives the descriptor cache's lookup key from a source's
// identity: a worker that loses the broker-chained predictor payload before
// Transcode runs can recompute this key and look up the Aggregator's output
// without re-analyzing the source.
func DescriptorKey(sourceFile string, sourceSize int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sourceFile, sourceSize)))
	return hex.EncodeToString(sum[:])
}

// DescriptorCache persists the Aggregator's descriptor row, keyed by
// DescriptorKey, so it can be recomputed from if the Transcode stage never
// receives it directly. It is optional infrastructure: a cache miss is not
// an error, just a signal to re-run Analyze.
type DescriptorCache interface {
	Put(ctx context.Context, key string, descriptor map[string]float64) error
	Get(ctx context.Context, key string) (map[string]float64, bool, error)
}

// PostgresDescriptorCache stores descriptors as JSON in a side table.
type PostgresDescriptorCache struct {
	db *sql.DB
}

func NewPostgresDescriptorCache(db *sql.DB) *PostgresDescriptorCache {
	return &PostgresDescriptorCache{db: db}
}

func (c *PostgresDescriptorCache) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS descriptor_cache (
			key TEXT PRIMARY KEY,
			descriptor JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create descriptor_cache table: %w", err)
	}
	return nil
}

func (c *PostgresDescriptorCache) Put(ctx context.Context, key string, descriptor map[string]float64) error {
	data, err := json.Marshal(descriptor)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO descriptor_cache (key, descriptor) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET descriptor = EXCLUDED.descriptor`,
		key, data)
	if err != nil {
		return fmt.Errorf("failed to persist descriptor cache entry %q: %w", key, err)
	}
	return nil
}

func (c *PostgresDescriptorCache) Get(ctx context.Context, key string) (map[string]float64, bool, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT descriptor FROM descriptor_cache WHERE key = $1`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read descriptor cache entry %q: %w", key, err)
	}
	var descriptor map[string]float64
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal descriptor cache entry %q: %w", key, err)
	}
	return descriptor, true, nil
}
