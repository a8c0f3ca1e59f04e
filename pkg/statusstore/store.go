// Package statusstore implements the Redis-backed ephemeral cache for
// workflow and batch status (spec §4.2). It is best-effort: the durable
// execution engine remains the authoritative source, and every method here
// degrades to a returned error rather than ever failing a workflow.
package statusstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

const (
	workflowKeyPrefix = "workflow:status:"
	batchKeyPrefix    = "batch:"
)

// Store wraps a Redis client with the two namespaces spec §4.2 defines.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Config configures a Store.
type Config struct {
	Host       string
	Port       int
	Password   string
	TTLSeconds int
}

// New builds a Store. A TTLSeconds of 0 defaults to 24h per spec §3/§6.
func New(cfg Config) *Store {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
	})
	return &Store{client: client, ttl: ttl}
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports whether the store is currently reachable, used by the health
// endpoint and by callers deciding whether to skip best-effort writes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func workflowKey(workflowID string) string { return workflowKeyPrefix + workflowID }
func batchKey(batchID string) string       { return batchKeyPrefix + batchID }

// SetWorkflowStatus writes a WorkflowStatus with the store's configured TTL.
// Failures are returned, never panicked: callers per spec §4.2 must treat
// them as best-effort and proceed with the engine as the source of truth.
func (s *Store) SetWorkflowStatus(ctx context.Context, status pipeline.WorkflowStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal workflow status: %w", err)
	}
	return s.client.Set(ctx, workflowKey(status.WorkflowID), data, s.ttl).Err()
}

// GetWorkflowStatus reads a cached WorkflowStatus. ok is false on a cache
// miss (including when Redis is unreachable), in which case the caller
// falls back to the engine's authoritative state per spec §9.
func (s *Store) GetWorkflowStatus(ctx context.Context, workflowID string) (status pipeline.WorkflowStatus, ok bool) {
	data, err := s.client.Get(ctx, workflowKey(workflowID)).Bytes()
	if err != nil {
		return pipeline.WorkflowStatus{}, false
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return pipeline.WorkflowStatus{}, false
	}
	return status, true
}

// DeleteWorkflowStatus removes a cached WorkflowStatus.
func (s *Store) DeleteWorkflowStatus(ctx context.Context, workflowID string) error {
	return s.client.Del(ctx, workflowKey(workflowID)).Err()
}

// SetBatchRecord writes a BatchRecord with the store's configured TTL.
func (s *Store) SetBatchRecord(ctx context.Context, record pipeline.BatchRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal batch record: %w", err)
	}
	return s.client.Set(ctx, batchKey(record.BatchID), data, s.ttl).Err()
}

// GetBatchRecord reads a cached BatchRecord.
func (s *Store) GetBatchRecord(ctx context.Context, batchID string) (record pipeline.BatchRecord, ok bool) {
	data, err := s.client.Get(ctx, batchKey(batchID)).Bytes()
	if err != nil {
		return pipeline.BatchRecord{}, false
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return pipeline.BatchRecord{}, false
	}
	return record, true
}

// ScanBatchKeys returns every batch ID currently cached, enumerating them
// by key pattern without a database index. No caller in this repository
// uses it outside its own tests.
func (s *Store) ScanBatchKeys(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, batchKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(batchKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
