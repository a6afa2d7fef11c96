// Package redisstore keeps job descriptors and results in Redis.
//
// Descriptors live under process:<id> as JSON and are indexed by a sorted set
// scored by creation time. Each result collection is one hash keyed by job id.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtr002/docjobs/internal/interfaces"
)

const defaultPrefix = "docjobs:"

type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ interfaces.Store = (*Store)(nil)

// New wraps an existing client. An empty prefix uses "docjobs:".
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Open parses a redis:// URL and returns a Store over a new client.
func Open(url, prefix string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return New(redis.NewClient(opt), prefix), nil
}

func (s *Store) Init(ctx context.Context) error {
	return s.Ping(ctx)
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, d *interfaces.Descriptor) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	d.LastUpdated = time.Now().UTC()

	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}

	tx := s.rdb.TxPipeline()
	tx.Set(ctx, s.processKey(d.ID), payload, 0)
	tx.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(d.CreatedAt.UnixMilli()), Member: d.ID})
	if _, err := tx.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put job: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*interfaces.Descriptor, error) {
	data, err := s.rdb.Get(ctx, s.processKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, err
	}
	var d interfaces.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetAll(ctx context.Context) ([]*interfaces.Descriptor, error) {
	return s.scan(ctx, func(*interfaces.Descriptor) bool { return true })
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tx := s.rdb.TxPipeline()
	tx.Del(ctx, s.processKey(id))
	tx.ZRem(ctx, s.indexKey(), id)
	if _, err := tx.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *Store) QueryActive(ctx context.Context, jobType interfaces.JobType) ([]*interfaces.Descriptor, error) {
	return s.scan(ctx, func(d *interfaces.Descriptor) bool {
		return d.Status.IsActive() && (jobType == "" || d.Type == jobType)
	})
}

// scan walks the index in creation order and decodes every descriptor.
func (s *Store) scan(ctx context.Context, keep func(*interfaces.Descriptor) bool) ([]*interfaces.Descriptor, error) {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.processKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}

	out := make([]*interfaces.Descriptor, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a record; Delete raced with scan
			continue
		}
		var d interfaces.Descriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, err
		}
		if keep(&d) {
			out = append(out, &d)
		}
	}
	return out, nil
}

func (s *Store) PutResult(ctx context.Context, r *interfaces.ResultRecord) error {
	if r == nil || r.ID == "" || r.Type == "" {
		return fmt.Errorf("result id and type are required")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.resultKey(r.Type), r.ID, payload).Err(); err != nil {
		return fmt.Errorf("failed to put result: %w", err)
	}
	return nil
}

func (s *Store) GetResults(ctx context.Context, jobType interfaces.JobType) ([]*interfaces.ResultRecord, error) {
	values, err := s.rdb.HGetAll(ctx, s.resultKey(jobType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	out := make([]*interfaces.ResultRecord, 0, len(values))
	for _, raw := range values {
		var r interfaces.ResultRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) DeleteResult(ctx context.Context, jobType interfaces.JobType, id string) error {
	if err := s.rdb.HDel(ctx, s.resultKey(jobType), id).Err(); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read job index: %w", err)
	}

	keys := make([]string, 0, len(ids)+len(interfaces.JobTypes)+1)
	for _, id := range ids {
		keys = append(keys, s.processKey(id))
	}
	keys = append(keys, s.indexKey())
	for _, jt := range interfaces.JobTypes {
		keys = append(keys, s.resultKey(jt))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) processKey(id string) string {
	return s.prefix + "process:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + interfaces.ProcessCollection
}

func (s *Store) resultKey(jt interfaces.JobType) string {
	return s.prefix + jt.ResultCollection()
}
