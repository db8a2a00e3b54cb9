package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rt-trace-monitor/internal/config"
	"rt-trace-monitor/internal/models"
	"rt-trace-monitor/internal/trace"
)

// RedisPublisher fans completed dumps and task statistics out to Redis so that
// other processes can follow the trace without reading the console sink.
type RedisPublisher struct {
	client     *redis.Client
	indexKey   string
	dumpPrefix string
	statsKey   string
	maxDumps   int64
	ttl        time.Duration
}

// NewRedisPublisher builds a publisher from config.
func NewRedisPublisher(cfg config.Config) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisPublisherWithClient(client, cfg.RedisMaxDumps, cfg.RedisDumpTTL)
}

// NewRedisPublisherWithClient uses an existing client. maxDumps <= 0 keeps the
// index unbounded; ttl <= 0 keeps per-dump keys forever.
func NewRedisPublisherWithClient(client *redis.Client, maxDumps int, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{
		client:     client,
		indexKey:   "trace:dumps",
		dumpPrefix: "trace:dump:",
		statsKey:   "trace:stats",
		maxDumps:   int64(maxDumps),
		ttl:        ttl,
	}
}

func (p *RedisPublisher) metaKey(id string) string {
	return p.dumpPrefix + id
}

func (p *RedisPublisher) linesKey(id string) string {
	return p.dumpPrefix + id + ":lines"
}

// Archive stores the dump's metadata and rendered lines and pushes its id onto
// the index, newest first.
func (p *RedisPublisher) Archive(ctx context.Context, dump models.Dump) error {
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.metaKey(dump.ID),
		"trigger", string(dump.Trigger),
		"started_ms", dump.StartedMS,
		"finished_ms", dump.FinishedMS,
		"records", len(dump.Records),
	)
	if len(dump.Records) > 0 {
		lines := make([]any, 0, len(dump.Records))
		for _, r := range dump.Records {
			lines = append(lines, trace.FormatRecord(r))
		}
		pipe.RPush(ctx, p.linesKey(dump.ID), lines...)
	}
	if p.ttl > 0 {
		pipe.Expire(ctx, p.metaKey(dump.ID), p.ttl)
		pipe.Expire(ctx, p.linesKey(dump.ID), p.ttl)
	}
	pipe.LPush(ctx, p.indexKey, dump.ID)
	if p.maxDumps > 0 {
		pipe.LTrim(ctx, p.indexKey, 0, p.maxDumps-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish dump %s: %w", dump.ID, err)
	}
	return nil
}

// PublishStats replaces each task's entry in the stats hash.
func (p *RedisPublisher) PublishStats(ctx context.Context, stats []models.TaskStats) error {
	if len(stats) == 0 {
		return nil
	}
	values := make([]any, 0, 2*len(stats))
	for _, st := range stats {
		raw, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal stats for task %d: %w", st.TaskID, err)
		}
		values = append(values, strconv.FormatUint(uint64(st.TaskID), 10), string(raw))
	}
	return p.client.HSet(ctx, p.statsKey, values...).Err()
}

// LoadStats reads back every task's last published statistics ordered by id.
func (p *RedisPublisher) LoadStats(ctx context.Context) ([]models.TaskStats, error) {
	raw, err := p.client.HGetAll(ctx, p.statsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	out := make([]models.TaskStats, 0, len(raw))
	for field, v := range raw {
		var st models.TaskStats
		if err := json.Unmarshal([]byte(v), &st); err != nil {
			return nil, fmt.Errorf("decode stats for task %s: %w", field, err)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

// Recent returns up to n dump ids, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return p.client.LRange(ctx, p.indexKey, 0, n-1).Result()
}

// Summary reads a dump's metadata.
func (p *RedisPublisher) Summary(ctx context.Context, id string) (models.DumpSummary, error) {
	vals, err := p.client.HGetAll(ctx, p.metaKey(id)).Result()
	if err != nil {
		return models.DumpSummary{}, err
	}
	if len(vals) == 0 {
		return models.DumpSummary{}, fmt.Errorf("dump %s: %w", id, models.ErrNotFound)
	}
	s := models.DumpSummary{ID: id, Trigger: models.Trigger(vals["trigger"])}
	s.StartedMS, _ = strconv.ParseInt(vals["started_ms"], 10, 64)
	s.FinishedMS, _ = strconv.ParseInt(vals["finished_ms"], 10, 64)
	s.Records, _ = strconv.Atoi(vals["records"])
	return s, nil
}

// RecentDumps returns summaries of the newest dumps still held in Redis.
func (p *RedisPublisher) RecentDumps(ctx context.Context, limit int) ([]models.DumpSummary, error) {
	ids, err := p.Recent(ctx, int64(limit))
	if err != nil {
		return nil, err
	}
	out := make([]models.DumpSummary, 0, len(ids))
	for _, id := range ids {
		s, err := p.Summary(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			// Expired before the index was trimmed.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Lines returns the rendered records of a dump in buffer order.
func (p *RedisPublisher) Lines(ctx context.Context, id string) ([]string, error) {
	return p.client.LRange(ctx, p.linesKey(id), 0, -1).Result()
}

// DumpRecords parses a dump's lines back into records.
func (p *RedisPublisher) DumpRecords(ctx context.Context, id string) ([]models.EventRecord, error) {
	n, err := p.client.Exists(ctx, p.metaKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("dump %s: %w", id, models.ErrNotFound)
	}
	lines, err := p.Lines(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]models.EventRecord, 0, len(lines))
	for i, line := range lines {
		r, err := trace.ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("dump %s line %d: %w", id, i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
