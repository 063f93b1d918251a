package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"courtbot/internal/campaign"
	logx "courtbot/pkg/logx"
)

// redisStore keeps the snapshot as one JSON document so a save is a single
// SET inside MULTI/EXEC.
//
// Keys (prefix default "courtbot"):
//   - <prefix>:snapshot     string, JSON campaign.Snapshot
//   - <prefix>:audit        list, newest first, capped at AuditMax
//   - <prefix>:dedup:<key>  string with PX expiry
type redisStore struct {
	rdb      *redis.Client
	log      logx.Logger
	prefix   string
	auditMax int64
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout(cfg),
	})

	pctx, cancel := context.WithTimeout(ctx, dialTimeout(cfg))
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "courtbot"
	}
	auditMax := cfg.AuditMax
	if auditMax <= 0 {
		auditMax = 10000
	}
	return &redisStore{rdb: rdb, log: log, prefix: prefix, auditMax: auditMax}, nil
}

func (s *redisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *redisStore) LoadAll(ctx context.Context) (campaign.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, s.key("snapshot")).Bytes()
	if errors.Is(err, redis.Nil) {
		return campaign.Snapshot{Enabled: true}, nil
	}
	if err != nil {
		return campaign.Snapshot{}, err
	}
	var snap campaign.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return campaign.Snapshot{}, fmt.Errorf("%s: %w", s.key("snapshot"), err)
	}
	return snap, nil
}

func (s *redisStore) SaveAll(ctx context.Context, snap campaign.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("snapshot"), b, 0)
		p.Set(ctx, s.key("snapshot", "saved_at"), time.Now().UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	return err
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	k := s.key("audit")
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, k, b)
		p.LTrim(ctx, k, 0, s.auditMax-1)
		return nil
	})
	return err
}

func (s *redisStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, s.key("dedup", key), until.UnixMilli(), ttl).Err()
}

func (s *redisStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	ms, err := s.rdb.Get(ctx, s.key("dedup", key)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }
