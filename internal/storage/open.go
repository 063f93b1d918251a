package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"courtbot/internal/campaign"
	logx "courtbot/pkg/logx"
)

// Store is the persistence API used by the app layer.
type Store interface {
	campaign.Persistence

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured driver. An empty driver means "memory".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := NormalizeDriver(cfg.Driver)
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "memory":
		return newMemStore(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(ctx, cfg, log)
	case "postgres":
		return openPostgres(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// NormalizeDriver folds aliases onto canonical driver names.
func NormalizeDriver(d string) string {
	switch d = strings.ToLower(strings.TrimSpace(d)); d {
	case "", "none", "mem":
		return "memory"
	case "sqlite3":
		return "sqlite"
	case "postgresql", "pg":
		return "postgres"
	default:
		return d
	}
}

// memStore wraps campaign.Memory and drops audit entries.
type memStore struct {
	*campaign.Memory
	dedup *dedupMap
}

func newMemStore() *memStore {
	return &memStore{Memory: campaign.NewMemory(campaign.Snapshot{Enabled: true}), dedup: newDedupMap()}
}

func (m *memStore) AppendAudit(context.Context, AuditEntry) error { return nil }

func (m *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	m.dedup.put(key, until)
	return nil
}

func (m *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	until, ok := m.dedup.get(key)
	return until, ok, nil
}

func (m *memStore) Close() error { return nil }
