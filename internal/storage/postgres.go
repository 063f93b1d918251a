package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courtbot/internal/booking"
	"courtbot/internal/campaign"
	logx "courtbot/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS courtbot_targets (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	date         TEXT NOT NULL,
	start        TEXT NOT NULL,
	duration_min INTEGER NOT NULL,
	court_id     INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS courtbot_settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS courtbot_audit (
	id             BIGSERIAL PRIMARY KEY,
	at             TIMESTAMPTZ NOT NULL,
	request_id     TEXT,
	actor_id       BIGINT NOT NULL DEFAULT 0,
	actor_username TEXT,
	chat_id        BIGINT NOT NULL DEFAULT 0,
	source         TEXT NOT NULL,
	action         TEXT NOT NULL,
	target_id      TEXT,
	detail         TEXT,
	err            TEXT
);
CREATE TABLE IF NOT EXISTS courtbot_dedup (
	key   TEXT PRIMARY KEY,
	until TIMESTAMPTZ NOT NULL
);`

var targetColumns = []string{"id", "kind", "date", "start", "duration_min", "court_id", "created_at"}

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConnLifetime = 5 * time.Minute
	pcfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, dialTimeout(cfg))
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) LoadAll(ctx context.Context) (campaign.Snapshot, error) {
	snap := campaign.Snapshot{Enabled: true}

	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM courtbot_settings WHERE key = $1`, settingEnabled).Scan(&v)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return campaign.Snapshot{}, err
	default:
		snap.Enabled = v == "1"
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, date, start, duration_min, court_id, created_at FROM courtbot_targets ORDER BY created_at, id`)
	if err != nil {
		return campaign.Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t    booking.Target
			kind string
		)
		if err := rows.Scan(&t.ID, &kind, &t.Date, &t.Start, &t.DurationMin, &t.CourtID, &t.CreatedAt); err != nil {
			return campaign.Snapshot{}, err
		}
		t.Kind = booking.Kind(kind)
		t.CreatedAt = t.CreatedAt.UTC()
		snap.Targets = append(snap.Targets, t)
	}
	return snap, rows.Err()
}

// SaveAll truncates and copies the targets inside one transaction.
func (s *postgresStore) SaveAll(ctx context.Context, snap campaign.Snapshot) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM courtbot_targets`); err != nil {
		return err
	}
	rows := make([][]any, 0, len(snap.Targets))
	for _, t := range snap.Targets {
		rows = append(rows, []any{t.ID, string(t.Kind), t.Date, t.Start, t.DurationMin, t.CourtID, t.CreatedAt.UTC()})
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"courtbot_targets"}, targetColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy targets: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO courtbot_settings(key, value) VALUES($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		settingEnabled, boolText(snap.Enabled)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO courtbot_audit(at, request_id, actor_id, actor_username, chat_id, source, action, target_id, detail, err)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.At.UTC(), nullStr(e.RequestID), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Source, e.Action, nullStr(e.TargetID), nullStr(e.Detail), nullStr(e.Error),
	)
	return err
}

func (s *postgresStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO courtbot_dedup(key, until) VALUES($1, $2) ON CONFLICT (key) DO UPDATE SET until = EXCLUDED.until`,
		key, until.UTC())
	return err
}

func (s *postgresStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if strings.TrimSpace(key) == "" {
		return time.Time{}, false, nil
	}
	var until time.Time
	err := s.pool.QueryRow(ctx, `SELECT until FROM courtbot_dedup WHERE key = $1`, key).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return until, true, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func dialTimeout(cfg Config) time.Duration {
	if cfg.DialTimeout > 0 {
		return cfg.DialTimeout
	}
	return 5 * time.Second
}
