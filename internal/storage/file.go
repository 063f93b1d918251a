package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"courtbot/internal/campaign"
	logx "courtbot/pkg/logx"
)

// fileStore keeps everything next to Path.
//
// Files:
//   - <prefix>.targets.json       (snapshot, replaced by rename)
//   - <prefix>.audit.jsonl        (append-only JSON Lines)
//   - <prefix>.dedup.journal.jsonl (append-only, compacted on open)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	auditFile    *os.File
	journalPath  string
	journalFile  *os.File

	dedup       *dedupMap
	dedupWrites int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".targets.json",
		auditFile:    af,
		journalPath:  prefix + ".dedup.journal.jsonl",
		dedup:        newDedupMap(),
	}
	if err := replayDedupJournal(s.journalPath, s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup journal unreadable, starting empty", logx.Err(err))
	}
	if err := s.compactLocked(); err != nil {
		_ = af.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) LoadAll(ctx context.Context) (campaign.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return campaign.Snapshot{Enabled: true}, nil
	}
	if err != nil {
		return campaign.Snapshot{}, err
	}
	var snap campaign.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return campaign.Snapshot{}, fmt.Errorf("%s: %w", s.snapshotPath, err)
	}
	return snap, nil
}

// SaveAll writes a temp file, syncs it and renames it over the snapshot.
func (s *fileStore) SaveAll(ctx context.Context, snap campaign.Snapshot) error {
	_ = ctx
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	if !s.dedup.put(key, until) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("dedup journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(dedupRecord{Key: strings.TrimSpace(key), Until: until.UnixMilli()}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	until, ok := s.dedup.get(key)
	return until, ok, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.journalFile != nil {
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	return errors.Join(errs...)
}

// compactLocked rewrites the journal with live keys only and reopens it
// for appending.
func (s *fileStore) compactLocked() error {
	live := s.dedup.prune(time.Now())

	tmp := s.journalPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for k, v := range live {
		if err := enc.Encode(dedupRecord{Key: k, Until: v}); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if s.journalFile != nil {
		_ = s.journalFile.Close()
		s.journalFile = nil
	}
	if err := os.Rename(tmp, s.journalPath); err != nil {
		return err
	}
	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.journalFile = jf
	return nil
}

func replayDedupJournal(path string, out *dedupMap) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out.put(r.Key, time.UnixMilli(r.Until))
	}
	return sc.Err()
}
