package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  notify_chats: ["-1001:7"]
logging:
  level: debug
  console: true
gateway:
  base_url: https://courts.example/api
  token: secret
  timeout: 10s
  rate_per_sec: 2.5
courts:
  first: 1
  last: 6
  timezone: Europe/Berlin
scheduler:
  lead_window_days: 7
  poll_schedule: 5m
  burst_schedule: "0 0 7 * * *"
burst:
  duration: 20s
  interval: 500ms
storage:
  driver: sqlite
  path: ./courtbot.db
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse("courtbot.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Courts.Last != 6 || cfg.Courts.Timezone != "Europe/Berlin" {
		t.Fatalf("courts = %+v", cfg.Courts)
	}
	if cfg.Gateway.RatePerSec != 2.5 || cfg.Gateway.Timeout != "10s" {
		t.Fatalf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Scheduler.BurstSchedule != "0 0 7 * * *" || cfg.Burst.Interval != "500ms" {
		t.Fatalf("scheduler/burst = %+v %+v", cfg.Scheduler, cfg.Burst)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Notifier != nil {
		t.Fatalf("omitted notifier section should stay nil")
	}
}

func TestParseStrict(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
		want string
	}{
		{"unknown yaml key", "c.yaml", "courts:\n  frist: 1\n", "unknown field"},
		{"unknown json key", "c.json", `{"bogus": true}`, "unknown field"},
		{"trailing json", "c.json", `{} {}`, "trailing data"},
		{"bad yaml", "c.yml", "courts: [", "yaml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.file, []byte(tc.data))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("zero default = %v %v", d, err)
	}
	if _, err := ParseDurationField("burst.interval", "-1s"); err == nil {
		t.Fatalf("negative should fail")
	}
	_, err := ParseDurationField("burst.interval", "soon")
	if err == nil || !strings.HasPrefix(err.Error(), "burst.interval:") {
		t.Fatalf("err = %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a, err := Parse("a.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, _ := Parse("b.yaml", []byte(sampleYAML))

	if sections, _ := SummarizeConfigChange(a, b); len(sections) != 0 {
		t.Fatalf("identical configs changed %v", sections)
	}

	b.Gateway.Token = "rotated"
	b.Storage.Driver = "redis"
	b.Scheduler.LeadWindowDays = 3
	sections, _ := SummarizeConfigChange(a, b)
	if strings.Join(sections, ",") != "gateway,scheduler,storage" {
		t.Fatalf("sections = %v", sections)
	}
	if !StorageChanged(sections) {
		t.Fatalf("storage change not flagged")
	}

	// An explicit notifier equal to the defaults is not a change.
	n := DefaultNotifier()
	c, _ := Parse("c.yaml", []byte(sampleYAML))
	c.Notifier = &n
	if sections, _ := SummarizeConfigChange(a, c); len(sections) != 0 {
		t.Fatalf("default notifier reported as %v", sections)
	}
}

func TestWatchPublishesValidatedChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courtbot.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Courts.Last < cfg.Courts.First {
			return os.ErrInvalid
		}
		return nil
	})
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Rejected by the validator: nothing published, old config kept.
	bad := strings.Replace(sampleYAML, "last: 6", "last: 0", 1)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-sub:
		t.Fatalf("rejected config published: %+v", cfg.Courts)
	default:
	}

	good := strings.Replace(sampleYAML, "last: 6", "last: 8", 1)
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-sub:
		if cfg.Courts.Last != 8 || m.Get().Courts.Last != 8 {
			t.Fatalf("published courts = %+v", cfg.Courts)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
