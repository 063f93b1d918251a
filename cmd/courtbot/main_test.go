package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := `telegram:
  token: "123:abc"
  owner_user_ids: [42]
gateway:
  base_url: "https://courts.example/api"
courts:
  first: 1
  last: 4
  timezone: "UTC"
scheduler:
  lead_window_days: 7
storage:
  driver: file
  path: "` + filepath.Join(dir, "state.json") + `"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigCheck(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	out, err := execute(t, "--config", cfg, "config", "check")
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Fatalf("output = %q", out)
	}
}

func TestConfigCheckRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("telegram:\n  token: \"\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execute(t, "--config", path, "config", "check"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestTargetsAddListRemove(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	out, err := execute(t, "-c", cfg, "targets", "add", "--kind", "burst", "--date", "2099-01-02", "--start", "18:00", "--court", "3")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.HasPrefix(out, "added ") {
		t.Fatalf("add output = %q", out)
	}
	short := strings.Fields(out)[1]

	out, err = execute(t, "-c", cfg, "targets", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, short) || !strings.Contains(out, "burst") {
		t.Fatalf("list output = %q", out)
	}

	if _, err := execute(t, "-c", cfg, "targets", "rm", short); err != nil {
		t.Fatalf("remove: %v", err)
	}
	out, err = execute(t, "-c", cfg, "targets", "ls")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out, short) {
		t.Fatalf("target still listed: %q", out)
	}
}

func TestTargetsAddBurstNeedsCourt(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	_, err := execute(t, "-c", cfg, "targets", "add", "--kind", "burst", "--date", "2099-01-02", "--start", "18:00")
	if err == nil || !strings.Contains(err.Error(), "--court") {
		t.Fatalf("err = %v", err)
	}
}
