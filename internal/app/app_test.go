package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"missionline/internal/domain"
)

func TestOpenUsesDefaultsWithoutConfig(t *testing.T) {
	a, err := Open(Options{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Config.Maintenance.InactivityDays != 28 || a.Local == nil {
		t.Fatalf("unexpected app %+v", a.Config.Maintenance)
	}
	c, err := a.Engine.AddCarrier(context.Background(), domain.Carrier{
		LongName: "P.T.N. Hot Pocket", ShortName: "hotpocket", Code: "H0T-P0K", OwnerID: "owner-1", ChannelName: "hotpocket",
	}, "admin")
	if err != nil {
		t.Fatalf("add carrier: %v", err)
	}
	if _, err := a.Repo.GetCarrier(context.Background(), c.ID); err != nil {
		t.Fatalf("carrier not stored: %v", err)
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "missionline.yml"), []byte("guild: fleet\ntimeouts:\n  lock_seconds: 7\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := Open(Options{Workspace: ws})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Config.Guild != "fleet" || a.Config.Timeouts.LockSeconds != 7 || a.Config.Timeouts.UploadSeconds != 30 {
		t.Fatalf("config not merged over defaults: %+v", a.Config.Timeouts)
	}
}

func TestOpenRejectsUnknownPlatform(t *testing.T) {
	if _, err := Open(Options{Workspace: t.TempDir(), Platform: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected unknown platform error")
	}
}

func TestLoadEnvKeepsExistingValues(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, ".env"), []byte("MISSIONLINE_TEST_A=from-file\nMISSIONLINE_TEST_B=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("MISSIONLINE_TEST_B", "preset")
	t.Setenv("MISSIONLINE_TEST_A", "")
	os.Unsetenv("MISSIONLINE_TEST_A")
	if err := LoadEnv(ws); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("MISSIONLINE_TEST_A"); got != "from-file" {
		t.Fatalf("expected value from .env, got %q", got)
	}
	if got := os.Getenv("MISSIONLINE_TEST_B"); got != "preset" {
		t.Fatalf("existing value overridden: %q", got)
	}
	if err := LoadEnv(t.TempDir()); err != nil {
		t.Fatalf("missing .env should be fine: %v", err)
	}
}
