package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv(rootDirEnv, root)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RootDir != root {
		t.Fatalf("RootDir=%q, want %q", cfg.RootDir, root)
	}
	if cfg.Upstream.Mode != "push2talk" || cfg.Upstream.AudioFormat != "pcm" {
		t.Fatalf("upstream=%+v, want push2talk/pcm", cfg.Upstream)
	}
	if cfg.Dialog.ConnectTimeout != 30*time.Second {
		t.Fatalf("connect_timeout=%s, want 30s", cfg.Dialog.ConnectTimeout)
	}
	if _, err := uuid.Parse(cfg.Client.DeviceUUID); err != nil {
		t.Fatalf("device_uuid=%q is not a uuid: %v", cfg.Client.DeviceUUID, err)
	}
	if want := filepath.Join(root, "data", "transcripts"); cfg.Output.TranscriptDir != want {
		t.Fatalf("transcript_dir=%q, want %q", cfg.Output.TranscriptDir, want)
	}
}

func TestLoadUserFileAndEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv(rootDirEnv, "")
	confDir := filepath.Join(root, "config")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	path := filepath.Join(confDir, "dev.yaml")
	body := "dialog:\n  app_id: app-1\n  workspace_id: ws-1\nupstream:\n  audio_format: opus\nclient:\n  device_uuid: dev-1\ninput:\n  path: in.wav\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	t.Setenv("MMD_DIALOG_API_KEY", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RootDir != root {
		t.Fatalf("RootDir=%q, want %q", cfg.RootDir, root)
	}
	if cfg.Dialog.AppID != "app-1" || cfg.Dialog.APIKey != "secret" {
		t.Fatalf("dialog=%+v, want app-1 and env api key", cfg.Dialog)
	}
	if cfg.Client.DeviceUUID != "dev-1" {
		t.Fatalf("device_uuid=%q, want dev-1", cfg.Client.DeviceUUID)
	}
	if want := filepath.Join(root, "in.wav"); cfg.Input.Path != want {
		t.Fatalf("input.path=%q, want %q", cfg.Input.Path, want)
	}

	dc := cfg.DialogConfig()
	if dc.Params.Upstream.AudioFormat != "opus" || dc.Params.Directive != "Start" {
		t.Fatalf("params=%+v, want opus and Start", dc.Params)
	}
	if dc.WorkspaceID != "ws-1" || dc.Params.ClientInfo.Device.UUID != "dev-1" {
		t.Fatalf("dialog config=%+v", dc)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load(missing) error=nil, want non-nil")
	}
}

func TestDumpRedactsAPIKey(t *testing.T) {
	cfg := Config{Dialog: DialogConfig{APIKey: "sk-123", AppID: "app"}}
	out, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump error: %v", err)
	}
	text := string(out)
	if strings.Contains(text, "sk-123") {
		t.Fatalf("Dump leaked api key:\n%s", text)
	}
	if !strings.Contains(text, redacted) || !strings.Contains(text, "app_id: app") {
		t.Fatalf("Dump output unexpected:\n%s", text)
	}
	if cfg.Dialog.APIKey != "sk-123" {
		t.Fatal("Dump mutated its argument")
	}
}
