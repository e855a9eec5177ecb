package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromRoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `version: 1
server:
  port: "8080"
engine:
  command: [python3, runner.py]
  dir: webui
  timeout: 2m
  concurrency: 2
transcript:
  blank: drop
`)

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q", res.Root, dir)
	}
	cfg := res.Config
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if got := cfg.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q, want 127.0.0.1:8080", got)
	}
	if got := cfg.Timeout(); got != 2*time.Minute {
		t.Errorf("Timeout() = %v, want 2m", got)
	}
	if got := cfg.MaxConcurrentRuns(); got != 2 {
		t.Errorf("MaxConcurrentRuns() = %d, want 2", got)
	}
	if got := cfg.EngineCommand(); !reflect.DeepEqual(got, []string{"python3", "runner.py"}) {
		t.Errorf("EngineCommand() = %v", got)
	}
	if got := res.EngineDir(); got != filepath.Join(dir, "webui") {
		t.Errorf("EngineDir() = %q, want %q", got, filepath.Join(dir, "webui"))
	}
	if cfg.TranscriptOptions().Blank != "drop" {
		t.Errorf("Blank = %q, want drop", cfg.TranscriptOptions().Blank)
	}
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "version: 2\n")

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != root {
		t.Errorf("Root = %q, want %q", res.Root, root)
	}
	if res.Config.Version != 2 {
		t.Errorf("Version = %d, want 2", res.Config.Version)
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q (fallback to workspace)", res.Root, dir)
	}
	cfg := res.Config
	if cfg.Addr() != DefaultHost+":"+DefaultPort {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want default", cfg.Timeout())
	}
	if cfg.MaxOutputBytes() != DefaultMaxOutput {
		t.Errorf("MaxOutputBytes() = %d, want default", cfg.MaxOutputBytes())
	}
	if !reflect.DeepEqual(cfg.EngineCommand(), DefaultEngineCommand) {
		t.Errorf("EngineCommand() = %v, want default", cfg.EngineCommand())
	}
	if res.EngineDir() != dir {
		t.Errorf("EngineDir() = %q, want %q", res.EngineDir(), dir)
	}
	if got := cfg.AllowOrigins(); len(got) != 0 {
		t.Errorf("AllowOrigins() = %v, want none (same origin only)", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "server:\n  host: 0.0.0.0\n  port: \"9000\"\n")

	t.Setenv("TYPHON_WEBUI_PORT", "7000")
	t.Setenv("TYPHON_WEBUI_DEBUG", "1")
	t.Setenv("TYPHON_ENGINE_COMMAND", `python3 "my runner.py" --json`)
	t.Setenv("TYPHON_LOG_LEVEL", "debug")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := res.Config
	if cfg.Addr() != "0.0.0.0:7000" {
		t.Errorf("Addr() = %q, want 0.0.0.0:7000", cfg.Addr())
	}
	if !cfg.Server.Debug {
		t.Error("Debug = false, want true")
	}
	want := []string{"python3", "my runner.py", "--json"}
	if !reflect.DeepEqual(cfg.EngineCommand(), want) {
		t.Errorf("EngineCommand() = %v, want %v", cfg.EngineCommand(), want)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_InvalidTranscript(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "transcript:\n  blank: squash\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for unknown blank policy")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "server: [unterminated\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}
