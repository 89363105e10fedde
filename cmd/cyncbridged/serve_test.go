package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRun_InvalidConfigPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run() should fail with a missing config file")
	}
	if exitCodeFor(err) != 1 {
		t.Fatalf("expected exit code 1 for a missing config file, got %d", exitCodeFor(err))
	}
}

func TestRun_ConfigFailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	// account.id is required; omitting it fails config.Validate.
	content := `
server:
  listen_addr: ":23779"
mqtt:
  base_topic: cync
  broker:
    host: "127.0.0.1"
    port: 1883
`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, configFile)
	if err == nil {
		t.Fatal("run() should fail when account.id is missing")
	}
	if exitCodeFor(err) != 1 {
		t.Fatalf("expected exit code 1 for a validation failure, got %d", exitCodeFor(err))
	}
}

func TestExitCodeFor_UnwrappedError(t *testing.T) {
	if got := exitCodeFor(errors.New("boom")); got != 1 {
		t.Fatalf("exitCodeFor(plain error) = %d, want 1", got)
	}
}

func TestExitCodeFor_StartupIOError(t *testing.T) {
	err := startupIOError(errors.New("disk full"))
	if got := exitCodeFor(err); got != 2 {
		t.Fatalf("exitCodeFor(startupIOError) = %d, want 2", got)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	original := os.Getenv(configPathEnvVar)
	defer os.Setenv(configPathEnvVar, original)
	os.Unsetenv(configPathEnvVar)

	if got := getConfigPath(); got != defaultConfigPath {
		t.Fatalf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	original := os.Getenv(configPathEnvVar)
	defer os.Setenv(configPathEnvVar, original)

	os.Setenv(configPathEnvVar, "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Fatalf("getConfigPath() = %q, want /custom/path/config.yaml", got)
	}
}
