package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/event"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/database"
	"github.com/nerrad567/hdf-devmgr/internal/journal"
)

const attributesDoc = `
hosts:
  - id: 1
    name: sample_host
    devices:
      - local_id: 1
        service: sample_service
        module: sample_driver
        policy: public
        match_attr: sample_config
      - local_id: 2
        service: lazy_service
        module: sample_driver
        policy: public
        preload: disable
properties:
  sample:
    match_attr: sample_config
    rate: 9600
`

// writeConfig writes an attribute file and a config referencing it.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()

	attrsPath := filepath.Join(dir, "hosts.yaml")
	if err := os.WriteFile(attrsPath, []byte(attributesDoc), 0600); err != nil {
		t.Fatalf("failed to write attributes: %v", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	content := `
manager:
  attributes_file: "` + attrsPath + `"
logging:
  level: error
  format: text
` + extra
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DEVMGR_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingAttributesFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
manager:
  attributes_file: "` + filepath.Join(dir, "missing.yaml") + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEVMGR_CONFIG", configPath)

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail when the attribute file is missing")
	}
}

func TestRun_ProcessInstallerWithoutBinary(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEVMGR_CONFIG", writeConfig(t, dir, `
hosts:
  installer: process
`))

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail validation without a host binary")
	}
}

func TestRun_InProcessStartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "devmgr.db")
	t.Setenv("DEVMGR_CONFIG", writeConfig(t, dir, `
database:
  enabled: true
  path: "`+dbPath+`"
`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err := database.Open(database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close()

	repo := journal.NewSQLiteRepository(db.DB)
	result, err := repo.List(context.Background(), journal.Filter{Limit: 100})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	seen := make(map[event.Kind]bool)
	for _, e := range result.Entries {
		seen[e.Kind] = true
	}
	for _, want := range []event.Kind{event.KindHostAttached, event.KindDeviceAttached} {
		if !seen[want] {
			t.Errorf("journal missing %s; have %v", want, seen)
		}
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("DEVMGR_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("DEVMGR_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestHealthCheck_NoSinks(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil, nil, nil); err != nil {
		t.Errorf("healthCheck() with no sinks = %v", err)
	}
}
