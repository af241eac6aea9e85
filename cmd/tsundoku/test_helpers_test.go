package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tsundoku/internal/config"
	"tsundoku/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	catalog    *testsupport.CatalogServer
	configPath string
	baseDir    string
}

// setupCLITestEnv writes a config using the json backend so state survives
// between command invocations.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	srv := testsupport.NewCatalogServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackend("json"), testsupport.WithCatalog(srv.URL))
	base := testsupport.BaseDir(cfg)

	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		catalog:    srv,
		configPath: configPath,
		baseDir:    base,
	}
}

// seed serves one finished title with an announced sequel.
func (e *cliTestEnv) seed() {
	e.catalog.Put(testsupport.Anime{ID: 1, Name: "Origin", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12, Duration: 24, Genres: []string{"Drama"}})
	e.catalog.Put(testsupport.Anime{ID: 99, Name: "Origin Season 2", Kind: "tv", Status: "anons"})
	e.catalog.SetRelated(1, testsupport.Relation{Kind: "Sequel", Anime: testsupport.Anime{ID: 99, Name: "Origin Season 2", Kind: "tv", Status: "anons"}})
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.configPath)
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("tsundoku %s: %v (stderr: %s)", strings.Join(args, " "), err, stderr)
	}
	return out
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func decodeJSON(t *testing.T, output string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("decode %q: %v", output, err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
