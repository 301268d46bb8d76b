package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"job_server_url": "http://localhost:8080",
		"repository": "alice/formal"
	}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Branch != DefaultBranch {
		t.Errorf("Branch = %q, want %q", cfg.Branch, DefaultBranch)
	}
	if len(cfg.SourceExtensions) != 1 || cfg.SourceExtensions[0] != ".miz" {
		t.Errorf("SourceExtensions = %v, want [.miz]", cfg.SourceExtensions)
	}
	if cfg.PollIntervalMs != DefaultPollMs || cfg.QueueGraceMs != DefaultQueueGraceMs {
		t.Errorf("intervals = %d/%d, want defaults", cfg.PollIntervalMs, cfg.QueueGraceMs)
	}
	if cfg.DashboardPort != DefaultDashboard {
		t.Errorf("DashboardPort = %d, want %d", cfg.DashboardPort, DefaultDashboard)
	}
}

func TestLoadFromKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"job_server_url": "http://localhost:8080",
		"repository": "alice/formal",
		"branch": "scratch",
		"poll_interval_ms": 250,
		"dashboard_port": 9000
	}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Branch != "scratch" || cfg.PollIntervalMs != 250 || cfg.DashboardPort != 9000 {
		t.Errorf("explicit values were overridden: %+v", cfg)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("error = %v, want ErrConfigNotFound", err)
	}
}

func TestLoadFromRejectsMistypedField(t *testing.T) {
	// Schema validation catches a string where a number belongs.
	path := writeConfig(t, `{
		"job_server_url": "http://localhost:8080",
		"repository": "alice/formal",
		"poll_interval_ms": "fast"
	}`)

	_, err := LoadFrom(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadFromRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing job server", `{"repository": "alice/formal"}`},
		{"missing repository", `{"job_server_url": "http://localhost:8080"}`},
		{"bare repository name", `{"job_server_url": "http://x", "repository": "formal"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := LoadFrom(path); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := &Config{
		JobServerURL:  "http://localhost:8080",
		Repository:    "alice/formal",
		Branch:        "scratch",
		DashboardPort: 9000,
	}
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Repository != cfg.Repository || loaded.Branch != cfg.Branch {
		t.Errorf("roundtrip lost values: %+v", loaded)
	}

	info, err := os.Stat(filepath.Join(home, ".proofsync", "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 0600", perm)
	}
}

func TestProjectOverlay(t *testing.T) {
	root := t.TempDir()
	overlay := `repository: bob/other
branch: experiments
main_file: text/main.miz
`
	if err := os.WriteFile(filepath.Join(root, ProjectFileName), []byte(overlay), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProject(root)
	if err != nil {
		t.Fatal(err)
	}
	if p.MainFile != "text/main.miz" {
		t.Errorf("MainFile = %q", p.MainFile)
	}

	cfg := p.Apply(Config{
		JobServerURL:     "http://localhost:8080",
		Repository:       "alice/formal",
		Branch:           "verifier",
		SourceExtensions: []string{".miz"},
	})
	if cfg.Repository != "bob/other" || cfg.Branch != "experiments" {
		t.Errorf("overlay not applied: %+v", cfg)
	}
	if cfg.JobServerURL != "http://localhost:8080" {
		t.Errorf("overlay clobbered an unset field: %+v", cfg)
	}
	if len(cfg.SourceExtensions) != 1 || cfg.SourceExtensions[0] != ".miz" {
		t.Errorf("unset extensions overrode the global list: %v", cfg.SourceExtensions)
	}
}

func TestLoadProjectMissingFile(t *testing.T) {
	p, err := LoadProject(t.TempDir())
	if err != nil {
		t.Fatalf("missing overlay must not error: %v", err)
	}
	if p.Repository != "" || p.Branch != "" || p.MainFile != "" || len(p.SourceExtensions) != 0 {
		t.Errorf("missing overlay yielded %+v, want zero value", p)
	}
}

func TestLoadProjectRejectsBadYAML(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ProjectFileName), []byte("repository: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProject(root); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestTokenRoundtrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := LoadToken(); !errors.Is(err, ErrNoToken) {
		t.Errorf("LoadToken before save = %v, want ErrNoToken", err)
	}

	if err := SaveToken("ghp_secret"); err != nil {
		t.Fatal(err)
	}
	token, err := LoadToken()
	if err != nil {
		t.Fatal(err)
	}
	if token != "ghp_secret" {
		t.Errorf("token = %q", token)
	}

	path, err := secretsPath()
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secrets file mode = %o, want 0600", perm)
	}
}

func TestSaveTokenRejectsEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if err := SaveToken(""); err == nil {
		t.Error("SaveToken accepted an empty token")
	}
}
