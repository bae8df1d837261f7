package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/strata/strata"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != BackendFS || cfg.Storage.Path != ".strata" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Repository.DefaultBranch != "main" || cfg.Repository.InlineThreshold != strata.DefaultInlineThreshold {
		t.Errorf("repository = %+v", cfg.Repository)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestLoadFile_S3(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: s3
  s3:
    bucket: arrays
    prefix: repos/weather
    endpoint: http://localhost:9000
    path_style: true
repository:
  inline_threshold: 0
logging:
  level: debug
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s3 := cfg.Storage.S3
	if s3.Bucket != "arrays" || s3.Prefix != "repos/weather" || !s3.PathStyle {
		t.Errorf("s3 = %+v", s3)
	}
	if s3.Region != "us-east-1" {
		t.Errorf("region default lost: %q", s3.Region)
	}
	if cfg.Repository.InlineThreshold != 0 {
		t.Errorf("inline_threshold = %d, want explicit 0", cfg.Repository.InlineThreshold)
	}
	if cfg.Repository.DefaultBranch != "main" {
		t.Errorf("default_branch = %q", cfg.Repository.DefaultBranch)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: fs
  path: /srv/strata
`)
	t.Setenv("STRATA_STORAGE_BACKEND", "bolt")
	t.Setenv("STRATA_STORAGE_PATH", "/srv/strata.db")
	t.Setenv("STRATA_INLINE_THRESHOLD", "64")
	t.Setenv("STRATA_S3_PATH_STYLE", "true")
	t.Setenv("STRATA_S3_ACCESS_KEY_ID", "")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != BackendBolt || cfg.Storage.Path != "/srv/strata.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Repository.InlineThreshold != 64 {
		t.Errorf("inline_threshold = %d", cfg.Repository.InlineThreshold)
	}
	if !cfg.Storage.S3.PathStyle {
		t.Error("path_style override ignored")
	}
}

func TestLoadFile_BadEnv(t *testing.T) {
	t.Setenv("STRATA_INLINE_THRESHOLD", "lots")
	if _, err := LoadFile(""); err == nil || !strings.Contains(err.Error(), "STRATA_INLINE_THRESHOLD") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_UsesStrataConfig(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: memory\n")
	t.Setenv("STRATA_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("STRATA_TEST_ROOT", "/data")
	path := writeConfig(t, `
storage:
  path: ${STRATA_TEST_ROOT}/repo
  s3:
    prefix: ${STRATA_TEST_UNSET:-fallback}
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Path != "/data/repo" {
		t.Errorf("path = %q", cfg.Storage.Path)
	}
	if cfg.Storage.S3.Prefix != "fallback" {
		t.Errorf("prefix = %q", cfg.Storage.S3.Prefix)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown backend", "storage:\n  backend: tape\n", "storage.backend"},
		{"s3 without bucket", "storage:\n  backend: s3\n", "storage.s3.bucket"},
		{"half credentials", "storage:\n  s3:\n    access_key_id: AK\n", "set together"},
		{"negative threshold", "repository:\n  inline_threshold: -1\n", "inline_threshold"},
		{"malformed yaml", "storage: [", "strata.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}
