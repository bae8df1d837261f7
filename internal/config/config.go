// Package config loads the repository configuration used by the strata
// command.
//
// Configuration comes from a single YAML file named by the --config flag or
// the STRATA_CONFIG environment variable. Individual STRATA_* variables
// override file values after loading, so credentials can stay out of the
// file. ${VAR} and ${VAR:-default} references in paths are expanded.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/strata/strata"
)

// Backend names a storage implementation.
type Backend string

const (
	// BackendFS stores objects as files under Storage.Path.
	BackendFS Backend = "fs"
	// BackendBolt stores objects in the bbolt file at Storage.Path.
	BackendBolt Backend = "bolt"
	// BackendS3 stores objects in an S3-compatible bucket.
	BackendS3 Backend = "s3"
	// BackendMemory keeps objects in process memory.
	BackendMemory Backend = "memory"
)

// Config is the configuration of one repository.
type Config struct {
	// Storage selects and configures the repository backend.
	Storage StorageConfig `yaml:"storage"`

	// Repository configures branch and flush behavior.
	Repository RepositoryConfig `yaml:"repository"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the repository backend.
type StorageConfig struct {
	// Backend is one of fs, bolt, s3, memory.
	Backend Backend `yaml:"backend"`

	// Path is the repository directory (fs) or database file (bolt).
	Path string `yaml:"path"`

	// S3 configures the s3 backend. It also enables s3:// virtual refs.
	S3 S3Config `yaml:"s3"`
}

// S3Config configures an S3-compatible bucket.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// PathStyle enables path-style addressing, as MinIO needs.
	PathStyle bool `yaml:"path_style"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty the default AWS credential chain applies.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RepositoryConfig configures repository behavior.
type RepositoryConfig struct {
	// DefaultBranch is the branch created by init and used when none is
	// given. Default: main
	DefaultBranch string `yaml:"default_branch"`

	// InlineThreshold is the largest chunk kept inline in manifests; 0
	// keeps every chunk inline. Default: 512
	InlineThreshold int `yaml:"inline_threshold"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error, none. Default: info
	Level string `yaml:"level"`
}

// Default returns the configuration used before any file is applied: a
// filesystem repository in ./.strata.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendFS,
			Path:    ".strata",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Repository: RepositoryConfig{
			DefaultBranch:   "main",
			InlineThreshold: strata.DefaultInlineThreshold,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads the file named by STRATA_CONFIG, or the defaults when it is
// unset, then applies environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("STRATA_CONFIG"))
}

// LoadFile loads configuration from path. An empty path skips the file and
// starts from Default. The result is validated.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a YAML file into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// applyEnv applies STRATA_* overrides. Set but empty variables are ignored.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("STRATA_STORAGE_PATH", &c.Storage.Path)
	str("STRATA_S3_BUCKET", &c.Storage.S3.Bucket)
	str("STRATA_S3_PREFIX", &c.Storage.S3.Prefix)
	str("STRATA_S3_REGION", &c.Storage.S3.Region)
	str("STRATA_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("STRATA_S3_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	str("STRATA_S3_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)
	str("STRATA_DEFAULT_BRANCH", &c.Repository.DefaultBranch)
	str("STRATA_LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("STRATA_STORAGE_BACKEND"); ok && v != "" {
		c.Storage.Backend = Backend(v)
	}
	if v, ok := lookup("STRATA_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: STRATA_S3_PATH_STYLE: %w", err)
		}
		c.Storage.S3.PathStyle = b
	}
	if v, ok := lookup("STRATA_INLINE_THRESHOLD"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: STRATA_INLINE_THRESHOLD: %w", err)
		}
		c.Repository.InlineThreshold = n
	}
	return nil
}

func (c *Config) expandVariables() {
	c.Storage.Path = expandVars(c.Storage.Path)
	c.Storage.S3.Prefix = expandVars(c.Storage.S3.Prefix)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendFS, BackendBolt:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend))
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be one of: fs, bolt, s3, memory", c.Storage.Backend))
	}

	if c.Storage.S3.Bucket != "" && c.Storage.S3.Region == "" {
		errs = append(errs, errors.New("storage.s3.region is required"))
	}
	if (c.Storage.S3.AccessKeyID == "") != (c.Storage.S3.SecretAccessKey == "") {
		errs = append(errs, errors.New("storage.s3.access_key_id and secret_access_key must be set together"))
	}
	if c.Repository.DefaultBranch == "" {
		errs = append(errs, errors.New("repository.default_branch is required"))
	}
	if c.Repository.InlineThreshold < 0 {
		errs = append(errs, errors.New("repository.inline_threshold must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
