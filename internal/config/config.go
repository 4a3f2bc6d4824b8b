// Package config loads runtime settings from the environment, an optional
// .env file and an optional YAML policy file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/salehzaid/slamaty-sub000/internal/core"
	"github.com/salehzaid/slamaty-sub000/internal/evidence"
)

// Config is the full runtime configuration of the slamaty binary.
type Config struct {
	Storage  core.StorageConfig
	Evidence evidence.Config
	Policy   core.Policy
	Log      LogConfig
	Serve    ServeConfig
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// ServeConfig configures the long running sweep daemon.
type ServeConfig struct {
	Addr          string
	SweepInterval time.Duration
}

const (
	defaultSQLitePath    = "./slamaty.db"
	defaultEvidenceRoot  = "./evidence"
	defaultServeAddr     = ":9102"
	defaultSweepInterval = time.Hour
)

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Tests pass a map lookup.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Storage: core.StorageConfig{
			Driver:      core.StorageDriver(strings.ToLower(get("SLAMATY_STORAGE_DRIVER", string(core.StorageSQLite)))),
			SQLitePath:  get("SLAMATY_SQLITE_PATH", defaultSQLitePath),
			PostgresDSN: get("SLAMATY_POSTGRES_DSN", ""),
			MySQLDSN:    get("SLAMATY_MYSQL_DSN", ""),
		},
		Evidence: evidence.Config{
			Driver: evidence.Driver(strings.ToLower(get("SLAMATY_EVIDENCE_DRIVER", string(evidence.DriverFilesystem)))),
			FSRoot: get("SLAMATY_EVIDENCE_ROOT", defaultEvidenceRoot),
			S3: evidence.S3Config{
				Region:          get("SLAMATY_S3_REGION", ""),
				Bucket:          get("SLAMATY_S3_BUCKET", ""),
				Prefix:          get("SLAMATY_S3_PREFIX", ""),
				Endpoint:        get("SLAMATY_S3_ENDPOINT", ""),
				AccessKeyID:     get("SLAMATY_S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: get("SLAMATY_S3_SECRET_ACCESS_KEY", ""),
				SessionToken:    get("SLAMATY_S3_SESSION_TOKEN", ""),
			},
		},
		Log: LogConfig{
			Level:  strings.ToLower(get("LOG_LEVEL", "info")),
			Format: strings.ToLower(get("LOG_FORMAT", "text")),
		},
		Serve: ServeConfig{
			Addr:          get("SLAMATY_SERVE_ADDR", defaultServeAddr),
			SweepInterval: defaultSweepInterval,
		},
	}

	pathStyle, err := parseBool(get("SLAMATY_S3_PATH_STYLE", "false"))
	if err != nil {
		return nil, fmt.Errorf("SLAMATY_S3_PATH_STYLE: %w", err)
	}
	cfg.Evidence.S3.PathStyle = pathStyle

	if raw := get("SLAMATY_SWEEP_INTERVAL", ""); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("SLAMATY_SWEEP_INTERVAL: %w", err)
		}
		if interval <= 0 {
			return nil, fmt.Errorf("SLAMATY_SWEEP_INTERVAL must be positive, got %s", interval)
		}
		cfg.Serve.SweepInterval = interval
	}

	policy := core.DefaultPolicy()
	if path := get("SLAMATY_POLICY_FILE", ""); path != "" {
		policy, err = LoadPolicyFile(path, policy)
		if err != nil {
			return nil, err
		}
	}
	cfg.Policy = policy
	return cfg, nil
}

// LoadPolicyFile overlays the YAML document at path onto base.
func LoadPolicyFile(path string, base core.Policy) (core.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return core.Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(raw, base)
}

// ParsePolicy decodes a YAML policy, merges it onto base and validates the
// result. Unknown keys are rejected.
func ParsePolicy(raw []byte, base core.Policy) (core.Policy, error) {
	var overlay core.Policy
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&overlay); err != nil && !errors.Is(err, io.EOF) {
		return core.Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := overlay.Validate(); err != nil {
		return core.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	merged := base.Merge(overlay)
	if err := merged.Validate(); err != nil {
		return core.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return merged, nil
}

func parseBool(raw string) (bool, error) {
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %q", raw)
	}
	return v, nil
}
