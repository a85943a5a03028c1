package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":9090"`
	DatabaseURL string `env:"DATABASE_URL"` // optional, empty = in-memory command queue
	NATSURL     string `env:"NATS_URL"`     // optional, empty = no event mirror or ingest
	AuthToken   string `env:"AUTH_TOKEN"`   // optional, empty = API auth disabled

	RedisAddr     string `env:"REDIS_ADDR"` // optional, enables Redis session validation
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AuthNamespaces []string `env:"AUTH_NAMESPACES" envSeparator:","`
	NamespacesFile string   `env:"NAMESPACES_FILE"`

	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	IdleTimeout        time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`
	LockTTL            time.Duration `env:"LOCK_TTL" envDefault:"90s"`
	EventTTL           time.Duration `env:"EVENT_TTL" envDefault:"24h"`
	EventStoreMax      int           `env:"EVENT_STORE_MAX" envDefault:"10000"`
	EventSweepInterval time.Duration `env:"EVENT_SWEEP_INTERVAL" envDefault:"5m"`
	LatencySamples     int           `env:"LATENCY_SAMPLES" envDefault:"1000"`
	ReplayWindow       time.Duration `env:"REPLAY_WINDOW" envDefault:"1h"`
	ReplayLimit        int           `env:"REPLAY_LIMIT" envDefault:"50"`
	MaxLockerID        int           `env:"MAX_LOCKER_ID" envDefault:"30"`

	// Archive settings
	ArchiveInterval   time.Duration `env:"ARCHIVE_INTERVAL" envDefault:"0"` // 0 = disabled
	ArchiveS3Bucket   string        `env:"ARCHIVE_S3_BUCKET"`
	ArchiveS3Key      string        `env:"ARCHIVE_S3_KEY" envDefault:"lockerd/events.jsonl"`
	ArchiveS3Region   string        `env:"ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	ArchiveS3Endpoint string        `env:"ARCHIVE_S3_ENDPOINT"` // custom endpoint for MinIO

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Namespaces is the resolved set: the defaults, then NamespacesFile
	// entries, with AuthNamespaces forcing require_auth.
	Namespaces []Namespace `env:"-"`
}

// Namespace is one WebSocket namespace and its auth policy.
type Namespace struct {
	Path        string `toml:"path"`
	RequireAuth bool   `toml:"require_auth"`
}

type namespacesFile struct {
	Namespace []Namespace `toml:"namespace"`
}

// Prefix is prepended to every environment variable name.
const Prefix = "LOCKERD_"

func Load() (*Config, error) {
	c := &Config{}
	if err := env.ParseWithOptions(c, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	ns, err := resolveNamespaces(c.NamespacesFile, c.AuthNamespaces)
	if err != nil {
		return nil, err
	}
	c.Namespaces = ns
	return c, nil
}

func (c *Config) validate() error {
	for name, d := range map[string]time.Duration{
		"SWEEP_INTERVAL":       c.SweepInterval,
		"IDLE_TIMEOUT":         c.IdleTimeout,
		"LOCK_TTL":             c.LockTTL,
		"EVENT_TTL":            c.EventTTL,
		"EVENT_SWEEP_INTERVAL": c.EventSweepInterval,
		"REPLAY_WINDOW":        c.ReplayWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%s%s must be positive, got %s", Prefix, name, d)
		}
	}
	if c.ArchiveInterval < 0 {
		return fmt.Errorf("%sARCHIVE_INTERVAL must not be negative", Prefix)
	}
	for name, n := range map[string]int{
		"EVENT_STORE_MAX": c.EventStoreMax,
		"LATENCY_SAMPLES": c.LatencySamples,
		"REPLAY_LIMIT":    c.ReplayLimit,
		"MAX_LOCKER_ID":   c.MaxLockerID,
	} {
		if n <= 0 {
			return fmt.Errorf("%s%s must be positive, got %d", Prefix, name, n)
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%sLOG_FORMAT must be text or json, got %q", Prefix, c.LogFormat)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%sLOG_LEVEL: %w", Prefix, err)
	}
	return lvl, nil
}

// ArchiveEnabled reports whether the periodic S3 export should run.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveInterval > 0 && c.ArchiveS3Bucket != ""
}

func resolveNamespaces(file string, authPaths []string) ([]Namespace, error) {
	var out []Namespace
	index := make(map[string]int)
	add := func(n Namespace) {
		if i, ok := index[n.Path]; ok {
			out[i] = n
			return
		}
		index[n.Path] = len(out)
		out = append(out, n)
	}

	for _, p := range model.DefaultNamespaces {
		add(Namespace{Path: p})
	}

	if file != "" {
		var f namespacesFile
		if _, err := toml.DecodeFile(file, &f); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%sNAMESPACES_FILE: %w", Prefix, err)
			}
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		for _, n := range f.Namespace {
			n.Path = strings.TrimSpace(n.Path)
			if !strings.HasPrefix(n.Path, "/") {
				return nil, fmt.Errorf("parsing %s: namespace path %q must start with /", file, n.Path)
			}
			add(n)
		}
	}

	for _, p := range authPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("%sAUTH_NAMESPACES: namespace path %q must start with /", Prefix, p)
		}
		add(Namespace{Path: p, RequireAuth: true})
	}
	return out, nil
}
