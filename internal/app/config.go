package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/systemshift/memex-log/internal/dag"
	"github.com/systemshift/memex-log/internal/kubo"
	"github.com/systemshift/memex-log/internal/list"
)

// StoreType selects where content blocks are kept.
type StoreType string

// Supported block stores.
const (
	StoreFile StoreType = "file"
	StoreKubo StoreType = "kubo"
)

// Config contains runtime settings for a replica process.
type Config struct {
	// WriterID names the local log. Empty means the did:key of the identity
	// at IdentityPath.
	WriterID     string
	IdentityPath string
	DataDir      string
	LogLevel     string

	BatchSize   int
	PutAttempts int

	Store   StoreType
	KuboAPI string
	KuboPin bool

	GRPCAddr     string
	PeerAddrs    []string
	SyncInterval time.Duration

	MetricsAddr string

	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
}

// DefaultConfig returns a local-development configuration.
func DefaultConfig() Config {
	return Config{
		IdentityPath:       dag.DefaultIdentityPath(),
		DataDir:            ".",
		LogLevel:           "info",
		BatchSize:          list.DefaultBatchSize,
		PutAttempts:        3,
		Store:              StoreFile,
		KuboAPI:            kubo.DefaultAPI,
		GRPCAddr:           ":7070",
		SyncInterval:       30 * time.Second,
		TracingEndpoint:    "localhost:4317",
		TracingServiceName: "memex-log",
	}
}

// LoadConfigFromEnv loads config from environment variables.
//
// Supported vars:
// - APP_WRITER_ID
// - APP_IDENTITY (path of the ed25519 identity file)
// - APP_DATA_DIR
// - APP_LOG_LEVEL (debug|info|warn|error)
// - APP_BATCH_SIZE
// - APP_PUT_ATTEMPTS
// - APP_STORE (file|kubo)
// - APP_KUBO_API
// - APP_KUBO_PIN (bool)
// - APP_GRPC_ADDR
// - APP_PEERS (comma-separated writer=host:port)
// - APP_SYNC_INTERVAL (duration)
// - APP_METRICS_ADDR (empty disables)
// - APP_TRACING_ENABLED (bool)
// - APP_TRACING_ENDPOINT
// - APP_TRACING_SERVICE_NAME
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := env("APP_WRITER_ID"); v != "" {
		cfg.WriterID = v
	}
	if v := env("APP_IDENTITY"); v != "" {
		cfg.IdentityPath = v
	}
	if v := env("APP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := env("APP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := env("APP_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_BATCH_SIZE %q: %w", v, err)
		}
		cfg.BatchSize = n
	}
	if v := env("APP_PUT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_PUT_ATTEMPTS %q: %w", v, err)
		}
		cfg.PutAttempts = n
	}
	if v := env("APP_STORE"); v != "" {
		cfg.Store = StoreType(strings.ToLower(v))
	}
	if v := env("APP_KUBO_API"); v != "" {
		cfg.KuboAPI = v
	}
	if v := env("APP_KUBO_PIN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_KUBO_PIN %q: %w", v, err)
		}
		cfg.KuboPin = b
	}
	if v := env("APP_GRPC_ADDR"); v != "" {
		cfg.GRPCAddr = v
	}
	if v := env("APP_PEERS"); v != "" {
		cfg.PeerAddrs = splitCSV(v)
	}
	if v := env("APP_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_SYNC_INTERVAL %q: %w", v, err)
		}
		cfg.SyncInterval = d
	}
	if v, ok := os.LookupEnv("APP_METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	if v := env("APP_TRACING_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_TRACING_ENABLED %q: %w", v, err)
		}
		cfg.TracingEnabled = b
	}
	if v := env("APP_TRACING_ENDPOINT"); v != "" {
		cfg.TracingEndpoint = v
	}
	if v := env("APP_TRACING_SERVICE_NAME"); v != "" {
		cfg.TracingServiceName = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and supported.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WriterID) == "" && strings.TrimSpace(c.IdentityPath) == "" {
		return fmt.Errorf("app: writer id or identity path is required")
	}
	if strings.ContainsAny(c.WriterID, "/\\") {
		return fmt.Errorf("app: writer id %q must not contain path separators", c.WriterID)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("app: data dir is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app: unsupported log level %q", c.LogLevel)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("app: batch size must be positive, got %d", c.BatchSize)
	}
	if c.PutAttempts < 1 {
		return fmt.Errorf("app: put attempts must be positive, got %d", c.PutAttempts)
	}
	switch c.Store {
	case StoreFile:
	case StoreKubo:
		if strings.TrimSpace(c.KuboAPI) == "" {
			return fmt.Errorf("app: kubo api url is required")
		}
	default:
		return fmt.Errorf("app: unsupported store %q", c.Store)
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		return fmt.Errorf("app: grpc addr is required")
	}
	if len(c.PeerAddrs) > 0 && c.SyncInterval <= 0 {
		return fmt.Errorf("app: sync interval must be positive when peers are set")
	}
	if c.TracingEnabled && strings.TrimSpace(c.TracingEndpoint) == "" {
		return fmt.Errorf("app: tracing endpoint is required when tracing is enabled")
	}
	if _, err := c.PeerAddrMap(); err != nil {
		return err
	}
	return nil
}

// PeerAddrMap parses PeerAddrs into a map of writer id -> address. Each
// entry is "writer=host:port"; a peer serves its own writer's log.
func (c Config) PeerAddrMap() (map[string]string, error) {
	out := make(map[string]string, len(c.PeerAddrs))
	for _, raw := range c.PeerAddrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, addr, ok := strings.Cut(raw, "=")
		id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("app: invalid peer entry %q (want writer=host:port)", raw)
		}
		if _, exists := out[id]; exists {
			return nil, fmt.Errorf("app: duplicate peer id %q", id)
		}
		out[id] = addr
	}
	return out, nil
}

// ListOptions returns the list options implied by c.
func (c Config) ListOptions() []list.Option {
	return []list.Option{list.WithBatchSize(c.BatchSize), list.WithPutAttempts(c.PutAttempts)}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
