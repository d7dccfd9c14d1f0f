// Package config holds client and relay configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/blindsend/blindsend/internal/crypto"
	"github.com/blindsend/blindsend/internal/validation"
)

// Record and blob store backends understood by the relay.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config holds client and relay configuration
type Config struct {
	// Client
	ExchangeURL    string   `json:"exchange_url"`
	LinkBase       string   `json:"link_base"`
	ChunkSize      Size     `json:"chunk_size"`
	KDFOps         int      `json:"kdf_ops"`
	KDFMemLimitKiB int      `json:"kdf_mem_limit_kib"`
	PacingInterval Duration `json:"pacing_interval"`
	PacingRate     Size     `json:"pacing_rate"`
	PacingBurst    Size     `json:"pacing_burst"`
	RequestTimeout Duration `json:"request_timeout"`
	UseHTTP3       bool     `json:"use_http3"`
	InsecureTLS    bool     `json:"insecure_tls"`

	// MaxKDFMemLimitKiB bounds the memory cost accepted from the relay.
	MaxKDFMemLimitKiB int `json:"max_kdf_mem_limit_kib"`

	// Relay
	ListenAddr      string   `json:"listen_addr"`
	HTTP3Addr       string   `json:"http3_addr"`
	MetricsAddr     string   `json:"metrics_addr"`
	DataDir         string   `json:"data_dir"`
	RecordBackend   string   `json:"record_backend"`
	BlobBackend     string   `json:"blob_backend"`
	SessionTTL      Duration `json:"session_ttl"`
	CleanupInterval Duration `json:"cleanup_interval"`
	MaxUploadBytes  Size     `json:"max_upload_bytes"`
	TLSCertFile     string   `json:"tls_cert_file"`
	TLSKeyFile      string   `json:"tls_key_file"`
	// TrustedProxies lists addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies  []string `json:"trusted_proxies"`

	// Shared
	LogLevel       string `json:"log_level"`
	JaegerEndpoint string `json:"jaeger_endpoint"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "blindsend")

	return &Config{
		ExchangeURL:    "http://127.0.0.1:8080",
		ChunkSize:      0, // single chunk
		KDFOps:         crypto.DefaultKDFOps,
		KDFMemLimitKiB: crypto.DefaultKDFMemLimit,
		RequestTimeout: Duration(5 * time.Minute),

		MaxKDFMemLimitKiB: crypto.DefaultMaxKDFMemLimit,

		ListenAddr:      "127.0.0.1:8080",
		MetricsAddr:     "127.0.0.1:9090",
		DataDir:         dataDir,
		RecordBackend:   BackendMemory,
		BlobBackend:     BackendMemory,
		SessionTTL:      Duration(24 * time.Hour),
		CleanupInterval: Duration(time.Minute),
		MaxUploadBytes:  2 << 30, // 2 GiB

		LogLevel: "info",
	}
}

// LoadConfig reads a JSON file over the defaults. An empty path returns the
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BLINDSEND_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"BLINDSEND_EXCHANGE_URL":   &c.ExchangeURL,
		"BLINDSEND_LINK_BASE":      &c.LinkBase,
		"BLINDSEND_LISTEN_ADDR":    &c.ListenAddr,
		"BLINDSEND_HTTP3_ADDR":     &c.HTTP3Addr,
		"BLINDSEND_METRICS_ADDR":   &c.MetricsAddr,
		"BLINDSEND_DATA_DIR":       &c.DataDir,
		"BLINDSEND_RECORD_BACKEND": &c.RecordBackend,
		"BLINDSEND_BLOB_BACKEND":   &c.BlobBackend,
		"BLINDSEND_LOG_LEVEL":      &c.LogLevel,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BLINDSEND_KDF_OPS":               &c.KDFOps,
		"BLINDSEND_KDF_MEM_LIMIT_KIB":     &c.KDFMemLimitKiB,
		"BLINDSEND_MAX_KDF_MEM_LIMIT_KIB": &c.MaxKDFMemLimitKiB,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	sizes := map[string]*Size{
		"BLINDSEND_CHUNK_SIZE":       &c.ChunkSize,
		"BLINDSEND_MAX_UPLOAD_BYTES": &c.MaxUploadBytes,
		"BLINDSEND_PACING_RATE":      &c.PacingRate,
	}
	for name, dst := range sizes {
		if v, ok := lookup(name); ok {
			n, err := ParseSize(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = Size(n)
		}
	}

	durations := map[string]*Duration{
		"BLINDSEND_REQUEST_TIMEOUT": &c.RequestTimeout,
		"BLINDSEND_SESSION_TTL":     &c.SessionTTL,
	}
	for name, dst := range durations {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = Duration(d)
		}
	}

	if v, ok := lookup("BLINDSEND_USE_HTTP3"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BLINDSEND_USE_HTTP3: %w", err)
		}
		c.UseHTTP3 = b
	}
	return nil
}

// ValidateClient checks the fields the CLI depends on.
func (c *Config) ValidateClient() error {
	if err := validation.ValidateHTTPURL(c.ExchangeURL); err != nil {
		return fmt.Errorf("exchange_url: %w", err)
	}
	if c.LinkBase != "" {
		if err := validation.ValidateHTTPURL(c.LinkBase); err != nil {
			return fmt.Errorf("link_base: %w", err)
		}
	}
	if err := validation.ValidateRangeInt(c.KDFOps, 1, 255); err != nil {
		return fmt.Errorf("kdf_ops: %w", err)
	}
	if err := validation.ValidateRangeInt(c.MaxKDFMemLimitKiB, 8, 4<<20); err != nil {
		return fmt.Errorf("max_kdf_mem_limit_kib: %w", err)
	}
	if err := validation.ValidateRangeInt(c.KDFMemLimitKiB, 8, c.MaxKDFMemLimitKiB); err != nil {
		return fmt.Errorf("kdf_mem_limit_kib: %w", err)
	}
	if c.ChunkSize < 0 || c.PacingRate < 0 || c.PacingBurst < 0 {
		return fmt.Errorf("chunk_size, pacing_rate and pacing_burst must not be negative")
	}
	if c.PacingInterval < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("pacing_interval and request_timeout must not be negative")
	}
	return nil
}

// ValidateRelay checks the fields the relay depends on.
func (c *Config) ValidateRelay() error {
	if err := validation.ValidateAddr(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr: %w", err)
	}
	for name, addr := range map[string]string{"http3_addr": c.HTTP3Addr, "metrics_addr": c.MetricsAddr} {
		if addr == "" {
			continue
		}
		if err := validation.ValidateAddr(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := validation.ValidateOneOf(c.RecordBackend, BackendMemory, BackendSQLite); err != nil {
		return fmt.Errorf("record_backend: %w", err)
	}
	if err := validation.ValidateOneOf(c.BlobBackend, BackendMemory, BackendBolt); err != nil {
		return fmt.Errorf("blob_backend: %w", err)
	}
	if c.RecordBackend != BackendMemory || c.BlobBackend != BackendMemory {
		if err := validation.ValidateStringNonEmpty(c.DataDir); err != nil {
			return fmt.Errorf("data_dir: %w", err)
		}
	}
	if c.LinkBase != "" {
		if err := validation.ValidateHTTPURL(c.LinkBase); err != nil {
			return fmt.Errorf("link_base: %w", err)
		}
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}
	if c.SessionTTL <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("session_ttl and cleanup_interval must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	return nil
}
