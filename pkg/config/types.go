package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Readers  ReadersConfig  `yaml:"readers"`
	Storage  StorageConfig  `yaml:"storage"`
	Sync     SyncConfig     `yaml:"sync"`
	GC       GCConfig       `yaml:"gc"`
	Security SecurityConfig `yaml:"security"`
	Backup   BackupConfig   `yaml:"backup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ReadersConfig controls the subscriber-facing surfaces.
type ReadersConfig struct {
	TCPAddr      string   `yaml:"tcp_addr"`
	PingTimeout  Duration `yaml:"ping_timeout"`
	LongPollPark Duration `yaml:"long_poll_park"`
}

// Storage backend names.
const (
	BackendFiles  = "files"
	BackendSQLite = "sqlite"
	BackendAzure  = "azure"
	BackendPebble = "pebble"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend  string      `yaml:"backend"`
	DataPath string      `yaml:"data_path"`
	Azure    AzureConfig `yaml:"azure"`
	Init     InitConfig  `yaml:"init"`
}

// AzureConfig holds the blob storage credentials.
type AzureConfig struct {
	AccountName string `yaml:"account_name"`
	AccountKey  string `yaml:"account_key"`
	Container   string `yaml:"container"`
}

// InitConfig controls cold-start loading.
type InitConfig struct {
	Workers          int  `yaml:"workers"`
	PartitionWorkers int  `yaml:"partition_workers"`
	SkipBroken       bool `yaml:"skip_broken"`
}

// SyncConfig tunes the event bus and the persistence worker.
type SyncConfig struct {
	QueueCapacity int      `yaml:"queue_capacity"`
	FlushPoll     Duration `yaml:"flush_poll"`
	MaxAttempts   int      `yaml:"max_attempts"`
}

// GCConfig tunes the background timers.
type GCConfig struct {
	ExpireInterval  Duration `yaml:"expire_interval"`
	SweepInterval   Duration `yaml:"sweep_interval"`
	StaleSessionTTL Duration `yaml:"stale_session_ttl"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend []string `yaml:"backend"`
		Admin   []string `yaml:"admin"`
	} `yaml:"api_keys"`
}

// BackupConfig controls the scheduled zip backups.
type BackupConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	MaxFiles int    `yaml:"max_files"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
