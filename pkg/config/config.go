package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 5123
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// LoadEnvOverrides applies environment overrides onto cfg and reports
// whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("MIRRORDB_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("MIRRORDB_TCP_ADDR"); v != "" {
		envUsed = true
		cfg.Readers.TCPAddr = v
	}
	if v := os.Getenv("MIRRORDB_DATA_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DataPath = v
	}
	if v := os.Getenv("MIRRORDB_BACKEND"); v != "" {
		envUsed = true
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MIRRORDB_AZURE_ACCOUNT_NAME"); v != "" {
		envUsed = true
		cfg.Storage.Azure.AccountName = v
	}
	if v := os.Getenv("MIRRORDB_AZURE_ACCOUNT_KEY"); v != "" {
		envUsed = true
		cfg.Storage.Azure.AccountKey = v
	}
	if v := os.Getenv("MIRRORDB_AZURE_CONTAINER"); v != "" {
		envUsed = true
		cfg.Storage.Azure.Container = v
	}
	if v := os.Getenv("MIRRORDB_API_BACKEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := os.Getenv("MIRRORDB_API_ADMIN_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Admin = parseList(v)
	}
	if v := os.Getenv("MIRRORDB_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("MIRRORDB_IP_WHITELIST"); v != "" {
		envUsed = true
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := os.Getenv("MIRRORDB_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("MIRRORDB_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("MIRRORDB_BACKUP_CRON"); v != "" {
		envUsed = true
		cfg.Backup.Enabled = true
		cfg.Backup.Cron = v
	}
	if v := os.Getenv("MIRRORDB_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if c := os.Getenv("MIRRORDB_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("MIRRORDB_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}

	return envUsed
}

// ApplyDefaults fills the values the rest of the server relies on.
func (c *Config) ApplyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFiles
	}
	if c.Storage.DataPath == "" {
		c.Storage.DataPath = "./.mirrordb"
	}
	if c.Readers.TCPAddr == "" {
		c.Readers.TCPAddr = ":5125"
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFiles, BackendSQLite, BackendPebble:
	case BackendAzure:
		if c.Storage.Azure.AccountName == "" || c.Storage.Azure.AccountKey == "" || c.Storage.Azure.Container == "" {
			return fmt.Errorf("azure backend requires account_name, account_key and container")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// BackendKeys returns the backend API key set.
func (c *Config) BackendKeys() map[string]struct{} {
	out := map[string]struct{}{}
	for _, k := range c.Security.APIKeys.Backend {
		out[k] = struct{}{}
	}
	return out
}

// AdminKeys returns the admin API key set. Admin keys unlock destructive
// operations such as table deletion.
func (c *Config) AdminKeys() map[string]struct{} {
	out := map[string]struct{}{}
	for _, k := range c.Security.APIKeys.Admin {
		out[k] = struct{}{}
	}
	return out
}
