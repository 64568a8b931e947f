package config

import (
	"flag"
	"net"
	"os"
	"strconv"
)

func splitAddr(addr string) (string, int, bool) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, false
	}
	return h, port, true
}

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Data   string
	Config string
	Set    map[string]bool
}

// ParseConfigFlags parses command-line flags.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":5123", "HTTP listen address")
	dataPtr := flag.String("data", "./.mirrordb", "Data directory path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Data: *dataPtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath decides the config file path using the flag value
// and MIRRORDB_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("MIRRORDB_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEffective loads the config file (missing file is not fatal),
// applies env overrides, flags and defaults.
func LoadEffective(flags Flags) (*Config, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
	}

	LoadEnvOverrides(cfg)

	if flags.Set["addr"] {
		cfg.Server.Address = flags.Addr
		if h, p, ok := splitAddr(flags.Addr); ok {
			cfg.Server.Address = h
			cfg.Server.Port = p
		}
	}
	if flags.Set["data"] {
		cfg.Storage.DataPath = flags.Data
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
