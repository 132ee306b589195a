package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Addr          string `toml:"addr"`
	Storage       string `toml:"storage"` // "memory" or "sqlite"
	DBPath        string `toml:"db_path"`
	Codec         string `toml:"codec"` // "json" or "binary"
	ReadTimeout   int    `toml:"read_timeout"`   // seconds
	WriteTimeout  int    `toml:"write_timeout"`  // seconds
	SessionTTL    int    `toml:"session_ttl"`    // seconds
	SweepInterval int    `toml:"sweep_interval"` // seconds
	ControlSocket string `toml:"control_socket"`
	LogLevel      string `toml:"log_level"`
}

// Load builds the configuration from defaults, then an optional TOML file,
// then environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Addr:          ":3215",
		Storage:       "sqlite",
		DBPath:        "relay.db",
		Codec:         "json",
		ReadTimeout:   120,
		WriteTimeout:  30,
		SessionTTL:    3000,
		SweepInterval: 60,
		ControlSocket: "/tmp/relay.sock",
		LogLevel:      "info",
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if backend := os.Getenv("RELAY_STORAGE"); backend != "" {
		cfg.Storage = backend
	}
	if dbPath := os.Getenv("RELAY_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if codec := os.Getenv("RELAY_CODEC"); codec != "" {
		cfg.Codec = codec
	}
	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if sock := os.Getenv("RELAY_CONTROL_SOCKET"); sock != "" {
		cfg.ControlSocket = sock
	}

	envInt("RELAY_READ_TIMEOUT", &cfg.ReadTimeout)
	envInt("RELAY_WRITE_TIMEOUT", &cfg.WriteTimeout)
	envInt("RELAY_SESSION_TTL", &cfg.SessionTTL)
	envInt("RELAY_SWEEP_INTERVAL", &cfg.SweepInterval)
}

func envInt(key string, dst *int) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}
