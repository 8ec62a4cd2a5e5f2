package config

import (
	"log"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Settings holds every tunable the server reads at startup. Built-in
// defaults are overridden by an optional YAML file, which is overridden by
// environment variables.
type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" yaml:"listen_addr"`
	DataPath   string `envconfig:"DATA_PATH" yaml:"data_path"`
	LogPath    string `envconfig:"LOG_PATH" yaml:"log_path"`

	// AuthToken is the shared secret clients present in the hello frame and
	// in the agent-API bearer header. Empty disables auth (local development).
	AuthToken string `envconfig:"AUTH_TOKEN" yaml:"auth_token"`

	HelloTimeoutMS int `envconfig:"HELLO_TIMEOUT_MS" yaml:"hello_timeout_ms"`

	TerminalCreateRateLimit    int `envconfig:"TERMINAL_CREATE_RATE_LIMIT" yaml:"terminal_create_rate_limit"`
	TerminalCreateRateWindowMS int `envconfig:"TERMINAL_CREATE_RATE_WINDOW_MS" yaml:"terminal_create_rate_window_ms"`

	// MaxWSChunkBytes bounds the payload of a single attached.chunk frame.
	MaxWSChunkBytes int `envconfig:"MAX_WS_CHUNK_BYTES" yaml:"max_ws_chunk_bytes"`

	// ScrollbackBytes caps each terminal's retained output.
	ScrollbackBytes int `envconfig:"SCROLLBACK_BYTES" yaml:"scrollback_bytes"`

	// SendQueueLimit is the per-connection outbound frame count beyond which
	// the offending attachment is dropped as a slow consumer.
	SendQueueLimit int `envconfig:"SEND_QUEUE_LIMIT" yaml:"send_queue_limit"`

	// HistoryRetentionDays bounds the terminal session index.
	HistoryRetentionDays int `envconfig:"HISTORY_RETENTION_DAYS" yaml:"history_retention_days"`

	DatabasePath string `envconfig:"DATABASE_PATH" yaml:"database_path"`
}

var Cfg Settings

// defaults are kept out of struct tags: envconfig would re-apply a default
// tag whenever the variable is unset, silently discarding YAML values.
func defaults() Settings {
	return Settings{
		ListenAddr:                 ":7703",
		HelloTimeoutMS:             10000,
		TerminalCreateRateLimit:    10,
		TerminalCreateRateWindowMS: 10000,
		MaxWSChunkBytes:            65536,
		ScrollbackBytes:            2097152,
		SendQueueLimit:             200,
		HistoryRetentionDays:       15,
	}
}

// Load populates Cfg. A YAML config file (FRESHELL_CONFIG, falling back to
// ~/.freshell/freshell.yaml) overrides the built-in defaults; environment
// variables take precedence because envconfig runs last.
func Load() {
	Cfg = defaults()
	loadFile(&Cfg)
	if err := envconfig.Process("", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DataPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		Cfg.DataPath = filepath.Join(home, ".freshell")
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "freshell.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "freshell.log")
	}
}

func loadFile(s *Settings) {
	path := os.Getenv("FRESHELL_CONFIG")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		path = filepath.Join(home, ".freshell", "freshell.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		log.Printf("WARNING: ignoring malformed config file %s: %v", path, err)
	}
}
