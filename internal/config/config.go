package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// defaultRoomID is the room opened when neither PYCHAT_ROOM_ID nor a
// remembered room is available. pychat servers create room 1 as the
// public "All" room.
const defaultRoomID = 1

// Config holds all environment-based configuration for pychat-sync.
type Config struct {
	// Chat server host, optionally with a port. No scheme or path.
	Host string `env:"PYCHAT_HOST"`

	// Value of the server's sessionid cookie. When empty, the session
	// cached in the state database is used (see ResolveSessionID).
	SessionID string `env:"PYCHAT_SESSION_ID"`

	// Use ws:// and http:// instead of wss:// and https://.
	Insecure bool `env:"PYCHAT_INSECURE" envDefault:"false"`

	// Room that plain text lines and outbox files are sent to. Zero means
	// the room remembered from the last run (see ResolveRoomID).
	RoomID int64 `env:"PYCHAT_ROOM_ID"`

	// Directory watched for files to upload and send. Empty disables
	// the outbox.
	OutboxDir string `env:"PYCHAT_OUTBOX_DIR"`

	// State database path. Empty means ~/.pychat-sync/state.db.
	StatePath string `env:"PYCHAT_STATE_PATH"`

	// Icon used for notifications when a message carries no image.
	DefaultIcon string `env:"PYCHAT_DEFAULT_ICON" envDefault:"/favicon.ico"`

	// Number of messages requested by /history when no count is given.
	HistoryCount int `env:"PYCHAT_HISTORY_COUNT" envDefault:"20"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the env files (if present) have
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the session cookie to other users.
func warnInsecureEnvFile(paths ...string) {
	if runtime.GOOS == "windows" {
		return
	}

	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue // file does not exist, nothing to check
		}

		mode := info.Mode().Perm()
		if mode&0o077 != 0 {
			log.Printf("WARNING: %s has insecure permissions %04o; recommended 0600", path, mode)
		}
	}
}

// Load reads configuration from environment variables. It first loads
// the given env files, or .env when none are given, if present. Values
// already in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	warnInsecureEnvFile(envFiles...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The outbox watcher compares event paths against entries in the
	// state database, so both sides must be absolute.
	if cfg.OutboxDir != "" {
		absDir, err := filepath.Abs(cfg.OutboxDir)
		if err != nil {
			return nil, fmt.Errorf("resolving outbox dir to absolute path: %w", err)
		}

		cfg.OutboxDir = absDir
	}

	if cfg.StatePath != "" {
		absPath, err := filepath.Abs(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		cfg.StatePath = absPath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("PYCHAT_HOST is required")
	}

	if strings.Contains(c.Host, "://") || strings.ContainsAny(c.Host, "/?#") {
		return fmt.Errorf("PYCHAT_HOST must be a bare host[:port], got %q", c.Host)
	}

	if c.RoomID < 0 {
		return fmt.Errorf("PYCHAT_ROOM_ID must not be negative")
	}

	if c.HistoryCount <= 0 {
		return fmt.Errorf("PYCHAT_HISTORY_COUNT must be positive")
	}

	return nil
}

// ResolveSessionID fills SessionID from the cached value when it was not
// configured. It fails when neither is available.
func (c *Config) ResolveSessionID(cached string) error {
	if c.SessionID != "" {
		return nil
	}

	if cached == "" {
		return fmt.Errorf("PYCHAT_SESSION_ID is required: no cached session found")
	}

	c.SessionID = cached

	return nil
}

// ResolveRoomID fills RoomID from the room remembered in the state
// database, falling back to the public room.
func (c *Config) ResolveRoomID(remembered int64) {
	if c.RoomID != 0 {
		return
	}

	if remembered > 0 {
		c.RoomID = remembered
		return
	}

	c.RoomID = defaultRoomID
}
