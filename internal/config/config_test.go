package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"PYCHAT_HOST",
		"PYCHAT_SESSION_ID",
		"PYCHAT_INSECURE",
		"PYCHAT_ROOM_ID",
		"PYCHAT_OUTBOX_DIR",
		"PYCHAT_STATE_PATH",
		"PYCHAT_DEFAULT_ICON",
		"PYCHAT_HISTORY_COUNT",
		"ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setMinimalEnv sets the env vars needed for Load to succeed.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PYCHAT_HOST", "chat.example.com")
	t.Setenv("PYCHAT_SESSION_ID", "abc123")
}

// --- Load ---

func TestLoad_Minimal(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "chat.example.com", cfg.Host)
	assert.Equal(t, "abc123", cfg.SessionID)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, int64(0), cfg.RoomID)
	assert.Equal(t, "", cfg.OutboxDir)
	assert.Equal(t, "", cfg.StatePath)
}

func TestLoad_AllSet(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	dir := t.TempDir()
	t.Setenv("PYCHAT_INSECURE", "true")
	t.Setenv("PYCHAT_ROOM_ID", "7")
	t.Setenv("PYCHAT_OUTBOX_DIR", dir)
	t.Setenv("PYCHAT_STATE_PATH", filepath.Join(dir, "state.db"))
	t.Setenv("PYCHAT_DEFAULT_ICON", "/static/icon.png")
	t.Setenv("PYCHAT_HISTORY_COUNT", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, int64(7), cfg.RoomID)
	assert.Equal(t, dir, cfg.OutboxDir)
	assert.Equal(t, filepath.Join(dir, "state.db"), cfg.StatePath)
	assert.Equal(t, "/static/icon.png", cfg.DefaultIcon)
	assert.Equal(t, 50, cfg.HistoryCount)
}

func TestLoad_MissingHost(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PYCHAT_SESSION_ID", "abc123")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PYCHAT_HOST")
}

func TestLoad_SessionIDOptional(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PYCHAT_HOST", "chat.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "", cfg.SessionID, "resolved later from the state cache")
}

func TestLoad_InvalidRoomID(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("PYCHAT_ROOM_ID", "general")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_FromEnvFile(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "pychat.env")
	require.NoError(t, os.WriteFile(path, []byte("PYCHAT_HOST=file.example.com\nPYCHAT_ROOM_ID=4\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file.example.com", cfg.Host)
	assert.Equal(t, int64(4), cfg.RoomID)
}

func TestLoad_EnvironmentWinsOverEnvFile(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PYCHAT_HOST", "env.example.com")

	path := filepath.Join(t.TempDir(), "pychat.env")
	require.NoError(t, os.WriteFile(path, []byte("PYCHAT_HOST=file.example.com\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.example.com", cfg.Host)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

// --- Defaults ---

func TestLoad_DefaultEnvironment(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoad_DefaultIcon(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/favicon.ico", cfg.DefaultIcon)
}

func TestLoad_DefaultHistoryCount(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.HistoryCount)
}

func TestLoad_CustomEnvironment(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

// --- Path resolution ---

func TestLoad_ResolvesRelativeOutboxDir(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("PYCHAT_OUTBOX_DIR", "relative/outbox")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.OutboxDir), "OutboxDir should be absolute, got: %s", cfg.OutboxDir)
	assert.Contains(t, cfg.OutboxDir, "relative/outbox")
}

func TestLoad_ResolvesRelativeStatePath(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("PYCHAT_STATE_PATH", "data/state.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.StatePath))
	assert.Contains(t, cfg.StatePath, "data/state.db")
}

// --- ResolveSessionID ---

func TestResolveSessionID_ConfiguredWins(t *testing.T) {
	cfg := &Config{SessionID: "configured"}
	require.NoError(t, cfg.ResolveSessionID("cached"))
	assert.Equal(t, "configured", cfg.SessionID)
}

func TestResolveSessionID_FallsBackToCache(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.ResolveSessionID("cached"))
	assert.Equal(t, "cached", cfg.SessionID)
}

func TestResolveSessionID_NeitherSet(t *testing.T) {
	cfg := &Config{}
	err := cfg.ResolveSessionID("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PYCHAT_SESSION_ID")
}

// --- ResolveRoomID ---

func TestResolveRoomID(t *testing.T) {
	tests := []struct {
		name       string
		configured int64
		remembered int64
		want       int64
	}{
		{"configured wins", 7, 3, 7},
		{"remembered", 0, 3, 3},
		{"default", 0, 0, defaultRoomID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{RoomID: tt.configured}
			cfg.ResolveRoomID(tt.remembered)
			assert.Equal(t, tt.want, cfg.RoomID)
		})
	}
}

// --- validate ---

func TestValidate_AllPresent(t *testing.T) {
	cfg := &Config{Host: "chat.example.com:8888", HistoryCount: 20}
	assert.NoError(t, cfg.validate())
}

func TestValidate_RejectsSchemeAndPath(t *testing.T) {
	for _, host := range []string{"https://chat.example.com", "chat.example.com/ws", "chat.example.com?x=1"} {
		cfg := &Config{Host: host, HistoryCount: 20}
		err := cfg.validate()
		require.Error(t, err, host)
		assert.Contains(t, err.Error(), "bare host")
	}
}

func TestValidate_NegativeRoomID(t *testing.T) {
	cfg := &Config{Host: "chat.example.com", RoomID: -1, HistoryCount: 20}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PYCHAT_ROOM_ID")
}

func TestValidate_HistoryCount(t *testing.T) {
	cfg := &Config{Host: "chat.example.com"}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PYCHAT_HISTORY_COUNT")
}
