package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STORE", "DATABASE_URL", "JWT_SECRET_KEY", "SERVER_PORT", "LOG_LEVEL", "LOG_FORMAT",
		"CORS_ALLOWED_ORIGINS", "SCHEDULER_POLL_INTERVAL", "SCHEDULER_AUTO_ASSIGN",
		"SCHEDULER_OPTIMIZE", "SCHEDULER_NOTIFICATIONS", "SCHEDULER_ERROR_THRESHOLD",
		"DEFAULT_MATCH_DURATION", "TABLE_TURNAROUND", "R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID",
		"R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_PUBLIC_BASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/dispatch")
	t.Setenv("JWT_SECRET_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	assert.True(t, cfg.Scheduler.AutoAssign)
	assert.False(t, cfg.Scheduler.OptimizeAssignments)
	assert.True(t, cfg.Scheduler.Notifications)
	assert.Equal(t, 10, cfg.Scheduler.ErrorThreshold)
	assert.Equal(t, 20*time.Minute, cfg.Scheduler.DefaultMatchDuration)
	assert.Zero(t, cfg.Scheduler.TableTurnaround)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoad_MemoryStoreNeedsNoDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "memory")
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "5s")
	t.Setenv("SCHEDULER_OPTIMIZE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.True(t, cfg.Scheduler.OptimizeAssignments)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing database url", map[string]string{"JWT_SECRET_KEY": "k"}, "DATABASE_URL"},
		{"missing jwt key", map[string]string{"DATABASE_URL": "x"}, "JWT_SECRET_KEY"},
		{"bad port", map[string]string{"DATABASE_URL": "x", "JWT_SECRET_KEY": "k", "SERVER_PORT": "70000"}, "SERVER_PORT"},
		{"bad store", map[string]string{"STORE": "sqlite", "JWT_SECRET_KEY": "k"}, "STORE"},
		{"bad interval", map[string]string{"DATABASE_URL": "x", "JWT_SECRET_KEY": "k", "SCHEDULER_POLL_INTERVAL": "soon"}, "SCHEDULER_POLL_INTERVAL"},
		{"bad bool", map[string]string{"DATABASE_URL": "x", "JWT_SECRET_KEY": "k", "SCHEDULER_AUTO_ASSIGN": "maybe"}, "SCHEDULER_AUTO_ASSIGN"},
		{"negative threshold", map[string]string{"DATABASE_URL": "x", "JWT_SECRET_KEY": "k", "SCHEDULER_ERROR_THRESHOLD": "-1"}, "SCHEDULER_ERROR_THRESHOLD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseVenue(t *testing.T) {
	layout, err := ParseVenue([]byte(`
tournament_id: 12
tables:
  - label: " Table 1 "
  - label: Feature
`))
	require.NoError(t, err)
	assert.Equal(t, 12, layout.TournamentID)
	assert.Equal(t, []string{"Table 1", "Feature"}, layout.Labels())
}

func TestParseVenue_Invalid(t *testing.T) {
	tests := map[string]string{
		"no tournament": "tables:\n  - label: A\n",
		"no tables":     "tournament_id: 1\n",
		"empty label":   "tournament_id: 1\ntables:\n  - label: ''\n",
		"duplicate":     "tournament_id: 1\ntables:\n  - label: A\n  - label: a\n",
		"not yaml":      "tournament_id: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseVenue([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadVenueFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venue.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tournament_id: 3\ntables:\n  - label: T1\n"), 0o600))

	layout, err := LoadVenueFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, layout.Labels())

	_, err = LoadVenueFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
