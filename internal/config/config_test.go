package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Address)
	require.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, 30, cfg.Sync.BackfillDays)
	require.Equal(t, time.Minute, cfg.Sync.RefreshMargin)

	own, err := cfg.Ownership()
	require.NoError(t, err)
	require.Equal(t, domain.DefaultOwnership(), own)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("POSTGRES_URL", "postgres://test@localhost:5432/test")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("OUTBOX_POLL_INTERVAL", "750ms")
	t.Setenv("HEALTHSYNC_SYNC__TIMEZONE", "Europe/Berlin")
	t.Setenv("HEALTHSYNC_SYNC__OWNERSHIP__NUTRITION", "calories")
	t.Setenv("HEALTHSYNC_PROVIDERS__ACTIVITY__SCOPES", "read, activity:read_all")
	t.Setenv("HEALTHSYNC_PROVIDERS__ACTIVITY__REDIRECT_URL", "https://app.test/connect/callback")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://test@localhost:5432/test", cfg.Postgres.URL)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, 750*time.Millisecond, cfg.Outbox.PollInterval)
	require.Equal(t, []string{"read", "activity:read_all"}, cfg.Providers.Activity.Scopes)
	require.Equal(t, "https://app.test/connect/callback", cfg.Providers.Activity.RedirectURL)
	require.Equal(t, "https://www.strava.com/oauth/authorize", cfg.Providers.Activity.AuthURL)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", loc.String())

	own, err := cfg.Ownership()
	require.NoError(t, err)
	require.Equal(t, domain.ProviderNutrition, own[domain.FieldCalories])
	_, owned := own[domain.FieldWater]
	require.False(t, owned)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: ":9999"
scheduler:
  concurrency: 2
providers:
  nutrition:
    page_size: 1
    base_url: "http://nutrition.local/api"
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.HTTP.Address)
	require.Equal(t, 2, cfg.Scheduler.Concurrency)
	require.Equal(t, "http://nutrition.local/api", cfg.Provider(domain.ProviderNutrition).BaseURL)
}

func TestValidateRejectsBadSyncSettings(t *testing.T) {
	cfg := defaultConfig()
	cfg.Sync.Timezone = "Mars/Olympus"
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Sync.BackfillDays = 90
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Sync.Ownership = map[string][]string{
		"activity": {"running"},
		"wearable": {"running"},
	}
	require.Error(t, cfg.Validate())

	require.NoError(t, defaultConfig().Validate())
}
