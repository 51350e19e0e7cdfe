package config_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorlink/tutorbilling/config"
)

func TestHolder_Get(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	require.NoError(t, err)
	defer h.Stop()

	got := h.Get()
	require.NotNil(t, got)
	assert.Equal(t, 9090, got.Server.Port)
}

func TestHolder_ReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, validConfig())
	h, err := config.NewHolder(path, zerolog.Nop())
	require.NoError(t, err)
	defer h.Stop()

	var mu sync.Mutex
	var gotOld, gotNew *config.Config
	h.OnChange(func(old, new *config.Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
	})

	updated := validConfig() + `
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, h.Reload())

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, gotNew)
	assert.Equal(t, "info", gotOld.Logging.Level)
	assert.Equal(t, "debug", gotNew.Logging.Level)
	assert.Same(t, gotNew, h.Get())
}

func TestHolder_ReloadInvalidConfigKeepsOld(t *testing.T) {
	path := writeConfig(t, validConfig())
	h, err := config.NewHolder(path, zerolog.Nop())
	require.NoError(t, err)
	defer h.Stop()

	var reported error
	h.OnError(func(err error) { reported = err })

	require.NoError(t, os.WriteFile(path, []byte("billing:\n  provider: paddle\n"), 0o644))
	err = h.Reload()
	require.Error(t, err)
	assert.Equal(t, err, reported)
	assert.Equal(t, "fake", h.Get().Billing.Provider)
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())
	h, err := config.NewHolder(path, zerolog.Nop())
	require.NoError(t, err)
	defer h.Stop()

	changed := make(chan struct{}, 8)
	h.OnChange(func(_, _ *config.Config) { changed <- struct{}{} })
	require.NoError(t, h.WatchFile())

	updated := validConfig() + "\njobs:\n  stale_sweep: \"@every 10m\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}
	assert.Eventually(t, func() bool {
		return h.Get().Jobs.StaleSweep == "@every 10m"
	}, time.Second, 10*time.Millisecond)
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	require.NoError(t, err)
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NotNil(t, h.Get())
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}
	wg.Wait()
}

func TestStaticHolder(t *testing.T) {
	cfg := config.Default()
	h := config.NewStaticHolder(&cfg, zerolog.Nop())
	defer h.Stop()
	h.Stop()

	assert.NoError(t, h.Reload())
	assert.NoError(t, h.WatchFile())
	assert.Same(t, &cfg, h.Get())
	assert.Empty(t, h.Path())
}

func TestRestartRequired(t *testing.T) {
	old := config.Default()
	next := config.Default()
	next.Logging.Level = "debug"
	next.Billing.Catalog.TTL = time.Minute
	assert.Empty(t, config.RestartRequired(&old, &next))

	next.Server.Port = 9999
	next.Redis.URL = "redis://x"
	assert.Equal(t, []string{"server.port", "redis.url"}, config.RestartRequired(&old, &next))
}

func TestReloadableFields(t *testing.T) {
	assert.Contains(t, config.ReloadableFields(), "logging.level")
	assert.Contains(t, config.ReloadableFields(), "billing.premium")
	assert.Contains(t, config.NonReloadableFields(), "database.dsn")
	assert.Contains(t, config.NonReloadableFields(), "server.port")
}
