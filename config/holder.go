package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder provides thread-safe access to configuration with hot reload support.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(old, new *Config)
	onError  []func(error)
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewHolderWithConfig(cfg, path, logger)
}

// NewStaticHolder wraps a configuration that has no backing file. Reload
// and WatchFile are no-ops.
func NewStaticHolder(cfg *Config, logger zerolog.Logger) *Holder {
	return &Holder{
		config: cfg,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}
}

// NewHolderWithConfig wraps an already loaded configuration backed by path.
func NewHolderWithConfig(cfg *Config, path string, logger zerolog.Logger) (*Holder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Path returns the backing file, or "" for a static holder.
func (h *Holder) Path() string {
	return h.path
}

// Reload reloads the configuration from disk.
// Returns error if loading fails (keeps old config).
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		err = fmt.Errorf("reload config: %w", err)
		for _, fn := range h.errorListeners() {
			fn(err)
		}
		return err
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	listeners := append([]func(old, new *Config){}, h.onChange...)
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)

	for _, fn := range listeners {
		fn(oldCfg, newCfg)
	}

	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

// OnChange registers a callback run after every successful reload.
func (h *Holder) OnChange(fn func(old, new *Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers a callback run when a reload is rejected.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

func (h *Holder) errorListeners() []func(error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(error){}, h.onError...)
}

// WatchFile starts watching the config file for changes.
// Changes trigger automatic reload.
func (h *Holder) WatchFile() error {
	if h.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals starts listening for SIGHUP to trigger reload.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()

	h.logger.Info().Msg("listening for SIGHUP to reload config")
}

// Stop stops watching for file changes and signals. It is safe to call
// more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Only react to our config file
			if filepath.Base(event.Name) != filename {
				continue
			}

			// React to write or create (atomic save = create)
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("config file changed")

				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("file watch reload failed")
				}
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", new.Logging.Level).
			Msg("log level changed")
	}

	if old.Billing.Premium != new.Billing.Premium {
		h.logger.Info().
			Bool("honor_period_on_cancel", new.Billing.Premium.HonorPeriodOnCancel).
			Dur("tutor_legacy_window", new.Billing.Premium.TutorLegacyWindow).
			Dur("student_legacy_window", new.Billing.Premium.StudentLegacyWindow).
			Msg("premium policy changed")
	}

	if old.Billing.Catalog.TTL != new.Billing.Catalog.TTL {
		h.logger.Info().
			Dur("old", old.Billing.Catalog.TTL).
			Dur("new", new.Billing.Catalog.TTL).
			Msg("catalog ttl changed")
	}

	if len(old.Billing.Offers) != len(new.Billing.Offers) || len(old.Billing.OneTime) != len(new.Billing.OneTime) {
		h.logger.Info().
			Int("offers", len(new.Billing.Offers)).
			Int("one_time", len(new.Billing.OneTime)).
			Msg("purchase catalog changed")
	}

	for _, f := range RestartRequired(old, new) {
		h.logger.Warn().Str("field", f).Msg("config change requires restart to take effect")
	}
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"logging.level",
		"billing.premium",
		"billing.catalog.ttl",
		"billing.offers",
		"billing.one_time",
		"billing.success_url",
		"billing.cancel_url",
		"admin.token",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"server.host",
		"server.port",
		"database.dsn",
		"billing.provider",
		"billing.stripe",
		"redis.url",
		"email",
		"jobs",
	}
}

// RestartRequired lists the non-reloadable fields that differ.
func RestartRequired(old, new *Config) []string {
	var out []string
	if old.Server.Host != new.Server.Host {
		out = append(out, "server.host")
	}
	if old.Server.Port != new.Server.Port {
		out = append(out, "server.port")
	}
	if old.Database.DSN != new.Database.DSN {
		out = append(out, "database.dsn")
	}
	if old.Billing.Provider != new.Billing.Provider {
		out = append(out, "billing.provider")
	}
	if old.Billing.Stripe != new.Billing.Stripe {
		out = append(out, "billing.stripe")
	}
	if old.Redis.URL != new.Redis.URL {
		out = append(out, "redis.url")
	}
	if old.Email != new.Email {
		out = append(out, "email")
	}
	if old.Jobs != new.Jobs {
		out = append(out, "jobs")
	}
	return out
}
