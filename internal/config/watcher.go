package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"fleet/internal/logger"
)

// Watcher reloads the config file on change and fans the fresh Config out
// to subscribers. Only hot-applicable settings (log level, risk
// thresholds) should be consumed from reloads; structural settings need a
// restart.
type Watcher struct {
	path string

	mu   sync.RWMutex
	cfg  *Config
	subs []func(*Config)
}

// NewWatcher loads the file once, then watches it. A broken reload keeps
// the previous snapshot.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, cfg: cfg}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		fresh, err := Load(w.path)
		if err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		w.mu.Lock()
		w.cfg = fresh
		subs := make([]func(*Config), len(w.subs))
		copy(subs, w.subs)
		w.mu.Unlock()
		logger.Infof("config reloaded from %s", w.path)
		for _, fn := range subs {
			fn(fresh)
		}
	})
	v.WatchConfig()
	return w, nil
}

// Snapshot returns the latest successfully-loaded config.
func (w *Watcher) Snapshot() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Subscribe registers a reload callback. Callbacks run on the watcher
// goroutine and must not block.
func (w *Watcher) Subscribe(fn func(*Config)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}
