package config

import "sync/atomic"

// Holder provides atomic access to a Config that can be reloaded at
// runtime (SIGHUP in serve mode). Readers always see a complete config;
// a reload that fails validation leaves the previous config in place.
type Holder struct {
	current  atomic.Pointer[Config]
	yamlPath string
}

// NewHolder wraps an already-loaded Config.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	h := &Holder{yamlPath: yamlPath}
	h.current.Store(cfg)
	return h
}

// Get returns the current Config. The returned value must be treated as
// read-only.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Reload re-runs the full load hierarchy from the original YAML path and
// swaps the config in atomically. On error the old config stays active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.yamlPath)
	if err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}
