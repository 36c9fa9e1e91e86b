package transport

import (
	"sync"
)

// Config
// 通道持有的选项值。未设置的选项取默认值。
type Config struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewConfig() *Config {
	return &Config{values: make(map[string]any)}
}

// Get
// 读取选项值，未设置时返回默认值。
func Get[T any](cfg *Config, opt *Option[T]) T {
	if cfg == nil {
		return opt.def
	}
	cfg.mu.RLock()
	v, has := cfg.values[opt.name]
	cfg.mu.RUnlock()
	if !has {
		return opt.def
	}
	return v.(T)
}

// Set
// 校验并写入选项值。
func Set[T any](cfg *Config, opt *Option[T], v T) (err error) {
	if err = opt.Validate(v); err != nil {
		return
	}
	cfg.mu.Lock()
	cfg.values[opt.name] = v
	cfg.mu.Unlock()
	return
}

// Has reports whether the option was explicitly set.
func Has[T any](cfg *Config, opt *Option[T]) bool {
	if cfg == nil {
		return false
	}
	cfg.mu.RLock()
	_, has := cfg.values[opt.name]
	cfg.mu.RUnlock()
	return has
}

func (cfg *Config) Clone() *Config {
	c := NewConfig()
	if cfg == nil {
		return c
	}
	cfg.mu.RLock()
	for k, v := range cfg.values {
		c.values[k] = v
	}
	cfg.mu.RUnlock()
	return c
}

func (cfg *Config) Len() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return len(cfg.values)
}
