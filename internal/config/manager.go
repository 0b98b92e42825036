package config

import (
	"sync"
	"sync/atomic"
)

// ReloadHook 在配置重新加载成功后被调用。
type ReloadHook func(cfg *Config)

// Manager 持有当前生效的配置，并支持运行时重新加载。
type Manager struct {
	path    string
	current atomic.Pointer[Config]

	mu    sync.Mutex
	hooks []ReloadHook
}

// NewManager 加载配置文件并返回管理器。
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStaticManager(path, cfg), nil
}

// NewStaticManager 使用已加载的配置构造管理器，主要用于测试。
func NewStaticManager(path string, cfg *Config) *Manager {
	m := &Manager{path: path}
	m.current.Store(cfg)
	return m
}

// Current 返回当前配置快照，调用方不应修改返回值。
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// ClearMemoryCommands 返回清除个人记忆的指令集合。
func (m *Manager) ClearMemoryCommands() []string {
	cfg := m.Current()
	if cfg == nil || len(cfg.Bot.ClearMemoryCommands) == 0 {
		return []string{DefaultClearMemoryCommand}
	}
	return cfg.Bot.ClearMemoryCommands
}

// OnReload 注册配置重载回调。
func (m *Manager) OnReload(hook ReloadHook) {
	if hook == nil {
		return
	}
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

// Reload 重新读取配置文件；失败时保留原配置。
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	m.current.Store(cfg)

	m.mu.Lock()
	hooks := append([]ReloadHook(nil), m.hooks...)
	m.mu.Unlock()
	for _, hook := range hooks {
		hook(cfg)
	}
	return nil
}
