package breaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry 为每个受保护依赖（如每条券商连接）维护独立的熔断器。
type Registry struct {
	settings Settings
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry 使用统一参数创建注册表，Settings.Name 会被依赖名覆盖。
func NewRegistry(settings Settings, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get 返回依赖对应的熔断器，不存在时创建。
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	s := r.settings
	s.Name = name
	b := New(s, r.logger)
	r.breakers[name] = b
	return b
}

// Snapshots 按名称排序返回全部熔断器状态。
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, r.Get(name).Snapshot())
	}
	return out
}
