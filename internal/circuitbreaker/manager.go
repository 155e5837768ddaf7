package circuitbreaker

import (
	"sync"

	"edge-router/internal/common/logging"
)

// Manager lazily creates and caches one breaker per backend address.
// Breakers survive route table rebuilds so failure history is not lost when
// a discovery event republishes the same instance.
type Manager struct {
	config Config
	logger logging.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager creates a breaker manager with a shared config.
func NewManager(config Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a backend address, creating it on first use.
func (m *Manager) Get(address string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[address]; ok {
		return b
	}
	b := New(address, m.config, m.logger)
	m.breakers[address] = b
	return b
}

// States returns the current state of every known breaker, keyed by
// backend address.
func (m *Manager) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]string, len(m.breakers))
	for address, b := range m.breakers {
		states[address] = b.State()
	}
	return states
}
