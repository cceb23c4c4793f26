package lifecycle

import "go.uber.org/zap"

// Manager runs registered cleanup functions in reverse order on shutdown.
// The cmd/*/main.go processes do not use it; each closes its db, bus, and
// redis through bootstrap.Process.Close.
type Manager struct {
	cleanup []func() error
	log     *zap.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{log: log}
}

// AddCleanup registers a cleanup function to be called on shutdown.
func (m *Manager) AddCleanup(cleanup func() error) {
	m.cleanup = append(m.cleanup, cleanup)
}

// Shutdown executes all cleanup functions in reverse (LIFO) order.
func (m *Manager) Shutdown() {
	m.log.Info("starting graceful shutdown")
	for i := len(m.cleanup) - 1; i >= 0; i-- {
		if err := m.cleanup[i](); err != nil {
			m.log.Error("cleanup failed", zap.Error(err))
		}
	}
	m.log.Info("graceful shutdown complete")
}
