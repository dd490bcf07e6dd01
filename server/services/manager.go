package services

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/lyonslab/yerba/common/logger"
)

// Manager registers the daemon's services and drives their lifecycle. Like
// the services themselves it is owned by the engine goroutine and is not
// safe for concurrent use.
type Manager struct {
	order    []string
	services map[string]Service
	started  bool
	logger.Log
}

func NewManager(logFactory logger.LogFactory) *Manager {
	return &Manager{
		services: make(map[string]Service),
		Log:      logFactory("ServiceManager"),
	}
}

func serviceKey(group, name string) string {
	return fmt.Sprintf("%s.%s", group, name)
}

// Register adds a service under its group and name. Registering a second
// service under the same key is ignored with a warning.
func (m *Manager) Register(service Service) {
	key := serviceKey(service.Group(), service.Name())
	if _, exists := m.services[key]; exists {
		m.Warnf("The service %q has already been registered; ignoring", key)
		return
	}
	m.services[key] = service
	m.order = append(m.order, key)
	m.Infof("Registered service %q", key)
}

// Get returns the service registered under group and name, or nil.
func (m *Manager) Get(group, name string) Service {
	return m.services[serviceKey(group, name)]
}

// Start initializes every service in registration order. The first failure
// aborts startup and is returned; services already initialized are not
// stopped, the daemon is expected to exit.
func (m *Manager) Start() error {
	for _, key := range m.order {
		if err := m.services[key].Initialize(); err != nil {
			return errors.Wrapf(err, "error initializing service %q", key)
		}
	}
	m.started = true
	return nil
}

// Update ticks every service in registration order.
func (m *Manager) Update() {
	if !m.started {
		return
	}
	for _, key := range m.order {
		m.services[key].Update()
	}
}

// Stop stops every service in reverse registration order, so services are
// stopped before anything they depend on.
func (m *Manager) Stop() {
	if !m.started {
		return
	}
	m.started = false
	for i := len(m.order) - 1; i >= 0; i-- {
		key := m.order[i]
		m.Infof("Stopping service %q", key)
		m.services[key].Stop()
	}
}

// Running reports whether Start has completed and Stop has not been called.
func (m *Manager) Running() bool {
	return m.started
}
