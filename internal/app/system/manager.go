package system

import (
	"context"
	"fmt"

	core "github.com/offerwatch/ingestor/internal/app/core/service"
)

// Manager owns the lifecycle of a fixed set of registered services: starting
// them in registration order and stopping them in reverse, so a later
// service that depends on an earlier one never outlives it.
type Manager struct {
	services []Service
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a service to the managed set. Registration order determines
// start order; stop order is the reverse.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Start starts every registered service in order. If one fails, the services
// already started are stopped (in reverse) before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.stopFrom(ctx, i-1)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Stop stops every registered service in reverse order, collecting (not
// short-circuiting on) individual failures.
func (m *Manager) Stop(ctx context.Context) error {
	return m.stopFrom(ctx, len(m.services)-1)
}

func (m *Manager) stopFrom(ctx context.Context, from int) error {
	var firstErr error
	for i := from; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
		}
	}
	return firstErr
}

// Descriptors returns the descriptors advertised by registered services that
// implement DescriptorProvider, sorted by layer then name.
func (m *Manager) Descriptors() []core.Descriptor {
	providers := make([]DescriptorProvider, 0, len(m.services))
	for _, svc := range m.services {
		if dp, ok := svc.(DescriptorProvider); ok {
			providers = append(providers, dp)
		}
	}
	return CollectDescriptors(providers)
}
