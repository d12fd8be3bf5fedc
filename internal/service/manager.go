package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

// DefaultStopTimeout bounds each service's Stop during Shutdown
const DefaultStopTimeout = 10 * time.Second

// Manager starts services in registration order and stops them in reverse
type Manager struct {
	logger      *logger.Logger
	services    []Service
	statuses    map[string]*ServiceStatus
	eventBus    *EventBus
	stopTimeout time.Duration
	mu          sync.RWMutex
	started     []Service
	monitorStop context.CancelFunc
}

// Service represents a service that can be started and stopped.
// Start must return promptly and leave long-running work to goroutines.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// statusReporter is implemented by services embedding ServiceBase, whose
// status is shared with the manager
type statusReporter interface {
	GetStatus() *ServiceStatus
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log,
		statuses:    make(map[string]*ServiceStatus),
		eventBus:    NewEventBus(100),
		stopTimeout: DefaultStopTimeout,
	}
}

// SetStopTimeout changes the per-service stop bound
func (m *Manager) SetStopTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.stopTimeout = d
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register adds a service. Registration order is start order.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)

	status := NewServiceStatus(svc.Name())
	if r, ok := svc.(statusReporter); ok && r.GetStatus() != nil {
		status = r.GetStatus()
	}
	m.statuses[svc.Name()] = status

	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts every registered service in order. When one fails, the
// services already started are stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	if m.monitorStop == nil {
		var monitorCtx context.Context
		monitorCtx, m.monitorStop = context.WithCancel(ctx)
		m.startEventMonitoring(monitorCtx)
	}
	m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(services))

	for _, svc := range services {
		status := m.status(svc.Name())
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start",
				"service", svc.Name(),
				"error", err,
			)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data: map[string]interface{}{
					"error": err.Error(),
				},
			})

			rollbackCtx, cancel := context.WithTimeout(context.Background(), m.timeout())
			m.stopStarted(rollbackCtx)
			cancel()
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}

		status.SetStatus(StatusRunning)
		m.mu.Lock()
		m.started = append(m.started, svc)
		m.mu.Unlock()

		m.logger.Info("Service started", "service", svc.Name())
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data: map[string]interface{}{
				"service": svc.Name(),
			},
		})
	}
	return nil
}

// startEventMonitoring logs every bus event at debug level
func (m *Manager) startEventMonitoring(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		defer m.eventBus.UnsubscribeAll(ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"timestamp", event.Timestamp,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops started services in reverse order and closes the bus.
// Stop errors are collected; the first ctx expiry aborts the wait.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down services", "count", m.GetServiceCount())

	done := make(chan error, 1)
	go func() {
		done <- m.stopStarted(ctx)
	}()

	var err error
	select {
	case err = <-done:
		m.logger.Info("All services stopped")
	case <-ctx.Done():
		err = fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	m.mu.Lock()
	if m.monitorStop != nil {
		m.monitorStop()
	}
	m.mu.Unlock()
	m.eventBus.Close()
	return err
}

// stopStarted stops and forgets every started service, newest first
func (m *Manager) stopStarted(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	var errs error
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		status := m.status(svc.Name())

		status.SetStatus(StatusStopping)
		m.logger.Info("Stopping service", "service", svc.Name())

		stopCtx, cancel := context.WithTimeout(ctx, m.timeout())
		err := svc.Stop(stopCtx)
		cancel()

		if err != nil {
			status.SetError(err)
			m.logger.Error("Error stopping service",
				"service", svc.Name(),
				"error", err,
			)
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		} else {
			status.SetStatus(StatusStopped)
			m.logger.Info("Service stopped", "service", svc.Name())
		}

		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStopped,
			Source: "manager",
			Data: map[string]interface{}{
				"service": svc.Name(),
			},
		})
	}
	return errs
}

func (m *Manager) status(name string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[name]
}

func (m *Manager) timeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopTimeout
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	return m.status(serviceName)
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}

// Snapshots returns a serializable copy of every service status in
// registration order
func (m *Manager) Snapshots() []StatusSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make([]StatusSnapshot, 0, len(m.services))
	for _, svc := range m.services {
		snaps = append(snaps, m.statuses[svc.Name()].Snapshot())
	}
	return snaps
}
