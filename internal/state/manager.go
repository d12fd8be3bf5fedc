package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

// Manager owns the vehicle store
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens (or creates) the store at dbPath
func NewManager(dbPath string, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping checks the database connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// RecoveredState summarises what a previous run left in the store
type RecoveredState struct {
	Vehicles    int64
	LastEventAt string // stored timestamp text, empty when there are no rows
	SystemState map[string]string
}

// RecoverState reads the store on startup
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recovered := &RecoveredState{SystemState: make(map[string]string)}

	var last sql.NullString
	err := m.db.GetDB().QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(timestamp) FROM vehicles`,
	).Scan(&recovered.Vehicles, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to recover vehicles: %w", err)
	}
	recovered.LastEventAt = last.String

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		recovered.SystemState[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	m.logger.Info("State recovery complete",
		"vehicles", recovered.Vehicles,
		"last_event_at", recovered.LastEventAt,
	)

	return recovered, nil
}
