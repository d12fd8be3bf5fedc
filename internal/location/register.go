// Package location tracks the active counting location
package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/service"
)

// ErrUnknownLocation is returned by Set for ids outside the configured list
var ErrUnknownLocation = errors.New("unknown location")

// Config contains register settings
type Config struct {
	File         string        // side channel holding the active location id
	Default      string        // used when the file is missing, empty or unreadable
	Available    []string      // accepted ids for Set; empty accepts any
	PollInterval time.Duration // how often File is re-read
}

// Register holds the active location. Current never returns an empty
// string.
type Register struct {
	*service.ServiceBase

	cfg Config

	mu        sync.RWMutex
	current   string
	available []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegister creates a register and reads the file once
func NewRegister(cfg Config, log *logger.Logger) (*Register, error) {
	cfg.Default = strings.TrimSpace(cfg.Default)
	if cfg.Default == "" {
		return nil, fmt.Errorf("default location must not be empty")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	r := &Register{
		ServiceBase: service.NewServiceBase("location", log),
		cfg:         cfg,
		current:     cfg.Default,
		available:   append([]string(nil), cfg.Available...),
	}
	r.Refresh()
	return r, nil
}

// Current returns the active location
func (r *Register) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Default returns the fallback location
func (r *Register) Default() string {
	return r.cfg.Default
}

// Available returns the configured location ids
func (r *Register) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.available...)
}

// SetAvailable replaces the location list, e.g. after a config reload
func (r *Register) SetAvailable(ids []string) {
	r.mu.Lock()
	r.available = append([]string(nil), ids...)
	r.mu.Unlock()
}

// Refresh re-reads the side channel and returns the active location
func (r *Register) Refresh() string {
	next := r.cfg.Default
	data, err := os.ReadFile(r.cfg.File)
	switch {
	case err == nil:
		if v := strings.TrimSpace(string(data)); v != "" {
			next = v
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		r.LogWarn("Failed to read location file, using default",
			"file", r.cfg.File,
			"default", r.cfg.Default,
			"error", err,
		)
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	if prev != next {
		r.LogInfo("Active location changed", "from", prev, "to", next)
		r.PublishEvent(service.EventTypeLocationChanged, map[string]interface{}{
			"from": prev,
			"to":   next,
		})
	}
	return next
}

// Resolve returns the canonical id for id, matching the configured list
// case-insensitively
func (r *Register) Resolve(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrUnknownLocation)
	}

	available := r.Available()
	if len(available) == 0 {
		return id, nil
	}
	for _, a := range available {
		if strings.EqualFold(a, id) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLocation, id)
}

// Set writes id to the side channel and makes it active
func (r *Register) Set(id string) (string, error) {
	canonical, err := r.Resolve(id)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(r.cfg.File, []byte(canonical+"\n")); err != nil {
		return "", fmt.Errorf("failed to write location file: %w", err)
	}
	return r.Refresh(), nil
}

// Start polls the side channel until Stop or ctx is done
func (r *Register) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Refresh()
			}
		}
	}()

	r.LogInfo("Location register started",
		"file", r.cfg.File,
		"current", r.Current(),
		"poll_interval", r.cfg.PollInterval,
	)
	return nil
}

// Stop stops polling
func (r *Register) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".location-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
