// Package recovery restores in-process state after a restart: cron reminders and
// idle-form timers live only in memory and are rebuilt from the store.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/store"
)

// Recoverable is a component with in-memory state derived from the store.
type Recoverable interface {
	RecoverState(ctx context.Context, registry *RecoveryRegistry) error
}

// RecoveryRegistry is what a Recoverable may read while rebuilding.
type RecoveryRegistry struct {
	store store.Store
}

// NewRecoveryRegistry wraps st for recovery.
func NewRecoveryRegistry(st store.Store) *RecoveryRegistry {
	return &RecoveryRegistry{store: st}
}

// GetStore returns the store the components rebuild from.
func (r *RecoveryRegistry) GetStore() store.Store {
	return r.store
}

type component struct {
	name string
	r    Recoverable
}

// RecoveryManager runs the registered components once at startup.
type RecoveryManager struct {
	registry   *RecoveryRegistry
	components []component
}

// NewRecoveryManager returns a manager rebuilding from st.
func NewRecoveryManager(st store.Store) *RecoveryManager {
	return &RecoveryManager{registry: NewRecoveryRegistry(st)}
}

// Register adds r under name. Components recover in registration order.
func (rm *RecoveryManager) Register(name string, r Recoverable) {
	rm.components = append(rm.components, component{name: name, r: r})
}

// RecoverAll recovers every component. Failures are joined; a failing component
// never stops the ones after it.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	var errs []error
	for _, c := range rm.components {
		start := time.Now()
		if err := c.r.RecoverState(ctx, rm.registry); err != nil {
			slog.Error("Recovery failed", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		slog.Info("Recovered", "component", c.name, "took", time.Since(start))
	}
	return errors.Join(errs...)
}
