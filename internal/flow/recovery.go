package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TrackPipe/internal/recovery"
)

// RecoverState re-arms idle timers for forms stored before a restart. Forms that
// went idle while the process was down are evicted right away.
func (e *Engine) RecoverState(ctx context.Context, registry *recovery.RecoveryRegistry) error {
	if e.idleTimeout <= 0 {
		return nil
	}
	states, err := registry.GetStore().ListConversationStates(ctx)
	if err != nil {
		return fmt.Errorf("list conversation states: %w", err)
	}
	now := e.now()
	armed, expired := 0, 0
	for _, st := range states {
		remaining := e.idleTimeout - now.Sub(st.UpdatedAt)
		if remaining <= 0 {
			e.expire(st.UserID, st.UpdatedAt)
			expired++
			continue
		}
		e.armTimerAfter(st.UserID, st.UpdatedAt, remaining)
		armed++
	}
	slog.Info("Engine recovered idle timers", "armed", armed, "expired", expired)
	return nil
}
