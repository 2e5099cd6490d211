package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// StateManager persists the per-user conversation state.
type StateManager interface {
	// Load returns the user's state, or nil when the user is idle.
	Load(ctx context.Context, userID string) (*models.ConversationState, error)
	// Save replaces the user's state.
	Save(ctx context.Context, state *models.ConversationState) error
	// Reset makes the user idle.
	Reset(ctx context.Context, userID string) error
}

// RecordSink receives every finalized record exactly once.
type RecordSink interface {
	SaveRecord(ctx context.Context, rec models.FinalizedRecord) error
}

// CustomFieldSource lists a user's custom day-log fields in creation order.
type CustomFieldSource interface {
	ListCustomFields(ctx context.Context, userID string) ([]models.CustomFieldDef, error)
}

// Timer keeps at most one pending callback per key.
type Timer interface {
	// Reset replaces the pending callback for key with fn, due after delay.
	Reset(key string, delay time.Duration, fn func())
	// Stop drops the pending callback for key. Unknown keys are ignored.
	Stop(key string)
}
