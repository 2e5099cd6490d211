package flow

import (
	"github.com/BTreeMap/TrackPipe/internal/store"
)

// NewMockStateManager creates an in-memory state manager for testing
func NewMockStateManager() *StoreBasedStateManager {
	return NewStoreBasedStateManager(store.NewInMemoryStore())
}
