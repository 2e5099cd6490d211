package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// StateRepo is the storage needed by StoreBasedStateManager.
type StateRepo interface {
	GetConversationState(ctx context.Context, userID string) (*models.ConversationState, error)
	SaveConversationState(ctx context.Context, state models.ConversationState) error
	DeleteConversationState(ctx context.Context, userID string) error
}

// StoreBasedStateManager implements StateManager using a store backend.
type StoreBasedStateManager struct {
	repo StateRepo
}

// NewStoreBasedStateManager creates a new StateManager backed by a store.
func NewStoreBasedStateManager(repo StateRepo) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{repo: repo}
}

// Load retrieves the current state for a user.
func (sm *StoreBasedStateManager) Load(ctx context.Context, userID string) (*models.ConversationState, error) {
	st, err := sm.repo.GetConversationState(ctx, userID)
	if err != nil {
		slog.Error("StateManager Load error", "error", err, "userID", userID)
		return nil, err
	}
	if st == nil {
		slog.Debug("StateManager Load not found", "userID", userID)
		return nil, nil
	}
	slog.Debug("StateManager Load found", "userID", userID, "form", st.Form, "currentKey", st.CurrentKey)
	return st, nil
}

// Save persists the state for its user.
func (sm *StoreBasedStateManager) Save(ctx context.Context, state *models.ConversationState) error {
	if err := sm.repo.SaveConversationState(ctx, *state); err != nil {
		slog.Error("StateManager Save error", "error", err, "userID", state.UserID, "form", state.Form)
		return err
	}
	slog.Debug("StateManager Save succeeded", "userID", state.UserID, "form", state.Form, "currentKey", state.CurrentKey)
	return nil
}

// Reset removes the state for a user.
func (sm *StoreBasedStateManager) Reset(ctx context.Context, userID string) error {
	if err := sm.repo.DeleteConversationState(ctx, userID); err != nil {
		slog.Error("StateManager Reset error", "error", err, "userID", userID)
		return err
	}
	slog.Debug("StateManager Reset succeeded", "userID", userID)
	return nil
}
