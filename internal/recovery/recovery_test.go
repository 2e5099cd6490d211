package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/TrackPipe/internal/store"
)

type fakeComponent struct {
	err      error
	calls    *[]string
	name     string
	sawStore bool
}

func (f *fakeComponent) RecoverState(ctx context.Context, registry *RecoveryRegistry) error {
	*f.calls = append(*f.calls, f.name)
	f.sawStore = registry.GetStore() != nil
	return f.err
}

func TestRecoverAllRunsInOrder(t *testing.T) {
	var calls []string
	rm := NewRecoveryManager(store.NewInMemoryStore())
	flows := &fakeComponent{name: "flows", calls: &calls}
	rm.Register("flows", flows)
	rm.Register("reminders", &fakeComponent{name: "reminders", calls: &calls})

	require.NoError(t, rm.RecoverAll(context.Background()))
	assert.Equal(t, []string{"flows", "reminders"}, calls)
	assert.True(t, flows.sawStore)
}

func TestRecoverAllContinuesAfterFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	rm := NewRecoveryManager(store.NewInMemoryStore())
	rm.Register("flows", &fakeComponent{name: "flows", calls: &calls, err: boom})
	rm.Register("reminders", &fakeComponent{name: "reminders", calls: &calls})

	err := rm.RecoverAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "flows")
	assert.Equal(t, []string{"flows", "reminders"}, calls)
}

func TestRecoverAllEmpty(t *testing.T) {
	assert.NoError(t, NewRecoveryManager(store.NewInMemoryStore()).RecoverAll(context.Background()))
}
