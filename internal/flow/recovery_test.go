package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/recovery"
	"github.com/BTreeMap/TrackPipe/internal/store"
)

func TestRecoverStateRearmsAndEvicts(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	for userID, age := range map[string]time.Duration{"fresh": time.Minute, "stale": 2 * time.Hour} {
		s := models.ConversationState{
			UserID:     userID,
			Form:       models.FormDayLog,
			CurrentKey: models.KeySmoke,
			Answers:    models.NewAnswers(),
			CreatedAt:  testNow.Add(-age),
			UpdatedAt:  testNow.Add(-age),
		}
		if err := st.SaveConversationState(ctx, s); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	var mu sync.Mutex
	var expired []string
	timer := &manualTimer{}
	e := NewEngine(DefaultRegistry(FormDeps{}), NewStoreBasedStateManager(st), &recordingSink{}, nil,
		WithClock(func() time.Time { return testNow }),
		WithIdleTimeout(30*time.Minute),
		WithTimer(timer),
		WithExpiryHandler(func(ctx context.Context, userID string, form models.FormKind) {
			mu.Lock()
			expired = append(expired, userID)
			mu.Unlock()
		}))

	rm := recovery.NewRecoveryManager(st)
	rm.Register("forms", e)
	if err := rm.RecoverAll(ctx); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}

	if s, _ := st.GetConversationState(ctx, "stale"); s != nil {
		t.Error("stale form should be evicted during recovery")
	}
	if len(expired) != 1 || expired[0] != "stale" {
		t.Errorf("expected expiry callback for stale only, got %v", expired)
	}
	if len(timer.delays) != 1 || timer.delays[0] != 29*time.Minute {
		t.Fatalf("expected one timer for the remaining 29m, got %v", timer.delays)
	}

	timer.fireAll()
	if s, _ := st.GetConversationState(ctx, "fresh"); s != nil {
		t.Error("fresh form should expire when its recovered timer fires")
	}
}

func TestRecoverStateWithoutTimeoutIsNoop(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(DefaultRegistry(FormDeps{}), NewStoreBasedStateManager(st), &recordingSink{}, nil)
	if err := e.RecoverState(context.Background(), recovery.NewRecoveryRegistry(st)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
