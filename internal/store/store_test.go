package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns every store available in this environment.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			t.Logf("Postgres not available: %v", err)
		} else {
			for _, table := range []string{"conversation_states", "habits", "daily_logs", "custom_fields", "products",
				"nutrition_logs", "finance_entries", "finance_categories", "reminders", "receipts", "responses",
				"inbound_dedup", "outbox_messages"} {
				pg.db.Exec("DELETE FROM " + table)
			}
			t.Cleanup(func() { pg.Close() })
			out["postgres"] = pg
		}
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":       "postgres",
		"postgresql://localhost/db":         "postgres",
		"host=localhost user=x dbname=track": "postgres",
		"/var/lib/trackpipe/state.db":       "sqlite3",
		"file:test.db?cache=shared":         "sqlite3",
	}
	for dsn, want := range tests {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestConversationStateRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		answers := models.NewAnswers()
		answers.Set(models.KeyWater, int64(1500))
		answers.Set(models.KeySleep, 7.5)
		st := models.ConversationState{
			UserID:       "u1",
			Form:         models.FormDayLog,
			CurrentKey:   "meditated",
			Answers:      answers,
			InCustomLoop: true,
			CustomDefs:   []models.CustomFieldDef{{Name: "meditated", Type: models.CustomFieldBool}},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.SaveConversationState(ctx, st); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		got, err := s.GetConversationState(ctx, "u1")
		if err != nil || got == nil {
			t.Fatalf("load failed: %v, %v", got, err)
		}
		if got.Form != models.FormDayLog || !got.InCustomLoop || len(got.CustomDefs) != 1 {
			t.Errorf("state not restored: %+v", got)
		}
		if v, _ := got.Answers.Int(models.KeyWater); v != 1500 {
			t.Errorf("water lost: %v", v)
		}

		// Mutating the loaded copy must not leak into the store.
		got.Answers.Set(models.KeyWater, int64(1))
		again, _ := s.GetConversationState(ctx, "u1")
		if v, _ := again.Answers.Int(models.KeyWater); v != 1500 {
			t.Errorf("stored state aliased the caller's answers: %v", v)
		}

		if err := s.DeleteConversationState(ctx, "u1"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if got, _ := s.GetConversationState(ctx, "u1"); got != nil {
			t.Errorf("expected nil after delete, got %+v", got)
		}
	})
}

func TestHabitUpsertIsCaseInsensitive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		h := models.Habit{UserID: "u1", Name: "Бег", HabitType: "good", TrackingType: "bool", Repeat: "daily", CreatedAt: time.Now()}
		if err := s.UpsertHabit(ctx, h); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		h.Name = "бег"
		h.Repeat = "weekly"
		if err := s.UpsertHabit(ctx, h); err != nil {
			t.Fatalf("second upsert failed: %v", err)
		}
		habits, err := s.ListHabits(ctx, "u1")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(habits) != 1 || habits[0].Repeat != "weekly" {
			t.Fatalf("expected one updated habit, got %+v", habits)
		}
		ok, err := s.DeleteHabit(ctx, "u1", "БЕГ")
		if err != nil || !ok {
			t.Fatalf("delete failed: %v, %v", ok, err)
		}
		if ok, _ := s.DeleteHabit(ctx, "u1", "бег"); ok {
			t.Error("second delete should report nothing deleted")
		}
	})
}

func TestMergeDailyLogKeepsEarlierFields(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now()
		if err := s.MergeDailyLog(ctx, "u1", "2026-03-01", map[string]any{"water": int64(1500), "mood": int64(5)}, now); err != nil {
			t.Fatalf("first merge failed: %v", err)
		}
		if err := s.MergeDailyLog(ctx, "u1", "2026-03-01", map[string]any{"mood": int64(8), "meditated": true}, now); err != nil {
			t.Fatalf("second merge failed: %v", err)
		}
		logs, err := s.ListDailyLogs(ctx, "u1", "2026-03-01", "2026-03-01")
		if err != nil || len(logs) != 1 {
			t.Fatalf("expected one log, got %v, %v", logs, err)
		}
		d := logs[0].Data
		if _, ok := d["water"]; !ok {
			t.Error("water dropped by second merge")
		}
		if d["meditated"] != true {
			t.Errorf("meditated not merged: %v", d["meditated"])
		}
		switch m := d["mood"].(type) {
		case int64:
			if m != 8 {
				t.Errorf("mood not overwritten: %v", m)
			}
		case float64:
			if m != 8 {
				t.Errorf("mood not overwritten: %v", m)
			}
		default:
			t.Errorf("unexpected mood type %T", m)
		}
	})
}

func TestMergeDailyLogConcurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		keys := []string{"a", "b", "c", "d", "e", "f"}
		var wg sync.WaitGroup
		for _, k := range keys {
			wg.Add(1)
			go func(k string) {
				defer wg.Done()
				if err := s.MergeDailyLog(ctx, "u1", "2026-03-02", map[string]any{k: true}, time.Now()); err != nil {
					t.Errorf("merge %s failed: %v", k, err)
				}
			}(k)
		}
		wg.Wait()
		logs, _ := s.ListDailyLogs(ctx, "u1", "2026-03-02", "2026-03-02")
		if len(logs) != 1 || len(logs[0].Data) != len(keys) {
			t.Fatalf("expected %d merged keys, got %+v", len(keys), logs)
		}
	})
}

func TestRecentDailyLogsNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, d := range []string{"2026-03-01", "2026-03-03", "2026-03-02"} {
			if err := s.MergeDailyLog(ctx, "u1", d, map[string]any{"water": int64(1)}, time.Now()); err != nil {
				t.Fatalf("merge failed: %v", err)
			}
		}
		logs, err := s.RecentDailyLogs(ctx, "u1", 2)
		if err != nil {
			t.Fatalf("recent failed: %v", err)
		}
		if len(logs) != 2 || logs[0].Date != "2026-03-03" || logs[1].Date != "2026-03-02" {
			t.Errorf("unexpected order: %+v", logs)
		}
	})
}

func TestCustomFieldsKeepCreationOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, name := range []string{"zeta", "alpha", "mid"} {
			if err := s.AddCustomField(ctx, models.CustomFieldDef{UserID: "u1", Name: name, Type: models.CustomFieldInt, CreatedAt: time.Now()}); err != nil {
				t.Fatalf("add %s failed: %v", name, err)
			}
		}
		if err := s.AddCustomField(ctx, models.CustomFieldDef{UserID: "u1", Name: "ALPHA", Type: models.CustomFieldBool}); !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
		defs, err := s.ListCustomFields(ctx, "u1")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(defs) != 3 || defs[0].Name != "zeta" || defs[1].Name != "alpha" || defs[2].Name != "mid" {
			t.Errorf("unexpected order: %+v", defs)
		}
		if ok, _ := s.DeleteCustomField(ctx, "u1", "alpha"); !ok {
			t.Error("expected alpha deleted")
		}
		defs, _ = s.ListCustomFields(ctx, "u1")
		if len(defs) != 2 || defs[1].Name != "mid" {
			t.Errorf("unexpected after delete: %+v", defs)
		}
	})
}

func TestReplaceCustomField(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, name := range []string{"steps", "meditated"} {
			if err := s.AddCustomField(ctx, models.CustomFieldDef{UserID: "u1", Name: name, Type: models.CustomFieldInt, CreatedAt: time.Now()}); err != nil {
				t.Fatalf("add %s failed: %v", name, err)
			}
		}

		replaced, err := s.ReplaceCustomField(ctx, models.CustomFieldDef{UserID: "u1", Name: "Steps", Type: models.CustomFieldText, CreatedAt: time.Now()})
		if err != nil || !replaced {
			t.Fatalf("ReplaceCustomField = %v, %v; want true, nil", replaced, err)
		}
		defs, _ := s.ListCustomFields(ctx, "u1")
		if len(defs) != 2 || defs[0].Name != "meditated" || defs[1].Name != "Steps" || defs[1].Type != models.CustomFieldText {
			t.Errorf("unexpected after replace: %+v", defs)
		}

		replaced, err = s.ReplaceCustomField(ctx, models.CustomFieldDef{UserID: "u1", Name: "mood_note", Type: models.CustomFieldText, CreatedAt: time.Now()})
		if err != nil || replaced {
			t.Errorf("new name: ReplaceCustomField = %v, %v; want false, nil", replaced, err)
		}
	})
}

func TestReplaceCustomFieldKeepsOldOnFailure(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if _, err := s.db.Exec(`CREATE TRIGGER reject_broken BEFORE INSERT ON custom_fields
		WHEN NEW.field_type = 'broken' BEGIN SELECT RAISE(ABORT, 'rejected'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	if err := s.AddCustomField(ctx, models.CustomFieldDef{UserID: "u1", Name: "steps", Type: models.CustomFieldInt, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ReplaceCustomField(ctx, models.CustomFieldDef{UserID: "u1", Name: "steps", Type: "broken", CreatedAt: time.Now()}); err == nil {
		t.Fatal("expected the insert to be rejected")
	}
	defs, err := s.ListCustomFields(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Name != "steps" || defs[0].Type != models.CustomFieldInt {
		t.Errorf("old definition must survive a failed replace, got %+v", defs)
	}
}

func TestProductsAndNutrition(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := models.Product{UserID: "u1", Name: "Яблоко", Per100g: models.Nutrients{Calories: 52, Carbs: 14}, UpdatedAt: time.Now()}
		if err := s.UpsertProduct(ctx, p); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		got, err := s.GetProduct(ctx, "u1", "яблоко")
		if err != nil || got == nil || got.Per100g.Calories != 52 {
			t.Fatalf("lookup failed: %+v, %v", got, err)
		}
		if got, _ := s.GetProduct(ctx, "u2", "яблоко"); got != nil {
			t.Error("products must be per user")
		}

		e := models.NutritionEntry{ID: "n1", UserID: "u1", Date: "2026-03-01", Meal: "обед", Product: "Яблоко",
			WeightGrams: 150, Nutrients: p.Per100g.Scale(150), CreatedAt: time.Now()}
		if err := s.AddNutritionEntry(ctx, e); err != nil {
			t.Fatalf("add entry failed: %v", err)
		}
		entries, err := s.ListNutritionEntries(ctx, "u1", "2026-03-01", "2026-03-01")
		if err != nil || len(entries) != 1 || entries[0].Nutrients.Calories != 78 {
			t.Fatalf("unexpected entries %+v, %v", entries, err)
		}
		if ok, _ := s.DeleteProduct(ctx, "u1", "ЯБЛОКО"); !ok {
			t.Error("expected product deleted")
		}
	})
}

func TestFinanceCategoriesAndEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, err := s.CreateFinanceCategory(ctx, "u1", "Такси", models.FinanceExpense)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if c.ID == 0 {
			t.Error("expected category id")
		}
		if _, err := s.CreateFinanceCategory(ctx, "u1", "такси", models.FinanceExpense); !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
		if _, err := s.CreateFinanceCategory(ctx, "u1", "такси", models.FinanceIncome); err != nil {
			t.Errorf("same name with other type should be allowed: %v", err)
		}
		cats, _ := s.ListFinanceCategories(ctx, "u1", models.FinanceExpense)
		if len(cats) != 1 || cats[0].Name != "Такси" {
			t.Errorf("unexpected categories %+v", cats)
		}
		all, _ := s.ListFinanceCategories(ctx, "u1", "")
		if len(all) != 2 {
			t.Errorf("expected 2 categories of any type, got %d", len(all))
		}

		e := models.FinanceEntry{ID: "f1", UserID: "u1", Date: "2026-03-01", Type: models.FinanceExpense,
			Amount: decimal.RequireFromString("1500.50"), CategoryID: c.ID, Category: c.Name, CreatedAt: time.Now()}
		if err := s.AddFinanceEntry(ctx, e); err != nil {
			t.Fatalf("add entry failed: %v", err)
		}
		entries, err := s.ListFinanceEntries(ctx, "u1", "2026-03-01", "2026-03-07")
		if err != nil || len(entries) != 1 {
			t.Fatalf("unexpected entries %+v, %v", entries, err)
		}
		if !entries[0].Amount.Equal(decimal.RequireFromString("1500.5")) {
			t.Errorf("amount changed: %s", entries[0].Amount)
		}
	})
}

func TestReminders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.SetReminder(ctx, models.Reminder{UserID: "u1", Time: "09:00", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		if err := s.SetReminder(ctx, models.Reminder{UserID: "u1", Time: "21:30", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("reset failed: %v", err)
		}
		r, err := s.GetReminder(ctx, "u1")
		if err != nil || r == nil || r.Time != "21:30" {
			t.Fatalf("unexpected reminder %+v, %v", r, err)
		}
		all, _ := s.ListReminders(ctx)
		if len(all) != 1 {
			t.Errorf("expected one reminder per user, got %d", len(all))
		}
		if ok, _ := s.DeleteReminder(ctx, "u1"); !ok {
			t.Error("expected reminder deleted")
		}
		if r, _ := s.GetReminder(ctx, "u1"); r != nil {
			t.Errorf("expected nil reminder, got %+v", r)
		}
	})
}

func TestReceiptsAndResponses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.AddReceipt(models.Receipt{To: "+123", Status: models.MessageStatusSent, Time: 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		receipts, err := s.GetReceipts()
		if err != nil || len(receipts) != 1 || receipts[0].To != "+123" {
			t.Errorf("receipt not stored or retrieved correctly: %+v, %v", receipts, err)
		}
		if err := s.AddResponse(models.Response{From: "+123", Body: "/day", Time: 2}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		responses, err := s.GetResponses()
		if err != nil || len(responses) != 1 || responses[0].Body != "/day" {
			t.Errorf("response not stored or retrieved correctly: %+v, %v", responses, err)
		}
	})
}
