package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAnswersPreserveInsertionOrder(t *testing.T) {
	a := NewAnswers()
	a.Set(KeyWater, int64(1500))
	a.Set(KeyActivity, true)
	a.Set(KeyMood, int64(7))
	a.Set(KeyWater, int64(2000)) // overwrite keeps position

	keys := a.Keys()
	want := []FieldKey{KeyWater, KeyActivity, KeyMood}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
	if v, _ := a.Int(KeyWater); v != 2000 {
		t.Errorf("expected overwritten water 2000, got %d", v)
	}
}

func TestAnswersJSONKeepsTypes(t *testing.T) {
	a := NewAnswers()
	a.Set(KeyFinanceType, "expense")
	a.Set(KeyAmount, 1500.0)
	a.Set(KeyGrams, int64(150))
	a.Set(KeyActivity, false)

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back Answers
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if v, ok := back.Get(KeyAmount); !ok || v.(float64) != 1500.0 {
		t.Errorf("amount lost its float type: %#v", v)
	}
	if v, ok := back.Get(KeyGrams); !ok || v.(int64) != 150 {
		t.Errorf("grams lost its int type: %#v", v)
	}
	if v, ok := back.Get(KeyActivity); !ok || v.(bool) != false {
		t.Errorf("activity lost its bool type: %#v", v)
	}
	if back.Keys()[0] != KeyFinanceType {
		t.Errorf("order not preserved: %v", back.Keys())
	}
}

func TestAnswersRejectUnsupportedType(t *testing.T) {
	a := NewAnswers()
	a.Set("bad", []string{"x"})
	if _, err := json.Marshal(a); err == nil {
		t.Error("expected error for unsupported answer type")
	}
}

func TestAnswersCloneIsIndependent(t *testing.T) {
	a := NewAnswers()
	a.Set(KeyUnit, "ml")
	c := a.Clone()
	c.Set(KeyUnit, "pcs")
	if a.String(KeyUnit) != "ml" {
		t.Errorf("clone mutated original: %q", a.String(KeyUnit))
	}
}

func TestNutrientsScale(t *testing.T) {
	per100 := Nutrients{Calories: 52, Protein: 0.3, Carbs: 14}
	got := per100.Scale(150)
	if got.Calories != 78 {
		t.Errorf("expected 78 kcal, got %v", got.Calories)
	}
	sum := got.Add(got)
	if sum.Calories != 156 {
		t.Errorf("expected 156 kcal, got %v", sum.Calories)
	}
}

func TestFinanceEntryValidate(t *testing.T) {
	valid := FinanceEntry{UserID: "1", Type: FinanceExpense, Amount: decimal.NewFromInt(1500), Category: "такси"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		mod  func(e *FinanceEntry)
		want error
	}{
		{"missing user", func(e *FinanceEntry) { e.UserID = "" }, ErrEmptyUserID},
		{"bad type", func(e *FinanceEntry) { e.Type = "gift" }, ErrInvalidFinanceType},
		{"zero amount", func(e *FinanceEntry) { e.Amount = decimal.Zero }, ErrNonPositiveAmount},
		{"empty category", func(e *FinanceEntry) { e.Category = "" }, ErrEmptyName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mod(&e)
			if err := e.Validate(); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReminderValidate(t *testing.T) {
	if err := (Reminder{UserID: "1", Time: "09:30"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Reminder{UserID: "1", Time: "25:00"}).Validate(); err != ErrInvalidTimeOfDay {
		t.Errorf("expected ErrInvalidTimeOfDay, got %v", err)
	}
}

func TestIsReservedDayLogKey(t *testing.T) {
	if !IsReservedDayLogKey("mood") {
		t.Error("mood should be reserved")
	}
	if !IsReservedDayLogKey(" Mood ") {
		t.Error("reserved names should match ignoring case")
	}
	if IsReservedDayLogKey("sleep_quality") {
		t.Error("sleep_quality should not be reserved")
	}
}
