package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage format for calendar days.
const DateLayout = "2006-01-02"

// Habit is a tracked good or bad habit.
type Habit struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	HabitType    string    `json:"habit_type"`    // "good" or "bad"
	TrackingType string    `json:"tracking_type"` // "bool" or "qty"
	Unit         string    `json:"unit,omitempty"`
	Deadline     string    `json:"deadline,omitempty"`
	Repeat       string    `json:"repeat,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DailyLog is the merged day-log data for one user and date.
type DailyLog struct {
	UserID    string         `json:"user_id"`
	Date      string         `json:"date"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Nutrients holds macro values. In a Product they are per 100 g.
type Nutrients struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fat      float64 `json:"fat"`
	Carbs    float64 `json:"carbs"`
	Salt     float64 `json:"salt"`
	Sugar    float64 `json:"sugar"`
	Fiber    float64 `json:"fiber"`
}

// Scale returns the nutrients for grams of a product described per 100 g.
func (n Nutrients) Scale(grams int64) Nutrients {
	f := float64(grams) / 100
	return Nutrients{
		Calories: n.Calories * f,
		Protein:  n.Protein * f,
		Fat:      n.Fat * f,
		Carbs:    n.Carbs * f,
		Salt:     n.Salt * f,
		Sugar:    n.Sugar * f,
		Fiber:    n.Fiber * f,
	}
}

// Add returns the element-wise sum.
func (n Nutrients) Add(o Nutrients) Nutrients {
	return Nutrients{
		Calories: n.Calories + o.Calories,
		Protein:  n.Protein + o.Protein,
		Fat:      n.Fat + o.Fat,
		Carbs:    n.Carbs + o.Carbs,
		Salt:     n.Salt + o.Salt,
		Sugar:    n.Sugar + o.Sugar,
		Fiber:    n.Fiber + o.Fiber,
	}
}

// Product is a catalog entry with nutrients per 100 g.
type Product struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Per100g   Nutrients `json:"per_100g"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NutritionEntry is one product eaten at one meal.
type NutritionEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Date        string    `json:"date"`
	Meal        string    `json:"meal"`
	Product     string    `json:"product"`
	WeightGrams int64     `json:"weight_grams"`
	Nutrients   Nutrients `json:"nutrients"`
	CreatedAt   time.Time `json:"created_at"`
}

// FinanceType is either income or expense.
type FinanceType string

const (
	FinanceIncome  FinanceType = "income"
	FinanceExpense FinanceType = "expense"
)

// IsValidFinanceType reports whether t is income or expense.
func IsValidFinanceType(t FinanceType) bool {
	return t == FinanceIncome || t == FinanceExpense
}

// FinanceCategory groups finance entries of one type.
type FinanceCategory struct {
	ID        int64       `json:"id"`
	UserID    string      `json:"user_id"`
	Name      string      `json:"name"`
	Type      FinanceType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// MatchesName reports whether name refers to this category, ignoring case.
func (c FinanceCategory) MatchesName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), c.Name)
}

// FinanceEntry is one income or expense operation.
type FinanceEntry struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Date       string          `json:"date"`
	Type       FinanceType     `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	CategoryID int64           `json:"category_id"`
	Category   string          `json:"category"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Validate checks the entry before persisting it.
func (e FinanceEntry) Validate() error {
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if !IsValidFinanceType(e.Type) {
		return ErrInvalidFinanceType
	}
	if !e.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return ValidateName(e.Category)
}

// Reminder is the single daily reminder a user may have.
type Reminder struct {
	UserID    string    `json:"user_id"`
	Time      string    `json:"time"` // HH:MM
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the reminder time format.
func (r Reminder) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if _, err := time.Parse("15:04", r.Time); err != nil {
		return ErrInvalidTimeOfDay
	}
	return nil
}
