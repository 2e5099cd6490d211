// Package store provides storage backends for TrackPipe.
//
// It includes an in-memory store for tests and single-process use, and SQLite and
// PostgreSQL stores sharing one SQL implementation.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// ErrDuplicate is returned when inserting an entity whose natural key already exists.
var ErrDuplicate = errors.New("already exists")

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// ConversationRepo persists in-progress forms.
type ConversationRepo interface {
	GetConversationState(ctx context.Context, userID string) (*models.ConversationState, error)
	SaveConversationState(ctx context.Context, state models.ConversationState) error
	DeleteConversationState(ctx context.Context, userID string) error
	// ListConversationStates returns every stored in-progress form.
	ListConversationStates(ctx context.Context) ([]models.ConversationState, error)
}

// HabitRepo persists habits keyed by (user, name).
type HabitRepo interface {
	UpsertHabit(ctx context.Context, h models.Habit) error
	ListHabits(ctx context.Context, userID string) ([]models.Habit, error)
	DeleteHabit(ctx context.Context, userID, name string) (bool, error)
}

// DayLogRepo persists day logs keyed by (user, date).
type DayLogRepo interface {
	// MergeDailyLog folds data into the stored log for the date, re-reading the stored row
	// inside the write so concurrent completions never drop each other's fields.
	MergeDailyLog(ctx context.Context, userID, date string, data map[string]any, now time.Time) error
	// ListDailyLogs returns logs with from <= date <= to, oldest first.
	ListDailyLogs(ctx context.Context, userID, from, to string) ([]models.DailyLog, error)
	// RecentDailyLogs returns up to limit logs, newest first.
	RecentDailyLogs(ctx context.Context, userID string, limit int) ([]models.DailyLog, error)
}

// CustomFieldRepo persists custom day-log field definitions in creation order.
type CustomFieldRepo interface {
	AddCustomField(ctx context.Context, def models.CustomFieldDef) error
	ListCustomFields(ctx context.Context, userID string) ([]models.CustomFieldDef, error)
	DeleteCustomField(ctx context.Context, userID, name string) (bool, error)
	// ReplaceCustomField drops any definition with def's name (case-insensitive)
	// and appends def, in one step. It reports whether a definition was replaced.
	ReplaceCustomField(ctx context.Context, def models.CustomFieldDef) (bool, error)
}

// NutritionRepo persists the product catalog and eaten products.
type NutritionRepo interface {
	UpsertProduct(ctx context.Context, p models.Product) error
	// GetProduct matches the name case-insensitively and returns nil when absent.
	GetProduct(ctx context.Context, userID, name string) (*models.Product, error)
	ListProducts(ctx context.Context, userID string) ([]models.Product, error)
	DeleteProduct(ctx context.Context, userID, name string) (bool, error)
	AddNutritionEntry(ctx context.Context, e models.NutritionEntry) error
	ListNutritionEntries(ctx context.Context, userID, from, to string) ([]models.NutritionEntry, error)
}

// FinanceRepo persists finance categories and entries.
type FinanceRepo interface {
	ListFinanceCategories(ctx context.Context, userID string, t models.FinanceType) ([]models.FinanceCategory, error)
	// CreateFinanceCategory returns ErrDuplicate when a category with the same name
	// (ignoring case) and type exists.
	CreateFinanceCategory(ctx context.Context, userID, name string, t models.FinanceType) (models.FinanceCategory, error)
	AddFinanceEntry(ctx context.Context, e models.FinanceEntry) error
	ListFinanceEntries(ctx context.Context, userID, from, to string) ([]models.FinanceEntry, error)
}

// ReminderRepo persists one daily reminder per user.
type ReminderRepo interface {
	SetReminder(ctx context.Context, r models.Reminder) error
	GetReminder(ctx context.Context, userID string) (*models.Reminder, error)
	DeleteReminder(ctx context.Context, userID string) (bool, error)
	ListReminders(ctx context.Context) ([]models.Reminder, error)
}

// MessageLog records delivery receipts and inbound messages.
type MessageLog interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)
}

// Store is the full persistence surface used by TrackPipe.
type Store interface {
	ConversationRepo
	HabitRepo
	DayLogRepo
	CustomFieldRepo
	NutritionRepo
	FinanceRepo
	ReminderRepo
	MessageLog
	DedupRepo
	OutboxRepo
	Close() error
}

// New opens the store selected by the DSN; an empty DSN yields an InMemoryStore.
func New(dsn string) (Store, error) {
	if dsn == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// nameKey is the case-folded form of a user supplied name used for lookups.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
