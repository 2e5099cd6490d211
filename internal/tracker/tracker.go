// Package tracker turns finalized form records into stored habits, day logs,
// custom fields, nutrition entries and finance entries.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/store"
)

// Store is the persistence the sink writes to.
type Store interface {
	store.HabitRepo
	store.DayLogRepo
	store.CustomFieldRepo
	store.NutritionRepo
	store.FinanceRepo
}

// NutritionEstimator supplies per-100g nutrients for products missing from the catalog.
type NutritionEstimator interface {
	EstimateNutrition(ctx context.Context, product string) (models.Nutrients, error)
}

// ErrUnsupportedForm is returned for records of a form the sink cannot store.
var ErrUnsupportedForm = errors.New("unsupported form")

// Opts configures a Sink.
type Opts struct {
	Location  *time.Location
	Estimator NutritionEstimator
}

// Option configures a Sink.
type Option func(*Opts)

// WithLocation sets the time zone used to pick the calendar day of a record.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithEstimator enables nutrition estimates for unknown products.
func WithEstimator(e NutritionEstimator) Option {
	return func(o *Opts) { o.Estimator = e }
}

// Sink implements flow.RecordSink on top of a Store.
type Sink struct {
	st        Store
	loc       *time.Location
	estimator NutritionEstimator
}

// NewSink creates a record sink.
func NewSink(st Store, opts ...Option) *Sink {
	cfg := Opts{Location: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Sink{st: st, loc: cfg.Location, estimator: cfg.Estimator}
}

// SaveRecord stores a finalized record according to its form.
func (s *Sink) SaveRecord(ctx context.Context, rec models.FinalizedRecord) error {
	slog.Debug("Sink.SaveRecord", "userID", rec.UserID, "form", rec.Form, "recordID", rec.ID)
	switch rec.Form {
	case models.FormHabit:
		return s.saveHabit(ctx, rec)
	case models.FormDayLog:
		return s.saveDayLog(ctx, rec)
	case models.FormCustomField:
		return s.saveCustomField(ctx, rec)
	case models.FormFood:
		return s.saveFood(ctx, rec)
	case models.FormFinance:
		return s.saveFinance(ctx, rec)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedForm, rec.Form)
	}
}

func (s *Sink) day(rec models.FinalizedRecord) string {
	t := rec.CompletedAt
	if t.IsZero() {
		t = time.Now()
	}
	return t.In(s.loc).Format(models.DateLayout)
}

func (s *Sink) saveHabit(ctx context.Context, rec models.FinalizedRecord) error {
	f := rec.Fields
	h := models.Habit{
		UserID:       rec.UserID,
		Name:         strings.TrimSpace(f.String(models.KeyHabitName)),
		HabitType:    f.String(models.KeyHabitType),
		TrackingType: f.String(models.KeyTrackingType),
		Unit:         f.String(models.KeyUnit),
		Deadline:     f.String(models.KeyDeadline),
		Repeat:       f.String(models.KeyRepeat),
		CreatedAt:    rec.CompletedAt,
	}
	if err := s.st.UpsertHabit(ctx, h); err != nil {
		return fmt.Errorf("upsert habit: %w", err)
	}
	slog.Info("Sink saved habit", "userID", rec.UserID, "habit", h.Name)
	return nil
}

func (s *Sink) saveDayLog(ctx context.Context, rec models.FinalizedRecord) error {
	date := s.day(rec)
	if err := s.st.MergeDailyLog(ctx, rec.UserID, date, rec.Fields.Map(), rec.CompletedAt); err != nil {
		return fmt.Errorf("merge day log: %w", err)
	}
	slog.Info("Sink saved day log", "userID", rec.UserID, "date", date, "fields", rec.Fields.Len())
	return nil
}

// saveCustomField replaces an existing definition with the same name, which moves
// it to the end of the question order.
func (s *Sink) saveCustomField(ctx context.Context, rec models.FinalizedRecord) error {
	def := models.CustomFieldDef{
		UserID:    rec.UserID,
		Name:      strings.TrimSpace(rec.Fields.String(models.KeyFieldName)),
		Type:      models.CustomFieldType(rec.Fields.String(models.KeyFieldType)),
		CreatedAt: rec.CompletedAt,
	}
	if models.IsReservedDayLogKey(def.Name) {
		return fmt.Errorf("custom field %q collides with a built-in day log field", def.Name)
	}
	replaced, err := s.st.ReplaceCustomField(ctx, def)
	if err != nil {
		return fmt.Errorf("save custom field: %w", err)
	}
	if replaced {
		slog.Info("Sink replaced custom field", "userID", rec.UserID, "field", def.Name)
	}
	return nil
}

func (s *Sink) saveFood(ctx context.Context, rec models.FinalizedRecord) error {
	f := rec.Fields
	name := strings.TrimSpace(f.String(models.KeyProduct))
	grams, _ := f.Int(models.KeyGrams)

	per100, err := s.productNutrients(ctx, rec.UserID, name)
	if err != nil {
		return err
	}
	e := models.NutritionEntry{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Date:        s.day(rec),
		Meal:        strings.TrimSpace(f.String(models.KeyMeal)),
		Product:     name,
		WeightGrams: grams,
		Nutrients:   per100.Scale(grams),
		CreatedAt:   rec.CompletedAt,
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.st.AddNutritionEntry(ctx, e); err != nil {
		return fmt.Errorf("add nutrition entry: %w", err)
	}
	slog.Info("Sink saved nutrition entry", "userID", rec.UserID, "product", name, "grams", grams, "kcal", e.Nutrients.Calories)
	return nil
}

// productNutrients returns the catalog values for a product. Unknown products are
// estimated and added to the catalog when an estimator is configured; otherwise
// they count as zero.
func (s *Sink) productNutrients(ctx context.Context, userID, name string) (models.Nutrients, error) {
	p, err := s.st.GetProduct(ctx, userID, name)
	if err != nil {
		return models.Nutrients{}, fmt.Errorf("get product: %w", err)
	}
	if p != nil {
		return p.Per100g, nil
	}
	if s.estimator == nil {
		return models.Nutrients{}, nil
	}
	n, err := s.estimator.EstimateNutrition(ctx, name)
	if err != nil {
		slog.Warn("Sink nutrition estimate failed", "userID", userID, "product", name, "error", err)
		return models.Nutrients{}, nil
	}
	if err := s.st.UpsertProduct(ctx, models.Product{UserID: userID, Name: name, Per100g: n, UpdatedAt: time.Now()}); err != nil {
		slog.Warn("Sink could not cache estimated product", "userID", userID, "product", name, "error", err)
	}
	return n, nil
}

func (s *Sink) saveFinance(ctx context.Context, rec models.FinalizedRecord) error {
	f := rec.Fields
	amount, _ := f.Float(models.KeyAmount)
	e := models.FinanceEntry{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Date:      s.day(rec),
		Type:      models.FinanceType(f.String(models.KeyFinanceType)),
		Amount:    decimal.NewFromFloat(amount).Round(2),
		Category:  strings.TrimSpace(f.String(models.KeyCategory)),
		CreatedAt: rec.CompletedAt,
	}
	if err := e.Validate(); err != nil {
		return err
	}
	cat, err := s.resolveCategory(ctx, rec.UserID, e.Category, e.Type)
	if err != nil {
		return err
	}
	e.CategoryID = cat.ID
	e.Category = cat.Name
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.st.AddFinanceEntry(ctx, e); err != nil {
		return fmt.Errorf("add finance entry: %w", err)
	}
	slog.Info("Sink saved finance entry", "userID", rec.UserID, "type", e.Type, "amount", e.Amount.String(), "category", e.Category)
	return nil
}

// resolveCategory finds the category by name ignoring case, creating it once when absent.
func (s *Sink) resolveCategory(ctx context.Context, userID, name string, t models.FinanceType) (models.FinanceCategory, error) {
	if c, ok, err := s.findCategory(ctx, userID, name, t); err != nil || ok {
		return c, err
	}
	c, err := s.st.CreateFinanceCategory(ctx, userID, name, t)
	if errors.Is(err, store.ErrDuplicate) {
		// Created concurrently; use the stored one.
		c, ok, ferr := s.findCategory(ctx, userID, name, t)
		if ferr != nil {
			return c, ferr
		}
		if ok {
			return c, nil
		}
	}
	if err != nil {
		return models.FinanceCategory{}, fmt.Errorf("create category: %w", err)
	}
	slog.Info("Sink created finance category", "userID", userID, "category", c.Name, "type", t)
	return c, nil
}

func (s *Sink) findCategory(ctx context.Context, userID, name string, t models.FinanceType) (models.FinanceCategory, bool, error) {
	cats, err := s.st.ListFinanceCategories(ctx, userID, t)
	if err != nil {
		return models.FinanceCategory{}, false, fmt.Errorf("list categories: %w", err)
	}
	for _, c := range cats {
		if c.MatchesName(name) {
			return c, true, nil
		}
	}
	return models.FinanceCategory{}, false, nil
}
