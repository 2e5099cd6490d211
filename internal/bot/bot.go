// Package bot maps chat messages onto TrackPipe commands and the form engine.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BTreeMap/TrackPipe/internal/flow"
	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/reminder"
)

// KindFormExpired is the outbox kind of idle-eviction notices.
const KindFormExpired = "form_expired"

// FormEngine is the part of flow.Engine the bot drives.
type FormEngine interface {
	Start(ctx context.Context, userID string, kind models.FormKind) (flow.Result, error)
	Advance(ctx context.Context, userID, input string) (flow.Result, error)
	Cancel(ctx context.Context, userID string) (flow.CancelOutcome, error)
	CurrentPrompt(ctx context.Context, userID string) (*flow.Prompt, error)
}

// Reports renders the text reports.
type Reports interface {
	Habits(ctx context.Context, userID string) (string, error)
	History(ctx context.Context, userID string) (string, error)
	Week(ctx context.Context, userID string) (string, error)
	Month(ctx context.Context, userID string) (string, error)
	TodayNutrition(ctx context.Context, userID string) (string, error)
	Products(ctx context.Context, userID string) (string, error)
	Categories(ctx context.Context, userID string) (string, error)
	WeeklyBalance(ctx context.Context, userID string) (string, error)
}

// Reminders manages daily reminders.
type Reminders interface {
	Set(ctx context.Context, userID, hhmm string) (string, error)
	Disable(ctx context.Context, userID string) (bool, error)
}

// Catalog holds the records edited directly by commands.
type Catalog interface {
	ListHabits(ctx context.Context, userID string) ([]models.Habit, error)
	DeleteHabit(ctx context.Context, userID, name string) (bool, error)
	ListCustomFields(ctx context.Context, userID string) ([]models.CustomFieldDef, error)
	DeleteCustomField(ctx context.Context, userID, name string) (bool, error)
	GetProduct(ctx context.Context, userID, name string) (*models.Product, error)
	UpsertProduct(ctx context.Context, p models.Product) error
	DeleteProduct(ctx context.Context, userID, name string) (bool, error)
}

// Outbox queues proactive messages.
type Outbox interface {
	EnqueueOutboxMessage(ctx context.Context, userID, kind, body, dedupeKey string) (string, error)
}

// Opts configures a Bot.
type Opts struct {
	Reminders Reminders
	Outbox    Outbox
	PublicURL string
	Now       func() time.Time
}

// Option configures a Bot.
type Option func(*Opts)

// WithReminders enables /remind and /remind_off.
func WithReminders(r Reminders) Option {
	return func(o *Opts) { o.Reminders = r }
}

// WithOutbox enables idle-eviction notices.
func WithOutbox(ob Outbox) Option {
	return func(o *Opts) { o.Outbox = ob }
}

// WithPublicURL makes /export answer with a download link under url.
func WithPublicURL(url string) Option {
	return func(o *Opts) { o.PublicURL = strings.TrimRight(url, "/") }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

type handlerFunc func(ctx context.Context, userID, args string) (string, error)

// Bot answers one chat message at a time. It is safe for concurrent use; ordering
// per user is enforced by the engine.
type Bot struct {
	engine    FormEngine
	reports   Reports
	catalog   Catalog
	reminders Reminders
	outbox    Outbox
	publicURL string
	now       func() time.Time
	commands  map[string]handlerFunc
}

// New creates a Bot.
func New(engine FormEngine, reports Reports, catalog Catalog, opts ...Option) *Bot {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	b := &Bot{
		engine:    engine,
		reports:   reports,
		catalog:   catalog,
		reminders: cfg.Reminders,
		outbox:    cfg.Outbox,
		publicURL: cfg.PublicURL,
		now:       cfg.Now,
	}
	b.commands = b.commandTable()
	return b
}

func (b *Bot) commandTable() map[string]handlerFunc {
	t := map[string]handlerFunc{}
	reg := func(h handlerFunc, names ...string) {
		for _, n := range names {
			t[n] = h
		}
	}
	reg(b.static(textStart), "/start")
	reg(b.static(textHelp), "/help", "/помощь")
	reg(b.startForm(models.FormHabit), "/add")
	reg(b.startForm(models.FormDayLog), "/day", "/день")
	reg(b.startForm(models.FormFood), "/food", "/еда")
	reg(b.startForm(models.FormFinance), "/finance", "/финансы", "/деньги")
	reg(b.startForm(models.FormCustomField), "/custom", "/кастом")
	reg(b.cancel, "/cancel", "/отмена")
	reg(b.report(b.reports.Habits), "/report")
	reg(b.report(b.reports.History), "/history")
	reg(b.report(b.reports.Week), "/week")
	reg(b.report(b.reports.Month), "/month")
	reg(b.report(b.reports.TodayNutrition), "/today", "/отчёт", "/отчет")
	reg(b.report(b.reports.WeeklyBalance), "/balance", "/баланс")
	reg(b.report(b.reports.Categories), "/categories", "/категории")
	reg(b.report(b.reports.Products), "/products", "/продукты")
	reg(b.deleteHabit, "/deletehabit")
	reg(b.deleteCustomField, "/delcustom")
	reg(b.editProduct, "/editproduct")
	reg(b.deleteProduct, "/delproduct")
	reg(b.export, "/export")
	reg(b.remind, "/remind")
	reg(b.remindOff, "/remind_off")
	return t
}

// Commands lists the registered command names, sorted.
func (b *Bot) Commands() []string {
	names := make([]string, 0, len(b.commands))
	for n := range b.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// parseCommand splits "/Cmd@bot args" into "/cmd" and "args".
func parseCommand(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	name, args, _ := strings.Cut(text, " ")
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// Handle answers one message of a user. Its signature matches messaging.ResponseAction.
func (b *Bot) Handle(ctx context.Context, userID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if name, args, ok := parseCommand(text); ok {
		h, known := b.commands[name]
		if !known {
			slog.Debug("Bot unknown command", "userID", userID, "command", name)
			return textUnknownCommand, nil
		}
		slog.Debug("Bot command", "userID", userID, "command", name)
		return h(ctx, userID, args)
	}
	res, err := b.engine.Advance(ctx, userID, text)
	if err != nil {
		return b.engineError(userID, err)
	}
	return b.render(res), nil
}

// NotifyExpired queues a notice for a form evicted by the idle timer. It matches flow.ExpiryHandler.
func (b *Bot) NotifyExpired(ctx context.Context, userID string, form models.FormKind) {
	if b.outbox == nil {
		return
	}
	key := fmt.Sprintf("%s:%s:%d", KindFormExpired, userID, b.now().Unix())
	if _, err := b.outbox.EnqueueOutboxMessage(ctx, userID, KindFormExpired, textFormExpired, key); err != nil {
		slog.Error("Bot could not queue expiry notice", "userID", userID, "form", form, "error", err)
	}
}

func (b *Bot) engineError(userID string, err error) (string, error) {
	var se *flow.StorageError
	if errors.As(err, &se) {
		slog.Error("Bot storage failure", "userID", userID, "op", se.Op, "error", se.Err)
		return textStorageFailure, nil
	}
	if errors.Is(err, flow.ErrUnknownBranch) {
		// The engine has already reset the form.
		slog.Error("Bot form aborted", "userID", userID, "error", err)
		return textFormFailed, nil
	}
	return "", err
}

func (b *Bot) render(res flow.Result) string {
	switch res.Kind {
	case flow.ResultPrompt:
		return res.Prompt.Render()
	case flow.ResultValidationError:
		return "⚠️ " + res.Reason + "\n\n" + res.Prompt.Render()
	case flow.ResultCompletion:
		return completionText(res.Record)
	case flow.ResultCancelled:
		if res.Cancel == flow.CancelledActive {
			return textCancelActive
		}
		return textCancelIdle
	default:
		return textUnknownInput
	}
}

func completionText(rec *models.FinalizedRecord) string {
	f := rec.Fields
	switch rec.Form {
	case models.FormHabit:
		return fmt.Sprintf("✅ Привычка '%s' добавлена.", f.String(models.KeyHabitName))
	case models.FormDayLog:
		return textDayLogSaved
	case models.FormCustomField:
		return fmt.Sprintf("✅ Поле '%s' добавлено в итоги дня.", f.String(models.KeyFieldName))
	case models.FormFinance:
		amount, _ := f.Float(models.KeyAmount)
		kind := "Расход"
		if models.FinanceType(f.String(models.KeyFinanceType)) == models.FinanceIncome {
			kind = "Доход"
		}
		return fmt.Sprintf("✅ %s добавлен: %s ₽ (%s)", kind, decimal.NewFromFloat(amount).StringFixed(2), f.String(models.KeyCategory))
	case models.FormFood:
		grams, _ := f.Int(models.KeyGrams)
		return fmt.Sprintf("✅ Записано: %s, %d г. Итог за день: /today", f.String(models.KeyProduct), grams)
	default:
		return "✅ Сохранено."
	}
}

func (b *Bot) static(text string) handlerFunc {
	return func(context.Context, string, string) (string, error) { return text, nil }
}

func (b *Bot) report(fn func(ctx context.Context, userID string) (string, error)) handlerFunc {
	return func(ctx context.Context, userID, _ string) (string, error) {
		return fn(ctx, userID)
	}
}

func (b *Bot) startForm(kind models.FormKind) handlerFunc {
	return func(ctx context.Context, userID, _ string) (string, error) {
		res, err := b.engine.Start(ctx, userID, kind)
		if errors.Is(err, flow.ErrFormInProgress) {
			p, perr := b.engine.CurrentPrompt(ctx, userID)
			if perr != nil {
				return textFormInProgress, nil
			}
			return textFormInProgress + p.Render(), nil
		}
		if err != nil {
			return b.engineError(userID, err)
		}
		return b.render(res), nil
	}
}

func (b *Bot) cancel(ctx context.Context, userID, _ string) (string, error) {
	outcome, err := b.engine.Cancel(ctx, userID)
	if err != nil {
		return b.engineError(userID, err)
	}
	return b.render(flow.Result{Kind: flow.ResultCancelled, Cancel: outcome}), nil
}

func (b *Bot) deleteHabit(ctx context.Context, userID, name string) (string, error) {
	if name == "" {
		habits, err := b.catalog.ListHabits(ctx, userID)
		if err != nil {
			return "", err
		}
		if len(habits) == 0 {
			return textNoHabits, nil
		}
		names := make([]string, len(habits))
		for i, h := range habits {
			names[i] = h.Name
		}
		return textHabitNameNeeded + fmt.Sprintf(textAvailable, strings.Join(names, ", ")), nil
	}
	ok, err := b.catalog.DeleteHabit(ctx, userID, name)
	if err != nil {
		return "", fmt.Errorf("delete habit: %w", err)
	}
	if !ok {
		return fmt.Sprintf(textHabitNotFound, name), nil
	}
	slog.Info("Bot deleted habit", "userID", userID, "habit", name)
	return fmt.Sprintf(textHabitDeleted, name), nil
}

func (b *Bot) deleteCustomField(ctx context.Context, userID, name string) (string, error) {
	if name == "" {
		defs, err := b.catalog.ListCustomFields(ctx, userID)
		if err != nil {
			return "", err
		}
		if len(defs) == 0 {
			return textNoCustomFields, nil
		}
		names := make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
		return textCustomNameNeeded + fmt.Sprintf(textAvailable, strings.Join(names, ", ")), nil
	}
	ok, err := b.catalog.DeleteCustomField(ctx, userID, name)
	if err != nil {
		return "", fmt.Errorf("delete custom field: %w", err)
	}
	if !ok {
		return fmt.Sprintf(textCustomNotFound, name), nil
	}
	slog.Info("Bot deleted custom field", "userID", userID, "field", name)
	return fmt.Sprintf(textCustomDeleted, name), nil
}

// parseProduct reads "name;kcal;protein;fat;carbs;salt;sugar". Decimal commas are accepted.
func parseProduct(args string) (string, models.Nutrients, bool) {
	parts := strings.Split(args, ";")
	if len(parts) != 7 {
		return "", models.Nutrients{}, false
	}
	name := strings.TrimSpace(parts[0])
	if models.ValidateName(name) != nil {
		return "", models.Nutrients{}, false
	}
	vals := make([]float64, 6)
	for i, p := range parts[1:] {
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(p), ",", "."), 64)
		if err != nil || v < 0 {
			return "", models.Nutrients{}, false
		}
		vals[i] = v
	}
	return name, models.Nutrients{
		Calories: vals[0], Protein: vals[1], Fat: vals[2], Carbs: vals[3], Salt: vals[4], Sugar: vals[5],
	}, true
}

func (b *Bot) editProduct(ctx context.Context, userID, args string) (string, error) {
	name, n, ok := parseProduct(args)
	if !ok {
		return textProductFormat, nil
	}
	existing, err := b.catalog.GetProduct(ctx, userID, name)
	if err != nil {
		return "", fmt.Errorf("get product: %w", err)
	}
	if existing != nil {
		name = existing.Name
	}
	if err := b.catalog.UpsertProduct(ctx, models.Product{UserID: userID, Name: name, Per100g: n, UpdatedAt: b.now()}); err != nil {
		return "", fmt.Errorf("upsert product: %w", err)
	}
	slog.Info("Bot saved product", "userID", userID, "product", name, "kcal", n.Calories)
	if existing != nil {
		return fmt.Sprintf(textProductUpdated, name), nil
	}
	return fmt.Sprintf(textProductAdded, name), nil
}

func (b *Bot) deleteProduct(ctx context.Context, userID, name string) (string, error) {
	if name == "" {
		return textProductNameNeeded, nil
	}
	ok, err := b.catalog.DeleteProduct(ctx, userID, name)
	if err != nil {
		return "", fmt.Errorf("delete product: %w", err)
	}
	if !ok {
		return fmt.Sprintf(textProductNotFound, name), nil
	}
	return fmt.Sprintf(textProductDeleted, name), nil
}

func (b *Bot) export(ctx context.Context, userID, _ string) (string, error) {
	if b.publicURL == "" {
		return fmt.Sprintf(textExportAPI, userID), nil
	}
	return fmt.Sprintf(textExportLink, b.publicURL+"/users/"+userID+"/export.xlsx"), nil
}

func (b *Bot) remind(ctx context.Context, userID, args string) (string, error) {
	if b.reminders == nil {
		return textRemindDisabled, nil
	}
	norm, err := b.reminders.Set(ctx, userID, args)
	if errors.Is(err, reminder.ErrInvalidTime) {
		return textRemindFormat, nil
	}
	if err != nil {
		return "", fmt.Errorf("set reminder: %w", err)
	}
	return fmt.Sprintf(textRemindSet, norm), nil
}

func (b *Bot) remindOff(ctx context.Context, userID, _ string) (string, error) {
	if b.reminders == nil {
		return textRemindDisabled, nil
	}
	existed, err := b.reminders.Disable(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("disable reminder: %w", err)
	}
	if !existed {
		return textRemindNone, nil
	}
	return textRemindOff, nil
}
