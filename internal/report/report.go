// Package report renders text summaries and spreadsheet exports of tracked data.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/store"
)

// HistoryLimit is how many day logs the history report shows.
const HistoryLimit = 7

// allTime bounds list queries that should return every date.
const (
	allTimeFrom = "0000-01-01"
	allTimeTo   = "9999-12-31"
)

const separator = "─────────────────────────"

// Store is the read side the reporter needs.
type Store interface {
	store.HabitRepo
	store.DayLogRepo
	store.CustomFieldRepo
	store.NutritionRepo
	store.FinanceRepo
}

// Opts configures a Reporter.
type Opts struct {
	Now      func() time.Time
	Location *time.Location
}

// Option configures a Reporter.
type Option func(*Opts)

// WithClock overrides the current time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithLocation sets the time zone used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// Reporter builds user-facing summaries.
type Reporter struct {
	st  Store
	now func() time.Time
	loc *time.Location
}

// NewReporter creates a reporter over st.
func NewReporter(st Store, opts ...Option) *Reporter {
	cfg := Opts{Now: time.Now, Location: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Reporter{st: st, now: cfg.Now, loc: cfg.Location}
}

func (r *Reporter) today() time.Time {
	return r.now().In(r.loc)
}

// Balance sums finance entries.
type Balance struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// Net is income minus expense.
func (b Balance) Net() decimal.Decimal {
	return b.Income.Sub(b.Expense)
}

// ComputeBalance totals income and expense entries.
func ComputeBalance(entries []models.FinanceEntry) Balance {
	b := Balance{Income: decimal.Zero, Expense: decimal.Zero}
	for _, e := range entries {
		switch e.Type {
		case models.FinanceIncome:
			b.Income = b.Income.Add(e.Amount)
		case models.FinanceExpense:
			b.Expense = b.Expense.Add(e.Amount)
		}
	}
	return b
}

// NutritionTotals sums entries per date.
func NutritionTotals(entries []models.NutritionEntry) map[string]models.Nutrients {
	out := make(map[string]models.Nutrients)
	for _, e := range entries {
		out[e.Date] = out[e.Date].Add(e.Nutrients)
	}
	return out
}

// Habits lists the user's habits.
func (r *Reporter) Habits(ctx context.Context, userID string) (string, error) {
	habits, err := r.st.ListHabits(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(habits) == 0 {
		return "У тебя пока нет привычек. Добавь первую через /add", nil
	}
	var b strings.Builder
	b.WriteString("📋 Твои привычки:\n")
	for _, h := range habits {
		icon := "✅"
		if h.HabitType == "bad" {
			icon = "⚠️"
		}
		fmt.Fprintf(&b, "\n%s %s", icon, h.Name)
		if h.TrackingType == "qty" && h.Unit != "" {
			fmt.Fprintf(&b, " (%s)", h.Unit)
		}
		if h.Deadline != "" {
			fmt.Fprintf(&b, "\n   ⏰ до %s", strings.Replace(h.Deadline, "T", " ", 1))
		}
		if label := repeatLabel(h.Repeat); label != "" {
			fmt.Fprintf(&b, "\n   🔁 %s", label)
		}
	}
	return b.String(), nil
}

func repeatLabel(r string) string {
	switch r {
	case "daily":
		return "каждый день"
	case "weekly":
		return "каждую неделю"
	default:
		return ""
	}
}

// History shows the most recent day logs.
func (r *Reporter) History(ctx context.Context, userID string) (string, error) {
	logs, err := r.st.RecentDailyLogs(ctx, userID, HistoryLimit)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "Нет записей за последние дни.", nil
	}
	return r.renderLogs(ctx, userID, fmt.Sprintf("🕓 Последние %d записей:", HistoryLimit), logs)
}

// Week shows the day logs of the last seven days, newest first.
func (r *Reporter) Week(ctx context.Context, userID string) (string, error) {
	from, to := r.WeekRange()
	logs, err := r.st.ListDailyLogs(ctx, userID, from, to)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "Нет записей за последние 7 дней.", nil
	}
	return r.renderLogs(ctx, userID, "🗓️ Лог за последние 7 дней:", newestFirst(logs))
}

// Month shows the day logs of the current calendar month, newest first.
func (r *Reporter) Month(ctx context.Context, userID string) (string, error) {
	from, to := r.MonthRange()
	logs, err := r.st.ListDailyLogs(ctx, userID, from, to)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "Нет записей за этот месяц.", nil
	}
	return r.renderLogs(ctx, userID, fmt.Sprintf("📅 Лог за %s:", r.today().Format("2006-01")), newestFirst(logs))
}

// WeekRange returns the dates from seven days ago through today.
func (r *Reporter) WeekRange() (string, string) {
	t := r.today()
	return t.AddDate(0, 0, -7).Format(models.DateLayout), t.Format(models.DateLayout)
}

// MonthRange returns the first and last date of the current month.
func (r *Reporter) MonthRange() (string, string) {
	t := r.today()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, r.loc)
	last := first.AddDate(0, 1, -1)
	return first.Format(models.DateLayout), last.Format(models.DateLayout)
}

func newestFirst(logs []models.DailyLog) []models.DailyLog {
	out := append([]models.DailyLog(nil), logs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

func (r *Reporter) renderLogs(ctx context.Context, userID, title string, logs []models.DailyLog) (string, error) {
	defs, err := r.st.ListCustomFields(ctx, userID)
	if err != nil {
		return "", err
	}
	from, to := logs[len(logs)-1].Date, logs[0].Date
	if from > to {
		from, to = to, from
	}
	entries, err := r.st.ListNutritionEntries(ctx, userID, from, to)
	if err != nil {
		return "", err
	}
	totals := NutritionTotals(entries)

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for _, l := range logs {
		writeDay(&b, l, totals[l.Date], defs)
	}
	return b.String(), nil
}

func writeDay(b *strings.Builder, l models.DailyLog, n models.Nutrients, defs []models.CustomFieldDef) {
	d := l.Data
	fmt.Fprintf(b, "\n📅 %s\n", l.Date)
	fmt.Fprintf(b, "💧 Вода: %s мл\n", FormatValue(d[string(models.KeyWater)]))
	writeNutrients(b, n)
	fmt.Fprintf(b, "🚬 Сигареты: %s\n", FormatValue(d[string(models.KeySmoke)]))
	fmt.Fprintf(b, "🏃 Активность: %s\n", FormatValue(d[string(models.KeyActivity)]))
	fmt.Fprintf(b, "😴 Сон: %s ч\n", FormatValue(d[string(models.KeySleep)]))
	fmt.Fprintf(b, "🙂 Настроение: %s\n", FormatValue(d[string(models.KeyMood)]))
	fmt.Fprintf(b, "🧠 Мысли: %s\n", FormatValue(d[string(models.KeyThoughts)]))

	if names := CustomColumns(defs, []models.DailyLog{l}); len(names) > 0 {
		b.WriteString("🔧 Кастом:\n")
		for _, name := range names {
			fmt.Fprintf(b, "• %s: %s\n", name, FormatValue(d[name]))
		}
	}
	b.WriteString(separator)
	b.WriteString("\n")
}

func writeNutrients(b *strings.Builder, n models.Nutrients) {
	b.WriteString("🍽 Питание:\n")
	fmt.Fprintf(b, "  • Калории: %.0f ккал\n", n.Calories)
	fmt.Fprintf(b, "  • Белки: %.1f г\n", n.Protein)
	fmt.Fprintf(b, "  • Жиры: %.1f г\n", n.Fat)
	fmt.Fprintf(b, "  • Углеводы: %.1f г\n", n.Carbs)
	fmt.Fprintf(b, "  • Соль: %.1f г\n", n.Salt)
	fmt.Fprintf(b, "  • Сахар: %.1f г\n", n.Sugar)
	fmt.Fprintf(b, "  • Клетчатка: %.1f г\n", n.Fiber)
}

// CustomColumns lists the non-built-in keys present in logs. Keys of current
// custom field definitions come first in definition order, then leftovers from
// deleted definitions sorted by name.
func CustomColumns(defs []models.CustomFieldDef, logs []models.DailyLog) []string {
	present := make(map[string]bool)
	for _, l := range logs {
		for k := range l.Data {
			if !models.IsReservedDayLogKey(k) {
				present[k] = true
			}
		}
	}
	var out []string
	for _, def := range defs {
		if present[def.Name] {
			out = append(out, def.Name)
			delete(present, def.Name)
		}
	}
	rest := make([]string, 0, len(present))
	for k := range present {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// FormatValue renders a stored day-log value for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "—"
	case bool:
		if x {
			return "да"
		}
		return "нет"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		if x == "" {
			return "—"
		}
		return x
	default:
		return fmt.Sprint(x)
	}
}

// TodayNutrition shows what the user ate today with totals.
func (r *Reporter) TodayNutrition(ctx context.Context, userID string) (string, error) {
	date := r.today().Format(models.DateLayout)
	entries, err := r.st.ListNutritionEntries(ctx, userID, date, date)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "Сегодня ещё нет записей о еде. Добавь через /food", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🍽 Питание за %s:\n\n", date)
	for _, e := range entries {
		fmt.Fprintf(&b, "• %s: %s, %d г (%.0f ккал)\n", e.Meal, e.Product, e.WeightGrams, e.Nutrients.Calories)
	}
	b.WriteString("\nИтого:\n")
	writeNutrients(&b, NutritionTotals(entries)[date])
	return b.String(), nil
}

// Products lists the user's product catalog.
func (r *Reporter) Products(ctx context.Context, userID string) (string, error) {
	products, err := r.st.ListProducts(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(products) == 0 {
		return "База продуктов пуста.", nil
	}
	var b strings.Builder
	b.WriteString("🍏 Список продуктов (на 100 г):\n")
	for _, p := range products {
		n := p.Per100g
		fmt.Fprintf(&b, "• %s — %.0f ккал, Б %.1f, Ж %.1f, У %.1f\n", p.Name, n.Calories, n.Protein, n.Fat, n.Carbs)
	}
	return b.String(), nil
}

// Categories lists expense and income categories.
func (r *Reporter) Categories(ctx context.Context, userID string) (string, error) {
	expenses, err := r.st.ListFinanceCategories(ctx, userID, models.FinanceExpense)
	if err != nil {
		return "", err
	}
	incomes, err := r.st.ListFinanceCategories(ctx, userID, models.FinanceIncome)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("💸 Категории расходов:\n")
	writeCategoryNames(&b, expenses)
	b.WriteString("\n💰 Категории доходов:\n")
	writeCategoryNames(&b, incomes)
	return b.String(), nil
}

func writeCategoryNames(b *strings.Builder, cats []models.FinanceCategory) {
	if len(cats) == 0 {
		b.WriteString("—\n")
		return
	}
	for _, c := range cats {
		fmt.Fprintf(b, "• %s\n", c.Name)
	}
}

// WeeklyBalance shows income, expense and net for the last seven days.
func (r *Reporter) WeeklyBalance(ctx context.Context, userID string) (string, error) {
	from, to := r.WeekRange()
	entries, err := r.st.ListFinanceEntries(ctx, userID, from, to)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "Нет финансовых записей за последние 7 дней.", nil
	}
	bal := ComputeBalance(entries)
	return fmt.Sprintf("💸 Расходы за неделю: %s ₽\n💰 Доходы за неделю: %s ₽\n📊 Баланс: %s ₽",
		bal.Expense.StringFixed(2), bal.Income.StringFixed(2), bal.Net().StringFixed(2)), nil
}

// Summary is the machine-readable report for a period.
type Summary struct {
	UserID    string                      `json:"user_id"`
	Period    string                      `json:"period"`
	From      string                      `json:"from"`
	To        string                      `json:"to"`
	DayLogs   []models.DailyLog           `json:"day_logs"`
	Nutrition map[string]models.Nutrients `json:"nutrition"`
	Balance   Balance                     `json:"balance"`
	Net       decimal.Decimal             `json:"net"`
}

// ErrUnknownPeriod is returned by Summarize for periods other than week and month.
var ErrUnknownPeriod = errors.New("unknown period")

// Summarize collects day logs, nutrition totals and the balance for "week" or "month".
func (r *Reporter) Summarize(ctx context.Context, userID, period string) (Summary, error) {
	var from, to string
	switch period {
	case "", "week":
		period = "week"
		from, to = r.WeekRange()
	case "month":
		from, to = r.MonthRange()
	default:
		return Summary{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
	logs, err := r.st.ListDailyLogs(ctx, userID, from, to)
	if err != nil {
		return Summary{}, err
	}
	food, err := r.st.ListNutritionEntries(ctx, userID, from, to)
	if err != nil {
		return Summary{}, err
	}
	money, err := r.st.ListFinanceEntries(ctx, userID, from, to)
	if err != nil {
		return Summary{}, err
	}
	bal := ComputeBalance(money)
	if logs == nil {
		logs = []models.DailyLog{}
	}
	return Summary{
		UserID:    userID,
		Period:    period,
		From:      from,
		To:        to,
		DayLogs:   logs,
		Nutrition: NutritionTotals(food),
		Balance:   bal,
		Net:       bal.Net(),
	}, nil
}
