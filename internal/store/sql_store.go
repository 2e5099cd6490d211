package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/util"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name      string
	numbered  bool   // $1, $2 placeholders instead of ?
	forUpdate string // row lock suffix for read-modify-write
}

var (
	sqliteDialect   = dialect{name: "SQLiteStore"}
	postgresDialect = dialect{name: "PostgresStore", numbered: true, forUpdate: " FOR UPDATE"}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// sqlStore implements Store on database/sql for both SQLite and PostgreSQL.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(q), args...)
}

// inTx runs fn in a transaction, rolling back on error.
func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- conversation states ---

func (s *sqlStore) GetConversationState(ctx context.Context, userID string) (*models.ConversationState, error) {
	var raw string
	err := s.queryRow(ctx, `SELECT state_json FROM conversation_states WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.d.name+" GetConversationState failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load conversation state for %s: %w", userID, err)
	}
	var st models.ConversationState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to decode conversation state for %s: %w", userID, err)
	}
	return &st, nil
}

// ListConversationStates returns every stored in-progress form.
func (s *sqlStore) ListConversationStates(ctx context.Context) ([]models.ConversationState, error) {
	rows, err := s.query(ctx, `SELECT state_json FROM conversation_states ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation states: %w", err)
	}
	defer rows.Close()
	var out []models.ConversationState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var st models.ConversationState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			slog.Warn(s.d.name+" ListConversationStates skipping undecodable state", "error", err)
			continue
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveConversationState(ctx context.Context, state models.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation state for %s: %w", state.UserID, err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO conversation_states (user_id, form, current_key, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			form = excluded.form,
			current_key = excluded.current_key,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		state.UserID, string(state.Form), string(state.CurrentKey), string(raw), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error(s.d.name+" SaveConversationState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.UserID, err)
	}
	return nil
}

func (s *sqlStore) DeleteConversationState(ctx context.Context, userID string) error {
	if _, err := s.exec(ctx, `DELETE FROM conversation_states WHERE user_id = ?`, userID); err != nil {
		slog.Error(s.d.name+" DeleteConversationState failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete conversation state for %s: %w", userID, err)
	}
	return nil
}

// --- habits ---

func (s *sqlStore) UpsertHabit(ctx context.Context, h models.Habit) error {
	_, err := s.exec(ctx, `
		INSERT INTO habits (user_id, name_key, name, habit_type, tracking_type, unit, deadline, repeat_rule, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, name_key) DO UPDATE SET
			name = excluded.name,
			habit_type = excluded.habit_type,
			tracking_type = excluded.tracking_type,
			unit = excluded.unit,
			deadline = excluded.deadline,
			repeat_rule = excluded.repeat_rule`,
		h.UserID, nameKey(h.Name), h.Name, h.HabitType, h.TrackingType, h.Unit, h.Deadline, h.Repeat, h.CreatedAt)
	if err != nil {
		slog.Error(s.d.name+" UpsertHabit failed", "error", err, "userID", h.UserID, "name", h.Name)
		return fmt.Errorf("failed to save habit %q: %w", h.Name, err)
	}
	slog.Debug(s.d.name+" UpsertHabit succeeded", "userID", h.UserID, "name", h.Name)
	return nil
}

func (s *sqlStore) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	rows, err := s.query(ctx, `
		SELECT user_id, name, habit_type, tracking_type, unit, deadline, repeat_rule, created_at
		FROM habits WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()
	var out []models.Habit
	for rows.Next() {
		var h models.Habit
		if err := rows.Scan(&h.UserID, &h.Name, &h.HabitType, &h.TrackingType, &h.Unit, &h.Deadline, &h.Repeat, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan habit row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteHabit(ctx context.Context, userID, name string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM habits WHERE user_id = ? AND name_key = ?`, userID, nameKey(name))
	if err != nil {
		return false, fmt.Errorf("failed to delete habit %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- daily logs ---

func (s *sqlStore) MergeDailyLog(ctx context.Context, userID, date string, data map[string]any, now time.Time) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.d.rebind(`
			INSERT INTO daily_logs (user_id, log_date, data, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, log_date) DO NOTHING`), userID, date, "{}", now); err != nil {
			return fmt.Errorf("insert day log: %w", err)
		}
		var raw []byte
		if err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT data FROM daily_logs WHERE user_id = ? AND log_date = ?`+s.d.forUpdate),
			userID, date).Scan(&raw); err != nil {
			return fmt.Errorf("read day log: %w", err)
		}
		merged := make(map[string]any)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &merged); err != nil {
				return fmt.Errorf("decode day log: %w", err)
			}
		}
		maps.Copy(merged, data)
		out, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode day log: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE daily_logs SET data = ?, updated_at = ? WHERE user_id = ? AND log_date = ?`),
			string(out), now, userID, date); err != nil {
			return fmt.Errorf("update day log: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error(s.d.name+" MergeDailyLog failed", "error", err, "userID", userID, "date", date)
		return fmt.Errorf("failed to merge day log for %s: %w", date, err)
	}
	slog.Debug(s.d.name+" MergeDailyLog succeeded", "userID", userID, "date", date, "fields", len(data))
	return nil
}

func (s *sqlStore) scanDailyLogs(rows *sql.Rows) ([]models.DailyLog, error) {
	defer rows.Close()
	var out []models.DailyLog
	for rows.Next() {
		var l models.DailyLog
		var raw []byte
		if err := rows.Scan(&l.UserID, &l.Date, &raw, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan day log row: %w", err)
		}
		l.Data = make(map[string]any)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &l.Data); err != nil {
				return nil, fmt.Errorf("failed to decode day log %s: %w", l.Date, err)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListDailyLogs(ctx context.Context, userID, from, to string) ([]models.DailyLog, error) {
	rows, err := s.query(ctx, `
		SELECT user_id, log_date, data, updated_at FROM daily_logs
		WHERE user_id = ? AND log_date >= ? AND log_date <= ? ORDER BY log_date`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query day logs: %w", err)
	}
	return s.scanDailyLogs(rows)
}

func (s *sqlStore) RecentDailyLogs(ctx context.Context, userID string, limit int) ([]models.DailyLog, error) {
	rows, err := s.query(ctx, `
		SELECT user_id, log_date, data, updated_at FROM daily_logs
		WHERE user_id = ? ORDER BY log_date DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query day logs: %w", err)
	}
	return s.scanDailyLogs(rows)
}

// --- custom fields ---

func (s *sqlStore) AddCustomField(ctx context.Context, def models.CustomFieldDef) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT COUNT(*) FROM custom_fields WHERE user_id = ? AND name_key = ?`),
			def.UserID, nameKey(def.Name)).Scan(&n); err != nil {
			return fmt.Errorf("failed to check custom field %q: %w", def.Name, err)
		}
		if n > 0 {
			return ErrDuplicate
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(`
			INSERT INTO custom_fields (user_id, name_key, name, field_type, created_at) VALUES (?, ?, ?, ?, ?)`),
			def.UserID, nameKey(def.Name), def.Name, string(def.Type), def.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert custom field %q: %w", def.Name, err)
		}
		return nil
	})
}

func (s *sqlStore) ListCustomFields(ctx context.Context, userID string) ([]models.CustomFieldDef, error) {
	rows, err := s.query(ctx, `
		SELECT user_id, name, field_type, created_at FROM custom_fields WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query custom fields: %w", err)
	}
	defer rows.Close()
	var out []models.CustomFieldDef
	for rows.Next() {
		var d models.CustomFieldDef
		var typ string
		if err := rows.Scan(&d.UserID, &d.Name, &typ, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan custom field row: %w", err)
		}
		d.Type = models.CustomFieldType(typ)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteCustomField(ctx context.Context, userID, name string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM custom_fields WHERE user_id = ? AND name_key = ?`, userID, nameKey(name))
	if err != nil {
		return false, fmt.Errorf("failed to delete custom field %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ReplaceCustomField(ctx context.Context, def models.CustomFieldDef) (bool, error) {
	var replaced bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM custom_fields WHERE user_id = ? AND name_key = ?`),
			def.UserID, nameKey(def.Name))
		if err != nil {
			return fmt.Errorf("failed to drop custom field %q: %w", def.Name, err)
		}
		n, _ := res.RowsAffected()
		replaced = n > 0
		if _, err := tx.ExecContext(ctx, s.d.rebind(`
			INSERT INTO custom_fields (user_id, name_key, name, field_type, created_at) VALUES (?, ?, ?, ?, ?)`),
			def.UserID, nameKey(def.Name), def.Name, string(def.Type), def.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert custom field %q: %w", def.Name, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return replaced, nil
}

// --- products and nutrition ---

func (s *sqlStore) UpsertProduct(ctx context.Context, p models.Product) error {
	n := p.Per100g
	_, err := s.exec(ctx, `
		INSERT INTO products (user_id, name_key, name, calories, protein, fat, carbs, salt, sugar, fiber, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, name_key) DO UPDATE SET
			name = excluded.name,
			calories = excluded.calories,
			protein = excluded.protein,
			fat = excluded.fat,
			carbs = excluded.carbs,
			salt = excluded.salt,
			sugar = excluded.sugar,
			fiber = excluded.fiber,
			updated_at = excluded.updated_at`,
		p.UserID, nameKey(p.Name), p.Name, n.Calories, n.Protein, n.Fat, n.Carbs, n.Salt, n.Sugar, n.Fiber, p.UpdatedAt)
	if err != nil {
		slog.Error(s.d.name+" UpsertProduct failed", "error", err, "userID", p.UserID, "name", p.Name)
		return fmt.Errorf("failed to save product %q: %w", p.Name, err)
	}
	return nil
}

const productColumns = `user_id, name, calories, protein, fat, carbs, salt, sugar, fiber, updated_at`

func scanProduct(scan func(...any) error) (models.Product, error) {
	var p models.Product
	n := &p.Per100g
	err := scan(&p.UserID, &p.Name, &n.Calories, &n.Protein, &n.Fat, &n.Carbs, &n.Salt, &n.Sugar, &n.Fiber, &p.UpdatedAt)
	return p, err
}

func (s *sqlStore) GetProduct(ctx context.Context, userID, name string) (*models.Product, error) {
	row := s.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE user_id = ? AND name_key = ?`, userID, nameKey(name))
	p, err := scanProduct(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %q: %w", name, err)
	}
	return &p, nil
}

func (s *sqlStore) ListProducts(ctx context.Context, userID string) ([]models.Product, error) {
	rows, err := s.query(ctx, `SELECT `+productColumns+` FROM products WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()
	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteProduct(ctx context.Context, userID, name string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM products WHERE user_id = ? AND name_key = ?`, userID, nameKey(name))
	if err != nil {
		return false, fmt.Errorf("failed to delete product %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) AddNutritionEntry(ctx context.Context, e models.NutritionEntry) error {
	n := e.Nutrients
	_, err := s.exec(ctx, `
		INSERT INTO nutrition_logs (id, user_id, log_date, meal, product, weight_grams, calories, protein, fat, carbs, salt, sugar, fiber, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Date, e.Meal, e.Product, e.WeightGrams, n.Calories, n.Protein, n.Fat, n.Carbs, n.Salt, n.Sugar, n.Fiber, e.CreatedAt)
	if err != nil {
		slog.Error(s.d.name+" AddNutritionEntry failed", "error", err, "userID", e.UserID, "product", e.Product)
		return fmt.Errorf("failed to save nutrition entry: %w", err)
	}
	return nil
}

func (s *sqlStore) ListNutritionEntries(ctx context.Context, userID, from, to string) ([]models.NutritionEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, log_date, meal, product, weight_grams, calories, protein, fat, carbs, salt, sugar, fiber, created_at
		FROM nutrition_logs WHERE user_id = ? AND log_date >= ? AND log_date <= ? ORDER BY created_at`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query nutrition entries: %w", err)
	}
	defer rows.Close()
	var out []models.NutritionEntry
	for rows.Next() {
		var e models.NutritionEntry
		n := &e.Nutrients
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date, &e.Meal, &e.Product, &e.WeightGrams,
			&n.Calories, &n.Protein, &n.Fat, &n.Carbs, &n.Salt, &n.Sugar, &n.Fiber, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan nutrition row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- finance ---

func (s *sqlStore) ListFinanceCategories(ctx context.Context, userID string, t models.FinanceType) ([]models.FinanceCategory, error) {
	q := `SELECT id, user_id, name, type, created_at FROM finance_categories WHERE user_id = ?`
	args := []any{userID}
	if t != "" {
		q += ` AND type = ?`
		args = append(args, string(t))
	}
	rows, err := s.query(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query finance categories: %w", err)
	}
	defer rows.Close()
	var out []models.FinanceCategory
	for rows.Next() {
		var c models.FinanceCategory
		var typ string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &typ, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finance category row: %w", err)
		}
		c.Type = models.FinanceType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateFinanceCategory(ctx context.Context, userID, name string, t models.FinanceType) (models.FinanceCategory, error) {
	c := models.FinanceCategory{UserID: userID, Name: name, Type: t, CreatedAt: time.Now()}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.d.rebind(`
			SELECT COUNT(*) FROM finance_categories WHERE user_id = ? AND type = ? AND name_key = ?`),
			userID, string(t), nameKey(name)).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicate
		}
		return tx.QueryRowContext(ctx, s.d.rebind(`
			INSERT INTO finance_categories (user_id, name_key, name, type, created_at) VALUES (?, ?, ?, ?, ?)
			RETURNING id`), userID, nameKey(name), name, string(t), c.CreatedAt).Scan(&c.ID)
	})
	if errors.Is(err, ErrDuplicate) {
		return models.FinanceCategory{}, err
	}
	if err != nil {
		slog.Error(s.d.name+" CreateFinanceCategory failed", "error", err, "userID", userID, "name", name)
		return models.FinanceCategory{}, fmt.Errorf("failed to create category %q: %w", name, err)
	}
	slog.Debug(s.d.name+" CreateFinanceCategory succeeded", "userID", userID, "name", name, "id", c.ID)
	return c, nil
}

func (s *sqlStore) AddFinanceEntry(ctx context.Context, e models.FinanceEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO finance_entries (id, user_id, entry_date, type, amount, category_id, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Date, string(e.Type), e.Amount.String(), e.CategoryID, e.Category, e.CreatedAt)
	if err != nil {
		slog.Error(s.d.name+" AddFinanceEntry failed", "error", err, "userID", e.UserID)
		return fmt.Errorf("failed to save finance entry: %w", err)
	}
	return nil
}

func (s *sqlStore) ListFinanceEntries(ctx context.Context, userID, from, to string) ([]models.FinanceEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, entry_date, type, amount, category_id, category, created_at
		FROM finance_entries WHERE user_id = ? AND entry_date >= ? AND entry_date <= ? ORDER BY created_at`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query finance entries: %w", err)
	}
	defer rows.Close()
	var out []models.FinanceEntry
	for rows.Next() {
		var e models.FinanceEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date, &typ, &e.Amount, &e.CategoryID, &e.Category, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finance row: %w", err)
		}
		e.Type = models.FinanceType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- reminders ---

func (s *sqlStore) SetReminder(ctx context.Context, r models.Reminder) error {
	_, err := s.exec(ctx, `
		INSERT INTO reminders (user_id, time_of_day, created_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET time_of_day = excluded.time_of_day`,
		r.UserID, r.Time, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save reminder for %s: %w", r.UserID, err)
	}
	return nil
}

func (s *sqlStore) GetReminder(ctx context.Context, userID string) (*models.Reminder, error) {
	var r models.Reminder
	err := s.queryRow(ctx, `SELECT user_id, time_of_day, created_at FROM reminders WHERE user_id = ?`, userID).
		Scan(&r.UserID, &r.Time, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reminder for %s: %w", userID, err)
	}
	return &r, nil
}

func (s *sqlStore) DeleteReminder(ctx context.Context, userID string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM reminders WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete reminder for %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ListReminders(ctx context.Context) ([]models.Reminder, error) {
	rows, err := s.query(ctx, `SELECT user_id, time_of_day, created_at FROM reminders ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()
	var out []models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.UserID, &r.Time, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- receipts and responses ---

func (s *sqlStore) AddReceipt(r models.Receipt) error {
	_, err := s.exec(context.Background(), `INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error(s.d.name+" AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug(s.d.name+" AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *sqlStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.query(context.Background(), `SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error(s.d.name+" GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var status string
		if err := rows.Scan(&r.To, &status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.Status = models.MessageStatus(status)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

func (s *sqlStore) AddResponse(r models.Response) error {
	_, err := s.exec(context.Background(), `INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error(s.d.name+" AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *sqlStore) GetResponses() ([]models.Response, error) {
	rows, err := s.query(context.Background(), `SELECT sender, body, time FROM responses`)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()
	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// --- inbound dedup ---

func (s *sqlStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := s.exec(ctx, `
		INSERT INTO inbound_dedup (message_id, user_id, received_at) VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`, messageID, userID, time.Now())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) MarkProcessed(ctx context.Context, messageID string) error {
	if _, err := s.exec(ctx, `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// --- outbox ---

func (s *sqlStore) EnqueueOutboxMessage(ctx context.Context, userID, kind, body, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := s.queryRow(ctx, `SELECT id FROM outbox_messages WHERE dedupe_key = ?`, dedupeKey).Scan(&existingID)
		if err == nil {
			slog.Debug(s.d.name+".EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	id := util.NewID("outbox_")
	now := time.Now()
	_, err := s.exec(ctx, `
		INSERT INTO outbox_messages (id, user_id, kind, body, status, attempts, dedupe_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, userID, kind, body, nullString(dedupeKey), now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug(s.d.name+".EnqueueOutboxMessage", "id", id, "userID", userID, "kind", kind)
	return id, nil
}

func (s *sqlStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	var msgs []OutboxMessage
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.d.rebind(`
			SELECT id, user_id, kind, body, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at
			FROM outbox_messages WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			ORDER BY created_at ASC LIMIT ?`+s.d.forUpdate), now, limit)
		if err != nil {
			return fmt.Errorf("claim due outbox messages failed: %w", err)
		}
		for rows.Next() {
			m, err := scanOutboxMessage(rows)
			if err != nil {
				rows.Close()
				return err
			}
			msgs = append(msgs, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("claim outbox iteration failed: %w", err)
		}
		for i := range msgs {
			if _, err := tx.ExecContext(ctx, s.d.rebind(`
				UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`),
				now, now, msgs[i].ID); err != nil {
				return fmt.Errorf("mark outbox sending failed: %w", err)
			}
			msgs[i].Status = OutboxStatusSending
			msgs[i].LockedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *sqlStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `UPDATE outbox_messages SET status = 'sent', updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *sqlStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE outbox_messages SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ?
		WHERE id = ?`, errMsg, nextAttemptAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *sqlStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.exec(ctx, `
		UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ?
		WHERE status = 'sending' AND locked_at < ?`, time.Now(), staleBefore)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info(s.d.name+".RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing database connection", "store", s.d.name)
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close database", "store", s.d.name, "error", err)
	}
	return err
}
