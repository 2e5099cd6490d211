package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// Sheet names of the exported workbook.
const (
	SheetHabits    = "Привычки"
	SheetDayLogs   = "Дневник"
	SheetNutrition = "Питание"
	SheetFinance   = "Финансы"
)

var dayLogHeader = []any{"Дата", "Вода, мл", "Сигареты", "Активность", "Сон, ч", "Настроение", "Мысли"}

// ExportWorkbook builds an .xlsx file with every record of the user.
func (r *Reporter) ExportWorkbook(ctx context.Context, userID string) ([]byte, error) {
	habits, err := r.st.ListHabits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	logs, err := r.st.ListDailyLogs(ctx, userID, allTimeFrom, allTimeTo)
	if err != nil {
		return nil, fmt.Errorf("list day logs: %w", err)
	}
	defs, err := r.st.ListCustomFields(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}
	food, err := r.st.ListNutritionEntries(ctx, userID, allTimeFrom, allTimeTo)
	if err != nil {
		return nil, fmt.Errorf("list nutrition: %w", err)
	}
	money, err := r.st.ListFinanceEntries(ctx, userID, allTimeFrom, allTimeTo)
	if err != nil {
		return nil, fmt.Errorf("list finance: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	w := &sheetWriter{f: f}
	w.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", SheetHabits); err != nil {
		return nil, err
	}
	w.start(SheetHabits, []any{"Название", "Тип", "Учёт", "Единица", "Дедлайн", "Повтор", "Создана"})
	for _, h := range habits {
		w.row([]any{h.Name, h.HabitType, h.TrackingType, h.Unit, h.Deadline, h.Repeat, h.CreatedAt.Format("2006-01-02 15:04")})
	}

	custom := CustomColumns(defs, logs)
	header := append(append([]any{}, dayLogHeader...), stringsToAny(custom)...)
	w.start(SheetDayLogs, header)
	for _, l := range logs {
		d := l.Data
		row := []any{l.Date,
			cellValue(d[string(models.KeyWater)]),
			cellValue(d[string(models.KeySmoke)]),
			cellValue(d[string(models.KeyActivity)]),
			cellValue(d[string(models.KeySleep)]),
			cellValue(d[string(models.KeyMood)]),
			cellValue(d[string(models.KeyThoughts)]),
		}
		for _, name := range custom {
			row = append(row, cellValue(d[name]))
		}
		w.row(row)
	}

	w.start(SheetNutrition, []any{"Дата", "Приём пищи", "Продукт", "Граммы", "Калории", "Белки", "Жиры", "Углеводы", "Соль", "Сахар", "Клетчатка"})
	for _, e := range food {
		n := e.Nutrients
		w.row([]any{e.Date, e.Meal, e.Product, e.WeightGrams, n.Calories, n.Protein, n.Fat, n.Carbs, n.Salt, n.Sugar, n.Fiber})
	}

	w.start(SheetFinance, []any{"Дата", "Тип", "Категория", "Сумма"})
	for _, e := range money {
		kind := "Расход"
		if e.Type == models.FinanceIncome {
			kind = "Доход"
		}
		w.row([]any{e.Date, kind, e.Category, e.Amount.InexactFloat64()})
	}

	if w.err != nil {
		return nil, w.err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	slog.Info("Reporter exported workbook", "userID", userID, "habits", len(habits), "dayLogs", len(logs),
		"nutrition", len(food), "finance", len(money), "bytes", buf.Len())
	return bytes.Clone(buf.Bytes()), nil
}

// sheetWriter appends rows to one sheet at a time and keeps the first error.
type sheetWriter struct {
	f      *excelize.File
	header int
	sheet  string
	next   int
	err    error
}

func (w *sheetWriter) start(sheet string, header []any) {
	if w.err != nil {
		return
	}
	if idx, _ := w.f.GetSheetIndex(sheet); idx < 0 {
		if _, err := w.f.NewSheet(sheet); err != nil {
			w.err = err
			return
		}
	}
	w.sheet = sheet
	w.next = 1
	w.row(header)
	if w.err == nil {
		w.err = w.f.SetRowStyle(sheet, 1, 1, w.header)
	}
}

func (w *sheetWriter) row(values []any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(w.sheet, cell, &values); err != nil {
		w.err = err
		return
	}
	w.next++
}

func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		return FormatValue(x)
	default:
		return x
	}
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
