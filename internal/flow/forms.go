package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// CategoryLister lists a user's finance categories of one type.
type CategoryLister interface {
	ListFinanceCategories(ctx context.Context, userID string, t models.FinanceType) ([]models.FinanceCategory, error)
}

// ProductLister lists a user's product catalog.
type ProductLister interface {
	ListProducts(ctx context.Context, userID string) ([]models.Product, error)
}

// FormDeps are the optional lookups used to decorate prompts. Nil members disable suggestions.
type FormDeps struct {
	Categories CategoryLister
	Products   ProductLister
}

// DefaultSpecs returns the built-in forms.
func DefaultSpecs(deps FormDeps) []*Spec {
	return []*Spec{
		HabitSpec(),
		DayLogSpec(),
		CustomFieldSpec(),
		FinanceSpec(deps.Categories),
		FoodSpec(deps.Products),
	}
}

// DefaultRegistry returns a registry holding DefaultSpecs.
func DefaultRegistry(deps FormDeps) *Registry {
	return NewRegistry(DefaultSpecs(deps)...)
}

const deadlineManualValue = "manual"

// HabitSpec describes the habit creation form. The tracking type decides whether a unit is
// asked for, and the deadline choice decides whether a manual date is asked for.
func HabitSpec() *Spec {
	return MustSpec(models.FormHabit, "Новая привычка", false,
		&Field{
			Key:      models.KeyHabitName,
			Kind:     KindText,
			Question: "Введи название привычки:",
			Required: true,
			Check:    checkName,
			Next:     models.KeyHabitType,
		},
		&Field{
			Key:      models.KeyHabitType,
			Kind:     KindChoice,
			Question: "Это полезная или вредная привычка?",
			Choices: []Choice{
				{ID: "good", Label: "✅ Полезная", Aliases: []string{"полезная"}},
				{ID: "bad", Label: "⚠️ Вредная", Aliases: []string{"вредная"}},
			},
			Next: models.KeyTrackingType,
		},
		&Field{
			Key:      models.KeyTrackingType,
			Kind:     KindChoice,
			Question: "Что отслеживать?",
			Choices: []Choice{
				{ID: "bool", Label: "✔ Выполнил/не выполнил", Aliases: []string{"да/нет", "выполнил"}},
				{ID: "qty", Label: "🔢 Количество", Aliases: []string{"количество"}},
			},
			Branch: func(a models.Answers) (models.FieldKey, error) {
				switch t := a.String(models.KeyTrackingType); t {
				case "qty":
					return models.KeyUnit, nil
				case "bool":
					return models.KeyDeadline, nil
				default:
					return "", fmt.Errorf("%w: tracking type %q", ErrUnknownBranch, t)
				}
			},
			Branches: []models.FieldKey{models.KeyUnit, models.KeyDeadline},
		},
		&Field{
			Key:       models.KeyUnit,
			Kind:      KindText,
			Question:  "Укажи единицу измерения (например: мл, шт):",
			Required:  true,
			ErrorText: "Единица измерения не может быть пустой. Введи снова:",
			Next:      models.KeyDeadline,
		},
		&Field{
			Key:      models.KeyDeadline,
			Kind:     KindChoice,
			Question: "Выбери дедлайн:",
			Choices: []Choice{
				{ID: "dl_plus1h", Label: "Сегодня +1 час", Compute: func(now time.Time) any {
					return now.Add(time.Hour).Format(ISOLayout)
				}},
				{ID: "dl_20", Label: "Сегодня в 20:00", Compute: func(now time.Time) any {
					return time.Date(now.Year(), now.Month(), now.Day(), 20, 0, 0, 0, now.Location()).Format(ISOLayout)
				}},
				{ID: "dl_tomorrow", Label: "Завтра в 09:00", Compute: func(now time.Time) any {
					d := now.AddDate(0, 0, 1)
					return time.Date(d.Year(), d.Month(), d.Day(), 9, 0, 0, 0, now.Location()).Format(ISOLayout)
				}},
				{ID: "dl_manual", Label: "Указать вручную", Value: deadlineManualValue},
			},
			Branch: func(a models.Answers) (models.FieldKey, error) {
				if a.String(models.KeyDeadline) == deadlineManualValue {
					return models.KeyDeadlineManual, nil
				}
				return models.KeyRepeat, nil
			},
			Branches: []models.FieldKey{models.KeyDeadlineManual, models.KeyRepeat},
		},
		&Field{
			Key:      models.KeyDeadlineManual,
			Kind:     KindDateTime,
			Question: "Введи дедлайн вручную (ГГГГ-ММ-ДД ЧЧ:ММ):",
			Target:   models.KeyDeadline,
			Next:     models.KeyRepeat,
		},
		&Field{
			Key:      models.KeyRepeat,
			Kind:     KindChoice,
			Question: "Установить повтор?",
			Choices: []Choice{
				{ID: "repeat_daily", Label: "Каждый день", Value: "daily"},
				{ID: "repeat_weekly", Label: "Каждую неделю", Value: "weekly"},
				{ID: "repeat_none", Label: "Без повтора", Value: "none"},
			},
			Next: Complete,
		},
	)
}

// DayLogSpec describes the daily check-in. The user's custom fields follow the fixed ones.
func DayLogSpec() *Spec {
	return MustSpec(models.FormDayLog, "Итоги дня", true,
		&Field{
			Key:         models.KeyWater,
			Kind:        KindInteger,
			Question:    "💧 Сколько воды ты выпил сегодня (мл)?",
			NonNegative: true,
			Next:        models.KeySmoke,
		},
		&Field{
			Key:         models.KeySmoke,
			Kind:        KindInteger,
			Question:    "🚬 Сколько сигарет выкурил?",
			NonNegative: true,
			Next:        models.KeyActivity,
		},
		&Field{
			Key:      models.KeyActivity,
			Kind:     KindBool,
			Question: "🏃 Была ли физическая активность? (да/нет)",
			Next:     models.KeySleep,
		},
		&Field{
			Key:         models.KeySleep,
			Kind:        KindDecimal,
			Question:    "😴 Сколько часов ты спал?",
			NonNegative: true,
			Next:        models.KeyMood,
		},
		&Field{
			Key:      models.KeyMood,
			Kind:     KindBoundedInteger,
			Question: "🙂 Оцени настроение от 1 до 10:",
			Min:      1,
			Max:      10,
			Next:     models.KeyThoughts,
		},
		&Field{
			Key:      models.KeyThoughts,
			Kind:     KindText,
			Question: "💭 Мысли за день:",
			Next:     Complete,
		},
	)
}

// CustomFieldSpec describes the form that defines a new day-log field.
func CustomFieldSpec() *Spec {
	return MustSpec(models.FormCustomField, "Новое поле", false,
		&Field{
			Key:      models.KeyFieldName,
			Kind:     KindText,
			Question: "Введи название нового поля:",
			Required: true,
			Check: func(s string) error {
				if err := checkName(s); err != nil {
					return err
				}
				if models.IsReservedDayLogKey(s) {
					return &ValidationError{Reason: fmt.Sprintf("Поле %q уже есть в итогах дня. Выбери другое название:", s)}
				}
				return nil
			},
			Next: models.KeyFieldType,
		},
		&Field{
			Key:      models.KeyFieldType,
			Kind:     KindChoice,
			Question: "Выбери тип поля:",
			Choices: []Choice{
				{ID: string(models.CustomFieldBool), Label: "Да/Нет", Aliases: []string{"да/нет"}},
				{ID: string(models.CustomFieldInt), Label: "Число", Aliases: []string{"число"}},
				{ID: string(models.CustomFieldText), Label: "Текст", Aliases: []string{"текст"}},
			},
			Next: Complete,
		},
	)
}

// FinanceSpec describes the income/expense form. Known categories of the chosen type are
// suggested with the category question when categories is not nil.
func FinanceSpec(categories CategoryLister) *Spec {
	category := &Field{
		Key:      models.KeyCategory,
		Kind:     KindText,
		Question: "Укажи категорию:",
		Required: true,
		Check:    checkName,
		Next:     Complete,
	}
	if categories != nil {
		category.Suggest = func(ctx context.Context, userID string, a models.Answers) ([]string, error) {
			cats, err := categories.ListFinanceCategories(ctx, userID, models.FinanceType(a.String(models.KeyFinanceType)))
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(cats))
			for _, c := range cats {
				names = append(names, c.Name)
			}
			return names, nil
		}
	}
	return MustSpec(models.FormFinance, "Финансы", false,
		&Field{
			Key:      models.KeyFinanceType,
			Kind:     KindChoice,
			Question: "Что добавить?",
			Choices: []Choice{
				{ID: string(models.FinanceExpense), Label: "Расход", Aliases: []string{"расход", "-"}},
				{ID: string(models.FinanceIncome), Label: "Доход", Aliases: []string{"доход", "+"}},
			},
			Next: models.KeyAmount,
		},
		&Field{
			Key:      models.KeyAmount,
			Kind:     KindDecimal,
			Question: "Введи сумму:",
			Positive: true,
			Next:     models.KeyCategory,
		},
		category,
	)
}

// FoodSpec describes the meal entry form.
func FoodSpec(products ProductLister) *Spec {
	product := &Field{
		Key:      models.KeyProduct,
		Kind:     KindText,
		Question: "Что ты съел? Введи название продукта:",
		Required: true,
		Check:    checkName,
		Next:     models.KeyGrams,
	}
	if products != nil {
		product.Suggest = func(ctx context.Context, userID string, _ models.Answers) ([]string, error) {
			ps, err := products.ListProducts(ctx, userID)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(ps))
			for _, p := range ps {
				names = append(names, p.Name)
			}
			return names, nil
		}
	}
	return MustSpec(models.FormFood, "Питание", false,
		&Field{
			Key:      models.KeyMeal,
			Kind:     KindText,
			Question: "Какой приём пищи? (например: завтрак, обед, ужин)",
			Required: true,
			Check:    checkName,
			Next:     models.KeyProduct,
		},
		product,
		&Field{
			Key:      models.KeyGrams,
			Kind:     KindInteger,
			Question: "Сколько грамм?",
			Positive: true,
			Next:     Complete,
		},
	)
}

func checkName(s string) error {
	switch models.ValidateName(s) {
	case nil:
		return nil
	case models.ErrEmptyName:
		return &ValidationError{Reason: "Значение не может быть пустым. Введи снова:"}
	default:
		return &ValidationError{Reason: fmt.Sprintf("Название не может быть длиннее %d символов.", models.MaxNameLength)}
	}
}
