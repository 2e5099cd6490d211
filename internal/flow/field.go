// Package flow implements the multi-step conversational data-entry engine.
//
// A form is described by a Spec: an acyclic graph of Field descriptors. The Engine walks
// one user at a time through a Spec, validating every answer against the current Field,
// and hands a FinalizedRecord to the RecordSink once the terminal marker is reached.
package flow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// ValueKind is the type of answer a Field accepts.
type ValueKind int

const (
	KindBool ValueKind = iota
	KindInteger
	KindBoundedInteger
	KindDecimal
	KindText
	KindChoice
	KindDateTime
)

// String returns a short name for logs.
func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindBoundedInteger:
		return "bounded_integer"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	case KindChoice:
		return "choice"
	case KindDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// DateTimeInputLayout is the only accepted free-form date-time input format.
const DateTimeInputLayout = "2006-01-02 15:04"

// ISOLayout is the storage format for date-time answers.
const ISOLayout = "2006-01-02T15:04:05"

var (
	affirmativeTokens = []string{"да", "д", "yes", "y", "true", "+"}
	negativeTokens    = []string{"нет", "н", "no", "n", "false", "-"}
)

// Choice is one option of an enumerated-choice field.
type Choice struct {
	ID      string   // canonical identifier, e.g. "dl_plus1h"
	Label   string   // text shown to the user
	Aliases []string // additional accepted spellings
	// Value is stored when chosen; nil stores ID.
	Value any
	// Compute derives the stored value from the current time; it wins over Value.
	Compute func(now time.Time) any
}

func (c Choice) matches(input string) bool {
	if strings.EqualFold(input, c.ID) || strings.EqualFold(input, c.Label) {
		return true
	}
	for _, a := range c.Aliases {
		if strings.EqualFold(input, a) {
			return true
		}
	}
	return false
}

func (c Choice) resolve(now time.Time) any {
	if c.Compute != nil {
		return c.Compute(now)
	}
	if c.Value != nil {
		return c.Value
	}
	return c.ID
}

// Field describes one question of a form.
type Field struct {
	Key  models.FieldKey
	Kind ValueKind

	// Question is the prompt text; QuestionFunc, when set, overrides it using earlier answers.
	Question     string
	QuestionFunc func(models.Answers) string
	// ErrorText overrides the default re-prompt guidance.
	ErrorText string

	Min, Max    int64 // KindBoundedInteger range, inclusive
	Positive    bool  // numeric kinds: reject values <= 0
	NonNegative bool  // numeric kinds: reject values < 0
	Required    bool  // KindText: reject empty input
	// Check runs after the kind specific validation of a text answer.
	Check func(string) error

	Choices []Choice
	// Suggest lists earlier values worth showing with the prompt, e.g. known categories.
	Suggest func(ctx context.Context, userID string, answers models.Answers) ([]string, error)

	// Target stores the answer under another key, e.g. a manual deadline under "deadline".
	Target models.FieldKey

	// Next is the fixed successor. Branch, when set, picks the successor from the answers
	// and must only return keys listed in Branches.
	Next     models.FieldKey
	Branch   func(models.Answers) (models.FieldKey, error)
	Branches []models.FieldKey
}

// StoreKey returns the answer key the field writes to.
func (f *Field) StoreKey() models.FieldKey {
	if f.Target != "" {
		return f.Target
	}
	return f.Key
}

// QuestionText returns the prompt for the field given the answers so far.
func (f *Field) QuestionText(answers models.Answers) string {
	if f.QuestionFunc != nil {
		return f.QuestionFunc(answers)
	}
	return f.Question
}

// ValidationError reports an answer that does not satisfy its field.
type ValidationError struct {
	Field  models.FieldKey
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid answer for %s: %s", e.Field, e.Reason)
}

func (f *Field) invalid(defaultReason string) *ValidationError {
	reason := defaultReason
	if f.ErrorText != "" {
		reason = f.ErrorText
	}
	return &ValidationError{Field: f.Key, Reason: reason}
}

// Parse validates raw input and returns the normalized value to store.
func (f *Field) Parse(input string, now time.Time) (any, *ValidationError) {
	s := strings.TrimSpace(input)
	switch f.Kind {
	case KindBool:
		return f.parseBool(s)
	case KindInteger, KindBoundedInteger:
		return f.parseInteger(s)
	case KindDecimal:
		return f.parseDecimal(s)
	case KindText:
		return f.parseText(s)
	case KindChoice:
		return f.parseChoice(s, now)
	case KindDateTime:
		t, err := time.ParseInLocation(DateTimeInputLayout, s, now.Location())
		if err != nil {
			return nil, f.invalid("Неверный формат. Введи в виде: ГГГГ-ММ-ДД ЧЧ:ММ")
		}
		return t.Format(ISOLayout), nil
	default:
		return nil, f.invalid(fmt.Sprintf("unsupported field kind %s", f.Kind))
	}
}

func (f *Field) parseBool(s string) (any, *ValidationError) {
	lower := strings.ToLower(s)
	for _, tok := range affirmativeTokens {
		if lower == tok {
			return true, nil
		}
	}
	for _, tok := range negativeTokens {
		if lower == tok {
			return false, nil
		}
	}
	return nil, f.invalid("Ответ должен быть 'да' или 'нет'.")
}

func (f *Field) parseInteger(s string) (any, *ValidationError) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if f.Kind == KindBoundedInteger {
			return nil, f.invalid(fmt.Sprintf("Введи число от %d до %d.", f.Min, f.Max))
		}
		return nil, f.invalid("Введи целое число.")
	}
	if f.Kind == KindBoundedInteger && (n < f.Min || n > f.Max) {
		return nil, f.invalid(fmt.Sprintf("Введи число от %d до %d.", f.Min, f.Max))
	}
	if f.Positive && n <= 0 {
		return nil, f.invalid("Число должно быть больше нуля.")
	}
	if f.NonNegative && n < 0 {
		return nil, f.invalid("Число не может быть отрицательным.")
	}
	return n, nil
}

func (f *Field) parseDecimal(s string) (any, *ValidationError) {
	x, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return nil, f.invalid("Введи число (например, 1500).")
	}
	if f.Positive && x <= 0 {
		return nil, f.invalid("Число должно быть больше нуля.")
	}
	if f.NonNegative && x < 0 {
		return nil, f.invalid("Число не может быть отрицательным.")
	}
	return x, nil
}

func (f *Field) parseText(s string) (any, *ValidationError) {
	if f.Required && s == "" {
		return nil, f.invalid("Значение не может быть пустым. Введи снова:")
	}
	if f.Check != nil {
		if err := f.Check(s); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, &ValidationError{Field: f.Key, Reason: ve.Reason}
			}
			return nil, &ValidationError{Field: f.Key, Reason: err.Error()}
		}
	}
	return s, nil
}

func (f *Field) parseChoice(s string, now time.Time) (any, *ValidationError) {
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= len(f.Choices) {
		return f.Choices[n-1].resolve(now), nil
	}
	for _, c := range f.Choices {
		if c.matches(s) {
			return c.resolve(now), nil
		}
	}
	return nil, f.invalid("Выбери один из предложенных вариантов.")
}
