// Package models defines form and field identifiers to avoid circular imports.
package models

import "strings"

// FormKind identifies one guided data-entry flow.
type FormKind string

// FieldKey identifies one question within a form.
type FieldKey string

// CustomFieldType is the declared type of a user defined day-log field.
type CustomFieldType string

// Form kinds.
const (
	FormHabit       FormKind = "habit"
	FormDayLog      FormKind = "day_log"
	FormCustomField FormKind = "custom_field"
	FormFinance     FormKind = "finance"
	FormFood        FormKind = "food"
)

// Habit form keys.
const (
	KeyHabitName      FieldKey = "habit_name"
	KeyHabitType      FieldKey = "habit_type"
	KeyTrackingType   FieldKey = "tracking_type"
	KeyUnit           FieldKey = "unit"
	KeyDeadline       FieldKey = "deadline"
	KeyDeadlineManual FieldKey = "deadline_manual"
	KeyRepeat         FieldKey = "repeat"
)

// Day log form keys.
const (
	KeyWater    FieldKey = "water"
	KeySmoke    FieldKey = "smoke"
	KeyActivity FieldKey = "activity"
	KeySleep    FieldKey = "sleep"
	KeyMood     FieldKey = "mood"
	KeyThoughts FieldKey = "thoughts"
)

// Custom field definition form keys.
const (
	KeyFieldName FieldKey = "field_name"
	KeyFieldType FieldKey = "field_type"
)

// Finance form keys.
const (
	KeyFinanceType FieldKey = "type"
	KeyAmount      FieldKey = "amount"
	KeyCategory    FieldKey = "category"
)

// Food form keys.
const (
	KeyMeal    FieldKey = "meal"
	KeyProduct FieldKey = "product"
	KeyGrams   FieldKey = "grams"
)

// Custom field types.
const (
	CustomFieldBool CustomFieldType = "bool"
	CustomFieldInt  CustomFieldType = "int"
	CustomFieldText CustomFieldType = "text"
)

// IsValidFormKind reports whether the kind names a known form.
func IsValidFormKind(k FormKind) bool {
	switch k {
	case FormHabit, FormDayLog, FormCustomField, FormFinance, FormFood:
		return true
	default:
		return false
	}
}

// IsValidCustomFieldType reports whether t is a supported custom field type.
func IsValidCustomFieldType(t CustomFieldType) bool {
	switch t {
	case CustomFieldBool, CustomFieldInt, CustomFieldText:
		return true
	default:
		return false
	}
}

// DayLogBuiltinKeys lists the fixed day-log fields; custom fields may not reuse these names.
var DayLogBuiltinKeys = []FieldKey{KeyWater, KeySmoke, KeyActivity, KeySleep, KeyMood, KeyThoughts}

// IsReservedDayLogKey reports whether name collides with a fixed day-log field, ignoring case.
func IsReservedDayLogKey(name string) bool {
	for _, k := range DayLogBuiltinKeys {
		if strings.EqualFold(string(k), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}
