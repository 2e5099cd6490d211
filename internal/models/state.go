// Package models defines conversation state structures for TrackPipe forms.
package models

import "time"

// CustomFieldDef is a user defined extra question appended to the day log.
type CustomFieldDef struct {
	UserID    string          `json:"user_id,omitempty"`
	Name      string          `json:"name"`
	Type      CustomFieldType `json:"type"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// ConversationState is the per-user progress through one form.
// A user with no stored state is idle.
type ConversationState struct {
	UserID     string   `json:"user_id"`
	Form       FormKind `json:"form"`
	CurrentKey FieldKey `json:"current_key"`
	Answers    Answers  `json:"answers"`

	// InCustomLoop is set once the fixed fields are done and the custom field
	// snapshot has been taken. CustomDefs never changes after that point.
	InCustomLoop bool             `json:"in_custom_loop,omitempty"`
	CustomIndex  int              `json:"custom_index,omitempty"`
	CustomDefs   []CustomFieldDef `json:"custom_defs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FinalizedRecord is the immutable result of a completed form.
type FinalizedRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Form        FormKind  `json:"form"`
	Fields      Answers   `json:"fields"`
	CompletedAt time.Time `json:"completed_at"`
}
