// Package models defines the core data structures for TrackPipe.
//
// It includes the tracked entities (habits, day logs, nutrition, finance), the conversation
// state shared by the flow engine and the stores, and the message/receipt types used by the
// messaging layer.
package models

import (
	"errors"
)

const (
	// MaxMessageBodyLength caps an outgoing message body.
	MaxMessageBodyLength = 4096
	// MaxNameLength caps habit, product, category and field names (in runes).
	MaxNameLength = 100
)

var (
	ErrEmptyUserID        = errors.New("user id cannot be empty")
	ErrEmptyName          = errors.New("name cannot be empty")
	ErrNameTooLong        = errors.New("name exceeds maximum length")
	ErrInvalidFinanceType = errors.New("finance type must be income or expense")
	ErrNonPositiveAmount  = errors.New("amount must be positive")
	ErrInvalidFieldType   = errors.New("custom field type must be bool, int or text")
	ErrInvalidTimeOfDay   = errors.New("time must be in HH:MM format")
)

// MessageStatus is the delivery state a transport reported for an outgoing message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// APIStatus is the value of APIResponse.Status.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// Receipt records a delivery status update for a message sent to To.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response is an inbound user message as logged by the messaging layer.
type Response struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIResponse is the JSON envelope every API endpoint answers with.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success wraps result in an "ok" envelope.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error wraps message in an "error" envelope.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ValidateName checks the shared constraints on user supplied names.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len([]rune(name)) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}
