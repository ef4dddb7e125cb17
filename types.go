// Package intake holds the shared conversation and completion types used by
// the relay, the persistence gateway and the chat client.
package intake

import (
	"encoding/json"
	"fmt"
)

// Roles a Turn may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StatusNew is the status every freshly persisted completion gets.
const StatusNew = "new"

// Turn represents a single conversation turn.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CompletionRecord is the durable row written once an intake is complete.
type CompletionRecord struct {
	ID                  string          `json:"id"`
	BusinessName        *string         `json:"business_name"`
	ContactName         *string         `json:"contact_name"`
	ContactEmail        *string         `json:"contact_email"`
	ContactPhone        *string         `json:"contact_phone"`
	PRDContent          json.RawMessage `json:"prd_content"`
	ConversationHistory []Turn          `json:"conversation_history"`
	Status              string          `json:"status"`
}

// ValidateTurns checks the structural constraints on an inbound conversation:
// at least one turn, at most maxTurns (0 disables), and only user/assistant roles.
// Turn content is free text and never inspected.
func ValidateTurns(turns []Turn, maxTurns int) error {
	if len(turns) == 0 {
		return ErrEmptyConversation
	}
	if maxTurns > 0 && len(turns) > maxTurns {
		return fmt.Errorf("%w: %d > %d", ErrTooManyMessages, len(turns), maxTurns)
	}
	for i, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return fmt.Errorf("%w %q at message %d", ErrInvalidRole, t.Role, i)
		}
	}
	return nil
}

// NullableString returns nil for an empty string so the column is stored as null.
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
