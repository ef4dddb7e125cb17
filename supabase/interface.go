package supabase

import (
	"context"
	"encoding/json"

	"github.com/bureauzwartjes/intake"
)

// Store persists completed intakes.
type Store interface {
	// SaveCompletion inserts one completion record. It performs no
	// deduplication; every call is an independent insert.
	SaveCompletion(ctx context.Context, rec *intake.CompletionRecord) error

	// Close closes the Supabase client and releases resources
	Close() error
}

// intakeRow is the insert shape of the intakes table.
type intakeRow struct {
	ID                  string          `json:"id"`
	BusinessName        *string         `json:"business_name"`
	ContactName         *string         `json:"contact_name"`
	ContactEmail        *string         `json:"contact_email"`
	ContactPhone        *string         `json:"contact_phone"`
	PRDContent          json.RawMessage `json:"prd_content"`
	ConversationHistory []intake.Turn   `json:"conversation_history"`
	Status              string          `json:"status"`
}
