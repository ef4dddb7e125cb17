// Package supabase writes completed intakes to the Supabase "intakes" table.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase-community/supabase-go"

	"github.com/bureauzwartjes/intake"
)

// DefaultTable is the table completed intakes are inserted into.
const DefaultTable = "intakes"

// Config holds Supabase connection configuration
type Config struct {
	URL    string
	APIKey string // service role key; inserts bypass row level security
	Table  string // Default: intakes
}

// Client implements the Store interface using Supabase
type Client struct {
	client *supabase.Client
	table  string
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client: client,
		table:  cfg.Table,
	}, nil
}

// SaveCompletion inserts the record with status "new". The PostgREST client
// takes no context, so the insert runs in its own goroutine and ctx bounds
// how long the caller waits for it.
func (c *Client) SaveCompletion(ctx context.Context, rec *intake.CompletionRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to insert intake: %w", err)
	}

	row := toRow(rec)
	done := make(chan error, 1)
	go func() {
		_, _, err := c.client.From(c.table).
			Insert(row, false, "", "minimal", "").
			Execute()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to insert intake: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to insert intake: %w", ctx.Err())
	}
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

func toRow(rec *intake.CompletionRecord) *intakeRow {
	prd := rec.PRDContent
	if len(prd) == 0 {
		prd = json.RawMessage("null")
	}
	status := rec.Status
	if status == "" {
		status = intake.StatusNew
	}
	return &intakeRow{
		ID:                  rec.ID,
		BusinessName:        rec.BusinessName,
		ContactName:         rec.ContactName,
		ContactEmail:        rec.ContactEmail,
		ContactPhone:        rec.ContactPhone,
		PRDContent:          prd,
		ConversationHistory: rec.ConversationHistory,
		Status:              status,
	}
}

// Compile-time check that Client implements Store
var _ Store = (*Client)(nil)
