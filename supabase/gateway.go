package supabase

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bureauzwartjes/intake"
)

// Gateway is the best-effort sink in front of a Store. Failures are logged
// and swallowed so the chat never fails because storage did.
type Gateway struct {
	store Store
	log   zerolog.Logger
}

// NewGateway wraps store. A nil store means persistence is not configured;
// saves are then logged and skipped.
func NewGateway(store Store, log zerolog.Logger) *Gateway {
	return &Gateway{store: store, log: log}
}

// Enabled reports whether a store is configured.
func (g *Gateway) Enabled() bool {
	return g != nil && g.store != nil
}

// Save inserts rec and reports whether the insert succeeded.
func (g *Gateway) Save(ctx context.Context, rec *intake.CompletionRecord) bool {
	if !g.Enabled() {
		g.log.Warn().
			Str("intake_id", rec.ID).
			Err(intake.ErrPersistenceSkipped).
			Msg("completed intake not persisted")
		return false
	}

	if err := g.store.SaveCompletion(ctx, rec); err != nil {
		g.log.Error().
			Err(err).
			Str("intake_id", rec.ID).
			Msg("failed to persist completed intake")
		return false
	}

	g.log.Info().
		Str("intake_id", rec.ID).
		Int("turns", len(rec.ConversationHistory)).
		Msg("completed intake persisted")
	return true
}
