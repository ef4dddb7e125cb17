// Package relay serves the intake chat endpoint: it forwards the
// conversation to the model provider, streams the reply back as plain text
// and persists the intake once the model signals completion.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bureauzwartjes/intake"
	"github.com/bureauzwartjes/intake/claim"
	"github.com/bureauzwartjes/intake/internal/metrics"
	"github.com/bureauzwartjes/intake/openrouter"
	"github.com/bureauzwartjes/intake/prompt"
	"github.com/bureauzwartjes/intake/sentinel"
	"github.com/bureauzwartjes/intake/sse"
	"github.com/bureauzwartjes/intake/supabase"
)

// DefaultMaxBodyBytes limits the request body.
const DefaultMaxBodyBytes = 1 << 20

const releaseTimeout = 5 * time.Second

// Upstream opens streaming completions. *openrouter.Client implements it.
type Upstream interface {
	Configured() bool
	Model() string
	BuildRequest(systemPrompt string, turns []intake.Turn) openrouter.Request
	Open(ctx context.Context, req openrouter.Request) (io.ReadCloser, error)
}

// Config holds the per-request limits.
type Config struct {
	MaxBodyBytes  int64
	MaxMessages   int           // 0 disables
	HistoryTokens int           // 0 disables
	HistoryLimit  int           // 0 disables
	SaveTimeout   time.Duration // bounds the insert after the stream ends
}

// Deps are the collaborators of a Handler. Upstream is required; the rest
// fall back to no-op defaults.
type Deps struct {
	Upstream Upstream
	Gateway  *supabase.Gateway
	Claims   claim.Store
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []intake.Turn `json:"messages"`
	Locale   string        `json:"locale,omitempty"`
}

// Handler relays one chat turn per request.
type Handler struct {
	cfg      Config
	upstream Upstream
	gateway  *supabase.Gateway
	claims   claim.Store
	log      zerolog.Logger
	metrics  *metrics.Metrics
	newID    func() string
}

// New creates a chat handler.
func New(cfg Config, deps Deps) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 10 * time.Second
	}
	if deps.Gateway == nil {
		deps.Gateway = supabase.NewGateway(nil, deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	return &Handler{
		cfg:      cfg,
		upstream: deps.Upstream,
		gateway:  deps.Gateway,
		claims:   deps.Claims,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		newID:    uuid.NewString,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := h.log.With().Str("request_id", RequestID(r.Context())).Logger()

	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reject(w, start, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := intake.ValidateTurns(req.Messages, h.cfg.MaxMessages); err != nil {
		h.reject(w, start, http.StatusBadRequest, err.Error())
		return
	}

	if !h.upstream.Configured() {
		log.Error().Err(intake.ErrNotConfigured).Msg("chat request refused")
		writeError(w, http.StatusServiceUnavailable, intake.ErrNotConfigured.Error())
		h.metrics.RecordTurn(metrics.OutcomeNotConfigured, time.Since(start))
		return
	}

	turns := intake.TrimHistory(req.Messages, h.cfg.HistoryTokens, h.cfg.HistoryLimit)
	if len(turns) < len(req.Messages) {
		log.Debug().
			Int("messages", len(req.Messages)).
			Int("forwarded", len(turns)).
			Msg("history trimmed")
	}
	h.metrics.PromptTokens.Observe(float64(intake.EstimateConversationTokens(turns)))

	upReq := h.upstream.BuildRequest(prompt.For(req.Locale), turns)
	body, err := h.upstream.Open(r.Context(), upReq)
	if err != nil {
		h.openFailed(w, log, start, err)
		return
	}
	defer body.Close()
	h.metrics.UpstreamStatusCode.WithLabelValues("200").Inc()

	h.metrics.ChatTurnsInFlight.Inc()
	defer h.metrics.ChatTurnsInFlight.Dec()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	var (
		reply      strings.Builder
		streamErr  error
		clientGone bool
		deltas     int
	)
	for delta, err := range sse.Deltas(body) {
		if err != nil {
			streamErr = err
			break
		}
		if deltas == 0 {
			h.metrics.TimeToFirstDelta.Observe(time.Since(start).Seconds())
		}
		deltas++
		if _, err := io.WriteString(w, delta); err != nil {
			clientGone = true
			break
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			clientGone = true
			break
		}
		reply.WriteString(delta)
	}
	h.metrics.DeltasTotal.Add(float64(deltas))

	if clientGone || (streamErr != nil && r.Context().Err() != nil) {
		log.Info().Int("deltas", deltas).Msg("client went away, stream abandoned")
		h.metrics.RecordTurn(metrics.OutcomeClientGone, time.Since(start))
		return
	}
	if streamErr != nil {
		log.Error().Err(streamErr).Int("deltas", deltas).Msg("upstream stream failed")
		h.metrics.RecordTurn(metrics.OutcomeStreamError, time.Since(start))
		panic(http.ErrAbortHandler)
	}

	// Persist before the handler returns so the response only ends after
	// the insert was attempted.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.SaveTimeout)
	defer cancel()
	h.complete(ctx, log, reply.String(), req.Messages)

	log.Debug().
		Str("model", h.upstream.Model()).
		Int("deltas", deltas).
		Dur("duration", time.Since(start)).
		Msg("chat turn relayed")
	h.metrics.RecordTurn(metrics.OutcomeCompleted, time.Since(start))
}

func (h *Handler) reject(w http.ResponseWriter, start time.Time, status int, msg string) {
	writeError(w, status, msg)
	h.metrics.RecordTurn(metrics.OutcomeBadRequest, time.Since(start))
}

func (h *Handler) openFailed(w http.ResponseWriter, log zerolog.Logger, start time.Time, err error) {
	var statusErr *openrouter.StatusError
	switch {
	case errors.As(err, &statusErr):
		log.Warn().
			Str("model", h.upstream.Model()).
			Int("status", statusErr.StatusCode).
			Str("body", statusErr.Body).
			Msg("upstream rejected request")
		h.metrics.UpstreamStatusCode.WithLabelValues(strconv.Itoa(statusErr.StatusCode)).Inc()
		writeError(w, statusErr.StatusCode, "upstream error: "+statusErr.Body)
		h.metrics.RecordTurn(metrics.OutcomeUpstreamError, time.Since(start))
	case errors.Is(err, intake.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		h.metrics.RecordTurn(metrics.OutcomeNotConfigured, time.Since(start))
	default:
		log.Error().Err(err).Msg("failed to reach upstream")
		writeError(w, http.StatusBadGateway, "failed to reach upstream")
		h.metrics.RecordTurn(metrics.OutcomeUpstreamError, time.Since(start))
	}
}

// complete persists the intake if reply carries a well-formed completion
// block. Each distinct completion is written at most once.
func (h *Handler) complete(ctx context.Context, log zerolog.Logger, reply string, turns []intake.Turn) {
	c, err := sentinel.ExtractCompletion(reply)
	if errors.Is(err, sentinel.ErrNoCompletion) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("completion block could not be parsed")
		h.metrics.RecordCompletion(metrics.CompletionMalformed)
		return
	}

	rec := &intake.CompletionRecord{
		ID:                  h.newID(),
		BusinessName:        intake.NullableString(c.BusinessName),
		ContactName:         intake.NullableString(c.ContactName),
		ContactEmail:        intake.NullableString(c.ContactEmail),
		ContactPhone:        intake.NullableString(c.ContactPhone),
		PRDContent:          c.PRD,
		ConversationHistory: turns,
		Status:              intake.StatusNew,
	}
	log = log.With().Str("intake_id", rec.ID).Logger()

	if !h.gateway.Enabled() {
		h.gateway.Save(ctx, rec)
		h.metrics.RecordCompletion(metrics.CompletionSkipped)
		return
	}

	key, claimed := h.claim(ctx, log, c)
	if key != "" && !claimed {
		log.Info().Msg("completion already persisted, skipping")
		h.metrics.RecordCompletion(metrics.CompletionDuplicate)
		return
	}

	if !h.gateway.Save(ctx, rec) {
		if claimed {
			h.release(ctx, log, key)
		}
		h.metrics.RecordCompletion(metrics.CompletionFailed)
		return
	}
	h.metrics.RecordCompletion(metrics.CompletionSaved)
}

// claim takes the dedupe key for c. An empty key means no claim was
// attempted and the save should proceed unguarded.
func (h *Handler) claim(ctx context.Context, log zerolog.Logger, c *sentinel.Completion) (string, bool) {
	if h.claims == nil {
		return "", false
	}
	fp, err := c.Fingerprint()
	if err != nil {
		log.Warn().Err(err).Msg("failed to fingerprint completion")
		return "", false
	}
	sum := sha256.Sum256(fp)
	key := hex.EncodeToString(sum[:])

	ok, err := h.claims.Claim(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("claim store unavailable, saving without dedupe")
		return "", false
	}
	return key, ok
}

// release gives key back after a failed save. The save context may already
// have expired, so the release gets its own deadline.
func (h *Handler) release(ctx context.Context, log zerolog.Logger, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := h.claims.Release(ctx, key); err != nil {
		log.Warn().Err(err).Msg("failed to release completion claim")
	}
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
