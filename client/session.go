// Package client drives an intake conversation against the relay: it keeps
// the transcript, streams each reply and tracks options and completion.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bureauzwartjes/intake"
	"github.com/bureauzwartjes/intake/sentinel"
)

const readSize = 4096

var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy is returned when a send is already in flight.
	ErrBusy = errors.New("a message is already being sent")

	// ErrComplete is returned once the intake has been completed.
	ErrComplete = errors.New("intake is already complete")

	// ErrNoSuchOption is returned by Choose for an index out of range.
	ErrNoSuchOption = errors.New("no such option")
)

// RequestError is a failed send. Status is 0 when the relay was not reached.
type RequestError struct {
	Status int
	Detail string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("chat request failed (%d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("chat request failed: %s", e.Detail)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient sets the HTTP client used for sends.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// WithLocale sets the conversation locale, for example "nl" or "en".
func WithLocale(locale string) Option {
	return func(s *Session) { s.locale = locale }
}

// WithOnUpdate registers a callback invoked for every received chunk and
// once more when the reply is final.
func WithOnUpdate(fn func(View)) Option {
	return func(s *Session) { s.onUpdate = fn }
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is one intake conversation. It is safe for concurrent use, but
// only one send runs at a time.
type Session struct {
	endpoint   string
	locale     string
	httpClient *http.Client
	onUpdate   func(View)
	log        zerolog.Logger

	mu       sync.Mutex
	entries  []entry
	sending  bool
	complete bool
}

// entry is a transcript turn. Local turns, such as the welcome or an error
// notice, are shown but never sent to the relay.
type entry struct {
	intake.Turn
	local bool
}

// New starts a session against the relay at baseURL, seeded with the
// localized welcome turn.
func New(baseURL string, opts ...Option) *Session {
	s := &Session{
		endpoint:   strings.TrimSuffix(baseURL, "/") + "/api/chat",
		httpClient: http.DefaultClient,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entries = s.seed()
	return s
}

// Reset discards the conversation and starts over.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.seed()
	s.complete = false
}

func (s *Session) seed() []entry {
	return []entry{s.local(Welcome(s.locale))}
}

func (s *Session) local(content string) entry {
	return entry{Turn: intake.Turn{Role: intake.RoleAssistant, Content: content}, local: true}
}

// Turns returns a copy of the transcript. Assistant turns hold the raw
// text including markup; use Display to render them.
func (s *Session) Turns() []intake.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]intake.Turn, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Turn
	}
	return out
}

// Complete reports whether the completion marker has been seen.
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Options returns the shortcuts offered by the latest assistant turn, or
// nil once the intake is complete.
func (s *Session) Options() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete {
		return nil
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Role == intake.RoleAssistant {
			_, opts := sentinel.ExtractOptions(s.entries[i].Content)
			return opts
		}
	}
	return nil
}

// Choose sends option i of the latest assistant turn as if it were typed.
func (s *Session) Choose(ctx context.Context, i int) (View, error) {
	opts := s.Options()
	if i < 0 || i >= len(opts) {
		return View{}, fmt.Errorf("%w: %d", ErrNoSuchOption, i)
	}
	return s.Send(ctx, opts[i])
}

// Send appends text as a user turn, posts the conversation and streams the
// reply. On failure a localized error turn is appended and the error is
// returned; the conversation is kept so the user can retry.
func (s *Session) Send(ctx context.Context, text string) (View, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return View{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return View{}, ErrBusy
	}
	if s.complete {
		s.mu.Unlock()
		return View{}, ErrComplete
	}
	s.sending = true
	s.entries = append(s.entries, entry{Turn: intake.Turn{Role: intake.RoleUser, Content: text}})
	var outgoing []intake.Turn
	for _, e := range s.entries {
		if !e.local {
			outgoing = append(outgoing, e.Turn)
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	view, err := s.stream(ctx, outgoing)
	if err != nil {
		s.log.Warn().Err(err).Msg("chat send failed")
		var reqErr *RequestError
		detail := ""
		if errors.As(err, &reqErr) {
			detail = reqErr.Detail
		}
		s.mu.Lock()
		if view.Raw != "" {
			s.entries = append(s.entries, s.local(view.Raw))
		}
		s.entries = append(s.entries, s.local(ErrorText(s.locale, detail)))
		s.mu.Unlock()
		return view, err
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry{Turn: intake.Turn{Role: intake.RoleAssistant, Content: view.Raw}})
	s.mu.Unlock()
	return view, nil
}

func (s *Session) stream(ctx context.Context, turns []intake.Turn) (View, error) {
	body, err := json.Marshal(map[string]any{"messages": turns, "locale": s.locale})
	if err != nil {
		return View{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return View{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return View{}, &RequestError{Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&e)
		return View{}, &RequestError{Status: resp.StatusCode, Detail: e.Error}
	}

	var view View
	buf := make([]byte, readSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			view = view.Apply(buf[:n])
			s.update(view)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return view, &RequestError{Detail: err.Error(), Err: err}
		}
	}

	view = view.Final()
	s.update(view)
	return view, nil
}

// update records completion and notifies the callback. Completion is
// signalled as soon as the marker arrives, which may precede the relay's
// save of the intake.
func (s *Session) update(v View) {
	if v.Complete {
		s.mu.Lock()
		s.complete = true
		s.mu.Unlock()
	}
	if s.onUpdate != nil {
		s.onUpdate(v)
	}
}

// Display renders a transcript turn without markup.
func Display(t intake.Turn) string {
	return sentinel.Scrub(t.Content)
}
