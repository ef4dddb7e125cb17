package sentinel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNoCompletion means the text holds no closed completion block.
	ErrNoCompletion = errors.New("no completion block")
	// ErrMalformedCompletion means a completion block was found but its body
	// is not a valid payload.
	ErrMalformedCompletion = errors.New("malformed completion payload")
)

var (
	errNotObject = errors.New("payload is not a JSON object")
	errNotScalar = errors.New("contact field is not a string or number")
)

// Tag is the result of looking for a completion block: either absent, or
// present with its raw body.
type Tag struct {
	Present bool
	Body    string
}

// Completion is the payload carried inside [INTAKE_COMPLETE].
type Completion struct {
	BusinessName string          `json:"business_name"`
	ContactName  string          `json:"contact_name"`
	ContactEmail string          `json:"contact_email"`
	ContactPhone string          `json:"contact_phone"`
	PRD          json.RawMessage `json:"prd"`
}

// MalformedError wraps the decode failure of a present completion block.
type MalformedError struct {
	Body string
	Err  error
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformedCompletion, e.Err)
}

// Unwrap returns the underlying error.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrMalformedCompletion.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedCompletion
}

// FindCompletion returns the first closed completion block in text.
func FindCompletion(text string) Tag {
	m := completionBlock.FindStringSubmatch(text)
	if m == nil {
		return Tag{}
	}
	return Tag{Present: true, Body: strings.TrimSpace(m[1])}
}

// ParseCompletion decodes a completion body, which must be a JSON object.
// The prd member is kept verbatim.
func ParseCompletion(body string) (*Completion, error) {
	if !strings.HasPrefix(strings.TrimSpace(body), "{") {
		return nil, &MalformedError{Body: body, Err: errNotObject}
	}
	var raw struct {
		BusinessName json.RawMessage `json:"business_name"`
		ContactName  json.RawMessage `json:"contact_name"`
		ContactEmail json.RawMessage `json:"contact_email"`
		ContactPhone json.RawMessage `json:"contact_phone"`
		PRD          json.RawMessage `json:"prd"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, &MalformedError{Body: body, Err: err}
	}

	c := Completion{PRD: raw.PRD}
	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"business_name", raw.BusinessName, &c.BusinessName},
		{"contact_name", raw.ContactName, &c.ContactName},
		{"contact_email", raw.ContactEmail, &c.ContactEmail},
		{"contact_phone", raw.ContactPhone, &c.ContactPhone},
	}
	for _, f := range fields {
		v, err := scalarText(f.raw)
		if err != nil {
			return nil, &MalformedError{Body: body, Err: fmt.Errorf("%s: %w", f.name, err)}
		}
		*f.dst = v
	}
	if len(c.PRD) == 0 {
		c.PRD = json.RawMessage("null")
	}
	return &c, nil
}

// scalarText renders a JSON scalar as text. Numbers keep their literal
// form; null or an absent member is "".
func scalarText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", errNotScalar
	}
}

// ExtractCompletion finds and decodes the first completion block. It returns
// ErrNoCompletion when there is none and a *MalformedError when the body does
// not decode.
func ExtractCompletion(text string) (*Completion, error) {
	tag := FindCompletion(text)
	if !tag.Present {
		return nil, ErrNoCompletion
	}
	return ParseCompletion(tag.Body)
}

// Fingerprint returns a canonical encoding of the completion, stable across
// whitespace and key order differences in the raw body.
func (c *Completion) Fingerprint() ([]byte, error) {
	var prd any
	if err := json.Unmarshal(c.PRD, &prd); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	err := enc.Encode(struct {
		BusinessName string `json:"business_name"`
		ContactName  string `json:"contact_name"`
		ContactEmail string `json:"contact_email"`
		ContactPhone string `json:"contact_phone"`
		PRD          any    `json:"prd"`
	}{c.BusinessName, c.ContactName, c.ContactEmail, c.ContactPhone, prd})
	return buf.Bytes(), err
}
