// Package sse decodes the server-sent-event stream of an OpenAI-compatible
// chat completion endpoint into plain content deltas.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// DoneToken is the payload that terminates a stream.
const DoneToken = "[DONE]"

// readSize is the buffer size used when pulling chunks from a reader.
const readSize = 4 * 1024

var dataField = []byte("data:")

// StreamError is an error object the provider sent inside the stream.
type StreamError struct {
	Code    any
	Message string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("upstream stream error (%v): %s", e.Code, e.Message)
	}
	return "upstream stream error: " + e.Message
}

// event is the subset of a streamed chat completion chunk the decoder reads.
type event struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Decoder turns raw byte chunks into content deltas. It buffers the trailing
// partial line of each chunk, so its output does not depend on where the
// chunk boundaries fall. A Decoder serves one stream only.
type Decoder struct {
	pending []byte
	done    bool
	err     error
}

// NewDecoder returns a Decoder for a fresh stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Done reports whether the termination token or a stream error was seen.
// Input fed after that is ignored.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends chunk and returns the deltas of every line it completed.
// The error is non-nil only when the provider reported an error in-stream.
func (d *Decoder) Feed(chunk []byte) ([]string, error) {
	if d.done {
		return nil, d.err
	}
	d.pending = append(d.pending, chunk...)

	var deltas []string
	for !d.done {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		d.pending = d.pending[i+1:]
		if delta, ok := d.line(line); ok {
			deltas = append(deltas, delta)
		}
	}
	if d.done {
		d.pending = nil
	}
	return deltas, d.err
}

// Flush processes a final line that was not newline-terminated. Call it once
// the input is exhausted.
func (d *Decoder) Flush() ([]string, error) {
	if d.done || len(d.pending) == 0 {
		return nil, d.err
	}
	line := d.pending
	d.pending = nil
	if delta, ok := d.line(line); ok {
		return []string{delta}, d.err
	}
	return nil, d.err
}

// line handles one complete line and reports a delta if it carried one.
func (d *Decoder) line(line []byte) (string, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataField) {
		return "", false
	}
	payload := line[len(dataField):]
	payload = bytes.TrimPrefix(payload, []byte(" "))

	if string(payload) == DoneToken {
		d.done = true
		return "", false
	}

	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		// keep-alives and partial provider noise
		return "", false
	}
	if ev.Error != nil {
		d.done = true
		d.err = &StreamError{Code: ev.Error.Code, Message: ev.Error.Message}
		return "", false
	}
	if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
		return "", false
	}
	return ev.Choices[0].Delta.Content, true
}

// Deltas lazily decodes r into content deltas. The sequence ends at the
// termination token, at EOF, or after yielding the first read or stream
// error. A nil reader yields nothing. The sequence is single-pass: it
// consumes r.
func Deltas(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if r == nil {
			return
		}
		d := NewDecoder()
		buf := make([]byte, readSize)

		emit := func(deltas []string, err error) bool {
			for _, delta := range deltas {
				if !yield(delta, nil) {
					return false
				}
			}
			if err != nil {
				yield("", err)
				return false
			}
			return true
		}

		for !d.Done() {
			n, rerr := r.Read(buf)
			if n > 0 {
				if !emit(d.Feed(buf[:n])) {
					return
				}
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					emit(d.Flush())
					return
				}
				yield("", rerr)
				return
			}
		}
	}
}
