package client

import (
	"unicode/utf8"

	"github.com/bureauzwartjes/intake/sentinel"
)

// View is what the UI shows for the assistant turn being streamed.
// Raw is everything received so far; Display is Raw without markup.
type View struct {
	Raw      string
	Display  string
	Complete bool
}

// Apply returns the view after chunk arrived. Chunks may split UTF-8
// sequences and sentinel tags anywhere; Display never shows either half.
func (v View) Apply(chunk []byte) View {
	raw := v.Raw + string(chunk)
	return View{
		Raw:      raw,
		Display:  sentinel.ScrubStreaming(completePrefix(raw)),
		Complete: v.Complete || sentinel.HasCompletionMarker(raw),
	}
}

// Final returns the view once the stream has ended.
func (v View) Final() View {
	return View{
		Raw:      v.Raw,
		Display:  sentinel.Scrub(v.Raw),
		Complete: v.Complete || sentinel.HasCompletionMarker(v.Raw),
	}
}

// completePrefix drops a trailing incomplete UTF-8 sequence.
func completePrefix(s string) string {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			if utf8.FullRuneInString(s[i:]) {
				return s
			}
			return s[:i]
		}
	}
	return s
}
