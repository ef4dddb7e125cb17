// Package sentinel recognises the control markup the intake assistant embeds
// in its prose: an [OPTIONS] block offering clickable answers and an
// [INTAKE_COMPLETE] block carrying the JSON completion payload.
package sentinel

import (
	"regexp"
	"strings"
)

// Tag delimiters.
const (
	OptionsOpen     = "[OPTIONS]"
	OptionsClose    = "[/OPTIONS]"
	CompletionOpen  = "[INTAKE_COMPLETE]"
	CompletionClose = "[/INTAKE_COMPLETE]"
)

var (
	optionsBlock    = regexp.MustCompile(`(?s)\[OPTIONS\](.*?)\[/OPTIONS\]`)
	completionBlock = regexp.MustCompile(`(?s)\[INTAKE_COMPLETE\](.*?)\[/INTAKE_COMPLETE\]`)
)

// ExtractOptions finds the first options block. It returns the text with that
// block removed (trimmed) and the non-empty, trimmed labels in order. Without a
// block, or when the block has no usable labels, the text is returned as is
// with nil options.
func ExtractOptions(text string) (string, []string) {
	loc := optionsBlock.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}

	var options []string
	for _, label := range strings.Split(text[loc[2]:loc[3]], "|") {
		if label = strings.TrimSpace(label); label != "" {
			options = append(options, label)
		}
	}
	if len(options) == 0 {
		return text, nil
	}

	rest := text[:loc[0]] + text[loc[1]:]
	return strings.TrimSpace(rest), options
}

// Scrub removes every options block, every closed completion block and any
// suffix starting at an unclosed completion tag. Scrub is idempotent.
func Scrub(text string) string {
	return fixpoint(text, scrubOnce)
}

// ScrubStreaming is Scrub for text that is still arriving: it additionally
// hides a trailing unclosed options block and a trailing fragment that could
// still grow into an opening tag, so partial markup never reaches the screen.
func ScrubStreaming(text string) string {
	return fixpoint(text, func(s string) string {
		s = scrubOnce(s)
		if i := strings.LastIndex(s, OptionsOpen); i >= 0 && !strings.Contains(s[i:], OptionsClose) {
			s = s[:i]
		}
		s = trimTagPrefix(s)
		return strings.TrimSpace(s)
	})
}

// HasCompletionMarker reports whether the opening completion tag appears
// anywhere in text, closed or not.
func HasCompletionMarker(text string) bool {
	return strings.Contains(text, CompletionOpen)
}

func scrubOnce(s string) string {
	s = optionsBlock.ReplaceAllString(s, "")
	s = completionBlock.ReplaceAllString(s, "")
	if i := strings.Index(s, CompletionOpen); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// trimTagPrefix drops a trailing "[..." fragment that is a proper prefix of
// one of the opening tags.
func trimTagPrefix(s string) string {
	i := strings.LastIndexByte(s, '[')
	if i < 0 {
		return s
	}
	tail := s[i:]
	for _, tag := range []string{OptionsOpen, CompletionOpen} {
		if len(tail) < len(tag) && strings.HasPrefix(tag, tail) {
			return s[:i]
		}
	}
	return s
}

func fixpoint(s string, step func(string) string) string {
	for {
		next := step(s)
		if next == s {
			return s
		}
		s = next
	}
}
