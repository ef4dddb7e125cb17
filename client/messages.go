package client

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/bureauzwartjes/intake/prompt"
)

const (
	keyWelcome  = "welcome"
	keyError    = "Something went wrong: %s"
	keyFallback = "Failed to send message"
	keyDone     = "done"
)

var messages = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.Dutch))
	set := func(tag language.Tag, key, msg string) {
		if err := b.SetString(tag, key, msg); err != nil {
			panic(err)
		}
	}

	set(language.Dutch, keyWelcome, "Hoi! Ik ben de virtuele assistent van Bureau Zwartjes. "+
		"Ik help je graag om in een paar minuten alles op een rij te zetten voor je nieuwe website. "+
		"Hoe heet je bedrijf?")
	set(language.Dutch, keyError, "Er is iets misgegaan: %s")
	set(language.Dutch, keyFallback, "Bericht versturen mislukt")
	set(language.Dutch, keyDone, "Bedankt! Je intake is afgerond. We nemen binnenkort contact met je op.")

	set(language.English, keyWelcome, "Hi! I'm the virtual assistant of Bureau Zwartjes. "+
		"I'll help you gather everything for your new website in a few minutes. "+
		"What is the name of your business?")
	set(language.English, keyError, "Something went wrong: %s")
	set(language.English, keyFallback, "Failed to send message")
	set(language.English, keyDone, "Thank you! Your intake is complete. We will be in touch soon.")
	return b
}()

func printer(locale string) *message.Printer {
	return message.NewPrinter(prompt.Match(locale), message.Catalog(messages))
}

// Welcome returns the greeting shown before the first user turn.
func Welcome(locale string) string {
	return printer(locale).Sprintf(keyWelcome)
}

// ErrorText returns the assistant turn shown when a send fails. An empty
// detail uses the generic failure text.
func ErrorText(locale, detail string) string {
	p := printer(locale)
	if detail == "" {
		detail = p.Sprintf(keyFallback)
	}
	return p.Sprintf(keyError, detail)
}

// CompletedText returns the notice shown once the intake is complete.
func CompletedText(locale string) string {
	return printer(locale).Sprintf(keyDone)
}
