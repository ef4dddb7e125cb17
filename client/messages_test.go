package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWelcome(t *testing.T) {
	assert.Contains(t, Welcome("nl"), "Hoe heet je bedrijf?")
	assert.Contains(t, Welcome(""), "Bureau Zwartjes")
	assert.Contains(t, Welcome("en-GB"), "What is the name of your business?")
	assert.Equal(t, Welcome("nl"), Welcome("fr"))
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "Er is iets misgegaan: upstream error: overloaded", ErrorText("nl", "upstream error: overloaded"))
	assert.Equal(t, "Something went wrong: boom", ErrorText("en", "boom"))
	assert.Equal(t, "Er is iets misgegaan: Bericht versturen mislukt", ErrorText("nl", ""))
	assert.Equal(t, "Something went wrong: Failed to send message", ErrorText("en", ""))
}

func TestCompletedText(t *testing.T) {
	assert.Contains(t, CompletedText("nl"), "Je intake is afgerond")
	assert.Contains(t, CompletedText("en-US"), "Your intake is complete")
}
