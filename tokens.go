package intake

// EstimateTokens estimates the token count for a given text using a Unicode-aware heuristic.
// ASCII characters (English, Dutch, numbers, punctuation) are weighted at ~4 per token.
// Non-ASCII characters (accents, euro sign, emoji, etc.) are weighted at ~1 per token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// EstimateConversationTokens sums EstimateTokens over every turn.
func EstimateConversationTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTokens(t.Content)
	}
	return total
}
