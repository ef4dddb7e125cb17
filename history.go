package intake

// TrimHistory truncates the conversation based on token and message limits.
// It applies the message limit first, then the token limit, removing the oldest
// turns as needed. The newest turn is always kept. When anything was cut,
// leading assistant turns are dropped too so the result starts with a user
// turn. A limit <= 0 disables it.
// The input slice is never modified.
func TrimHistory(turns []Turn, tokenLimit, messageLimit int) []Turn {
	if len(turns) == 0 {
		return turns
	}

	history := turns
	if messageLimit > 0 && len(history) > messageLimit {
		history = history[len(history)-messageLimit:]
	}

	if tokenLimit > 0 {
		total := EstimateConversationTokens(history)
		for total > tokenLimit && len(history) > 1 {
			total -= EstimateTokens(history[0].Content)
			history = history[1:]
		}
	}

	if len(history) < len(turns) {
		for len(history) > 1 && history[0].Role != RoleUser {
			history = history[1:]
		}
	}

	out := make([]Turn, len(history))
	copy(out, history)
	return out
}
