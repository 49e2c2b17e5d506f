package modelinfo

import (
	"math"

	"github.com/ShirasawaTopaz/order/internal/connection"
)

// EstimateTokens returns a rough, deterministic token estimate for a set of
// chat messages. It deliberately uses a simple heuristic instead of a
// provider tokenizer so the estimate is stable across platforms and carries
// no model-specific dependency:
//   - ~4 characters per token on average
//   - a small fixed overhead per message for roles/formatting
//   - a coarse cost per tool call
func EstimateTokens(messages []connection.Message) int {
	const averageCharsPerToken = 4.0
	const perMessageOverheadTokens = 4
	const perToolCallOverheadTokens = 8

	total := 0
	for _, msg := range messages {
		if msg.Content != "" {
			total += int(math.Ceil(float64(len(msg.Content)) / averageCharsPerToken))
		}
		if msg.Name != "" {
			total += int(math.Ceil(float64(len(msg.Name)) / averageCharsPerToken))
		}
		if msg.ToolCallID != "" {
			total += int(math.Ceil(float64(len(msg.ToolCallID)) / averageCharsPerToken))
		}
		for _, tc := range msg.ToolCalls {
			total += perToolCallOverheadTokens
			if tc.Function.Name != "" {
				total += int(math.Ceil(float64(len(tc.Function.Name)) / averageCharsPerToken))
			}
			if tc.Function.Arguments != "" {
				total += int(math.Ceil(float64(len(tc.Function.Arguments)) / averageCharsPerToken))
			}
		}
		total += perMessageOverheadTokens
	}

	if total < len(messages) {
		total = len(messages)
	}
	return total
}

// ClampCompletionCap bounds a desired completion cap to the remaining
// context window after accounting for the estimated prompt tokens, keeping a
// 32-token safety margin. A non-positive requested cap means "as much as
// safely fits".
func ClampCompletionCap(messages []connection.Message, requestedCap, window int) int {
	remaining := window - EstimateTokens(messages) - 32
	if remaining < 1 {
		remaining = 1
	}
	if requestedCap <= 0 || requestedCap > remaining {
		return remaining
	}
	return requestedCap
}

// PromptTokenBudget returns a safe token budget for the prompt given a model
// context window and a desired completion cap.
func PromptTokenBudget(window, completionCap int) int {
	budget := window - completionCap - 32
	if budget < 1 {
		return 1
	}
	return budget
}
