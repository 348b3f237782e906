// Package tokens estimates token counts before a call is made.
package tokens

import "unicode/utf8"

// CharsPerToken is the average number of characters per token assumed by
// Estimate. It is accurate enough for admission control, not billing.
const CharsPerToken = 4

// messageOverhead approximates the tokens a chat message costs beyond its text.
const messageOverhead = 4

// Estimate returns an approximate token count for text. Non-empty text is
// at least one token.
func Estimate(text string) int64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int64((n + CharsPerToken - 1) / CharsPerToken)
}

// EstimatePrompt estimates the input tokens of a chat prompt made of the
// given message texts.
func EstimatePrompt(messages ...string) int64 {
	var total int64
	for _, m := range messages {
		if m == "" {
			continue
		}
		total += Estimate(m) + messageOverhead
	}
	return total
}

// EstimateCall estimates the total tokens a call may consume: the prompt
// plus the most output the call is allowed to produce.
func EstimateCall(maxOutputTokens int64, messages ...string) int64 {
	return EstimatePrompt(messages...) + maxOutputTokens
}
