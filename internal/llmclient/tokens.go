package llmclient

import "strings"

// CountTokens provides a rough token count for text, used to estimate
// compression targets and payload budgets. It averages a word count and a
// character heuristic; both overcount slightly, which is the safe direction
// for budget math.
func CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	byChars := len(text) / 4
	byWords := len(strings.Fields(text))
	n := (byChars + byWords) / 2
	if n == 0 {
		n = 1
	}
	return n
}
