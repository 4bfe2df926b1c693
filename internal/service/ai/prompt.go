package ai

import (
	"strings"

	"foliochat/internal/models"
)

// RoleLabel is the speaker prefix used in the flat prompt format.
func RoleLabel(role models.Role) string {
	if role == models.RoleUser {
		return "Human"
	}
	return "Assistant"
}

// FormatPrompt renders the whole history followed by the new user text and a completion cue.
func FormatPrompt(history []models.Turn, newUserText string) string {
	var b strings.Builder
	for i, turn := range history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(RoleLabel(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
	}
	b.WriteString("\n\nHuman: ")
	b.WriteString(newUserText)
	b.WriteString("\n\nAssistant:")
	return b.String()
}

// ContextPolicy bounds how much history is sent with a request. Zero disables a bound.
type ContextPolicy struct {
	MaxTurns int
	MaxChars int
}

// Window returns the longest suffix of history within both bounds. The result shares the
// backing array of history.
func (p ContextPolicy) Window(history []models.Turn) []models.Turn {
	start := 0
	if p.MaxTurns > 0 && len(history) > p.MaxTurns {
		start = len(history) - p.MaxTurns
	}
	if p.MaxChars > 0 {
		total := 0
		for i := len(history) - 1; i >= start; i-- {
			total += len(history[i].Content)
			if total > p.MaxChars {
				start = i + 1
				break
			}
		}
	}
	return history[start:]
}
