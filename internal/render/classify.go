package render

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// closedMarkers are substrings of terminal OTRS state names.
var closedMarkers = []string{"closed", "merged", "removed"}

// unassignedOwners are owner logins that do not denote a real agent.
var unassignedOwners = map[string]bool{
	"":                true,
	"root@localhost":  true,
	"root":            true,
	"admin":           true,
	"admin@localhost": true,
	"-":               true,
	"none":            true,
	"не назначен":     true,
	"не назначено":    true,
	"telegram_bot":    true,
	"telegram-bot":    true,
	"telegrambot":     true,
	"bot":             true,
}

// fold normalizes s for case-insensitive comparison.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// IsClosed reports whether state names a terminal state.
func IsClosed(state string) bool {
	s := fold(state)
	for _, marker := range closedMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// IsAssigned reports whether owner is a real agent rather than a placeholder.
func IsAssigned(owner string) bool {
	return !unassignedOwners[fold(owner)]
}

// StateMarker picks the emoji shown in front of the ticket headline.
func StateMarker(state string) string {
	s := fold(state)
	switch {
	case strings.Contains(s, "new"):
		return "🆕"
	case strings.Contains(s, "open"):
		return "📂"
	case strings.Contains(s, "pending"):
		return "⏳"
	case strings.Contains(s, "closed"):
		return "✅"
	case strings.Contains(s, "merged"):
		return "🔗"
	default:
		return "📋"
	}
}

// PriorityMarker maps OTRS priorities ("3 normal", "5 very high", ...) to a colored dot.
func PriorityMarker(priority string) string {
	p := fold(priority)
	switch {
	case strings.Contains(p, "very high") || strings.Contains(p, "5"):
		return "🔴"
	case strings.Contains(p, "high") || strings.Contains(p, "4"):
		return "🟠"
	case strings.Contains(p, "normal") || strings.Contains(p, "3"):
		return "🟡"
	case strings.Contains(p, "low") || strings.Contains(p, "2"):
		return "🟢"
	default:
		return "⚪"
	}
}
