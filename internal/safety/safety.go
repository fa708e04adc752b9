// Package safety implements the content pre-check applied to user input
// before it is sent for generation.
package safety

import (
	"regexp"
)

// BlockedMessage is shown to users whose input is rejected.
const BlockedMessage = "Content blocked: Please ensure your request follows our content guidelines."

// The second pattern has no trailing word boundary so it also catches
// "discrimination", "discriminatory" and so on.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(hack|exploit|illegal|harmful)\b`),
	regexp.MustCompile(`(?i)\b(hate|violence|discriminat)`),
}

// IsBlocked reports whether text matches any blocked pattern.
func IsBlocked(text string) bool {
	for _, p := range blockedPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
