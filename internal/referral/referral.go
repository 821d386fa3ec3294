// Package referral matches free text against the leader roster.
package referral

import (
	"strings"

	"go-recruiter/internal/knowledge"
)

// Verify returns the first leader, in roster order, whose name (any case)
// and referral token (exact case) both appear in text. It returns nil when
// nobody matches; the caller decides on a fallback.
func Verify(text string, leaders []knowledge.Leader) *knowledge.Leader {
	lower := strings.ToLower(text)
	for i := range leaders {
		l := leaders[i]
		token := l.ReferralToken()
		if l.Name == "" || token == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(l.Name)) && strings.Contains(text, token) {
			return &l
		}
	}
	return nil
}
