// Package flow decides how a turn is answered: which branch handles it and,
// for scripted steps, what the next state and phrasing instruction are.
package flow

import (
	"go-recruiter/internal/intent"
	"go-recruiter/internal/session"
)

// Branch is the part of the pipeline that produces the phrasing instruction.
type Branch string

const (
	BusinessLogic       Branch = "business_logic"
	GeneralConversation Branch = "general_conversation"
)

// Route picks the branch for a turn. Onboarding and gathering states always
// stay on the script so a side question cannot derail data collection; this
// check must come before the intent check.
func Route(in intent.Intent, state session.State) Branch {
	if state.IsGathering() || state.IsOnboarding() {
		return BusinessLogic
	}
	if in == intent.AskQuestion || in == intent.GeneralChat {
		return GeneralConversation
	}
	return BusinessLogic
}
