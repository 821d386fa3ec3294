// Package plan moves the offered job plan up or down the twelve levels.
package plan

import (
	"go-recruiter/internal/intent"
	"go-recruiter/internal/knowledge"
)

const (
	MinLevel = knowledge.MinPlanLevel
	MaxLevel = knowledge.MaxPlanLevel

	// StarterLevel is the first plan offered.
	StarterLevel = 3
)

// Prefix names the script that is prepended when a request hits a bound.
// The empty prefix means nothing is prepended.
type Prefix string

const (
	PrefixNone       Prefix = ""
	PrefixNoCheaper  Prefix = "plan_no_cheaper"
	PrefixMostSenior Prefix = "plan_most_senior"
)

type Result struct {
	Level  int
	Prefix Prefix
}

// Negotiate returns the plan to show after a cheaper or better request.
// Other intents leave the level where it is; confirm ends the loop and is
// handled by the caller.
func Negotiate(lastPlanShown int, in intent.Intent) Result {
	next := lastPlanShown
	switch in {
	case intent.Cheaper:
		next--
	case intent.Better:
		next++
	}

	switch {
	case next < MinLevel:
		return Result{Level: MinLevel, Prefix: PrefixNoCheaper}
	case next > MaxLevel:
		return Result{Level: MaxLevel, Prefix: PrefixMostSenior}
	}
	return Result{Level: next}
}
