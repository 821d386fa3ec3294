package flow

import (
	"strconv"
	"strings"

	"go-recruiter/internal/intent"
	"go-recruiter/internal/knowledge"
	"go-recruiter/internal/plan"
	"go-recruiter/internal/referral"
	"go-recruiter/internal/session"
)

// advance is a transition that only emits a script.
func advance(next session.State, script string) Handler {
	return func(*Machine, *session.Session, string) (Step, error) {
		return Step{Next: next, Script: script}, nil
	}
}

// gather stores the raw message verbatim into one details field and asks the next question.
func gather(next session.State, script string, set func(*session.Details, string)) Handler {
	return func(_ *Machine, sess *session.Session, message string) (Step, error) {
		set(&sess.Details, message)
		return Step{Next: next, Script: script}, nil
	}
}

func registerTransitions(m *Machine) {
	m.register(session.OnboardingEntry, anyIntent, entry)
	m.register(session.OnboardingIntroduction, intent.Confirm, advance(session.GatheringName, "ask_name"))

	m.register(session.GatheringName, intent.ProvideInfo,
		gather(session.GatheringAge, "ask_age", func(d *session.Details, v string) { d.Name = v }))
	m.register(session.GatheringAge, intent.ProvideInfo,
		gather(session.GatheringCity, "ask_city", func(d *session.Details, v string) { d.Age = v }))
	m.register(session.GatheringCity, intent.ProvideInfo,
		gather(session.GatheringDevice, "ask_device", func(d *session.Details, v string) { d.City = v }))
	m.register(session.GatheringDevice, intent.ProvideInfo,
		gather(session.GatheringProfession, "ask_profession", func(d *session.Details, v string) { d.DeviceExperience = v }))
	m.register(session.GatheringProfession, intent.ProvideInfo,
		gather(session.VerificationPaused, "verification_summary", func(d *session.Details, v string) { d.Profession = v }))

	m.register(session.VerificationPaused, intent.Confirm, advance(session.PresentingPillar2, "pillar_1"))
	m.register(session.PresentingPillar2, intent.Confirm, advance(session.PresentingPillar3, "pillar_2"))
	m.register(session.PresentingPillar3, intent.Confirm, advance(session.PresentingPillar4, "pillar_3"))
	m.register(session.PresentingPillar4, intent.Confirm, advance(session.ExplainingProfitModel, "pillar_4"))
	m.register(session.ExplainingProfitModel, intent.Confirm, advance(session.ProposingStarterPlan, "profit_model"))

	m.register(session.ProposingStarterPlan, intent.Confirm, offerStarter)
	m.register(session.HandlingPlanFeedback, intent.Cheaper, negotiate(intent.Cheaper))
	m.register(session.HandlingPlanFeedback, intent.Better, negotiate(intent.Better))
	m.register(session.HandlingPlanFeedback, intent.Confirm, confirmPlan)
	m.register(session.ExplainingPlanBenefits, intent.Confirm, nextBenefit)
	m.register(session.HandlingFinalObjections, intent.Confirm, nextObjection)

	m.register(session.ReadyForPayment, intent.Confirm, advance(session.WaitingForWalletCreation, "wallet_creation"))
	m.register(session.WaitingForWalletCreation, intent.Confirm, advance(session.WaitingForDollarOption, "dollar_options"))
	m.register(session.WaitingForDollarOption, intent.Confirm, dollarPurchase)
	m.register(session.WaitingForDollarOption, intent.ProvideInfo, dollarPurchase)
	m.register(session.WaitingForDollarPurchase, intent.Confirm, advance(session.GatheringReferralInfo, "ask_referral"))
	m.register(session.GatheringReferralInfo, intent.ProvideInfo, verifyReferral)
	m.register(session.WaitingForFinalRegistration, intent.Confirm,
		advance(session.ConversationCompleted, "registration_complete"))
}

func entry(m *Machine, _ *session.Session, message string) (Step, error) {
	script := "entry_default"
	lower := strings.ToLower(message)
	for _, marker := range m.kb.GreetingMarkers() {
		if marker != "" && strings.Contains(lower, marker) {
			script = "entry_islamic_greeting"
			break
		}
	}
	return Step{Next: session.OnboardingIntroduction, Script: script}, nil
}

func offerStarter(m *Machine, sess *session.Session, _ string) (Step, error) {
	p, err := m.kb.Plan(plan.StarterLevel)
	if err != nil {
		return Step{}, err
	}
	sess.Details.LastPlanShown = p.Level
	return Step{Next: session.HandlingPlanFeedback, Script: "plan_offer", Bindings: knowledge.PlanBindings(p)}, nil
}

func negotiate(in intent.Intent) Handler {
	return func(m *Machine, sess *session.Session, _ string) (Step, error) {
		last := sess.Details.LastPlanShown
		if last == 0 {
			last = plan.StarterLevel
		}
		r := plan.Negotiate(last, in)
		p, err := m.kb.Plan(r.Level)
		if err != nil {
			return Step{}, err
		}
		sess.Details.LastPlanShown = p.Level
		return Step{
			Next:     session.HandlingPlanFeedback,
			Script:   "plan_offer",
			Bindings: knowledge.PlanBindings(p),
			Prefix:   r.Prefix,
		}, nil
	}
}

func confirmPlan(m *Machine, sess *session.Session, _ string) (Step, error) {
	p, err := m.kb.Plan(sess.Details.LastPlanShown)
	if err != nil {
		return Step{}, err
	}
	sess.Details.FinalPlanLevel = p.Level
	sess.Details.BenefitStep = 0
	return Step{Next: session.ExplainingPlanBenefits, Script: "plan_confirmed", Bindings: knowledge.PlanBindings(p)}, nil
}

func nextBenefit(m *Machine, sess *session.Session, _ string) (Step, error) {
	p, err := m.kb.Plan(sess.Details.FinalPlanLevel)
	if err != nil {
		return Step{}, err
	}
	benefits, err := m.kb.Benefits(p.Level)
	if err != nil {
		return Step{}, err
	}

	step := sess.Details.BenefitStep
	if step < len(benefits) {
		b := knowledge.PlanBindings(p)
		b["benefit"] = benefits[step]
		sess.Details.BenefitStep = step + 1
		return Step{Next: session.ExplainingPlanBenefits, Script: "plan_benefit", Bindings: b}, nil
	}

	sess.Details.ObjectionStep = 1
	return Step{Next: session.HandlingFinalObjections, Script: "objection_1"}, nil
}

func nextObjection(m *Machine, sess *session.Session, _ string) (Step, error) {
	step := sess.Details.ObjectionStep
	if step < 3 {
		// A zero step means objection_1 has not been shown yet.
		step++
		sess.Details.ObjectionStep = step
		return Step{Next: session.HandlingFinalObjections, Script: "objection_" + strconv.Itoa(step)}, nil
	}

	p, err := m.kb.Plan(sess.Details.FinalPlanLevel)
	if err != nil {
		return Step{}, err
	}
	return Step{Next: session.ReadyForPayment, Script: "payment_ready", Bindings: knowledge.PlanBindings(p)}, nil
}

func dollarPurchase(m *Machine, sess *session.Session, _ string) (Step, error) {
	p, err := m.kb.Plan(sess.Details.FinalPlanLevel)
	if err != nil {
		return Step{}, err
	}
	return Step{Next: session.WaitingForDollarPurchase, Script: "dollar_purchase", Bindings: knowledge.PlanBindings(p)}, nil
}

func verifyReferral(m *Machine, _ *session.Session, message string) (Step, error) {
	script := "referral_success"
	leader := referral.Verify(message, m.kb.Leaders())
	if leader == nil {
		fallback, err := m.kb.DefaultLeader()
		if err != nil {
			return Step{}, err
		}
		leader = &fallback
		script = "referral_fallback"
	}
	return Step{
		Next:   session.WaitingForFinalRegistration,
		Script: script,
		Bindings: map[string]string{
			"leader_name":  leader.Name,
			"leader_story": strings.TrimSpace(leader.MotivationStory),
			"leader_link":  leader.ReferralLink,
		},
	}, nil
}
