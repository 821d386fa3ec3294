// Package session holds the per-user conversation record and its persistence.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is a position in the onboarding script.
type State string

const (
	OnboardingEntry             State = "onboarding_entry"
	OnboardingIntroduction      State = "onboarding_introduction"
	GatheringName               State = "gathering_name"
	GatheringAge                State = "gathering_age"
	GatheringCity               State = "gathering_city"
	GatheringDevice             State = "gathering_device"
	GatheringProfession         State = "gathering_profession"
	VerificationPaused          State = "verification_paused"
	PresentingPillar2           State = "presenting_pillar_2"
	PresentingPillar3           State = "presenting_pillar_3"
	PresentingPillar4           State = "presenting_pillar_4"
	ExplainingProfitModel       State = "explaining_profit_model"
	ProposingStarterPlan        State = "proposing_starter_plan"
	HandlingPlanFeedback        State = "handling_plan_feedback"
	ExplainingPlanBenefits      State = "explaining_plan_benefits"
	HandlingFinalObjections     State = "handling_final_objections"
	ReadyForPayment             State = "ready_for_payment"
	WaitingForWalletCreation    State = "waiting_for_wallet_creation"
	WaitingForDollarOption      State = "waiting_for_dollar_option"
	WaitingForDollarPurchase    State = "waiting_for_dollar_purchase"
	GatheringReferralInfo       State = "gathering_referral_info"
	WaitingForFinalRegistration State = "waiting_for_final_registration"
	ConversationCompleted       State = "conversation_completed"
)

// InitialState is where every new session starts.
const InitialState = OnboardingEntry

// States lists every state in script order.
var States = []State{
	OnboardingEntry,
	OnboardingIntroduction,
	GatheringName,
	GatheringAge,
	GatheringCity,
	GatheringDevice,
	GatheringProfession,
	VerificationPaused,
	PresentingPillar2,
	PresentingPillar3,
	PresentingPillar4,
	ExplainingProfitModel,
	ProposingStarterPlan,
	HandlingPlanFeedback,
	ExplainingPlanBenefits,
	HandlingFinalObjections,
	ReadyForPayment,
	WaitingForWalletCreation,
	WaitingForDollarOption,
	WaitingForDollarPurchase,
	GatheringReferralInfo,
	WaitingForFinalRegistration,
	ConversationCompleted,
}

var validStates = func() map[State]bool {
	m := make(map[State]bool, len(States))
	for _, s := range States {
		m[s] = true
	}
	return m
}()

// Valid reports whether s is a member of the state enum.
func (s State) Valid() bool {
	return validStates[s]
}

// IsGathering is true while the user is part-way through giving onboarding data.
func (s State) IsGathering() bool {
	return strings.HasPrefix(string(s), "gathering_")
}

// IsOnboarding is true for the opening states before data gathering.
func (s State) IsOnboarding() bool {
	return strings.HasPrefix(string(s), "onboarding_")
}

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Details are the fields collected from the user over the conversation.
// Zero plan levels mean "not set yet".
type Details struct {
	Name             string `json:"name,omitempty"`
	Age              string `json:"age,omitempty"`
	City             string `json:"city,omitempty"`
	DeviceExperience string `json:"deviceExperience,omitempty"`
	Profession       string `json:"profession,omitempty"`
	LastPlanShown    int    `json:"lastPlanShown,omitempty"`
	FinalPlanLevel   int    `json:"finalPlanLevel,omitempty"`
	BenefitStep      int    `json:"benefitStep,omitempty"`
	ObjectionStep    int    `json:"objectionStep,omitempty"`
}

// Session is one user's conversation. Version is store metadata used for
// optimistic concurrency and is not part of the serialized body.
type Session struct {
	UserID    string    `json:"userId"`
	State     State     `json:"state"`
	Details   Details   `json:"details"`
	History   []Turn    `json:"history"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"-"`
}

// New returns a fresh session at the initial state.
func New(userID string) *Session {
	return &Session{
		UserID:  userID,
		State:   InitialState,
		History: []Turn{},
	}
}

// Clone returns a deep copy so a turn can mutate it without touching the original.
func (s *Session) Clone() *Session {
	c := *s
	c.History = append([]Turn(nil), s.History...)
	return &c
}

// Append adds a turn to the end of the history.
func (s *Session) Append(speaker Speaker, text string) {
	s.History = append(s.History, Turn{Speaker: speaker, Text: text})
}

// Validate checks the shape invariants of a persisted session.
func (s *Session) Validate() error {
	if s.UserID == "" {
		return errors.New("empty user id")
	}
	if !s.State.Valid() {
		return fmt.Errorf("unknown state %q", s.State)
	}
	d := s.Details
	if d.LastPlanShown != 0 && (d.LastPlanShown < 1 || d.LastPlanShown > 12) {
		return fmt.Errorf("lastPlanShown %d outside [1,12]", d.LastPlanShown)
	}
	if d.FinalPlanLevel != 0 && (d.FinalPlanLevel < 1 || d.FinalPlanLevel > 12) {
		return fmt.Errorf("finalPlanLevel %d outside [1,12]", d.FinalPlanLevel)
	}
	if d.BenefitStep < 0 {
		return fmt.Errorf("negative benefitStep %d", d.BenefitStep)
	}
	if d.ObjectionStep < 0 || d.ObjectionStep > 3 {
		return fmt.Errorf("objectionStep %d outside [0,3]", d.ObjectionStep)
	}
	for i, t := range s.History {
		if t.Speaker != SpeakerUser && t.Speaker != SpeakerAgent {
			return fmt.Errorf("history[%d] has unknown speaker %q", i, t.Speaker)
		}
	}
	return nil
}
