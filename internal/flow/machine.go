package flow

import (
	"errors"
	"fmt"
	"strings"

	"go-recruiter/internal/intent"
	"go-recruiter/internal/knowledge"
	"go-recruiter/internal/plan"
	"go-recruiter/internal/session"
)

const (
	scriptHelp    = "help"
	scriptGeneral = "general_conversation"
	resumePrefix  = "resume_"
	resumeDefault = "resume_default"
)

// Step is what a handler decides: the next state, the script to phrase and
// its placeholder values. Prefix, when set, is rendered in front of Script.
type Step struct {
	Next     session.State
	Script   string
	Bindings map[string]string
	Prefix   plan.Prefix
}

// Handler runs one transition. It may update sess.Details; the machine sets
// sess.State from the returned Step once every script has rendered.
type Handler func(m *Machine, sess *session.Session, message string) (Step, error)

type key struct {
	state  session.State
	intent intent.Intent
}

// anyIntent registers a handler for every intent of a state.
const anyIntent intent.Intent = "*"

// Outcome is the result of handling a turn.
type Outcome struct {
	Instruction string
	Next        session.State
	Script      string
	Prefix      plan.Prefix
	// Handled is false when no transition matched and the turn fell back to
	// general conversation.
	Handled bool
}

// Machine is the onboarding script as an explicit (state, intent) table.
// It holds no per-user data and is safe for concurrent use.
type Machine struct {
	kb          *knowledge.Base
	transitions map[key]Handler
}

// NewMachine builds the machine over an immutable knowledge base. It does not
// check that every script exists; call Check for that.
func NewMachine(kb *knowledge.Base) *Machine {
	m := &Machine{kb: kb, transitions: make(map[key]Handler)}
	registerTransitions(m)
	return m
}

func (m *Machine) register(state session.State, in intent.Intent, h Handler) {
	k := key{state: state, intent: in}
	if _, exists := m.transitions[k]; exists {
		panic(fmt.Sprintf("flow: transition already registered: %s/%s", state, in))
	}
	m.transitions[k] = h
}

func (m *Machine) lookup(state session.State, in intent.Intent) (Handler, bool) {
	if h, ok := m.transitions[key{state: state, intent: in}]; ok {
		return h, true
	}
	h, ok := m.transitions[key{state: state, intent: anyIntent}]
	return h, ok
}

// Defined reports whether (state, intent) has a scripted transition. Help is
// defined everywhere.
func (m *Machine) Defined(state session.State, in intent.Intent) bool {
	if in == intent.Help {
		return true
	}
	_, ok := m.lookup(state, in)
	return ok
}

// Handle runs the business-logic branch on sess, which the caller owns for
// the turn. Unmatched pairs produce the general conversation instruction and
// leave the state alone. Knowledge lookup failures are returned as errors.
func (m *Machine) Handle(sess *session.Session, message string, in intent.Intent) (Outcome, error) {
	if in == intent.Help {
		hint, err := m.resume(sess)
		if err != nil {
			return Outcome{}, err
		}
		text, err := m.render(scriptHelp, m.bindings(sess, map[string]string{"resume": hint}))
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Instruction: text, Next: sess.State, Script: scriptHelp, Handled: true}, nil
	}

	h, ok := m.lookup(sess.State, in)
	if !ok {
		return m.General(sess)
	}

	step, err := h(m, sess, message)
	if err != nil {
		return Outcome{}, err
	}

	text, err := m.render(step.Script, m.bindings(sess, step.Bindings))
	if err != nil {
		return Outcome{}, err
	}
	if step.Prefix != plan.PrefixNone {
		prefix, err := m.render(string(step.Prefix), m.bindings(sess, nil))
		if err != nil {
			return Outcome{}, err
		}
		text = strings.TrimSpace(prefix) + "\n" + text
	}

	sess.State = step.Next
	return Outcome{
		Instruction: text,
		Next:        step.Next,
		Script:      step.Script,
		Prefix:      step.Prefix,
		Handled:     true,
	}, nil
}

// General builds the general conversation instruction: answer the user, then
// steer back to the step pending in the current state.
func (m *Machine) General(sess *session.Session) (Outcome, error) {
	hint, err := m.resume(sess)
	if err != nil {
		return Outcome{}, err
	}
	text, err := m.render(scriptGeneral, m.bindings(sess, map[string]string{"resume": hint}))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Instruction: text, Next: sess.State, Script: scriptGeneral}, nil
}

// resume renders the hint for the step pending in the session's state,
// falling back to resume_default.
func (m *Machine) resume(sess *session.Session) (string, error) {
	k := resumePrefix + string(sess.State)
	if !m.kb.Has(k) {
		k = resumeDefault
	}
	return m.render(k, m.bindings(sess, nil))
}

func (m *Machine) render(script string, bindings map[string]string) (string, error) {
	text, err := m.kb.Script(script, bindings)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", script, err)
	}
	return strings.TrimSpace(text), nil
}

// bindings merges the user's details with step specific values.
func (m *Machine) bindings(sess *session.Session, extra map[string]string) map[string]string {
	d := sess.Details
	name := d.Name
	if name == "" {
		name = "the user"
	}
	b := map[string]string{
		"name":              name,
		"age":               d.Age,
		"city":              d.City,
		"device_experience": d.DeviceExperience,
		"profession":        d.Profession,
	}
	for k, v := range extra {
		b[k] = v
	}
	return b
}

// ScriptKeys lists every script the machine can ask for.
func ScriptKeys() []string {
	return []string{
		"entry_islamic_greeting", "entry_default",
		"ask_name", "ask_age", "ask_city", "ask_device", "ask_profession",
		"verification_summary",
		"pillar_1", "pillar_2", "pillar_3", "pillar_4", "profit_model",
		"plan_offer", string(plan.PrefixNoCheaper), string(plan.PrefixMostSenior),
		"plan_confirmed", "plan_benefit",
		"objection_1", "objection_2", "objection_3",
		"payment_ready", "wallet_creation", "dollar_options", "dollar_purchase",
		"ask_referral", "referral_success", "referral_fallback",
		"registration_complete",
		scriptHelp, scriptGeneral, resumeDefault,
	}
}

// Check verifies the knowledge base has everything the machine needs. It is
// meant to run once at startup so a broken document fails fast.
func (m *Machine) Check() error {
	var errs []error
	for _, k := range ScriptKeys() {
		if !m.kb.Has(k) {
			errs = append(errs, fmt.Errorf("%w: %q", knowledge.ErrScriptMissing, k))
		}
	}
	for _, p := range m.kb.Plans() {
		if _, err := m.kb.Benefits(p.Level); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := m.kb.DefaultLeader(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
