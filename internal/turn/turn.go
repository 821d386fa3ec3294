// Package turn runs one conversational turn end to end: load the session,
// classify the message, pick the instruction, phrase the reply, save.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-recruiter/internal/flow"
	"go-recruiter/internal/intent"
	"go-recruiter/internal/knowledge"
	"go-recruiter/internal/llm"
	"go-recruiter/internal/logging"
	"go-recruiter/internal/session"
)

// Apology is the only failure text a user ever sees.
const Apology = "Maazrat, AI agent mein ek andruni ghalti hogayi hai. Thori dair baad dobara koshish karein."

// ErrInvalidInput means the request had no user id or no message.
var ErrInvalidInput = errors.New("userId and message are required")

// UserFacingError maps any turn failure to the text safe to show the user.
func UserFacingError(err error) string {
	if errors.Is(err, ErrInvalidInput) {
		return err.Error()
	}
	return Apology
}

// Classifier labels a message. Implementations must not fail.
type Classifier interface {
	Classify(ctx context.Context, message string, state session.State, history []session.Turn) intent.Intent
}

// Result is what the caller gets back for a successful turn.
type Result struct {
	Reply  string        `json:"reply"`
	State  session.State `json:"state"`
	Intent intent.Intent `json:"-"`
}

// Processor is safe for concurrent use across users. Turns for the same user
// must be serialised by the caller.
type Processor struct {
	store      session.Store
	classifier Classifier
	machine    *flow.Machine
	generator  llm.Generator
	kb         *knowledge.Base
	logger     *zap.Logger
}

func NewProcessor(store session.Store, classifier Classifier, machine *flow.Machine, generator llm.Generator, kb *knowledge.Base, logger *zap.Logger) *Processor {
	return &Processor{
		store:      store,
		classifier: classifier,
		machine:    machine,
		generator:  generator,
		kb:         kb,
		logger:     logging.OrNop(logger).Named("turn"),
	}
}

// ProcessTurn handles one inbound message. The message is kept verbatim; it
// is trimmed only to reject blank input. On error the stored session is left
// exactly as it was, so the user can retry the same step.
func (p *Processor) ProcessTurn(ctx context.Context, userID, message string) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(message) == "" {
		return Result{}, ErrInvalidInput
	}

	log := p.logger.With(zap.String("turn_id", uuid.NewString()), zap.String("user_id", userID))
	start := time.Now()

	stored, err := p.store.Load(ctx, userID)
	switch {
	case errors.Is(err, session.ErrMalformedSession):
		log.Warn("stored session is malformed, starting over", zap.Error(err))
	case err != nil:
		log.Error("failed to load session", zap.Error(err))
		return Result{}, fmt.Errorf("load session: %w", err)
	}

	sess := stored.Clone()
	in := p.classifier.Classify(ctx, message, sess.State, sess.History)
	branch := flow.Route(in, sess.State)
	log = log.With(zap.String("state", string(sess.State)), zap.String("intent", string(in)), zap.String("branch", string(branch)))

	var outcome flow.Outcome
	if branch == flow.GeneralConversation {
		outcome, err = p.machine.General(sess)
	} else {
		outcome, err = p.machine.Handle(sess, message, in)
	}
	if err != nil {
		log.Error("state handler failed", zap.Error(err))
		return Result{}, fmt.Errorf("handle %s/%s: %w", stored.State, in, err)
	}

	reply, err := p.generator.GenerateText(ctx, p.systemInstruction(outcome.Instruction), message, sess.History)
	if err != nil {
		log.Error("reply generation failed", zap.Error(err))
		return Result{}, fmt.Errorf("generate reply: %w", err)
	}

	sess.Append(session.SpeakerUser, message)
	sess.Append(session.SpeakerAgent, reply)
	if err := p.store.Save(ctx, sess); err != nil {
		log.Error("failed to save session", zap.Error(err))
		return Result{}, fmt.Errorf("save session: %w", err)
	}

	log.Info("turn completed",
		zap.String("next_state", string(sess.State)),
		zap.String("script", outcome.Script),
		zap.Duration("elapsed", time.Since(start)))
	return Result{Reply: reply, State: sess.State, Intent: in}, nil
}

// systemInstruction wraps the step instruction in the persona.
func (p *Processor) systemInstruction(instruction string) string {
	var sb strings.Builder
	sb.WriteString(p.kb.Persona())
	sb.WriteString("\n\n<INSTRUCTION>\n")
	sb.WriteString(instruction)
	sb.WriteString("\n</INSTRUCTION>")
	return sb.String()
}
