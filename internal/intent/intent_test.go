package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-recruiter/internal/llm"
	"go-recruiter/internal/session"
)

type stubGenerator struct {
	reply   string
	err     error
	system  string
	history []session.Turn
}

func (s *stubGenerator) GenerateText(ctx context.Context, system, user string, history []session.Turn) (string, error) {
	s.system = system
	s.history = history
	return s.reply, s.err
}

func TestNormalize(t *testing.T) {
	cases := map[string]Intent{
		"confirm":                    Confirm,
		"  Confirm.\n":               Confirm,
		`"cheaper"`:                  Cheaper,
		"BETTER!":                    Better,
		"ask_question":               AskQuestion,
		"Intent: provide_info":       ProvideInfo,
		"help\nbecause stuck":        Help,
		"reject":                     Reject,
		"general_chat":               GeneralChat,
		"maybe":                      GeneralChat,
		"":                           GeneralChat,
		"confirm reject":             GeneralChat,
		"`confirm`":                  Confirm,
		"```\nconfirm\n```":          Confirm,
		"```text\nprovide_info\n```": ProvideInfo,
		"**confirm**":                Confirm,
		"Label: confirm":             Confirm,
		"\n\nbetter":                 Better,
		"```\n```":                   GeneralChat,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw), "raw=%q", raw)
	}
}

func TestClassify_UsesBackendLabel(t *testing.T) {
	gen := &stubGenerator{reply: "Better"}
	c := NewClassifier(gen, 2, nil)

	history := []session.Turn{
		{Speaker: session.SpeakerUser, Text: "1"},
		{Speaker: session.SpeakerAgent, Text: "2"},
		{Speaker: session.SpeakerUser, Text: "3"},
	}
	got := c.Classify(context.Background(), "aur bara plan?", session.HandlingPlanFeedback, history)

	assert.Equal(t, Better, got)
	assert.Contains(t, gen.system, "handling_plan_feedback")
	for _, v := range Vocabulary {
		assert.Contains(t, gen.system, string(v))
	}
	require.Len(t, gen.history, 2)
	assert.Equal(t, "2", gen.history[0].Text)
}

func TestClassify_BackendFailureIsGeneralChat(t *testing.T) {
	gen := &stubGenerator{err: llm.ErrServiceUnavailable}
	c := NewClassifier(gen, 0, nil)

	got := c.Classify(context.Background(), "salam", session.OnboardingEntry, nil)
	assert.Equal(t, GeneralChat, got)
}

func TestClassify_UnknownLabelIsGeneralChat(t *testing.T) {
	gen := &stubGenerator{reply: "I think the user is greeting you."}
	c := NewClassifier(gen, 0, nil)

	assert.Equal(t, GeneralChat, c.Classify(context.Background(), "hi", session.OnboardingEntry, nil))
}

func TestClassify_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &stubGenerator{err: errors.Join(llm.ErrServiceUnavailable, context.Canceled)}
	c := NewClassifier(gen, 0, nil)

	assert.Equal(t, GeneralChat, c.Classify(ctx, "ok", session.ReadyForPayment, nil))
}
