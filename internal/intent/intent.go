// Package intent classifies a user message into a closed vocabulary of labels.
package intent

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"go-recruiter/internal/llm"
	"go-recruiter/internal/logging"
	"go-recruiter/internal/session"
)

// Intent is the communicative purpose of one user message.
type Intent string

const (
	Confirm     Intent = "confirm"
	Reject      Intent = "reject"
	Cheaper     Intent = "cheaper"
	Better      Intent = "better"
	AskQuestion Intent = "ask_question"
	ProvideInfo Intent = "provide_info"
	Help        Intent = "help"
	GeneralChat Intent = "general_chat"
)

// Vocabulary is every label the classifier may return.
var Vocabulary = []Intent{Confirm, Reject, Cheaper, Better, AskQuestion, ProvideInfo, Help, GeneralChat}

func (i Intent) Valid() bool {
	for _, v := range Vocabulary {
		if i == v {
			return true
		}
	}
	return false
}

// Normalize turns a raw backend answer into a label. The first line with
// content is considered; code fences and blank lines are skipped. The line
// is lower-cased and stripped of surrounding punctuation, quotes and
// backticks. Anything outside the vocabulary becomes GeneralChat.
func Normalize(raw string) Intent {
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		label := cleanLabel(line)
		if label == "" {
			continue
		}
		if in := Intent(label); in.Valid() {
			return in
		}
		return GeneralChat
	}
	return GeneralChat
}

var labelPrefixes = []string{"intent:", "label:"}

func cleanLabel(line string) string {
	trim := func(s string) string {
		return strings.TrimFunc(s, func(r rune) bool {
			return unicode.IsSpace(r) || ((unicode.IsPunct(r) || unicode.IsSymbol(r)) && r != '_')
		})
	}
	line = trim(strings.ToLower(line))
	for _, p := range labelPrefixes {
		if strings.HasPrefix(line, p) {
			line = trim(strings.TrimPrefix(line, p))
			break
		}
	}
	return line
}

// Classifier asks a generation backend for a label.
type Classifier struct {
	gen          llm.Generator
	historyTurns int
	logger       *zap.Logger
}

// NewClassifier builds a classifier that sends at most historyTurns recent
// turns for context.
func NewClassifier(gen llm.Generator, historyTurns int, logger *zap.Logger) *Classifier {
	return &Classifier{
		gen:          gen,
		historyTurns: historyTurns,
		logger:       logging.OrNop(logger).Named("intent"),
	}
}

// Classify never fails: backend errors and unknown labels resolve to GeneralChat.
func (c *Classifier) Classify(ctx context.Context, message string, state session.State, history []session.Turn) Intent {
	if c.historyTurns > 0 && len(history) > c.historyTurns {
		history = history[len(history)-c.historyTurns:]
	}

	raw, err := c.gen.GenerateText(ctx, instruction(state), message, history)
	if err != nil {
		c.logger.Warn("classification failed, using general_chat",
			zap.String("state", string(state)), zap.Error(err))
		return GeneralChat
	}

	in := Normalize(raw)
	if in == GeneralChat && !strings.Contains(strings.ToLower(raw), string(GeneralChat)) {
		c.logger.Debug("label outside vocabulary", zap.String("raw", raw))
	}
	return in
}

func instruction(state session.State) string {
	labels := make([]string, len(Vocabulary))
	for i, v := range Vocabulary {
		labels[i] = string(v)
	}
	return fmt.Sprintf(`You classify messages in a Roman-Urdu recruitment chat.
The conversation is currently at step "%s".

Reply with exactly one of these labels and nothing else:
%s

confirm: agrees or wants to continue (haan, ji, ok, theek hai, aage batayein)
reject: declines or refuses
cheaper: asks for a smaller or less expensive plan
better: asks for a bigger or more senior plan
ask_question: asks about the business, plans or payments
provide_info: answers a question with personal details (name, age, city, work, referral)
help: says they are stuck or asks what to do
general_chat: anything else`, state, strings.Join(labels, "\n"))
}
