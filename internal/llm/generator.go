package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"go-recruiter/internal/session"
)

// ErrEmptyReply means the backend answered without any text.
var ErrEmptyReply = errors.New("backend returned an empty reply")

// Generator produces text from a system instruction, the user's message and prior turns.
type Generator interface {
	GenerateText(ctx context.Context, systemInstruction, userMessage string, history []session.Turn) (string, error)
}

// WindowOptions bound how much history is sent with each call.
type WindowOptions struct {
	MaxTurns    int
	ContextSize int
}

const defaultMaxTokens = 500

// LocalGenerator talks to an OpenAI-compatible /v1/chat/completions server
// (llama.cpp, vLLM, TGI) through the queue Manager.
type LocalGenerator struct {
	client *Client
	url    string
	model  string
	window WindowOptions
}

func NewLocalGenerator(client *Client, baseURL, model string, window WindowOptions) *LocalGenerator {
	return &LocalGenerator{
		client: client,
		url:    strings.TrimRight(baseURL, "/") + "/v1/chat/completions",
		model:  model,
		window: window,
	}
}

func (g *LocalGenerator) GenerateText(ctx context.Context, systemInstruction, userMessage string, history []session.Turn) (string, error) {
	messages := []map[string]string{{"role": "system", "content": systemInstruction}}
	for _, t := range Window(history, g.window.MaxTurns, g.window.ContextSize) {
		role := "user"
		if t.Speaker == session.SpeakerAgent {
			role = "assistant"
		}
		messages = append(messages, map[string]string{"role": role, "content": t.Text})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userMessage})

	payload := map[string]interface{}{
		"model":      g.model,
		"messages":   messages,
		"max_tokens": defaultMaxTokens,
		"stream":     false,
	}

	body, err := g.client.Call(ctx, g.url, payload)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("invalid completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// OpenAIGenerator uses the OpenAI chat completions API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
	window WindowOptions
}

// NewOpenAIGenerator creates a generator; baseURL may point at any
// OpenAI-compatible gateway. SDK retries are disabled because Retrying owns them.
func NewOpenAIGenerator(apiKey, baseURL, model string, window WindowOptions) *OpenAIGenerator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		model:  model,
		window: window,
	}
}

func (g *OpenAIGenerator) GenerateText(ctx context.Context, systemInstruction, userMessage string, history []session.Turn) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemInstruction)}
	for _, t := range Window(history, g.window.MaxTurns, g.window.ContextSize) {
		if t.Speaker == session.SpeakerAgent {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(g.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(defaultMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// Window cuts history for a prompt: the last maxTurns turns, then as many of
// those as fit in 85% of contextSize tokens at roughly 4 chars per token.
// The newest turns are kept. Zero limits disable the matching cut.
func Window(history []session.Turn, maxTurns, contextSize int) []session.Turn {
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	if contextSize <= 0 {
		return append([]session.Turn(nil), history...)
	}

	maxChars := int(float64(contextSize)*0.85) * 4
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := len(history[i].Text)
		if total+n > maxChars {
			break
		}
		total += n
		start = i
	}
	return append([]session.Turn(nil), history[start:]...)
}

// Retrying applies a per-attempt timeout and a bounded number of retries to a
// Generator. Exhaustion is reported as ErrServiceUnavailable.
type Retrying struct {
	next       Generator
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
}

var ErrServiceUnavailable = errors.New("generation service unavailable")

func WithRetry(next Generator, maxRetries int, timeout time.Duration) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{next: next, maxRetries: maxRetries, timeout: timeout, backoff: 500 * time.Millisecond}
}

func (r *Retrying) GenerateText(ctx context.Context, systemInstruction, userMessage string, history []session.Turn) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, ctx.Err())
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if r.timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		text, err := r.next.GenerateText(actx, systemInstruction, userMessage, history)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, lastErr)
}
