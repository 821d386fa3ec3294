package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-recruiter/internal/session"
)

func turns(texts ...string) []session.Turn {
	out := make([]session.Turn, len(texts))
	for i, t := range texts {
		sp := session.SpeakerUser
		if i%2 == 1 {
			sp = session.SpeakerAgent
		}
		out[i] = session.Turn{Speaker: sp, Text: t}
	}
	return out
}

func TestWindow_KeepsNewestTurns(t *testing.T) {
	h := turns("a", "b", "c", "d", "e")
	got := Window(h, 2, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].Text)
	assert.Equal(t, "e", got[1].Text)
	assert.Len(t, h, 5, "window must not touch the session history")
}

func TestWindow_CharacterBudget(t *testing.T) {
	long := strings.Repeat("x", 40)
	h := turns(long, long, long)
	// contextSize 20 -> int(17)*4 = 68 chars: only one 40-char turn fits.
	got := Window(h, 0, 20)
	assert.Len(t, got, 1)
}

type fakeGenerator struct {
	calls   int32
	failFor int32
	err     error
	delay   time.Duration
}

func (f *fakeGenerator) GenerateText(ctx context.Context, system, user string, history []session.Turn) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if n <= f.failFor {
		return "", f.err
	}
	return "ok", nil
}

func TestRetrying_RecoversFromTransientFailure(t *testing.T) {
	g := &fakeGenerator{failFor: 2, err: errors.New("503")}
	r := WithRetry(g, 2, time.Second)
	r.backoff = time.Millisecond

	text, err := r.GenerateText(context.Background(), "s", "u", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), g.calls)
}

func TestRetrying_ExhaustionIsServiceUnavailable(t *testing.T) {
	g := &fakeGenerator{failFor: 100, err: errors.New("connection refused")}
	r := WithRetry(g, 2, time.Second)
	r.backoff = time.Millisecond

	_, err := r.GenerateText(context.Background(), "s", "u", nil)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(3), g.calls)
}

func TestRetrying_PerAttemptTimeout(t *testing.T) {
	g := &fakeGenerator{delay: time.Second}
	r := WithRetry(g, 1, 20*time.Millisecond)
	r.backoff = time.Millisecond

	start := time.Now()
	_, err := r.GenerateText(context.Background(), "s", "u", nil)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetrying_DoesNotRetryOpenCircuit(t *testing.T) {
	g := &fakeGenerator{failFor: 100, err: ErrCircuitOpen}
	r := WithRetry(g, 3, time.Second)

	_, err := r.GenerateText(context.Background(), "s", "u", nil)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(1), g.calls)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond, nil)
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func chatServer(t *testing.T, status int, content string, seen *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLocalGenerator_PostsChatCompletion(t *testing.T) {
	var seen map[string]interface{}
	srv := chatServer(t, http.StatusOK, "  Wa Alaikum Assalam!  ", &seen)

	m := NewManager(DefaultManagerConfig(), NewCircuitBreaker(3, time.Second, nil), nil)
	defer m.Stop()
	g := NewLocalGenerator(NewClient(m, PriorityReply, time.Second), srv.URL+"/", "gemma", WindowOptions{MaxTurns: 2})

	text, err := g.GenerateText(context.Background(), "persona", "salam", turns("one", "two", "three"))
	require.NoError(t, err)
	assert.Equal(t, "Wa Alaikum Assalam!", text)

	msgs := seen["messages"].([]interface{})
	// system + 2 windowed turns + user
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "assistant", msgs[1].(map[string]interface{})["role"])
	assert.Equal(t, "salam", msgs[3].(map[string]interface{})["content"])
	assert.Equal(t, "gemma", seen["model"])
}

func TestLocalGenerator_ServerErrorTripsBreaker(t *testing.T) {
	srv := chatServer(t, http.StatusBadGateway, "", nil)

	cb := NewCircuitBreaker(1, time.Minute, nil)
	m := NewManager(DefaultManagerConfig(), cb, nil)
	defer m.Stop()
	g := NewLocalGenerator(NewClient(m, PriorityReply, time.Second), srv.URL, "gemma", WindowOptions{})

	_, err := g.GenerateText(context.Background(), "s", "u", nil)
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	_, err = g.GenerateText(context.Background(), "s", "u", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestLocalGenerator_EmptyReply(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "   ", nil)
	m := NewManager(DefaultManagerConfig(), nil, nil)
	defer m.Stop()
	g := NewLocalGenerator(NewClient(m, PriorityClassify, time.Second), srv.URL, "gemma", WindowOptions{})

	_, err := g.GenerateText(context.Background(), "s", "u", nil)
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Eventually(t, func() bool {
		return m.GetMetrics().ClassifyProcessed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOpenAIGenerator_UsesChatCompletions(t *testing.T) {
	var seen map[string]interface{}
	srv := chatServer(t, http.StatusOK, "Aap ka naam kya hai?", &seen)

	g := NewOpenAIGenerator("sk-test", srv.URL+"/v1/", "gpt-4o-mini", WindowOptions{MaxTurns: 10})
	text, err := g.GenerateText(context.Background(), "persona", "haan", turns("salam", "Wa Alaikum Assalam"))
	require.NoError(t, err)
	assert.Equal(t, "Aap ka naam kya hai?", text)
	assert.Equal(t, "gpt-4o-mini", seen["model"])
	assert.Len(t, seen["messages"], 4)
}
