package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"

	"go-recruiter/internal/session"
)

func TestWSChatHandler_TurnPerFrame(t *testing.T) {
	r := newChatRouter(&fakeProcessor{})
	s := httptest.NewServer(r)
	defer s.Close()

	wsURL := "ws" + s.URL[4:] + "/ws/chat"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer ws.Close()

	for _, msg := range []string{"salam", "ji"} {
		if err := ws.WriteJSON(ChatRequest{UserID: "u1", Message: msg}); err != nil {
			t.Fatalf("WebSocket write failed: %v", err)
		}
		var resp ChatResponse
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("WebSocket read failed: %v", err)
		}
		if resp.Reply != "echo: "+msg || resp.State != session.OnboardingIntroduction {
			t.Errorf("unexpected response: %+v", resp)
		}
	}
}

func TestWSChatHandler_BadFrames(t *testing.T) {
	r := newChatRouter(&fakeProcessor{})
	s := httptest.NewServer(r)
	defer s.Close()

	wsURL := "ws" + s.URL[4:] + "/ws/chat"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		t.Fatalf("WebSocket write failed: %v", err)
	}
	_, resp, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("WebSocket read failed: %v", err)
	}
	if !contains(string(resp), "invalid JSON") {
		t.Errorf("expected invalid JSON error, got: %s", resp)
	}

	if err := ws.WriteJSON(ChatRequest{UserID: "u1"}); err != nil {
		t.Fatalf("WebSocket write failed: %v", err)
	}
	_, resp, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("WebSocket read failed: %v", err)
	}
	if !contains(string(resp), "required") {
		t.Errorf("expected missing field error, got: %s", resp)
	}
}
