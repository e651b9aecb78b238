package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBuildWSURLRewritesSchemeAndPath(t *testing.T) {
	c := New(Config{ServerURL: "https://example.com", SessionID: "abc-123", AuthToken: "tok"})
	u, err := c.buildWSURL()
	if err != nil {
		t.Fatalf("buildWSURL: %v", err)
	}
	if !strings.HasPrefix(u, "wss://example.com/webrtc/signaling/") {
		t.Fatalf("unexpected URL: %q", u)
	}
	if !strings.Contains(u, "token=tok") {
		t.Fatalf("expected token query param, got %q", u)
	}
	if !strings.Contains(u, "session=abc-123") {
		t.Fatalf("expected session query param, got %q", u)
	}
}

func TestBuildWSURLHonorsAppNameAndPath(t *testing.T) {
	c := New(Config{ServerURL: "http://example.com", SessionID: "abc-123", AppName: "myapp", Path: "/base/"})
	u, err := c.buildWSURL()
	if err != nil {
		t.Fatalf("buildWSURL: %v", err)
	}
	if !strings.HasPrefix(u, "ws://example.com/base/myapp/signaling/") {
		t.Fatalf("unexpected URL: %q", u)
	}
}

func TestMessageConstructors(t *testing.T) {
	if m := AnswerMessage("v=0"); m.Type != "answer" || m.SDP != "v=0" {
		t.Fatalf("unexpected answer message: %+v", m)
	}
	if m := ICECandidateMessage("candidate:1"); m.Type != "ice_candidate" || m.Candidate != "candidate:1" {
		t.Fatalf("unexpected ICE candidate message: %+v", m)
	}
	if m := ResolutionMessage(1920, 1080); m.Type != "resolution" || m.Width != 1920 || m.Height != 1080 {
		t.Fatalf("unexpected resolution message: %+v", m)
	}
}

func TestSendAfterDisconnectFails(t *testing.T) {
	c := New(Config{ServerURL: "http://example.com", SessionID: "s1"})
	c.Disconnect()
	if err := c.Send(AnswerMessage("v=0")); err == nil {
		t.Fatal("expected Send to fail after Disconnect")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := New(Config{ServerURL: "http://example.com", SessionID: "s1"})
	c.Disconnect()
	c.Disconnect()
}

// TestConnectReceivesOfferAndSendsAnswer exercises the client against a real
// websocket server, verifying the offer/answer frame round trip and the
// "connected" status event.
func TestConnectReceivesOfferAndSendsAnswer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	answerReceived := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]string{"type": "offer", "sdp": "v=0 offer"}); err != nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f map[string]any
		_ = json.Unmarshal(msg, &f)
		if sdp, ok := f["sdp"].(string); ok {
			answerReceived <- sdp
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(Config{ServerURL: wsURL, SessionID: "s1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Connect(ctx)
	defer c.Disconnect()

	var gotOffer string
	timeout := time.After(3 * time.Second)
loop:
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == EventOffer {
				gotOffer = ev.SDP
				break loop
			}
		case <-timeout:
			t.Fatal("timed out waiting for offer event")
		}
	}
	if gotOffer != "v=0 offer" {
		t.Fatalf("expected offer sdp %q, got %q", "v=0 offer", gotOffer)
	}

	if err := c.Send(AnswerMessage("v=0 answer")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case sdp := <-answerReceived:
		if sdp != "v=0 answer" {
			t.Fatalf("expected server to receive answer sdp %q, got %q", "v=0 answer", sdp)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for server to receive answer")
	}
}
