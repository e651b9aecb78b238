// Package signaling implements the websocket client that carries SDP
// offer/answer exchange and ICE candidates between this module and the
// server. This module is always the answerer: it waits for the server's
// offer and produces an answer. The server's trickled candidates arrive as
// ice_candidate messages; this module's own candidates are not trickled but
// travel inside the answer SDP, since the transport completes ICE gathering
// before returning the answer.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// Config holds the signaling client's connection parameters.
type Config struct {
	ServerURL string
	SessionID string
	AuthToken string

	// AppName and Path build the signaling endpoint:
	// "${scheme}://${host}${Path}/${AppName}/signaling/". AppName defaults
	// to "webrtc" when empty; Path defaults to "" (server URL's own root).
	AppName string
	Path    string
}

const defaultAppName = "webrtc"

// frame is the wire shape of every signaling message, in either direction.
// Only the fields relevant to Type are populated.
type frame struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Message is an outgoing signaling frame.
type Message struct {
	Type      string
	SDP       string
	Candidate string
	Width     int
	Height    int
}

// AnswerMessage builds the SDP answer message sent once negotiation
// completes.
func AnswerMessage(sdp string) Message { return Message{Type: "answer", SDP: sdp} }

// ICECandidateMessage builds a trickled ICE candidate message.
func ICECandidateMessage(candidate string) Message {
	return Message{Type: "ice_candidate", Candidate: candidate}
}

// ResolutionMessage builds the current-resolution advisory message.
func ResolutionMessage(w, h int) Message {
	return Message{Type: "resolution", Width: w, Height: h}
}

// EventKind discriminates the variants of Event.
type EventKind int

const (
	EventOffer EventKind = iota
	EventICECandidate
	EventStatus
	EventError
	EventDisconnect
	EventDebug
)

// Event is the sum type the Client emits on its event channel.
type Event struct {
	Kind      EventKind
	SDP       string
	Candidate string
	Text      string
	Err       error
	Reconnect bool
}

// Client manages the signaling websocket connection, including automatic
// reconnection with exponential backoff.
type Client struct {
	config Config

	connMu sync.RWMutex
	conn   *websocket.Conn

	sendChan chan []byte
	done     chan struct{}
	events   chan Event

	runningMu sync.RWMutex
	isRunning bool
	stopOnce  sync.Once
}

// New creates a Client. Call Connect to start it.
func New(cfg Config) *Client {
	return &Client{
		config:   cfg,
		sendChan: make(chan []byte, 64),
		done:     make(chan struct{}),
		events:   make(chan Event, 64),
	}
}

// Events returns the channel the Session Orchestrator drains for this
// Client's lifetime.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect starts the reconnect loop in a background goroutine. It returns
// immediately; connection status is reported via Events.
func (c *Client) Connect(ctx context.Context) {
	c.runningMu.Lock()
	if c.isRunning {
		c.runningMu.Unlock()
		return
	}
	c.isRunning = true
	c.runningMu.Unlock()

	go c.reconnectLoop(ctx)
}

// Disconnect closes the connection and stops reconnecting. Emits
// EventDisconnect{Reconnect: false}.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		c.runningMu.Lock()
		c.isRunning = false
		c.runningMu.Unlock()

		close(c.done)

		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		c.emit(Event{Kind: EventDisconnect, Reconnect: false})
	})
}

// Send enqueues a message for delivery. Returns an error if the send queue
// is full or the client is stopped; callers should treat this the same way
// the teacher's client treats a full send channel — log and drop.
func (c *Client) Send(m Message) error {
	data, err := json.Marshal(frame{
		Type:      m.Type,
		SDP:       m.SDP,
		Candidate: m.Candidate,
		Width:     m.Width,
		Height:    m.Height,
	})
	if err != nil {
		return fmt.Errorf("signaling: marshal message: %w", err)
	}

	select {
	case c.sendChan <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("signaling: client is stopped")
	default:
		return fmt.Errorf("signaling: send queue full")
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		slog.Warn("signaling: event channel full, dropping event", "kind", ev.Kind)
	}
}

func (c *Client) buildWSURL() (string, error) {
	u, err := url.Parse(c.config.ServerURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	appName := c.config.AppName
	if appName == "" {
		appName = defaultAppName
	}
	u.Path = strings.TrimRight(c.config.Path, "/") + "/" + appName + "/signaling/"

	q := u.Query()
	q.Set("session", c.config.SessionID)
	q.Set("token", c.config.AuthToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) connect() error {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("signaling: build websocket URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("signaling: dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	c.emit(Event{Kind: EventStatus, Text: "connected"})
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	backoff := initialBackoff

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.Disconnect()
			return
		default:
		}

		if err := c.connect(); err != nil {
			c.emit(Event{Kind: EventError, Err: err})

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			select {
			case <-c.done:
				return
			case <-ctx.Done():
				c.Disconnect()
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff

		pumpDone := make(chan struct{})
		go c.writePump(pumpDone)
		c.readPump()
		close(pumpDone)

		c.runningMu.RLock()
		running := c.isRunning
		c.runningMu.RUnlock()
		if !running {
			return
		}

		c.emit(Event{Kind: EventDisconnect, Reconnect: true})
	}
}

func (c *Client) readPump() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.emit(Event{Kind: EventError, Err: err})
			}
			return
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.emit(Event{Kind: EventDebug, Text: fmt.Sprintf("signaling: failed to parse frame: %v", err)})
			continue
		}

		switch f.Type {
		case "offer":
			c.emit(Event{Kind: EventOffer, SDP: f.SDP})
		case "ice_candidate":
			c.emit(Event{Kind: EventICECandidate, Candidate: f.Candidate})
		default:
			c.emit(Event{Kind: EventDebug, Text: fmt.Sprintf("signaling: unhandled frame type %q", f.Type)})
		}
	}
}

func (c *Client) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.done:
			return

		case message := <-c.sendChan:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.emit(Event{Kind: EventError, Err: err})
				return
			}

		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
