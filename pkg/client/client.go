// Package client is the embeddable entrypoint to the streaming core: a thin
// wrapper over internal/session.Session that an embedding UI shell (or the
// cmd/selkies-core CLI) can drive without reaching into internal packages.
package client

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/selkies-project/selkies-core/internal/config"
	"github.com/selkies-project/selkies-core/internal/session"
	"github.com/selkies-project/selkies-core/internal/settings"
	"github.com/selkies-project/selkies-core/internal/transport"
)

// Incoming and Outgoing re-export the session package's bridge message
// types so callers never need to import internal/session directly.
type (
	Incoming     = session.Incoming
	IncomingKind = session.IncomingKind
	Outgoing     = session.Outgoing
	OutgoingKind = session.OutgoingKind
	State        = session.State
)

const (
	InMode                    = session.InMode
	InSetScaleLocally         = session.InSetScaleLocally
	InResetResolutionToWindow = session.InResetResolutionToWindow
	InSetManualResolution     = session.InSetManualResolution
	InSetUseCSSScaling        = session.InSetUseCSSScaling
	InClipboardUpdateFromUI   = session.InClipboardUpdateFromUI
	InSettings                = session.InSettings
	InCommand                 = session.InCommand
	InRequestFileUpload       = session.InRequestFileUpload
	InNotifyResize            = session.InNotifyResize

	OutClipboardContentUpdate = session.OutClipboardContentUpdate
	OutFileUpload             = session.OutFileUpload
	OutServerSettings         = session.OutServerSettings
	OutSystemAction           = session.OutSystemAction
	OutCursorChange           = session.OutCursorChange
	OutLatencyMeasurement     = session.OutLatencyMeasurement
	OutDebugLog               = session.OutDebugLog
)

// Session lifecycle stages, re-exported from internal/session.
const (
	StateConnecting   = session.StateConnecting
	StateOffering     = session.StateOffering
	StateAnswered     = session.StateAnswered
	StateConnected    = session.StateConnected
	StateDisconnected = session.StateDisconnected
	StateReconnecting = session.StateReconnecting
)

var slugPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Client is a single streaming session, exposed for embedding. A Client is
// a singleton per process in the sense the distilled spec describes a
// single browser tab: create one, Initialize it, and Cleanup it at
// shutdown.
type Client struct {
	sess *session.Session
}

// New builds a Client from application config. sessionID, if empty, falls
// back to cfg.SessionID; if that is empty too, the session generates its own
// ID and the store file is named default.json. The persisted settings store
// lives at
// <cfg.StateDir>/<slug(sessionID)>.json, namespacing one client's
// preferences from another's on shared state directories.
func New(cfg *config.Config, sessionID string) (*Client, error) {
	if sessionID == "" {
		sessionID = cfg.SessionID
	}

	var store settings.Store
	if cfg.StateDir != "" {
		slug := slugPattern.ReplaceAllString(sessionID, "_")
		if slug == "" {
			slug = "default"
		}
		fileStore, err := settings.NewFileStore(filepath.Join(cfg.StateDir, slug+".json"))
		if err != nil {
			return nil, fmt.Errorf("client: open settings store: %w", err)
		}
		store = fileStore
	} else {
		store = settings.NewMemoryStore()
	}

	var iceServers []transport.ICEServer
	if cfg.TurnURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		servers, err := transport.FetchICEServers(ctx, cfg.TurnURL)
		cancel()
		if err != nil {
			iceServers = nil // Connect falls back to the default STUN server
		} else {
			iceServers = servers
		}
	}

	sess := session.New(session.Config{
		ID:                 sessionID,
		ServerURL:          cfg.ServerURL,
		AuthToken:          cfg.AuthToken,
		AppName:            cfg.AppName,
		Path:               cfg.Path,
		ForceRelay:         cfg.ForceRelay,
		ICEServers:         iceServers,
		Store:              store,
		StatsInterval:      time.Duration(cfg.StatsIntervalSeconds) * time.Second,
		ResizeDebounce:     time.Duration(cfg.ResizeDebounceMs) * time.Millisecond,
		SettingsSchemaFile: cfg.SettingsSchemaFile,
	})

	return &Client{sess: sess}, nil
}

// Initialize starts the underlying session. Blocks until ctx is done or
// Cleanup is called from another goroutine.
func (c *Client) Initialize(ctx context.Context) {
	c.sess.Initialize(ctx)
}

// Cleanup tears the session down. Idempotent.
func (c *Client) Cleanup() {
	c.sess.Cleanup()
}

// State reports the session's current lifecycle stage.
func (c *Client) State() State {
	return c.sess.State()
}

// Subscribe registers fn to receive every Outgoing message the core
// publishes (clipboard updates, upload progress, reconciled settings). The
// returned function unsubscribes it.
func (c *Client) Subscribe(fn func(Outgoing)) (unsubscribe func()) {
	return c.sess.Bridge().Subscribe(fn)
}

// Send delivers one Incoming message from the embedding dashboard into the
// session. Non-blocking; returns false if the internal queue is saturated.
func (c *Client) Send(i Incoming) bool {
	return c.sess.Bridge().Send(i)
}

// OnFocus forwards a focus-gained notification, optionally carrying the
// current clipboard contents for synchronization.
func (c *Client) OnFocus(clipboard []byte) { c.sess.OnFocus(clipboard) }

// OnBlur forwards a focus-lost notification.
func (c *Client) OnBlur() { c.sess.OnBlur() }

// ICEServer mirrors transport.ICEServer for callers that don't otherwise
// need the transport package.
type ICEServer = transport.ICEServer
