// Package session wires the signaling, transport, settings, geometry,
// upload, and stats components into a single running session and is the
// sole consumer of every component's event channel — the Go-native
// equivalent of the distilled spec's single mutable task context.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/selkies-project/selkies-core/internal/geometry"
	"github.com/selkies-project/selkies-core/internal/logging"
	"github.com/selkies-project/selkies-core/internal/settings"
	"github.com/selkies-project/selkies-core/internal/signaling"
	"github.com/selkies-project/selkies-core/internal/stats"
	"github.com/selkies-project/selkies-core/internal/transport"
	"github.com/selkies-project/selkies-core/internal/upload"
	"github.com/selkies-project/selkies-core/internal/wire"
)

// Config configures a Session's components.
type Config struct {
	ID                 string
	ServerURL          string
	AuthToken          string
	AppName            string
	Path               string
	ForceRelay         bool
	ICEServers         []transport.ICEServer
	Store              settings.Store
	StatsInterval      time.Duration
	ResizeDebounce     time.Duration
	SettingsSchemaFile string
}

// Session orchestrates one end-to-end desktop streaming session.
type Session struct {
	id    string
	state stateBox

	transport   *transport.Manager
	signal      *signaling.Client
	geometryCtl *geometry.Controller
	statsAgg    *stats.Aggregator
	store       settings.Store
	bridge      *Bridge

	schemaMu   sync.RWMutex
	schema     settings.Schema
	schemaStop func()

	mu     sync.Mutex
	cancel context.CancelFunc

	cleanupOnce sync.Once
}

// New builds a Session and its components from cfg. Call Initialize to start it.
func New(cfg Config) *Session {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}
	if cfg.ResizeDebounce <= 0 {
		cfg.ResizeDebounce = geometry.DefaultDebounce
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	s := &Session{
		id:     cfg.ID,
		store:  cfg.Store,
		bridge: NewBridge(),
	}

	s.transport = transport.New()
	s.transport.Configure(cfg.ICEServers, cfg.ForceRelay)

	s.signal = signaling.New(signaling.Config{
		ServerURL: cfg.ServerURL,
		SessionID: cfg.ID,
		AuthToken: cfg.AuthToken,
		AppName:   cfg.AppName,
		Path:      cfg.Path,
	})

	s.geometryCtl = geometry.New(
		func(w, h int) {
			_ = s.signal.Send(signaling.ResolutionMessage(w, h))
			_ = s.transport.SendDataChannelMessage([]byte(wire.EncodeResolution(w, h)))
		},
		nil,
	)
	s.geometryCtl.SetDebounce(cfg.ResizeDebounce)

	s.statsAgg = stats.NewAggregator(s.transport, cfg.StatsInterval, func(snap stats.Snapshot) {
		payload, err := json.Marshal(snap)
		if err != nil {
			return
		}
		_ = s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpStatsVideo, Args: []string{string(payload)}})))
	})
	s.statsAgg.SetClientMetricsSink(s.transport, func(fpsInt, latencyMs int) {
		_ = s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpClientFPS, Args: []string{strconv.Itoa(fpsInt)}})))
		_ = s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpClientLatency, Args: []string{strconv.Itoa(latencyMs)}})))
	})

	sinks := logging.MultiSink{logging.SinkFunc(func(entries []logging.LogEntry) error {
		for _, entry := range entries {
			s.bridge.Publish(Outgoing{Kind: OutDebugLog, DebugLog: entry})
		}
		return nil
	})}
	if cfg.ServerURL != "" {
		sinks = append(sinks, logging.NewHTTPSink(cfg.ServerURL, cfg.ID, cfg.AuthToken, nil))
	}
	logging.InitShipper(logging.ShipperConfig{Sink: sinks, MinLevel: "warn"})

	if cfg.SettingsSchemaFile != "" {
		stop, err := settings.NewLoader(cfg.SettingsSchemaFile).Watch(func(schema settings.Schema) {
			s.schemaMu.Lock()
			s.schema = schema
			s.schemaMu.Unlock()
		})
		if err != nil {
			slog.Warn("session: settings schema not loaded, proceeding without declarative bounds", "path", cfg.SettingsSchemaFile, "error", err)
		} else {
			s.schemaStop = stop
		}
	}

	s.state.Store(StateConnecting)
	return s
}

// Bridge returns the Session's dashboard publish/subscribe port.
func (s *Session) Bridge() *Bridge { return s.bridge }

// State returns the Session's current lifecycle stage.
func (s *Session) State() State { return s.state.Load() }

// Initialize starts the signaling connection, the stats ticker, and the
// fan-in event loop. It blocks until ctx is done or Cleanup is called; no
// error escapes this method, since every fault is routed through the
// transport/signaling event streams instead.
func (s *Session) Initialize(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.signal.Connect(ctx)
	go s.statsAgg.Run(ctx)

	s.loop(ctx)
}

func (s *Session) loop(ctx context.Context) {
	signalEvents := s.signal.Events()
	transportEvents := s.transport.Events()
	incoming := s.bridge.Incoming()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-signalEvents:
			if !ok {
				signalEvents = nil
				continue
			}
			s.handleSignalingEvent(ctx, ev)

		case ev, ok := <-transportEvents:
			if !ok {
				transportEvents = nil
				continue
			}
			s.handleTransportEvent(ev)

		case in, ok := <-incoming:
			if !ok {
				return
			}
			s.handleIncoming(ctx, in)
		}
	}
}

func (s *Session) handleSignalingEvent(ctx context.Context, ev signaling.Event) {
	switch ev.Kind {
	case signaling.EventOffer:
		s.state.Store(StateOffering)
		answer, err := s.transport.Connect(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: ev.SDP})
		if err != nil {
			slog.Warn("session: failed to negotiate offer", "error", err)
			return
		}
		s.state.Store(StateAnswered)
		_ = s.signal.Send(signaling.AnswerMessage(answer.SDP))

	case signaling.EventICECandidate:
		if err := s.transport.AddICECandidate(ev.Candidate); err != nil {
			slog.Warn("session: failed to add ICE candidate", "error", err)
		}

	case signaling.EventDisconnect:
		if ev.Reconnect {
			s.state.Store(StateReconnecting)
			s.transport.Reset()
		} else {
			s.state.Store(StateDisconnected)
		}

	case signaling.EventError:
		slog.Warn("session: signaling error", "error", ev.Err)

	case signaling.EventDebug:
		slog.Debug("session: signaling debug", "text", ev.Text)
	}
}

func (s *Session) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnectionStateChange:
		if ev.State == webrtc.PeerConnectionStateConnected {
			s.state.Store(StateConnected)
		}
	case transport.EventClipboardContent:
		// Corrects the distilled spec's tautological nil check: a single,
		// non-tautological nil check on the decoded clipboard payload.
		if ev.Bytes != nil {
			s.bridge.Publish(Outgoing{Kind: OutClipboardContentUpdate, Text: string(ev.Bytes)})
		}
	case transport.EventServerSettings:
		s.reconcileSettings(ev.Settings)
	case transport.EventSystemAction:
		s.bridge.Publish(Outgoing{Kind: OutSystemAction, Text: ev.Text})
	case transport.EventCursorChange:
		s.bridge.Publish(Outgoing{Kind: OutCursorChange, Bytes: ev.Bytes})
	case transport.EventLatencyMeasurement:
		s.bridge.Publish(Outgoing{Kind: OutLatencyMeasurement, Millis: ev.Millis})
	case transport.EventError:
		slog.Warn("session: transport error", "error", ev.Err)
	case transport.EventDebug:
		slog.Debug("session: transport debug", "bytes", len(ev.Bytes))
	}
}

func (s *Session) handleIncoming(ctx context.Context, in Incoming) {
	switch in.Kind {
	case InMode:
		slog.Info("session: stream mode switch requested", "mode", in.Text)

	case InSetScaleLocally:
		if in.Bool {
			s.geometryCtl.DisableAutoResize(0, 0)
		} else {
			s.geometryCtl.EnableAutoResize()
		}

	case InResetResolutionToWindow:
		s.geometryCtl.EnableAutoResize()

	case InSetManualResolution:
		s.geometryCtl.DisableAutoResize(in.Width, in.Height)

	case InSetUseCSSScaling:
		s.geometryCtl.SetUseCSSScaling(in.Bool)

	case InClipboardUpdateFromUI:
		if err := s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpClipboardWrite, Args: []string{base64.StdEncoding.EncodeToString([]byte(in.Text))}}))); err != nil {
			slog.Debug("session: clipboard write dropped, channel not open", "error", err)
		}

	case InSettings:
		s.reconcileSettings(in.Settings)

	case InCommand:
		if err := s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpCommand, Args: []string{in.Text}}))); err != nil {
			slog.Debug("session: command dropped, channel not open", "error", err)
		}

	case InRequestFileUpload:
		s.startUpload(ctx, in.Paths)

	case InNotifyResize:
		s.geometryCtl.NotifyResize(in.Width, in.Height, in.ContainerWidth, in.ContainerHeight)

	default:
		slog.Warn("session: unknown bridge message kind", "kind", in.Kind)
	}
}

func (s *Session) reconcileSettings(server settings.Map) {
	if server == nil || s.store == nil {
		return
	}

	s.schemaMu.RLock()
	schema := s.schema
	s.schemaMu.RUnlock()
	if schema != nil {
		server = schema.ApplyDefaults(server)
	}

	delta, manual := settings.Reconcile(server, s.store)

	if manual.Enabled {
		s.geometryCtl.DisableAutoResize(manual.Width, manual.Height)
	} else {
		s.geometryCtl.EnableAutoResize()
	}

	if len(delta) > 0 {
		values := make(map[string]any, len(delta))
		for key, desc := range delta {
			values[key] = desc.Value
		}
		if payload, err := json.Marshal(values); err == nil {
			_ = s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpSettings, Args: []string{string(payload)}})))
		}
		s.bridge.Publish(Outgoing{Kind: OutServerSettings, Settings: delta})
	}
}

func (s *Session) startUpload(ctx context.Context, paths []string) {
	pipeline := upload.New(s.transport, func(ev upload.ProgressEvent) {
		s.bridge.Publish(Outgoing{Kind: OutFileUpload, FileUpload: ev})
	})
	go func() {
		if err := pipeline.UploadPaths(ctx, paths); err != nil {
			slog.Warn("session: file upload failed", "error", err)
		}
	}()
}

// OnFocus issues a keyboard reset and, if clip is non-nil, forwards it as
// a base64-encoded clipboard write — the corrected, non-tautological version of the
// distilled spec's focus-gained clipboard sync.
func (s *Session) OnFocus(clip []byte) {
	_ = s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpKeyboardReset})))
	if clip != nil {
		_ = s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpClipboardWrite, Args: []string{base64.StdEncoding.EncodeToString(clip)}})))
	}
}

// OnBlur issues a keyboard reset only.
func (s *Session) OnBlur() {
	_ = s.transport.SendDataChannelMessage([]byte(wire.Encode(wire.Message{Op: wire.OpKeyboardReset})))
}

// Cleanup unsubscribes all bridge listeners, cancels background work, and
// tears down the transport. Idempotent.
func (s *Session) Cleanup() {
	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.signal.Disconnect()
		s.transport.Shutdown()
		logging.StopShipper()
		s.bridge.unsubscribeAll()
		if s.schemaStop != nil {
			s.schemaStop()
		}
		s.state.Store(StateDisconnected)
	})
}
