// Package transport manages the WebRTC peer connection carrying the desktop
// video/audio media and the primary/auxiliary data channels.
//
// Unlike the capture-side session this package is grounded on, the Manager
// here is an answerer: it receives remote video/audio tracks instead of
// adding local ones, and receives the primary "input" data channel from the
// peer instead of creating it.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/selkies-project/selkies-core/internal/settings"
	"github.com/selkies-project/selkies-core/internal/wire"
)

const (
	iceGatherTimeout = 20 * time.Second

	// stateHistoryDepth bounds the connection-state ring buffer kept for
	// diagnostics (see ConnectionStateHistory).
	stateHistoryDepth = 16
)

// ErrChannelNotOpen is returned by the send methods when the target data
// channel has not yet reached the open state. Callers in this module treat
// it as non-fatal: log a warning and drop the message, rather than
// surfacing an error to the end user.
var ErrChannelNotOpen = errors.New("transport: data channel not open")

// ICEServer mirrors the subset of the signaling payload's ICE server shape
// this module understands; URLs may arrive as a single string or a list.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// EventKind discriminates the variants of Event.
type EventKind int

const (
	EventDataChannelOpen EventKind = iota
	EventDataChannelClose
	EventConnectionStateChange
	EventPlayStreamRequired
	EventClipboardContent
	EventCursorChange
	EventSystemAction
	EventGPUStats
	EventSystemStats
	EventLatencyMeasurement
	EventServerSettings
	EventStatus
	EventError
	EventDebug
)

// Event is the sum type the Manager emits on its event channel. Only the
// field(s) relevant to Kind are populated.
type Event struct {
	Kind     EventKind
	State    webrtc.PeerConnectionState
	Text     string
	Bytes    []byte
	Millis   int
	Settings settings.Map
	Err      error
}

// Manager owns a single WebRTC peer connection and its data channels.
// It is not safe to Connect a Manager twice concurrently; call Reset
// between sessions.
type Manager struct {
	mu         sync.RWMutex
	pc         *webrtc.PeerConnection
	iceServers []ICEServer
	forceRelay bool

	primaryDC *webrtc.DataChannel
	auxDC     *webrtc.DataChannel

	highWaterMark int
	lowWaterMark  int
	auxDrainCh    chan struct{}

	events chan Event
	done   chan struct{}

	playStreamSent atomic.Bool
	stopOnce       sync.Once

	stateHistoryMu sync.Mutex
	stateHistory   []webrtc.PeerConnectionState

	pliCount atomic.Uint64
	firCount atomic.Uint64

	packetsReceived atomic.Uint64
	framesReceived  atomic.Uint64
}

// New creates a Manager with the spec's default aux channel water marks.
// Callers may adjust them via SetWaterMarks before Connect.
func New() *Manager {
	return &Manager{
		highWaterMark: 1 << 20,
		lowWaterMark:  256 << 10,
		events:        make(chan Event, 64),
	}
}

// Events returns the channel the Session Orchestrator drains for this
// Manager's lifetime. The channel is closed by Shutdown.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// SetWaterMarks overrides the aux channel back-pressure thresholds.
func (m *Manager) SetWaterMarks(high, low int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.highWaterMark = high
	m.lowWaterMark = low
}

// Configure records the ICE server list and relay policy to use on the next
// Connect. Must be called before Connect.
func (m *Manager) Configure(iceServers []ICEServer, forceRelay bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iceServers = iceServers
	m.forceRelay = forceRelay
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		slog.Warn("transport: event channel full, dropping event", "kind", ev.Kind)
	}
}

func toPionICEServers(servers []ICEServer) []webrtc.ICEServer {
	if len(servers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, ice)
	}
	if len(out) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return out
}

// Connect negotiates a peer connection against the given offer and returns
// the generated answer. Data channels and media tracks attach asynchronously
// as the peer connection reaches the connected state; their readiness is
// reported through Events.
func (m *Manager) Connect(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	iceServers := m.iceServers
	forceRelay := m.forceRelay
	m.mu.Unlock()

	transportPolicy := webrtc.ICETransportPolicyAll
	if forceRelay {
		transportPolicy = webrtc.ICETransportPolicyRelay
	}

	config := webrtc.Configuration{
		ICEServers:         toPionICEServers(iceServers),
		ICETransportPolicy: transportPolicy,
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("transport: register default codecs: %w", err)
	}
	const playoutDelayURI = "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
	if err := mediaEngine.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: playoutDelayURI},
		webrtc.RTPCodecTypeVideo,
	); err != nil {
		slog.Warn("transport: failed to register playout-delay extension (non-fatal)", "error", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("transport: new peer connection: %w", err)
	}

	m.mu.Lock()
	m.pc = pc
	m.done = make(chan struct{})
	m.mu.Unlock()

	pc.OnTrack(m.handleTrack)
	pc.OnDataChannel(m.handleDataChannel)
	pc.OnConnectionStateChange(m.handleConnectionStateChange)

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("transport: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("transport: create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("transport: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		_ = pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("transport: ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		_ = pc.Close()
		return webrtc.SessionDescription{}, ctx.Err()
	}

	ld := pc.LocalDescription()
	if ld == nil {
		_ = pc.Close()
		return webrtc.SessionDescription{}, errors.New("transport: local description not available")
	}
	return *ld, nil
}

func (m *Manager) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	slog.Info("transport: remote track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)

	go m.drainRTCP(receiver)

	if !m.playStreamSent.Swap(true) {
		m.emit(Event{Kind: EventPlayStreamRequired})
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		// Minimum-latency jitter-buffer-target enforcement is a browser
		// RTCRtpReceiver capability (playoutDelayHint/jitterBufferTarget);
		// pion/webrtc/v4 hands RTP packets straight to ReadRTP with no
		// receiver-side jitter buffer to target, so there is nothing on this
		// side of the connection to reset. See DESIGN.md.
		slog.Debug("transport: minimum-latency jitter-buffer reset not applicable to this receiver")
	}

	go func() {
		var packet *rtp.Packet
		for {
			var err error
			packet, _, err = track.ReadRTP()
			if err != nil {
				return
			}
			if track.Kind() == webrtc.RTPCodecTypeVideo {
				m.packetsReceived.Add(1)
				if packet.Marker {
					m.framesReceived.Add(1)
				}
			}
		}
	}()
}

// PacketCounts returns the cumulative number of RTP packets and
// marker-bit-delimited frames observed on the video receiver.
func (m *Manager) PacketCounts() (packets, frames uint64) {
	return m.packetsReceived.Load(), m.framesReceived.Load()
}

// drainRTCP reads the receiver's RTCP stream so sender reports and loss
// reports don't block on an unread buffer, mirroring the teacher's sender
// RTCP drain goroutine. Unlike the teacher, this side never owns the
// encoder, so a PictureLossIndication/FullIntraRequest arriving here is an
// incoming signal from the server's encoder rather than something to act
// on; it is counted for diagnostics instead of silently dropped.
func (m *Manager) drainRTCP(receiver *webrtc.RTPReceiver) {
	buf := make([]byte, 1500)
	for {
		n, _, err := receiver.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication:
				m.pliCount.Add(1)
			case *rtcp.FullIntraRequest:
				m.firCount.Add(1)
			}
		}
	}
}

// KeyframeRequestCounts returns the cumulative count of incoming
// PictureLossIndication and FullIntraRequest RTCP packets observed on the
// video receiver.
func (m *Manager) KeyframeRequestCounts() (pli, fir uint64) {
	return m.pliCount.Load(), m.firCount.Load()
}

func (m *Manager) handleDataChannel(dc *webrtc.DataChannel) {
	switch dc.Label() {
	case "input":
		m.mu.Lock()
		m.primaryDC = dc
		m.mu.Unlock()
		dc.OnOpen(func() {
			m.emit(Event{Kind: EventDataChannelOpen, Text: "input"})
		})
		dc.OnClose(func() {
			m.emit(Event{Kind: EventDataChannelClose, Text: "input"})
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if !msg.IsString {
				m.emit(Event{Kind: EventCursorChange, Bytes: msg.Data})
				return
			}
			m.emit(m.decodeInputMessage(msg.Data))
		})
	default:
		slog.Warn("transport: unexpected data channel from peer, ignoring", "label", dc.Label())
	}
}

// decodeInputMessage decodes one text frame off the primary channel into its
// typed Event, dispatching by wire.Op. A frame this module doesn't
// recognize (or can't decode) degrades to EventDebug rather than being
// dropped silently.
func (m *Manager) decodeInputMessage(data []byte) Event {
	msg, err := wire.Decode(string(data))
	if err != nil {
		slog.Debug("transport: failed to decode input frame", "error", err)
		return Event{Kind: EventDebug, Bytes: data}
	}

	switch msg.Op {
	case wire.OpClipboardWrite:
		if len(msg.Args) == 0 {
			return Event{Kind: EventClipboardContent, Bytes: nil}
		}
		decoded, err := base64.StdEncoding.DecodeString(msg.Args[0])
		if err != nil {
			slog.Warn("transport: malformed clipboard payload", "error", err)
			return Event{Kind: EventError, Err: fmt.Errorf("transport: decode clipboard payload: %w", err)}
		}
		return Event{Kind: EventClipboardContent, Bytes: decoded}

	case wire.OpSystemAction:
		return Event{Kind: EventSystemAction, Text: strings.Join(msg.Args, ",")}

	case wire.OpServerSettings:
		var serverSettings settings.Map
		if err := json.Unmarshal([]byte(strings.Join(msg.Args, ",")), &serverSettings); err != nil {
			slog.Warn("transport: malformed server_settings payload", "error", err)
			return Event{Kind: EventError, Err: fmt.Errorf("transport: decode server_settings: %w", err)}
		}
		return Event{Kind: EventServerSettings, Settings: serverSettings}

	case wire.OpLatency:
		millis, err := strconv.Atoi(strings.Join(msg.Args, ","))
		if err != nil {
			slog.Warn("transport: malformed latency payload", "error", err)
			return Event{Kind: EventError, Err: fmt.Errorf("transport: decode latency: %w", err)}
		}
		return Event{Kind: EventLatencyMeasurement, Millis: millis}

	default:
		slog.Debug("transport: unhandled input op", "op", msg.Op)
		return Event{Kind: EventDebug, Bytes: data}
	}
}

func (m *Manager) handleConnectionStateChange(state webrtc.PeerConnectionState) {
	m.recordStateTransition(state)
	m.emit(Event{Kind: EventConnectionStateChange, State: state})
	if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
		m.Reset()
	}
}

func (m *Manager) recordStateTransition(state webrtc.PeerConnectionState) {
	m.stateHistoryMu.Lock()
	defer m.stateHistoryMu.Unlock()
	m.stateHistory = append(m.stateHistory, state)
	if len(m.stateHistory) > stateHistoryDepth {
		m.stateHistory = m.stateHistory[len(m.stateHistory)-stateHistoryDepth:]
	}
}

// ConnectionStateHistory returns the last stateHistoryDepth connection
// state transitions observed, oldest first, for diagnostics.
func (m *Manager) ConnectionStateHistory() []webrtc.PeerConnectionState {
	m.stateHistoryMu.Lock()
	defer m.stateHistoryMu.Unlock()
	out := make([]webrtc.PeerConnectionState, len(m.stateHistory))
	copy(out, m.stateHistory)
	return out
}

// Reset tears down the current peer connection and its channels, leaving
// the Manager ready for a subsequent Connect (e.g. after a reconnect).
// Safe to call multiple times; calls beyond the first no-op until another
// Connect establishes a new generation to tear down.
func (m *Manager) Reset() {
	m.mu.Lock()
	pc := m.pc
	done := m.done
	m.pc = nil
	m.done = nil
	m.primaryDC = nil
	m.auxDC = nil
	m.auxDrainCh = nil
	m.mu.Unlock()

	m.playStreamSent.Store(false)

	if done != nil {
		close(done)
	}
	if pc != nil {
		_ = pc.Close()
	}
}

// Shutdown tears down the peer connection and permanently closes the event
// channel. Call once, at session Cleanup; a Manager is not usable again
// after Shutdown.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.Reset()
		close(m.events)
	})
}

// SendDataChannelMessage sends on the primary channel. Returns
// ErrChannelNotOpen (not a fatal error) when the channel is unavailable.
func (m *Manager) SendDataChannelMessage(data []byte) error {
	m.mu.RLock()
	dc := m.primaryDC
	m.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

// CreateAuxDataChannel allocates the on-demand auxiliary channel used for
// file transfer chunks and other bulk, non-latency-sensitive payloads.
// Returns false if one already exists.
func (m *Manager) CreateAuxDataChannel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auxDC != nil {
		return false
	}
	if m.pc == nil {
		return false
	}
	dc, err := m.pc.CreateDataChannel("aux", nil)
	if err != nil {
		slog.Warn("transport: failed to create aux data channel", "error", err)
		return false
	}
	m.auxDC = dc
	m.auxDrainCh = make(chan struct{})

	dc.OnOpen(func() {
		m.emit(Event{Kind: EventDataChannelOpen, Text: "aux"})
	})
	dc.OnClose(func() {
		m.emit(Event{Kind: EventDataChannelClose, Text: "aux"})
	})
	dc.SetBufferedAmountLowThreshold(uint64(m.lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		m.mu.RLock()
		ch := m.auxDrainCh
		m.mu.RUnlock()
		if ch != nil {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	return true
}

// WaitForAuxChannelOpen blocks until the aux channel reaches the open state
// or ctx is done.
func (m *Manager) WaitForAuxChannelOpen(ctx context.Context) error {
	m.mu.RLock()
	dc := m.auxDC
	m.mu.RUnlock()
	if dc == nil {
		return errors.New("transport: aux channel not created")
	}
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		return nil
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAuxChannelData sends on the auxiliary channel.
func (m *Manager) SendAuxChannelData(data []byte) error {
	m.mu.RLock()
	dc := m.auxDC
	m.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

// IsAuxBufferNearThreshold reports whether the aux channel's buffered
// amount has reached the configured high water mark. Senders must check
// this before each chunk and yield if it returns true.
func (m *Manager) IsAuxBufferNearThreshold() bool {
	m.mu.RLock()
	dc := m.auxDC
	high := m.highWaterMark
	m.mu.RUnlock()
	if dc == nil {
		return false
	}
	return dc.BufferedAmount() >= uint64(high)
}

// AwaitAuxBufferDrain blocks until the aux channel's buffered amount falls
// to or below the low water mark, or ctx is done.
func (m *Manager) AwaitAuxBufferDrain(ctx context.Context) error {
	m.mu.RLock()
	dc := m.auxDC
	ch := m.auxDrainCh
	low := m.lowWaterMark
	m.mu.RUnlock()
	if dc == nil {
		return errors.New("transport: aux channel not created")
	}
	if dc.BufferedAmount() <= uint64(low) {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns the underlying peer connection's stats report, used by
// the Stats Aggregator to extract RTT and loss figures.
func (m *Manager) GetStats() (webrtc.StatsReport, bool) {
	m.mu.RLock()
	pc := m.pc
	m.mu.RUnlock()
	if pc == nil {
		return nil, false
	}
	return pc.GetStats(), true
}

// AddICECandidate forwards a trickled ICE candidate from the signaling
// client to the peer connection.
func (m *Manager) AddICECandidate(candidate string) error {
	m.mu.RLock()
	pc := m.pc
	m.mu.RUnlock()
	if pc == nil {
		return errors.New("transport: no active peer connection")
	}
	return pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}
