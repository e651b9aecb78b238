package transport

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestToPionICEServersDefaultsToStun(t *testing.T) {
	servers := toPionICEServers(nil)
	if len(servers) != 1 {
		t.Fatalf("expected 1 default server, got %d", len(servers))
	}
	if len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("unexpected default ICE server: %+v", servers[0])
	}
}

func TestToPionICEServersCarriesCredentials(t *testing.T) {
	servers := toPionICEServers([]ICEServer{
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
	})
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if servers[0].Username != "u" || servers[0].Credential != "p" {
		t.Fatalf("credentials not carried through: %+v", servers[0])
	}
	if servers[0].CredentialType != webrtc.ICECredentialTypePassword {
		t.Fatalf("expected password credential type, got %v", servers[0].CredentialType)
	}
}

func TestToPionICEServersSkipsEmptyURLEntries(t *testing.T) {
	servers := toPionICEServers([]ICEServer{{URLs: nil}})
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("expected fallback to default STUN server, got %+v", servers)
	}
}

func TestSendDataChannelMessageWithoutChannelReturnsSentinel(t *testing.T) {
	m := New()
	err := m.SendDataChannelMessage([]byte("hello"))
	if !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("expected ErrChannelNotOpen, got %v", err)
	}
}

func TestSendAuxChannelDataWithoutChannelReturnsSentinel(t *testing.T) {
	m := New()
	err := m.SendAuxChannelData([]byte("hello"))
	if !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("expected ErrChannelNotOpen, got %v", err)
	}
}

func TestCreateAuxDataChannelWithoutPeerConnectionFails(t *testing.T) {
	m := New()
	if m.CreateAuxDataChannel() {
		t.Fatal("expected CreateAuxDataChannel to fail without an active peer connection")
	}
}

func TestIsAuxBufferNearThresholdFalseWithoutChannel(t *testing.T) {
	m := New()
	if m.IsAuxBufferNearThreshold() {
		t.Fatal("expected false when no aux channel exists")
	}
}

func TestSetWaterMarksOverridesDefaults(t *testing.T) {
	m := New()
	m.SetWaterMarks(2<<20, 512<<10)
	if m.highWaterMark != 2<<20 || m.lowWaterMark != 512<<10 {
		t.Fatalf("water marks not applied: high=%d low=%d", m.highWaterMark, m.lowWaterMark)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	m := New()
	m.Reset()
	m.Reset()
}

func TestGetStatsWithoutPeerConnection(t *testing.T) {
	m := New()
	if _, ok := m.GetStats(); ok {
		t.Fatal("expected GetStats to report unavailable without a peer connection")
	}
}

func TestRecordStateTransitionCapsHistoryDepth(t *testing.T) {
	m := New()
	for i := 0; i < stateHistoryDepth+5; i++ {
		m.recordStateTransition(webrtc.PeerConnectionStateConnecting)
	}
	history := m.ConnectionStateHistory()
	if len(history) != stateHistoryDepth {
		t.Fatalf("expected history capped at %d, got %d", stateHistoryDepth, len(history))
	}
}

func TestKeyframeRequestCountsStartAtZero(t *testing.T) {
	m := New()
	pli, fir := m.KeyframeRequestCounts()
	if pli != 0 || fir != 0 {
		t.Fatalf("expected zero counts on a fresh Manager, got pli=%d fir=%d", pli, fir)
	}
}

func TestDecodeInputMessageClipboardDecodesBase64(t *testing.T) {
	m := New()
	ev := m.decodeInputMessage([]byte("cw,aGVsbG8="))
	if ev.Kind != EventClipboardContent {
		t.Fatalf("expected EventClipboardContent, got %v", ev.Kind)
	}
	if string(ev.Bytes) != "hello" {
		t.Fatalf("expected decoded clipboard %q, got %q", "hello", ev.Bytes)
	}
}

func TestDecodeInputMessageClipboardWithNoArgsYieldsNilBytes(t *testing.T) {
	m := New()
	ev := m.decodeInputMessage([]byte("cw"))
	if ev.Kind != EventClipboardContent || ev.Bytes != nil {
		t.Fatalf("expected EventClipboardContent with nil bytes, got %+v", ev)
	}
}

func TestDecodeInputMessageSystemAction(t *testing.T) {
	m := New()
	ev := m.decodeInputMessage([]byte("system_action,reload"))
	if ev.Kind != EventSystemAction || ev.Text != "reload" {
		t.Fatalf("expected EventSystemAction{reload}, got %+v", ev)
	}
}

func TestDecodeInputMessageServerSettingsDecodesJSON(t *testing.T) {
	m := New()
	ev := m.decodeInputMessage([]byte(`server_settings,{"framerate":{"value":60}}`))
	if ev.Kind != EventServerSettings {
		t.Fatalf("expected EventServerSettings, got %v (err=%v)", ev.Kind, ev.Err)
	}
	desc, ok := ev.Settings["framerate"]
	if !ok {
		t.Fatalf("expected framerate key in decoded settings, got %+v", ev.Settings)
	}
	if v, _ := desc.Value.(float64); v != 60 {
		t.Fatalf("expected framerate value 60, got %v", desc.Value)
	}
}

func TestDecodeInputMessageLatency(t *testing.T) {
	m := New()
	ev := m.decodeInputMessage([]byte("latency,42"))
	if ev.Kind != EventLatencyMeasurement || ev.Millis != 42 {
		t.Fatalf("expected EventLatencyMeasurement{42}, got %+v", ev)
	}
}

func TestDecodeInputMessageUnknownOpYieldsDebug(t *testing.T) {
	m := New()
	ev := m.decodeInputMessage([]byte("totally_unknown,x"))
	if ev.Kind != EventDebug {
		t.Fatalf("expected EventDebug for unrecognized op, got %v", ev.Kind)
	}
}

func TestPacketCountsStartAtZero(t *testing.T) {
	m := New()
	packets, frames := m.PacketCounts()
	if packets != 0 || frames != 0 {
		t.Fatalf("expected zero counts on a fresh Manager, got packets=%d frames=%d", packets, frames)
	}
}

func TestAddICECandidateWithoutPeerConnectionFails(t *testing.T) {
	m := New()
	if err := m.AddICECandidate("candidate:1 1 UDP 1 1.2.3.4 5 typ host"); err == nil {
		t.Fatal("expected error adding ICE candidate without a peer connection")
	}
}
