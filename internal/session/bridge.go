package session

import (
	"sync"

	"github.com/selkies-project/selkies-core/internal/logging"
	"github.com/selkies-project/selkies-core/internal/settings"
	"github.com/selkies-project/selkies-core/internal/upload"
)

// IncomingKind enumerates the dashboard-to-core bridge message types the
// Session Orchestrator understands. Each maps 1:1 onto a method on the
// transport, settings, geometry, or upload components.
type IncomingKind int

const (
	InMode IncomingKind = iota
	InSetScaleLocally
	InResetResolutionToWindow
	InSetManualResolution
	InSetUseCSSScaling
	InClipboardUpdateFromUI
	InSettings
	InCommand
	InRequestFileUpload
	InNotifyResize
)

// Incoming is one message sent from the embedding UI layer into the core.
// Only the field(s) relevant to Kind are populated. For InNotifyResize,
// Width/Height carry the window dimensions and ContainerWidth/ContainerHeight
// carry the containing element's dimensions.
type Incoming struct {
	Kind            IncomingKind
	Text            string
	Bool            bool
	Width           int
	Height          int
	ContainerWidth  int
	ContainerHeight int
	Settings        settings.Map
	Paths           []string
}

// OutgoingKind enumerates the core-to-dashboard bridge message types.
type OutgoingKind int

const (
	OutClipboardContentUpdate OutgoingKind = iota
	OutFileUpload
	OutServerSettings
	OutSystemAction
	OutCursorChange
	OutLatencyMeasurement
	OutDebugLog
)

// Outgoing is one message the core publishes for the embedding UI layer.
type Outgoing struct {
	Kind       OutgoingKind
	Text       string
	Bytes      []byte
	Millis     int
	FileUpload upload.ProgressEvent
	Settings   settings.Map
	DebugLog   logging.LogEntry
}

// Bridge is a typed publish/subscribe port standing in for the distilled
// spec's global postMessage listener: the embedding UI layer sends
// Incoming messages via Send and receives Outgoing messages via Subscribe.
type Bridge struct {
	mu          sync.RWMutex
	subscribers map[int]func(Outgoing)
	nextID      int

	incoming chan Incoming
}

// NewBridge creates a Bridge with a buffered incoming queue.
func NewBridge() *Bridge {
	return &Bridge{
		subscribers: make(map[int]func(Outgoing)),
		incoming:    make(chan Incoming, 64),
	}
}

// Subscribe registers fn to receive every Outgoing message published after
// this call. The returned function unsubscribes it.
func (b *Bridge) Subscribe(fn func(Outgoing)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Publish fans an Outgoing message out to every current subscriber.
func (b *Bridge) Publish(o Outgoing) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.subscribers {
		fn(o)
	}
}

// Send enqueues an Incoming message from the embedding UI layer for the
// Session Orchestrator to consume. Non-blocking; drops (after the caller
// observes a false return) if the queue is saturated.
func (b *Bridge) Send(i Incoming) bool {
	select {
	case b.incoming <- i:
		return true
	default:
		return false
	}
}

// Incoming returns the channel the Session Orchestrator's fan-in loop
// drains.
func (b *Bridge) Incoming() <-chan Incoming {
	return b.incoming
}

// unsubscribeAll clears every registered subscriber, part of Cleanup's
// "no event listener fires after Cleanup" guarantee.
func (b *Bridge) unsubscribeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[int]func(Outgoing))
}
