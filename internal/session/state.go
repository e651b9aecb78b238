package session

import "sync/atomic"

// State is the session lifecycle stage, stored lock-free so any goroutine
// can read it without contending with the orchestrator's fan-in loop.
type State int32

const (
	StateConnecting State = iota
	StateOffering
	StateAnswered
	StateConnected
	StateDisconnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOffering:
		return "offering"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) Load() State     { return State(b.v.Load()) }
func (b *stateBox) Store(s State)   { b.v.Store(int32(s)) }
