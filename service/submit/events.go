package submit

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// EventType categorizes a lifecycle event.
type EventType string

const (
	EventSend     EventType = "send"
	EventConfirm  EventType = "confirm"
	EventSimulate EventType = "simulate"
)

// EventPhase marks where in its lifecycle the categorized activity is.
type EventPhase string

const (
	PhasePending   EventPhase = "pending"
	PhaseActive    EventPhase = "active"
	PhaseCompleted EventPhase = "completed"
)

// Event is an immutable record of one lifecycle transition during a
// submission. Events are purely informational; they never affect control
// flow, and sinks must not block.
type Event struct {
	Type      EventType                    `json:"type"`
	Phase     EventPhase                   `json:"phase"`
	Signature solana.Signature             `json:"signature"`
	Status    *rpc.SignatureStatusesResult `json:"status,omitempty"`
	Err       string                       `json:"error,omitempty"`
	Result    interface{}                  `json:"result,omitempty"`
}

// EventSink consumes lifecycle events. A nil sink discards them.
type EventSink func(Event)

func emit(sink EventSink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
