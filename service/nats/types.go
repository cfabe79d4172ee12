package nats

import (
	"time"

	"github.com/brojonat/txland/service/submit"
)

// SubmissionEvent represents a submission lifecycle event published to NATS.
// This is published to the subject "tx.events.{signature}" in JetStream.
type SubmissionEvent struct {
	// Lifecycle coordinates
	Type  string `json:"type"`  // send | confirm | simulate
	Phase string `json:"phase"` // pending | active | completed

	// Transaction identifier (base-58 signature)
	Signature string `json:"signature"`

	// Optional payloads
	ConfirmationStatus string      `json:"confirmation_status,omitempty"`
	Confirmations      *uint64     `json:"confirmations,omitempty"`
	Slot               uint64      `json:"slot,omitempty"`
	Error              string      `json:"error,omitempty"`
	Result             interface{} `json:"result,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromSubmitEvent converts a core lifecycle event to a SubmissionEvent for
// publishing.
func FromSubmitEvent(ev submit.Event) *SubmissionEvent {
	out := &SubmissionEvent{
		Type:        string(ev.Type),
		Phase:       string(ev.Phase),
		Signature:   ev.Signature.String(),
		Error:       ev.Err,
		Result:      ev.Result,
		PublishedAt: time.Now().UTC(),
	}
	if ev.Status != nil {
		out.ConfirmationStatus = string(ev.Status.ConfirmationStatus)
		out.Confirmations = ev.Status.Confirmations
		out.Slot = ev.Status.Slot
	}
	return out
}
