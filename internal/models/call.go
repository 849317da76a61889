package models

import (
	"fmt"
	"time"
)

// CallKind discriminates the variants of a CallRecord.
type CallKind string

const (
	CallKindOffer     CallKind = "offer"
	CallKindAnswer    CallKind = "answer"
	CallKindCandidate CallKind = "ice-candidate"
	CallKindEnd       CallKind = "end-call"
)

// CallType selects the media requested for a call.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus is advisory, for UI and race-avoidance. It is not authoritative:
// observers react to the presence of a record of a given kind, never to a
// particular status value.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAccepted  CallStatus = "accepted"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusRejected  CallStatus = "rejected"
)

// SessionDescription is the SDP payload of an offer or answer record.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the payload of an ice-candidate record.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// CallRecord is the single mutable record both peers of a call read and write
// through the signal channel. At most one live primary record exists per call
// at a time; writes overwrite wholesale. ICE candidates live on a per-sender
// sub-path so concurrent trickling does not clobber the other peer's writes.
type CallRecord struct {
	CallID   string   `json:"callId"`
	Kind     CallKind `json:"kind"`
	From     string   `json:"from"`
	To       string   `json:"to,omitempty"`
	CallType CallType `json:"callType,omitempty"`

	// Exactly one of Description/Candidate is set, depending on Kind.
	// An end-call record carries neither.
	Description *SessionDescription `json:"description,omitempty"`
	Candidate   *ICECandidate       `json:"candidate,omitempty"`

	Status CallStatus `json:"status,omitempty"`

	// Nonce is a locally generated id written into every record so a peer
	// can recognize the echo of its own write coming back through the
	// subscription with an exact comparison.
	Nonce string `json:"nonce,omitempty"`

	// Timestamp is producer wall-clock millis, for display and ordering
	// heuristics only. The channel gives no causal ordering.
	Timestamp int64 `json:"timestamp"`
}

// NowMillis returns the producer-side timestamp for a new record.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Validate checks the per-variant required fields.
func (r *CallRecord) Validate() error {
	if r.CallID == "" {
		return fmt.Errorf("call record missing callId")
	}
	if r.From == "" {
		return fmt.Errorf("call record missing from")
	}
	switch r.Kind {
	case CallKindOffer:
		if r.Description == nil || r.Description.SDP == "" {
			return fmt.Errorf("offer record missing session description")
		}
		if r.CallType != CallTypeAudio && r.CallType != CallTypeVideo {
			return fmt.Errorf("offer record has invalid callType %q", r.CallType)
		}
	case CallKindAnswer:
		if r.Description == nil || r.Description.SDP == "" {
			return fmt.Errorf("answer record missing session description")
		}
	case CallKindCandidate:
		if r.Candidate == nil || r.Candidate.Candidate == "" {
			return fmt.Errorf("ice-candidate record missing candidate")
		}
	case CallKindEnd:
		// No payload.
	default:
		return fmt.Errorf("unknown call record kind %q", r.Kind)
	}
	return nil
}
