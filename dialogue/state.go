// Package dialogue is the scripted call state machine. The Engine is a pure
// function of (State, order, utterance); it never touches storage or the
// network except through the Classifier it is given.
package dialogue

import (
	"slices"
	"time"
)

// Checkpoint is one stage of the call script
type Checkpoint string

const (
	CheckpointInit               Checkpoint = "INIT"
	CheckpointLanguageSelect     Checkpoint = "LANGUAGE_SELECT"
	CheckpointAuth               Checkpoint = "AUTH"
	CheckpointOwnershipCheck     Checkpoint = "OWNERSHIP_CHECK"
	CheckpointOrderConfirm       Checkpoint = "ORDER_CONFIRM"
	CheckpointModification       Checkpoint = "MODIFICATION"
	CheckpointEligibilityCheck   Checkpoint = "ELIGIBILITY_CHECK"
	CheckpointCommitmentApproval Checkpoint = "COMMITMENT_APPROVAL"
	CheckpointCrossSell          Checkpoint = "CROSS_SELL"
	CheckpointEKYCSend           Checkpoint = "EKYC_SEND"
	CheckpointClose              Checkpoint = "CLOSE"
)

// Checkpoints lists every checkpoint in script order
var Checkpoints = []Checkpoint{
	CheckpointInit,
	CheckpointLanguageSelect,
	CheckpointAuth,
	CheckpointOwnershipCheck,
	CheckpointOrderConfirm,
	CheckpointModification,
	CheckpointEligibilityCheck,
	CheckpointCommitmentApproval,
	CheckpointCrossSell,
	CheckpointEKYCSend,
	CheckpointClose,
}

// Valid reports whether c is a known checkpoint
func (c Checkpoint) Valid() bool {
	return slices.Contains(Checkpoints, c)
}

// Language is the call language. The zero value means not chosen yet.
type Language string

const (
	LanguageUnset   Language = ""
	LanguageArabic  Language = "ar"
	LanguageEnglish Language = "en"
)

// Role is the speaker of a transcript message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry
type Message struct {
	Role       Role       `json:"role"`
	Text       string     `json:"content"`
	Checkpoint Checkpoint `json:"state"`
	Timestamp  time.Time  `json:"timestamp"`
}

// State is the mutable per-call state
type State struct {
	SessionID      string
	Checkpoint     Checkpoint
	Language       Language
	Authenticated  bool
	OrderConfirmed bool
	OrderModified  bool
	CustomerName   string
	Transcript     []Message
}

// NewState returns the state of a call that has not started talking yet
func NewState(sessionID string) State {
	return State{
		SessionID:  sessionID,
		Checkpoint: CheckpointInit,
	}
}

// Clone returns a copy whose transcript can be appended to independently
func (s State) Clone() State {
	s.Transcript = slices.Clone(s.Transcript)
	return s
}

// Snapshot is the session view persisted after every turn
type Snapshot struct {
	Checkpoint     Checkpoint `json:"state"`
	Language       Language   `json:"language"`
	Authenticated  bool       `json:"customer_authenticated"`
	OrderConfirmed bool       `json:"order_confirmed"`
	OrderModified  bool       `json:"order_modified"`
	CustomerName   string     `json:"customer_name"`
}

// Snapshot returns the flags of s without the transcript
func (s State) Snapshot() Snapshot {
	return Snapshot{
		Checkpoint:     s.Checkpoint,
		Language:       s.Language,
		Authenticated:  s.Authenticated,
		OrderConfirmed: s.OrderConfirmed,
		OrderModified:  s.OrderModified,
		CustomerName:   s.CustomerName,
	}
}

// LastAssistantMessage returns the most recent assistant text, if any
func (s State) LastAssistantMessage() (string, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleAssistant {
			return s.Transcript[i].Text, true
		}
	}
	return "", false
}

// EventKind tells a recorder what to do with an Event
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventSnapshot EventKind = "snapshot"
)

// Event is a persistence side effect of a turn. Message events come first,
// in transcript order, followed by one snapshot event.
type Event struct {
	Kind      EventKind
	SessionID string
	Message   Message
	Snapshot  Snapshot
}
