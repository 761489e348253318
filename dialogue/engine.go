package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/room4-2/ordercall/classifier"
	"github.com/room4-2/ordercall/logging"
	"github.com/room4-2/ordercall/order"
)

var (
	// ErrMalformedUtterance rejects a blank turn; the state is left unchanged
	ErrMalformedUtterance = errors.New("utterance is empty")

	// ErrMissingOrder is returned when a turn is processed without an order
	ErrMissingOrder = errors.New("no order attached to session")

	// ErrUnknownCheckpoint means the state carries a checkpoint outside the script
	ErrUnknownCheckpoint = errors.New("unknown checkpoint")
)

// Classifier is what the engine needs from the classifier gateway. The
// methods cannot fail; the gateway falls back on its own.
type Classifier interface {
	ClassifyLanguage(ctx context.Context, promptContext, utterance string) classifier.Language
	ExtractIdentity(ctx context.Context, utterance string) classifier.Identity
	ClassifyConfirmation(ctx context.Context, utterance string) classifier.Intent
}

// Turn is the outcome of one processed utterance
type Turn struct {
	Response string
	State    State
	Events   []Event
}

// Engine runs the call script
type Engine struct {
	classifier Classifier
	now        func() time.Time
	logger     zerolog.Logger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithClock overrides the transcript timestamp source
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEngineLogger sets the engine logger
func WithEngineLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine that classifies through c. A nil c uses the
// keyword-only gateway.
func NewEngine(c Classifier, opts ...EngineOption) *Engine {
	if c == nil {
		c = classifier.NewGateway()
	}
	e := &Engine{
		classifier: c,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Greet produces the opening line. A session past INIT gets its latest
// assistant line again and no events.
func (e *Engine) Greet(st State) Turn {
	if st.Checkpoint != CheckpointInit {
		text, _ := st.LastAssistantMessage()
		return Turn{Response: text, State: st}
	}

	next := st.Clone()
	response := e.handleInit(&next)
	assistant := e.message(RoleAssistant, response, next.Checkpoint)
	next.Transcript = append(next.Transcript, assistant)

	return Turn{
		Response: response,
		State:    next,
		Events: []Event{
			{Kind: EventMessage, SessionID: next.SessionID, Message: assistant},
			{Kind: EventSnapshot, SessionID: next.SessionID, Snapshot: next.Snapshot()},
		},
	}
}

// Process runs one customer utterance against st. st itself is never
// modified; the returned Turn carries the next state.
func (e *Engine) Process(ctx context.Context, st State, rec *order.Record, utterance string) (Turn, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Turn{}, ErrMalformedUtterance
	}
	if rec == nil {
		return Turn{}, ErrMissingOrder
	}
	if !st.Checkpoint.Valid() {
		return Turn{}, fmt.Errorf("%w: %q", ErrUnknownCheckpoint, st.Checkpoint)
	}

	next := st.Clone()
	user := e.message(RoleUser, utterance, st.Checkpoint)
	next.Transcript = append(next.Transcript, user)

	response := e.dispatch(ctx, &next, rec, utterance)

	assistant := e.message(RoleAssistant, response, next.Checkpoint)
	next.Transcript = append(next.Transcript, assistant)

	e.logger.Debug().
		Str(logging.FieldSessionID, st.SessionID).
		Str("from", string(st.Checkpoint)).
		Str("to", string(next.Checkpoint)).
		Msg("turn processed")

	return Turn{
		Response: response,
		State:    next,
		Events: []Event{
			{Kind: EventMessage, SessionID: next.SessionID, Message: user},
			{Kind: EventMessage, SessionID: next.SessionID, Message: assistant},
			{Kind: EventSnapshot, SessionID: next.SessionID, Snapshot: next.Snapshot()},
		},
	}, nil
}

func (e *Engine) dispatch(ctx context.Context, st *State, rec *order.Record, utterance string) string {
	switch st.Checkpoint {
	case CheckpointInit:
		return e.handleInit(st)
	case CheckpointLanguageSelect:
		return e.handleLanguageSelect(ctx, st, utterance)
	case CheckpointAuth:
		return e.handleAuth(ctx, st, rec, utterance)
	case CheckpointOwnershipCheck:
		return e.handleOwnershipCheck(st)
	case CheckpointOrderConfirm:
		return e.handleOrderConfirm(ctx, st, rec, utterance)
	case CheckpointModification:
		return e.handleModification(st)
	case CheckpointEligibilityCheck:
		return e.handleEligibilityCheck(st, rec)
	case CheckpointCommitmentApproval:
		return e.handleCommitmentApproval(st)
	case CheckpointCrossSell:
		return e.handleCrossSell(st, utterance)
	case CheckpointEKYCSend:
		return e.handleEKYCSend(st)
	case CheckpointClose:
		return e.handleClose(st)
	}
	// unreachable: Process validates the checkpoint first
	return say(phraseFarewell, st.Language)
}

func (e *Engine) handleInit(st *State) string {
	st.Checkpoint = CheckpointLanguageSelect
	return say(phraseOpening, st.Language)
}

func (e *Engine) handleLanguageSelect(ctx context.Context, st *State, utterance string) string {
	choice := e.classifier.ClassifyLanguage(ctx, languageQuestion, utterance)
	if choice == classifier.LanguageArabic || classifier.HasArabicMarker(utterance) {
		st.Language = LanguageArabic
	} else {
		st.Language = LanguageEnglish
	}
	st.Checkpoint = CheckpointAuth
	return say(phraseLanguageChosen, st.Language)
}

func (e *Engine) handleAuth(ctx context.Context, st *State, rec *order.Record, utterance string) string {
	id := e.classifier.ExtractIdentity(ctx, utterance)

	if st.CustomerName == "" && id.Name != "" {
		st.CustomerName = id.Name
	}
	if st.CustomerName == "" {
		return say(phraseAskName, st.Language)
	}
	if id.NationalID == "" {
		return say(phraseAskNationalID, st.Language)
	}

	name := id.Name
	if name == "" {
		name = st.CustomerName
	}
	if !identityMatches(rec.Customer, name, id.NationalID) {
		st.Checkpoint = CheckpointOwnershipCheck
		return say(phraseOwnershipChallenge, st.Language)
	}

	st.Authenticated = true
	st.Checkpoint = CheckpointOrderConfirm
	return say(phraseVerified, st.Language, st.CustomerName)
}

// identityMatches compares names by caseless containment in either direction
// and national ids exactly. An order without a customer name never matches.
func identityMatches(c order.Customer, name, nationalID string) bool {
	stored := classifier.Fold(strings.TrimSpace(c.Name))
	given := classifier.Fold(strings.TrimSpace(name))
	if stored == "" || given == "" {
		return false
	}
	nameMatch := strings.Contains(given, stored) || strings.Contains(stored, given)
	return nameMatch && nationalID == strings.TrimSpace(c.NationalID)
}

// handleOwnershipCheck accepts any answer
func (e *Engine) handleOwnershipCheck(st *State) string {
	st.Checkpoint = CheckpointOrderConfirm
	return say(phraseOwnershipAccepted, st.Language)
}

func (e *Engine) handleOrderConfirm(ctx context.Context, st *State, rec *order.Record, utterance string) string {
	if !st.OrderConfirmed {
		st.OrderConfirmed = true
		return orderSummary(rec, st.Language)
	}

	if e.classifier.ClassifyConfirmation(ctx, utterance) == classifier.IntentConfirm {
		st.Checkpoint = CheckpointEligibilityCheck
		return say(phraseProceedToEligibility, st.Language)
	}
	st.Checkpoint = CheckpointModification
	return say(phraseAskChange, st.Language)
}

func (e *Engine) handleModification(st *State) string {
	st.OrderModified = true
	st.OrderConfirmed = false
	st.Checkpoint = CheckpointOrderConfirm
	return say(phraseOrderUpdated, st.Language)
}

func (e *Engine) handleEligibilityCheck(st *State, rec *order.Record) string {
	st.Checkpoint = CheckpointCrossSell
	return financialBreakdown(rec.Financial, st.Language)
}

// handleCommitmentApproval schedules a callback. No transition leads here yet.
func (e *Engine) handleCommitmentApproval(st *State) string {
	return say(phraseCommitmentCallback, st.Language)
}

func (e *Engine) handleCrossSell(st *State, utterance string) string {
	st.Checkpoint = CheckpointEKYCSend
	if classifier.AcceptsOffer(utterance) {
		return say(phraseAccessoriesAdded, st.Language)
	}
	return say(phraseAccessoriesDeclined, st.Language)
}

func (e *Engine) handleEKYCSend(st *State) string {
	st.Checkpoint = CheckpointClose
	return say(phraseSigningLinkSent, st.Language)
}

func (e *Engine) handleClose(st *State) string {
	return say(phraseFarewell, st.Language)
}

func (e *Engine) message(role Role, text string, cp Checkpoint) Message {
	return Message{
		Role:       role,
		Text:       text,
		Checkpoint: cp,
		Timestamp:  e.now().UTC(),
	}
}
