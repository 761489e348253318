// Package classifier turns customer utterances into the small label sets the
// call script branches on. An Oracle (usually an LLM) does the work when it is
// reachable; the keyword fallback answers otherwise.
package classifier

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by an oracle that cannot answer right now
var ErrUnavailable = errors.New("classifier unavailable")

// Language is the customer's preferred language label
type Language string

const (
	LanguageArabic  Language = "arabic"
	LanguageEnglish Language = "english"
)

// Valid reports whether l is one of the known labels
func (l Language) Valid() bool {
	return l == LanguageArabic || l == LanguageEnglish
}

// Intent is the customer's answer to the order read-back
type Intent string

const (
	IntentConfirm Intent = "confirm"
	IntentModify  Intent = "modify"
	IntentReject  Intent = "reject"
)

// Valid reports whether i is one of the known labels
func (i Intent) Valid() bool {
	switch i {
	case IntentConfirm, IntentModify, IntentReject:
		return true
	}
	return false
}

// Identity holds the fields extracted from an authentication answer.
// Either field may be empty.
type Identity struct {
	Name       string `json:"name"`
	NationalID string `json:"cpr"`
}

// Task names a classification call shape, used for metrics and logs
type Task string

const (
	TaskLanguage     Task = "language"
	TaskIdentity     Task = "identity"
	TaskConfirmation Task = "confirmation"
)

// Oracle is a best-effort external classifier. Any method may fail.
type Oracle interface {
	ClassifyLanguage(ctx context.Context, promptContext, utterance string) (Language, error)
	ExtractIdentity(ctx context.Context, utterance string) (Identity, error)
	ClassifyConfirmation(ctx context.Context, utterance string) (Intent, error)
}
