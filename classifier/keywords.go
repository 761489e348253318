package classifier

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
)

var (
	arabicIndicators  = []string{"عربي", "العربية", "arabic"}
	englishIndicators = []string{"english", "إنجليزي", "انجليزي"}

	affirmativeWords = []string{"yes", "correct", "نعم", "صح", "صحيح"}
	negativeWords    = []string{"no", "change", "لا", "غير", "تغيير"}

	offerAcceptWords = []string{"yes", "نعم", "أكيد", "ok"}
)

// ArabicMarker is the word that selects Arabic regardless of the oracle's answer
const ArabicMarker = "عربي"

// Fold returns a caseless form of s for comparisons
func Fold(s string) string {
	return cases.Fold().String(s)
}

// containsAny reports whether text contains any of words, ignoring case
func containsAny(text string, words []string) bool {
	folded := Fold(text)
	for _, w := range words {
		if strings.Contains(folded, Fold(w)) {
			return true
		}
	}
	return false
}

// HasArabicMarker reports whether the utterance names Arabic explicitly
func HasArabicMarker(utterance string) bool {
	return containsAny(utterance, []string{ArabicMarker})
}

// AcceptsOffer reports whether the utterance accepts an accessory offer
func AcceptsOffer(utterance string) bool {
	return containsAny(utterance, offerAcceptWords)
}

// Keywords is the deterministic fallback classifier. It never fails.
type Keywords struct{}

var _ Oracle = Keywords{}

// ClassifyLanguage picks Arabic when an Arabic indicator appears, English otherwise
func (Keywords) ClassifyLanguage(_ context.Context, _, utterance string) (Language, error) {
	switch {
	case containsAny(utterance, arabicIndicators):
		return LanguageArabic, nil
	case containsAny(utterance, englishIndicators):
		return LanguageEnglish, nil
	default:
		return LanguageEnglish, nil
	}
}

// ExtractIdentity extracts nothing; the script re-prompts for missing fields
func (Keywords) ExtractIdentity(context.Context, string) (Identity, error) {
	return Identity{}, nil
}

// ClassifyConfirmation checks affirmative words first, then negative ones.
// Anything else counts as a confirmation.
func (Keywords) ClassifyConfirmation(_ context.Context, utterance string) (Intent, error) {
	switch {
	case containsAny(utterance, affirmativeWords):
		return IntentConfirm, nil
	case containsAny(utterance, negativeWords):
		return IntentModify, nil
	default:
		return IntentConfirm, nil
	}
}
