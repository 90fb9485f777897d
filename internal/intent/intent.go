// Package intent classifies why a caller rang and picks the persona the
// agent answers with.
package intent

import (
	"regexp"
	"strings"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
)

const (
	confidenceStrong = 0.9
	confidenceSingle = 0.7
	confidenceNone   = 0.5
)

var (
	appointmentKeywords = []string{"appointment", "schedule", "book", "reschedule", "availability", "slot", "meeting", "tomorrow at"}
	supportKeywords     = []string{"help", "issue", "problem", "broken", "not working", "support", "complaint", "refund", "error", "cancel my"}

	appointmentPattern = keywordPattern(appointmentKeywords)
	supportPattern     = keywordPattern(supportKeywords)
)

// keywordPattern matches any keyword at a word start, so "booking" counts
// for "book" but "facebook" does not.
func keywordPattern(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)`)
}

// SelectIntent classifies a transcript. Appointment keywords win over
// support keywords; anything else is other.
func SelectIntent(transcript string) (model.Intent, float64) {
	text := strings.ToLower(transcript)
	if n := len(appointmentPattern.FindAllStringIndex(text, -1)); n > 0 {
		return model.IntentAppointment, confidenceFor(n)
	}
	if n := len(supportPattern.FindAllStringIndex(text, -1)); n > 0 {
		return model.IntentSupport, confidenceFor(n)
	}
	return model.IntentOther, confidenceNone
}

func confidenceFor(matches int) float64 {
	if matches >= 2 {
		return confidenceStrong
	}
	return confidenceSingle
}
