package transcribe

import (
	"strings"
	"unicode"

	"github.com/murmurlabs/murmur-core/internal/audio"
)

// Thresholds for discarding canned phrases decoded from near-silence.
// Heuristic defaults, tunable without changing the architecture.
const (
	weakRMS          = 0.0012
	weakActiveRatio  = 0.01
	lowConfidenceRMS = 0.003
	lowTokenP        = 0.30
)

// cannedHallucinations holds short phrases whisper-family models are known
// to produce on silence or background noise, in normalized form.
var cannedHallucinations = map[string]struct{}{
	"you":                  {},
	"thank you":            {},
	"thank you very much":  {},
	"thanks for watching":  {},
	"thanks for listening": {},
	"bye":                  {},
	"bye bye":              {},
	"goodbye":              {},
	"okay":                 {},
	"so":                   {},
	"hmm":                  {},
	"um":                   {},
	"uh":                   {},
}

// normalizeTranscript lowercases, strips punctuation, and collapses runs of
// whitespace so canned-phrase matching is insensitive to decode cosmetics.
func normalizeTranscript(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// rejectHallucination reports whether the transcript should be discarded as
// a likely hallucination. Only canned phrases are ever rejected, and only
// when the signal itself was too weak to plausibly contain them.
func rejectHallucination(text string, stats audio.SignalStats, avgTokenP float32) bool {
	if _, canned := cannedHallucinations[normalizeTranscript(text)]; !canned {
		return false
	}
	if stats.RMS < weakRMS || stats.ActiveRatio < weakActiveRatio {
		return true
	}
	return stats.RMS < lowConfidenceRMS && avgTokenP < lowTokenP
}
