package transcribe

import (
	"testing"

	"github.com/murmurlabs/murmur-core/internal/audio"
)

func TestNormalizeTranscript(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Thank you.", "thank you"},
		{"  THANKS   for  watching!  ", "thanks for watching"},
		{"you", "you"},
		{"Hello, world?", "hello world"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeTranscript(tc.in); got != tc.want {
			t.Errorf("normalizeTranscript(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRejectHallucination(t *testing.T) {
	weak := audio.SignalStats{RMS: 0.0005, Peak: 0.002, ActiveRatio: 0.001}
	quiet := audio.SignalStats{RMS: 0.002, Peak: 0.01, ActiveRatio: 0.05}
	strong := audio.SignalStats{RMS: 0.05, Peak: 0.4, ActiveRatio: 0.6}

	cases := []struct {
		name  string
		text  string
		stats audio.SignalStats
		avgP  float32
		want  bool
	}{
		{"canned phrase on silence", "Thank you.", weak, 0.9, true},
		{"canned phrase on sparse signal", "you", audio.SignalStats{RMS: 0.01, ActiveRatio: 0.005}, 0.9, true},
		{"canned phrase quiet and unconfident", "Thanks for watching!", quiet, 0.2, true},
		{"canned phrase quiet but confident", "Thanks for watching!", quiet, 0.8, false},
		{"canned phrase on strong signal", "Thank you.", strong, 0.9, false},
		{"real sentence on silence", "Set a timer for ten minutes.", weak, 0.1, false},
		{"real sentence on strong signal", "Hello there.", strong, 0.9, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rejectHallucination(tc.text, tc.stats, tc.avgP); got != tc.want {
				t.Fatalf("rejectHallucination = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAvgTokenPWithoutTokens(t *testing.T) {
	r := DecodeResult{Segments: []Segment{{Text: "hello"}}}
	if got := r.AvgTokenP(); got != 1.0 {
		t.Fatalf("AvgTokenP() = %v, want 1.0 when no token data", got)
	}
}
