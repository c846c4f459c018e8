package phonetic_test

import (
	"context"
	"testing"

	"github.com/MrWong99/telvoxa/internal/transcript/phonetic"
)

var vocabulary = []string{"Alex", "Acme Telecom", "FiberMax"}

func TestMatcher_Correct(t *testing.T) {
	t.Parallel()
	m := phonetic.New(vocabulary)

	tests := []struct {
		in   string
		want string
	}{
		{"i would like to upgrade to fiber max please.", "i would like to upgrade to FiberMax please."},
		{"thanks alex, that helps", "thanks Alex, that helps"},
		{"is this acme telecom?", "is this Acme Telecom?"},
		{"I called acmy telecom yesterday", "I called Acme Telecom yesterday"},
		{"is this ackme tele com", "is this Acme Telecom"},
		{"Hi, Alex. I want fiber max", "Hi, Alex. I want FiberMax"},
		{"can I speak to Alex", "can I speak to Alex"},
		{"my account number is five six seven", "my account number is five six seven"},
		{"hello who is this", "hello who is this"},
		{"ok", "ok"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := m.Correct(context.Background(), tt.in)
		if err != nil {
			t.Fatalf("Correct(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatcher_CorrectEmptyVocabulary(t *testing.T) {
	t.Parallel()
	m := phonetic.New([]string{"", "  "})
	if m.Len() != 0 {
		t.Fatalf("Len = %d, want 0", m.Len())
	}
	in := "keep   my spacing"
	got, _ := m.Correct(context.Background(), in)
	if got != in {
		t.Errorf("Correct = %q, want input unchanged", got)
	}
}

func TestMatcher_MultiWordTerm(t *testing.T) {
	t.Parallel()
	m := phonetic.New([]string{"Tower of Whispers", "Grimjaw"})

	corrected, conf, matched := m.Match("tower of wispers")
	if !matched || corrected != "Tower of Whispers" {
		t.Fatalf("Match = %q, %v; want Tower of Whispers", corrected, matched)
	}
	if conf < 0.9 {
		t.Errorf("confidence = %f, want >= 0.9", conf)
	}

	corrected, _, matched = m.Match("grim jaw")
	if !matched || corrected != "Grimjaw" {
		t.Errorf("Match(grim jaw) = %q, %v; want Grimjaw", corrected, matched)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()
	m := phonetic.New(vocabulary)

	for _, phrase := range []string{"hello", "", "um", "bill"} {
		corrected, conf, matched := m.Match(phrase)
		if matched {
			t.Errorf("Match(%q) matched %q", phrase, corrected)
		}
		if corrected != phrase || conf != 0 {
			t.Errorf("Match(%q) = %q, %f; want phrase unchanged and 0", phrase, corrected, conf)
		}
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()
	m := phonetic.New(vocabulary)

	corrected, conf, matched := m.Match("ALEX")
	if !matched || corrected != "Alex" {
		t.Fatalf("Match(ALEX) = %q, %v; want canonical casing", corrected, matched)
	}
	if conf != 1 {
		t.Errorf("confidence = %f, want 1 for exact match", conf)
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()
	m := phonetic.New(vocabulary,
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, matched := m.Match("acmy telecom"); matched {
		t.Error("near match accepted with threshold 0.99")
	}
	if _, _, matched := m.Match("fiber max"); !matched {
		t.Error("space-stripped exact match rejected")
	}
}
