package model

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFeedHandle(t *testing.T) {
	tests := []struct {
		title       string
		wantHandle  string
		wantDisplay string
	}{
		{title: "Jane Doe / @jane", wantHandle: "@jane", wantDisplay: "Jane Doe"},
		{title: "Plain blog", wantHandle: "", wantDisplay: "Plain blog"},
		{title: "", wantHandle: "", wantDisplay: ""},
	}
	for _, tt := range tests {
		f := Feed{Title: tt.title}
		if got := f.Handle(); got != tt.wantHandle {
			t.Errorf("Handle(%q) = %q, want %q", tt.title, got, tt.wantHandle)
		}
		if got := f.DisplayName(); got != tt.wantDisplay {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.title, got, tt.wantDisplay)
		}
	}
}

func TestGroupModes(t *testing.T) {
	g := NewGroup("news")
	if diff := cmp.Diff([]Mode{ModeEmbed}, g.Modes()); diff != "" {
		t.Errorf("default modes mismatch (-want +got):\n%s", diff)
	}

	g.SendAsText = true
	g.SendAsLink = true
	if diff := cmp.Diff([]Mode{ModeLink, ModeText, ModeEmbed}, g.Modes()); diff != "" {
		t.Errorf("modes mismatch (-want +got):\n%s", diff)
	}

	g.SendAsText, g.SendAsLink, g.SendAsEmbed = false, false, false
	if got := g.Modes(); len(got) != 0 {
		t.Errorf("expected no modes, got %v", got)
	}
}

func TestEntryMalformed(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{name: "complete", entry: Entry{Title: "hi", Published: &now}},
		{name: "no date", entry: Entry{Title: "hi"}, want: true},
		{name: "no title", entry: Entry{Published: &now}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Malformed(); got != tt.want {
				t.Errorf("Malformed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSettingsNormalize(t *testing.T) {
	s := AppSettings{
		NitterInstance: "https://nitter.example//",
		PipedInstance:  "https://piped.example/",
		DelayMinutes:   0,
		MaxAgeHours:    0,
	}
	want := AppSettings{
		NitterInstance: "https://nitter.example",
		PipedInstance:  "https://piped.example",
		DelayMinutes:   1,
	}
	if diff := cmp.Diff(want, s.Normalize()); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}
