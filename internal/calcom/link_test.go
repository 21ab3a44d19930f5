package calcom

import (
	"errors"
	"testing"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		username string
		slug     string
	}{
		{"https://cal.com/patrick-productlane/30min?date=2024-04-22&month=2024-04", "https://cal.com/patrick-productlane/30min", "patrick-productlane", "30min"},
		{"cal.com/alice/15min", "https://cal.com/alice/15min", "alice", "15min"},
		{"https://Cal.com/alice/15min/", "https://cal.com/alice/15min", "alice", "15min"},
		{"https://book.example.org/bob/intro#top", "https://book.example.org/bob/intro", "bob", "intro"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l, err := ParseLink(tt.in)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if l.String() != tt.want {
				t.Errorf("String() = %q, want %q", l.String(), tt.want)
			}
			if l.Username != tt.username || l.EventSlug != tt.slug {
				t.Errorf("got %q/%q, want %q/%q", l.Username, l.EventSlug, tt.username, tt.slug)
			}
		})
	}
}

func TestParseLinkMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"https://cal.com",
		"https://cal.com/alice",
		"https://cal.com/alice/",
		"https://cal.com/team/alice/30min",
		"ftp://cal.com/alice/30min",
		"https:///alice/30min",
	} {
		t.Run(in, func(t *testing.T) {
			if _, err := ParseLink(in); !errors.Is(err, ErrMalformedLink) {
				t.Errorf("ParseLink(%q) err = %v, want ErrMalformedLink", in, err)
			}
		})
	}
}
