package sources

import (
	"testing"
	"time"
)

func TestCAIP10(t *testing.T) {
	got := caip10(1, "0xabc")
	want := "eip155:1:0xabc"
	if got != want {
		t.Errorf("caip10 = %q, want %q", got, want)
	}
}

func TestWeiToUnit(t *testing.T) {
	tests := []struct {
		wei   string
		scale int32
		want  string
	}{
		{"1000000000000000000", 18, "1"},
		{"1500000000000000000", 18, "1.5"},
		{"123", 18, "0.000000000000000123"},
		{"0", 18, "0"},
		{"2500000", 6, "2.5"},
		{"not-a-number", 18, "0"},
		{"", 18, "0"},
		// Larger than float64 can hold exactly.
		{"123456789012345678901234567890", 18, "123456789012.34567890123456789"},
	}
	for _, tt := range tests {
		if got := weiToUnit(tt.wei, tt.scale); got != tt.want {
			t.Errorf("weiToUnit(%q, %d) = %q, want %q", tt.wei, tt.scale, got, tt.want)
		}
	}
}

func TestAddBaseUnits(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"1", "2", "3"},
		{"1000000000000000000", "500000000000000000", "1500000000000000000"},
		{"garbage", "5", "5"},
		{"", "", "0"},
	}
	for _, tt := range tests {
		if got := addBaseUnits(tt.a, tt.b); got != tt.want {
			t.Errorf("addBaseUnits(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseISODate(t *testing.T) {
	if got := parseISODate(""); got != nil {
		t.Errorf("parseISODate(empty) = %v, want nil", got)
	}
	if got := parseISODate("nonsense"); got != nil {
		t.Errorf("parseISODate(nonsense) = %v, want nil", got)
	}

	got := parseISODate("2025-03-15T10:30:00Z")
	want := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Errorf("parseISODate RFC3339 = %v, want %v", got, want)
	}

	got = parseISODate("2025-03-15")
	if got == nil || got.Year() != 2025 || got.Month() != 3 || got.Day() != 15 {
		t.Errorf("parseISODate date-only = %v", got)
	}
}

func TestMechanismName(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"quadratic", "Quadratic Funding"},
		{"QF", "Quadratic Funding"},
		{"streaming", "Streaming Quadratic Funding"},
		{"bounty", "Bounties"},
		{"direct", "Direct Grants"},
		{"something-else", "Direct Grants"},
	}
	for _, tt := range tests {
		if got := mechanismName(tt.tag); got != tt.want {
			t.Errorf("mechanismName(%q) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestMapSocials(t *testing.T) {
	links := []socialLink{
		{Type: "twitter", Link: "https://x.com/acme"},
		{Type: "github", Link: "https://github.com/acme"},
		{Type: "myspace", Link: "https://myspace.com/acme"},
		{Type: "discord", Link: ""},
	}
	got := mapSocials(links)
	if len(got) != 2 {
		t.Fatalf("len(socials) = %d, want 2", len(got))
	}
	if got[0].Platform != "Twitter" || got[1].Platform != "GitHub" {
		t.Errorf("platforms = %q, %q; want Twitter, GitHub", got[0].Platform, got[1].Platform)
	}
}
