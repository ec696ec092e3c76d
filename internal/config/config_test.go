package config

import (
	"testing"
	"time"
)

func TestParseTTL(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"24h", 24 * time.Hour},
		{"90s", 90 * time.Second},
		{"7d", 7 * 24 * time.Hour},
		{"1d", 24 * time.Hour},
		{" 30d ", 30 * 24 * time.Hour},
	}

	for _, tc := range cases {
		got, err := ParseTTL(tc.in)
		if err != nil {
			t.Fatalf("ParseTTL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTTL(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "abc", "d", "1.5d"} {
		if _, err := ParseTTL(bad); err == nil {
			t.Fatalf("ParseTTL(%q) should fail", bad)
		}
	}
}
