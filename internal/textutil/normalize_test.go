package textutil_test

import (
	"testing"

	"specforge/internal/textutil"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Particle   Systems ", "particle systems"},
		{"Particle-Systems!", "particle systems"},
		{"PARTICLE\tsystems", "particle systems"},
		{"Ｐａｒｔｉｃｌｅ systems", "particle systems"},
		{"Straße", "strasse"},
		{"...", ""},
	}
	for _, tc := range cases {
		if got := textutil.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
