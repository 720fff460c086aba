package server

import "testing"

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"/":       "",
		"abc":     "/abc",
		"/abc/":   "/abc",
		" /x/y/ ": "/x/y",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	for _, ok := range []string{"single_vertex_read", "a.b-c", "Q1"} {
		if !isSafeName(ok) {
			t.Errorf("expected %q to be safe", ok)
		}
	}
	for _, bad := range []string{"", "..", "a/b", "a\\b", "x y", "a..b"} {
		if isSafeName(bad) {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
