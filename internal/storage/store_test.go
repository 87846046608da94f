package storage

import "testing"

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"greeter/1.0.0/template.js":    "greeter/1.0.0/template.js",
		"/greeter//1.0.0/./entry.js":   "greeter/1.0.0/entry.js",
		" greeter/1.0.0/package.json ": "greeter/1.0.0/package.json",
	}
	for in, want := range cases {
		got, err := CleanKey(in)
		if err != nil {
			t.Fatalf("CleanKey(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("CleanKey(%q)=%q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "/", "../etc/passwd", "greeter/../../x", `greeter\1.0.0`} {
		if _, err := CleanKey(in); err == nil {
			t.Fatalf("CleanKey(%q) expected error", in)
		}
	}
}
