package main

import "testing"

func TestTruncateTask(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"exactly at limit", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "hello..."},
		{"zero limit passes through", "hello", 0, "hello"},
		{"multibyte runes", "héllo wörld", 6, "héllo ..."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncateTask(tc.in, tc.max); got != tc.want {
				t.Errorf("truncateTask(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}
