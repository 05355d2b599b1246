package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"meeting.wav", "meeting.wav"},
		{"a/b\\c:d", "a-b-c-d"},
		{"what?.mp3", "what.mp3"},
		{"  padded.flac  ", "padded.flac"},
		{"<pipe>|quote\"", "pipequote"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := SanitizeFileName(tc.input); got != tc.expected {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
