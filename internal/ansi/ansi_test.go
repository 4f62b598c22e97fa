package ansi

import (
	"strings"
	"testing"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "hello world", "hello world"},
		{"single color sequence", "\x1b[31mred\x1b[0m text", "red text"},
		{"multiple sequences", "a\x1b[1mb\x1b[0mc\x1b[32md\x1b[0m", "abcd"},
		{"crlf", "line one\r\nline two\r\n", "line one\nline two\n"},
		{"bare carriage return", "10%\r50%\r100%\n", "10%\n50%\n100%\n"},
		{"osc title", "\x1b]0;gpt-engineer\x07ready", "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Strip(tt.in); got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripper_SplitSequences(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{
			name:   "csi split after escape",
			chunks: []string{"Proceed? \x1b", "[1m(y/n)\x1b[0m "},
			want:   "Proceed? (y/n) ",
		},
		{
			name:   "csi split inside parameters",
			chunks: []string{"a\x1b[3", "2mb"},
			want:   "ab",
		},
		{
			name:   "crlf split",
			chunks: []string{"first\r", "\nsecond"},
			want:   "first\nsecond",
		},
		{
			name:   "utf8 rune split",
			chunks: []string{"caf\xc3", "\xa9"},
			want:   "café",
		},
		{
			name:   "osc split before terminator",
			chunks: []string{"\x1b]0;title", "\x07done"},
			want:   "done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				s   Stripper
				out strings.Builder
			)

			for _, chunk := range tt.chunks {
				out.WriteString(s.Write([]byte(chunk)))
			}

			out.WriteString(s.Flush())

			if got := out.String(); got != tt.want {
				t.Errorf("stream = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripper_HoldsOnlyIncompleteTail(t *testing.T) {
	var s Stripper

	if got := s.Write([]byte("Continue? \x1b[")); got != "Continue? " {
		t.Fatalf("Write() = %q, want text before the open sequence", got)
	}

	if got := s.Write([]byte("0m")); got != "" {
		t.Fatalf("Write() = %q, want empty after sequence completes", got)
	}

	if got := s.Flush(); got != "" {
		t.Fatalf("Flush() = %q, want empty", got)
	}
}
