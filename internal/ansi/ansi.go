// Package ansi cleans terminal control output captured from a pseudo-terminal
// so it can be stored and replayed as plain text.
package ansi

import (
	"bytes"
	"strings"
	"unicode/utf8"

	xansi "github.com/charmbracelet/x/ansi"
)

const esc = '\x1b'

// Strip removes escape sequences from s and normalizes line endings to "\n".
// A bare carriage return is treated as a line break.
func Strip(s string) string {
	return normalizeNewlines(xansi.Strip(s))
}

func normalizeNewlines(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")

	return strings.ReplaceAll(s, "\r", "\n")
}

// Stripper cleans a byte stream that may split escape sequences, CRLF pairs
// or UTF-8 runes across reads. It is not safe for concurrent use.
type Stripper struct {
	held []byte
}

// Write consumes the next chunk and returns the text that is safe to emit.
// Incomplete trailing data is held back until the next call or Flush.
func (s *Stripper) Write(p []byte) string {
	buf := append(s.held, p...)
	cut := safeCut(buf)

	s.held = append([]byte(nil), buf[cut:]...)

	return Strip(string(buf[:cut]))
}

// Flush returns whatever is still held back.
func (s *Stripper) Flush() string {
	rest := string(s.held)
	s.held = nil

	return Strip(rest)
}

// safeCut returns the length of the prefix of buf that can be cleaned now.
func safeCut(buf []byte) int {
	cut := len(buf)

	if i := bytes.LastIndexByte(buf, esc); i >= 0 && !sequenceComplete(buf[i:]) {
		cut = i
	}

	if cut > 0 && buf[cut-1] == '\r' {
		cut--
	}

	// Back up over a partial multi-byte rune at the end.
	for back := 1; back <= utf8.UTFMax && back <= cut; back++ {
		start := cut - back
		if !utf8.RuneStart(buf[start]) {
			continue
		}

		if !utf8.FullRune(buf[start:cut]) {
			cut = start
		}

		break
	}

	return cut
}

// sequenceComplete reports whether seq, which starts with ESC, is terminated.
func sequenceComplete(seq []byte) bool {
	if len(seq) < 2 {
		return false
	}

	switch seq[1] {
	case '[':
		for _, b := range seq[2:] {
			if b >= 0x40 && b <= 0x7e {
				return true
			}
		}

		return false
	case ']', 'P', '_', '^':
		for i := 2; i < len(seq); i++ {
			if seq[i] == '\a' {
				return true
			}

			if seq[i] == esc && i+1 < len(seq) && seq[i+1] == '\\' {
				return true
			}
		}

		return false
	default:
		return true
	}
}
