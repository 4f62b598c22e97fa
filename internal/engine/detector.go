package engine

import (
	"regexp"
	"strings"
)

// maxDetectorTail bounds how much recent output is kept for prompt matching.
const maxDetectorTail = 512

// confirmPattern matches the yes/no markers interactive CLIs print before
// reading an answer, even when the question is followed by more lines.
var confirmPattern = regexp.MustCompile(`(?i)(\(y/n[^)\n]*\)|\[y/n[^\]\n]*\])`)

// inputDetector decides whether a task that went quiet is waiting for an
// answer. It only sees output produced since the last answer.
type inputDetector struct {
	tail string
}

func (d *inputDetector) observe(text string) {
	d.tail += text
	if len(d.tail) > maxDetectorTail {
		d.tail = d.tail[len(d.tail)-maxDetectorTail:]
	}
}

func (d *inputDetector) reset() {
	d.tail = ""
}

// blocked reports whether the output seen so far ends like a question.
func (d *inputDetector) blocked() bool {
	if d.tail == "" {
		return false
	}

	// An unterminated line followed by silence is a prompt waiting on stdin.
	if !strings.HasSuffix(d.tail, "\n") && strings.TrimSpace(lastLine(d.tail)) != "" {
		return true
	}

	if confirmPattern.MatchString(d.tail) {
		return true
	}

	return strings.HasSuffix(strings.TrimSpace(d.tail), "?")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}

	return s
}
