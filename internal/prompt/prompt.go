// Package prompt recognises shell prompts, password prompts and banners in
// raw terminal output, and cleans command output scraped from a terminal.
package prompt

import (
	"bytes"
	"regexp"
	"strings"
)

// Kind is the kind of marker found in a buffer.
type Kind int

const (
	// None means no recognised marker.
	None Kind = iota
	// PasswordPrompt means the remote side is asking for a secret.
	PasswordPrompt
	// ShellPrompt means a shell is waiting for input.
	ShellPrompt
	// Banner means login noise without a prompt.
	Banner
)

func (k Kind) String() string {
	switch k {
	case PasswordPrompt:
		return "password-prompt"
	case ShellPrompt:
		return "shell-prompt"
	case Banner:
		return "banner"
	default:
		return "none"
	}
}

// Event is the result of scanning a buffer.
type Event struct {
	Kind Kind
	// Root is set for shell prompts that belong to a root shell.
	Root bool
}

var (
	passwordMarkers = []string{"password for", "password:", "[sudo] password"}
	bannerMarkers   = []string{"last login", "welcome to"}

	// ESC followed by a CSI, OSC or two-character sequence.
	controlSeq = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)?|\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

	// user@host:path# and [user@host path]$ shapes.
	promptLine = regexp.MustCompile(`^(?:\[[\w.-]+@[\w.-]+(?: [^\]]*)?\]|[\w.-]+@[\w.-]+(?::\S*)?)\s?[#$]$`)
)

// StripControlSequences removes terminal escape sequences from b. Removal
// repeats until nothing matches, so the result never contains a sequence
// that only formed after an inner one was removed.
func StripControlSequences(b []byte) []byte {
	out := b
	for {
		next := controlSeq.ReplaceAll(out, nil)
		if len(next) == len(out) {
			return next
		}
		out = next
	}
}

// Scan classifies a buffer. Password prompts win over shell prompts because
// sudo always asks for the password before a root prompt appears.
func Scan(b []byte) Event {
	text := string(StripControlSequences(b))
	lower := strings.ToLower(text)

	for _, m := range passwordMarkers {
		if strings.Contains(lower, m) {
			return Event{Kind: PasswordPrompt}
		}
	}

	if strings.Contains(text, "root@") || strings.HasSuffix(text, "# ") || strings.Contains(text, "# ") {
		return Event{Kind: ShellPrompt, Root: true}
	}

	if strings.HasSuffix(text, "$ ") {
		return Event{Kind: ShellPrompt}
	}

	for _, m := range bannerMarkers {
		if strings.Contains(lower, m) {
			return Event{Kind: Banner}
		}
	}

	return Event{Kind: None}
}

// HasPromptSuffix reports whether b ends with a shell prompt suffix.
func HasPromptSuffix(b []byte) bool {
	b = StripControlSequences(b)
	return bytes.HasSuffix(b, []byte("# ")) || bytes.HasSuffix(b, []byte("$ "))
}

// IsPromptLine reports whether line is nothing but a user@host shell prompt.
func IsPromptLine(line string) bool {
	return promptLine.MatchString(strings.TrimSpace(line))
}

// CleanOutput turns raw terminal output of command into its output lines.
// It strips control sequences and drops the first echo of the command,
// user@host prompt lines, a trailing prompt and any line equal to one of
// discard. Trailing whitespace is trimmed from each line and blank lines at
// either end are removed.
func CleanOutput(raw []byte, command string, discard ...string) []string {
	text := string(StripControlSequences(raw))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "")
	command = strings.TrimSpace(command)

	all := strings.Split(text, "\n")
	echoed := false
	var lines []string
	for i, line := range all {
		trimmed := strings.TrimSpace(line)
		if i == len(all)-1 && (HasPromptSuffix([]byte(line)) || trimmed == "#" || trimmed == "$") {
			continue
		}
		if !echoed && isEcho(trimmed, command) {
			echoed = true
			continue
		}
		if (trimmed != "" && IsPromptLine(trimmed)) || contains(discard, trimmed) {
			continue
		}
		lines = append(lines, strings.TrimRight(line, " \t"))
	}

	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// isEcho reports whether line is command as typed, optionally behind the
// prompt it was typed at.
func isEcho(line, command string) bool {
	if command == "" || line == "" {
		return false
	}
	if line == command {
		return true
	}
	head, ok := strings.CutSuffix(line, command)
	if !ok {
		return false
	}
	head = strings.TrimSpace(head)
	return head == "#" || head == "$" || IsPromptLine(head)
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v != "" && v == s {
			return true
		}
	}
	return false
}
