// Package safety cleans chat input before it reaches the classifier or the
// model, and scans model output for leaked secrets.
package safety

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest accepted chat message, in characters.
const MaxMessageLength = 10000

var (
	ErrEmptyMessage = errors.New("message must not be empty")
	ErrTooLong      = fmt.Errorf("message must be at most %d characters", MaxMessageLength)
)

// Verdict is the outcome of an injection check.
type Verdict int

const (
	// Allow means the message may go to the model.
	Allow Verdict = iota
	// Warn means a marker was seen; the message may still go to the model.
	Warn
	// Block means the message must not reach the model. Deterministic
	// handling still applies.
	Block
)

func (v Verdict) String() string {
	switch v {
	case Warn:
		return "warn"
	case Block:
		return "block"
	default:
		return "allow"
	}
}

// CheckResult is the outcome of Sanitizer.Check.
type CheckResult struct {
	Verdict Verdict
	Reason  string
}

// Sanitizer normalizes chat messages and flags prompt injection.
type Sanitizer struct {
	maxLen int
}

// NewSanitizer returns a Sanitizer. maxLen <= 0 uses MaxMessageLength.
func NewSanitizer(maxLen int) *Sanitizer {
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}
	return &Sanitizer{maxLen: maxLen}
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// Clean strips control characters, collapses whitespace runs to one space
// and enforces the length limit.
func (s *Sanitizer) Clean(msg string) (string, error) {
	out := controlChars.ReplaceAllString(msg, "")
	out = strings.Join(strings.Fields(out), " ")
	if out == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(out) > s.maxLen {
		return "", fmt.Errorf("message must be at most %d characters: %w", s.maxLen, ErrTooLong)
	}
	return out, nil
}

type injectionPattern struct {
	re      *regexp.Regexp
	verdict Verdict
	reason  string
}

var injectionPatterns = []injectionPattern{
	{
		re:      regexp.MustCompile(`(?i)\bignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)\b`),
		verdict: Block,
		reason:  "role manipulation: ignore previous instructions",
	},
	{
		re:      regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the)\s+\w+`),
		verdict: Block,
		reason:  "role manipulation: identity override",
	},
	{
		re:      regexp.MustCompile(`(?i)\b(override\s+(system\s+)?prompt|system\s+prompt\s+override)\b`),
		verdict: Block,
		reason:  "role manipulation: system prompt override",
	},
	{
		re:      regexp.MustCompile(`(?i)\b(reveal|print|output|repeat)\s+(\w+\s+)?(your\s+)?(system\s+)?(prompt|instructions?)\b`),
		verdict: Block,
		reason:  "prompt leaking: system prompt extraction",
	},
	{
		re:      regexp.MustCompile(`(?i)\bwhat\s+(are|is)\s+your\s+system\s+(prompt|instructions?)\b`),
		verdict: Block,
		reason:  "prompt leaking: system prompt query",
	},
	{
		re:      regexp.MustCompile(`(?i)\b(other|another)\s+users?'?s?\s+(tasks?|data|account)`),
		verdict: Block,
		reason:  "cross-tenant request",
	},
	{
		re:      regexp.MustCompile(`(?i)\[\s*SYSTEM\s*\]`),
		verdict: Warn,
		reason:  "injection marker: [SYSTEM] tag",
	},
	{
		re:      regexp.MustCompile(`(?i)<\s*\|?\s*(system|im_start|im_end)\s*\|?\s*>`),
		verdict: Warn,
		reason:  "injection marker: chat template tag",
	},
	{
		re:      regexp.MustCompile(`(?i)(aWdub3Jl|SWdub3Jl)`), // base64 of "ignore"/"Ignore"
		verdict: Warn,
		reason:  "potential encoded injection",
	},
}

// Check looks for prompt injection in a cleaned message. Task vocabulary
// such as "show my tasks" or "delete the rules task" never blocks.
func (s *Sanitizer) Check(msg string) CheckResult {
	if strings.TrimSpace(msg) == "" {
		return CheckResult{Verdict: Allow}
	}
	for _, pat := range injectionPatterns {
		if pat.re.MatchString(msg) {
			return CheckResult{Verdict: pat.verdict, Reason: pat.reason}
		}
	}
	return CheckResult{Verdict: Allow}
}
