package intent

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// quotedRe only treats a quote as such at a word boundary, so apostrophes
// in "mom's" are not mistaken for one.
var quotedRe = regexp.MustCompile(`(?:^|[^\p{L}\p{N}])["'“‘]([^"'“”‘’]+)["'”’](?:$|[^\p{L}\p{N}])`)

// titlePrefixes are stripped, repeatedly, from the text after a create trigger.
var titlePrefixes = []string{"a new task", "a task", "new task", "the task", "task:", "task", ":", "-", "to", "called", "named", "titled"}

// titleSuffixes are dropped from the end of a created title.
var titleSuffixes = []string{" to my list", " to the list", " to my tasks", " to my task list",
	" to the task list", " to my todo list", " to my to-do list"}

// anchorWords introduce a task reference ("the task called X").
var anchorWords = []string{"task", "called", "named", "titled"}

// fillerWords are trimmed from both ends of a fallback reference.
var fillerWords = map[string]bool{
	"the": true, "my": true, "a": true, "an": true, "task": true, "please": true,
	"mark": true, "as": true, "off": true, "that": true, "this": true, "it": true,
	"called": true, "named": true, "titled": true, "item": true,
}

const maxAnchorWords = 5

// ExtractTitle returns the task title that follows trigger in msg, without
// leading filler ("a task called ...") or surrounding quotes.
func ExtractTitle(msg, trigger string) string {
	rest := after(msg, trigger)
	for {
		stripped := false
		for _, p := range titlePrefixes {
			if hasWordPrefix(lowerASCII(rest), p) {
				rest = strings.TrimSpace(rest[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	lower := lowerASCII(rest)
	for _, suf := range titleSuffixes {
		if strings.HasSuffix(lower, suf) {
			rest = rest[:len(rest)-len(suf)]
			break
		}
	}
	return strings.TrimSpace(trimQuotes(strings.TrimSpace(rest)))
}

// ExtractReference finds the task a message is talking about: a quoted
// substring verbatim, else up to five words after an anchor word ("task",
// "called", ...), else the message with trigger and filler removed, else the
// whole message.
func ExtractReference(msg, trigger string) string {
	if m := quotedRe.FindStringSubmatch(msg); m != nil {
		if ref := strings.TrimSpace(m[1]); ref != "" {
			return ref
		}
	}
	lower := lowerASCII(msg)
	for _, a := range anchorWords {
		idx := indexWord(lower, a)
		if idx < 0 {
			continue
		}
		words := strings.Fields(msg[idx+len(a):])
		words = trimFiller(words)
		if len(words) > maxAnchorWords {
			words = words[:maxAnchorWords]
		}
		if ref := strings.Trim(strings.Join(words, " "), ".,!?;:"); ref != "" {
			return ref
		}
	}
	if trigger != "" {
		if idx := indexWord(lower, trigger); idx >= 0 {
			residual := msg[:idx] + " " + msg[idx+len(trigger):]
			words := trimFiller(strings.Fields(strings.Trim(residual, " .,!?;:")))
			if ref := strings.Trim(strings.Join(words, " "), ".,!?;:"); ref != "" {
				return ref
			}
		}
	}
	return strings.TrimSpace(msg)
}

// separators split "rename X to Y"; the last occurrence wins so a title may
// itself contain "to".
var separators = []string{" to ", " as ", " with ", " new title "}

// extractRename returns the reference and the new title of an update.
func extractRename(msg, trigger string) (ref, newTitle string) {
	quoted := quotedRe.FindAllStringSubmatch(msg, -1)
	if len(quoted) >= 2 {
		return strings.TrimSpace(quoted[0][1]), strings.TrimSpace(quoted[len(quoted)-1][1])
	}

	lower := lowerASCII(msg)
	cut := -1
	sepLen := 0
	for _, s := range separators {
		if i := strings.LastIndex(lower, s); i >= 0 {
			cut, sepLen = i, len(s)
			break
		}
	}
	if cut < 0 {
		return ExtractReference(msg, trigger), ""
	}
	newTitle = strings.TrimSpace(trimQuotes(strings.TrimSpace(msg[cut+sepLen:])))
	ref = ExtractReference(msg[:cut], trigger)
	return ref, newTitle
}

func after(msg, trigger string) string {
	idx := indexWord(lowerASCII(msg), trigger)
	if idx < 0 {
		return strings.TrimSpace(msg)
	}
	return strings.TrimSpace(msg[idx+len(trigger):])
}

func trimQuotes(s string) string {
	return strings.Trim(s, `"'“”‘’`)
}

func trimFiller(words []string) []string {
	for len(words) > 0 && fillerWords[normalizeWord(words[0])] {
		words = words[1:]
	}
	for len(words) > 0 && fillerWords[normalizeWord(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	return words
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.Trim(w, ".,!?;:\"'"))
}

// indexAtWordStart returns the first index where phrase occurs starting at
// a word boundary, or -1. The phrase may end mid-word ("complete" matches
// "completed").
func indexAtWordStart(s, phrase string) int {
	from := 0
	for {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return -1
		}
		i += from
		if i == 0 || !isWordRune(lastRune(s[:i])) {
			return i
		}
		from = i + 1
	}
}

// indexWord is indexAtWordStart with a boundary on both sides.
func indexWord(s, word string) int {
	from := 0
	for {
		i := indexAtWordStart(s[from:], word)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(word)
		if end == len(s) || !isWordRune(firstRune(s[end:])) {
			return i
		}
		from = i + 1
	}
}

// hasWordPrefix reports whether s starts with p followed by a non-word rune
// or the end of s.
func hasWordPrefix(s, p string) bool {
	if !strings.HasPrefix(s, p) {
		return false
	}
	if len(s) == len(p) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(p)
	if !isWordRune(last) {
		return true
	}
	return !isWordRune(firstRune(s[len(p):]))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

// lowerASCII lowercases ASCII letters only, so byte offsets found in the
// result are valid in the original string.
func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
