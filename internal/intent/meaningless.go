package intent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// keyboardRows are the QWERTY letter rows; a word typed by sliding along
// one of them is mashing, not language.
var keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm"}

const minMashLength = 4

// IsMeaningless reports whether msg carries nothing worth classifying:
// empty or a single character, no letters or digits, two or fewer distinct
// characters repeated past three ("aaaaa", "???"), or every word a run of
// adjacent keys ("asdfgh").
func IsMeaningless(msg string) bool {
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) < 2 {
		return true
	}
	hasAlnum := false
	for _, r := range msg {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
			break
		}
	}
	if !hasAlnum {
		return true
	}

	distinct := make(map[rune]struct{})
	for _, r := range strings.ToLower(msg) {
		if r != ' ' {
			distinct[r] = struct{}{}
		}
	}
	if len(distinct) <= 2 && utf8.RuneCountInString(msg) > 3 {
		return true
	}

	words := strings.Fields(strings.ToLower(msg))
	for _, w := range words {
		if !isKeyboardRun(w) {
			return false
		}
	}
	return true
}

func isKeyboardRun(w string) bool {
	if len(w) < minMashLength {
		return false
	}
	for _, row := range keyboardRows {
		if strings.Contains(row, w) || strings.Contains(reverse(row), w) {
			return true
		}
	}
	return false
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
