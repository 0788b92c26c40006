package intent

import "strings"

var (
	affirmativeReplies = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
		"ok": true, "okay": true, "confirm": true, "confirmed": true,
		"do it": true, "proceed": true, "go ahead": true, "delete it": true,
		"remove it": true, "y": true, "affirmative": true,
	}
	affirmativeWords = []string{"yes", "yeah", "sure", "confirm"}

	negativeReplies = map[string]bool{
		"no": true, "nope": true, "nah": true, "cancel": true, "stop": true,
		"don't": true, "abort": true, "nevermind": true, "never mind": true,
		"n": true, "negative": true,
	}
	negativeWords = []string{"no", "cancel", "stop", "don't"}
)

// IsAffirmative reports whether reply confirms a pending action: it is one
// of the accepted replies or contains one of the strong yes-words.
func IsAffirmative(reply string) bool {
	return matchesReply(reply, affirmativeReplies, affirmativeWords)
}

// IsNegative reports whether reply cancels a pending action.
func IsNegative(reply string) bool {
	return matchesReply(reply, negativeReplies, negativeWords)
}

func matchesReply(reply string, exact map[string]bool, words []string) bool {
	r := strings.ToLower(strings.TrimSpace(reply))
	r = strings.TrimRight(r, ".!")
	if exact[r] {
		return true
	}
	for _, f := range strings.Fields(r) {
		f = strings.Trim(f, ".,!?")
		for _, w := range words {
			if f == w {
				return true
			}
		}
	}
	return false
}
