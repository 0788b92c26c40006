package intent

import (
	"strings"

	"github.com/basket/taskchat/internal/persistence"
)

// stopWords never count toward a word-overlap match.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "to": true, "of": true,
	"and": true, "for": true, "in": true, "on": true, "at": true, "with": true,
	"it": true, "this": true, "that": true, "please": true, "task": true,
	"as": true, "mark": true, "complete": true, "done": true, "delete": true,
	"remove": true, "finish": true, "uncomplete": true, "rename": true,
	"update": true, "change": true,
}

// Resolve picks the task ref is talking about: a case-insensitive exact
// title match, else a substring match in either direction, else any shared
// word. The first task matching the earliest test wins.
func Resolve(ref string, tasks []persistence.Task) (persistence.Task, bool) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return persistence.Task{}, false
	}
	for _, t := range tasks {
		if strings.ToLower(t.Title) == ref {
			return t, true
		}
	}
	for _, t := range tasks {
		title := strings.ToLower(t.Title)
		if strings.Contains(title, ref) || strings.Contains(ref, title) {
			return t, true
		}
	}
	refWords := wordSet(ref)
	if len(refWords) == 0 {
		return persistence.Task{}, false
	}
	for _, t := range tasks {
		for w := range wordSet(t.Title) {
			if refWords[w] {
				return t, true
			}
		}
	}
	return persistence.Task{}, false
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" || stopWords[w] {
			continue
		}
		out[stem(w)] = true
	}
	return out
}

// stem folds common English plural endings so "grocery" meets "groceries".
func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && (strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "shes") ||
		strings.HasSuffix(w, "xes") || strings.HasSuffix(w, "sses")):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}
