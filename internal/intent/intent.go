// Package intent maps free-text chat messages onto the closed set of task
// operations. Classification is a top-down walk over an ordered rule table;
// the first matching rule wins, so rule order is the precedence.
package intent

import (
	"strings"
)

type Intent string

const (
	Create         Intent = "create"
	List           Intent = "list"
	Complete       Intent = "complete"
	Uncomplete     Intent = "uncomplete"
	Update         Intent = "update"
	Delete         Intent = "delete"
	ClearCompleted Intent = "clear_completed"
	Greeting       Intent = "greeting"
	Help           Intent = "help"
	Clarify        Intent = "clarify"
	Unknown        Intent = "unknown"
)

// Destructive reports whether the intent needs a confirmation round trip.
func (i Intent) Destructive() bool {
	return i == Delete
}

// Filter narrows a list request.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterCompleted  Filter = "completed"
	FilterIncomplete Filter = "incomplete"
)

// Completed returns the store filter for f; nil means every task.
func (f Filter) Completed() *bool {
	var v bool
	switch f {
	case FilterCompleted:
		v = true
	case FilterIncomplete:
		v = false
	default:
		return nil
	}
	return &v
}

// Params are the values pulled out of the message.
type Params struct {
	Title     string `json:"title,omitempty"`
	Reference string `json:"reference,omitempty"`
	NewTitle  string `json:"new_title,omitempty"`
	Filter    Filter `json:"filter,omitempty"`
	// Question is set on Clarify results.
	Question string `json:"question,omitempty"`
	// Target is the intent a Clarify result was asking about.
	Target Intent `json:"target,omitempty"`
}

type Result struct {
	Intent Intent `json:"intent"`
	Params Params `json:"params"`
}

// Rule is one row of the classification table. Match receives the
// lowercased, trimmed message and returns the phrase that triggered it.
type Rule struct {
	Intent  Intent
	Match   func(lower string) (trigger string, ok bool)
	Extract func(msg, trigger string) Params
}

var (
	greetingWords = []string{"hello", "hey", "good morning", "good afternoon",
		"good evening", "howdy", "greetings", "what's up", "sup", "hi"}
	helpPhrases   = []string{"help", "what can you do", "how do i", "how to", "assist"}
	createPhrases = []string{"add", "create", "new task", "remember", "make a task"}
	listPhrases   = []string{"list", "show", "view", "see", "my tasks", "all tasks",
		"what are my", "display", "get tasks"}
	clearPhrases = []string{"clear completed", "remove completed", "delete completed",
		"clear done", "remove done", "delete done", "clear finished", "clean up"}
	deletePhrases     = []string{"delete", "remove", "get rid of", "erase", "trash"}
	uncompletePhrases = []string{"uncomplete", "mark as incomplete", "mark incomplete",
		"mark as not done", "undo complete", "uncheck", "mark as undone", "reopen"}
	completePhrases = []string{"i completed", "i finished", "mark as done", "mark complete",
		"complete", "completed", "finish", "finished", "done with", "check off", "as done"}
	updatePhrases = []string{"update", "change", "modify", "rename", "edit"}
)

// Rules is the classification table in precedence order. Clear-completed
// sits before delete and complete because it shares their vocabulary;
// uncomplete sits before complete for the same reason.
var Rules = []Rule{
	{Intent: Greeting, Match: matchGreeting},
	{Intent: Help, Match: containsAny(helpPhrases)},
	{Intent: Create, Match: containsAny(createPhrases), Extract: extractCreate},
	{Intent: List, Match: containsAny(listPhrases), Extract: extractList},
	{Intent: ClearCompleted, Match: containsAny(clearPhrases)},
	{Intent: Delete, Match: containsAny(deletePhrases), Extract: extractRef},
	{Intent: Uncomplete, Match: containsAny(uncompletePhrases), Extract: extractRef},
	{Intent: Complete, Match: containsAny(completePhrases), Extract: extractRef},
	{Intent: Update, Match: containsAny(updatePhrases), Extract: extractUpdate},
}

// Classify runs msg through Rules. A rule whose extractor finds nothing to
// act on turns the result into Clarify.
func Classify(msg string) Result {
	msg = strings.TrimSpace(msg)
	lower := lowerASCII(msg)
	for _, r := range Rules {
		trigger, ok := r.Match(lower)
		if !ok {
			continue
		}
		var p Params
		if r.Extract != nil {
			p = r.Extract(msg, trigger)
		}
		if q := missingParam(r.Intent, p); q != "" {
			return Result{Intent: Clarify, Params: Params{Question: q, Target: r.Intent, Reference: p.Reference}}
		}
		return Result{Intent: r.Intent, Params: p}
	}
	return Result{Intent: Unknown}
}

func missingParam(in Intent, p Params) string {
	switch in {
	case Create:
		if p.Title == "" {
			return "What would you like the new task to be called?"
		}
	case Delete, Complete, Uncomplete:
		if p.Reference == "" {
			return "Which task do you mean?"
		}
	case Update:
		if p.Reference == "" {
			return "Which task would you like to change?"
		}
		if p.NewTitle == "" {
			return "What should the new title be? Try: rename 'old title' to 'new title'."
		}
	}
	return ""
}

func matchGreeting(lower string) (string, bool) {
	if lower == "hi!" {
		return "hi", true
	}
	for _, g := range greetingWords {
		if lower == g || hasWordPrefix(lower, g) {
			return g, true
		}
	}
	return "", false
}

// containsAny matches the first phrase in order that appears as whole words
// somewhere in the message. Inflections are listed as their own phrases.
func containsAny(phrases []string) func(string) (string, bool) {
	return func(lower string) (string, bool) {
		for _, p := range phrases {
			if indexWord(lower, p) >= 0 {
				return p, true
			}
		}
		return "", false
	}
}

func extractCreate(msg, trigger string) Params {
	return Params{Title: ExtractTitle(msg, trigger)}
}

func extractList(msg, _ string) Params {
	lower := lowerASCII(msg)
	f := FilterAll
	switch {
	case containsWordAny(lower, "incomplete", "pending", "not done", "unfinished", "open"):
		f = FilterIncomplete
	case containsWordAny(lower, "completed", "done", "finished"):
		f = FilterCompleted
	}
	return Params{Filter: f}
}

func extractRef(msg, trigger string) Params {
	return Params{Reference: ExtractReference(msg, trigger)}
}

func extractUpdate(msg, trigger string) Params {
	ref, newTitle := extractRename(msg, trigger)
	return Params{Reference: ref, NewTitle: newTitle}
}

func containsWordAny(lower string, words ...string) bool {
	for _, w := range words {
		if indexWord(lower, w) >= 0 {
			return true
		}
	}
	return false
}
