package intent_test

import (
	"testing"

	"github.com/basket/taskchat/internal/intent"
	"github.com/basket/taskchat/internal/persistence"
)

func TestClassify_Scenarios(t *testing.T) {
	tests := []struct {
		msg    string
		intent intent.Intent
		params intent.Params
	}{
		{"add task buy groceries", intent.Create, intent.Params{Title: "buy groceries"}},
		{"Create a new task called 'Call mom'", intent.Create, intent.Params{Title: "Call mom"}},
		{"remember to pay rent tomorrow", intent.Create, intent.Params{Title: "pay rent tomorrow"}},
		{"add water plants to my list", intent.Create, intent.Params{Title: "water plants"}},
		{"show my tasks", intent.List, intent.Params{Filter: intent.FilterAll}},
		{"show completed tasks", intent.List, intent.Params{Filter: intent.FilterCompleted}},
		{"list tasks that are not done", intent.List, intent.Params{Filter: intent.FilterIncomplete}},
		{"what are my pending tasks?", intent.List, intent.Params{Filter: intent.FilterIncomplete}},
		{"delete buy groceries", intent.Delete, intent.Params{Reference: "buy groceries"}},
		{"remove the task called gym", intent.Delete, intent.Params{Reference: "gym"}},
		{`delete "Buy groceries"`, intent.Delete, intent.Params{Reference: "Buy groceries"}},
		{"remove completed tasks", intent.ClearCompleted, intent.Params{}},
		{"clean up finished tasks", intent.ClearCompleted, intent.Params{}},
		{"complete the grocery task", intent.Complete, intent.Params{Reference: "grocery"}},
		{"mark buy milk as done", intent.Complete, intent.Params{Reference: "buy milk"}},
		{"uncomplete call mom", intent.Uncomplete, intent.Params{Reference: "call mom"}},
		{"reopen the report task", intent.Uncomplete, intent.Params{Reference: "report"}},
		{"rename buy milk to buy oat milk", intent.Update, intent.Params{Reference: "buy milk", NewTitle: "buy oat milk"}},
		{"change 'gym' to 'yoga class'", intent.Update, intent.Params{Reference: "gym", NewTitle: "yoga class"}},
		{"hi", intent.Greeting, intent.Params{}},
		{"Hello there", intent.Greeting, intent.Params{}},
		{"what can you do?", intent.Help, intent.Params{}},
		{"what is the weather", intent.Unknown, intent.Params{}},
		{"i completed buy milk", intent.Complete, intent.Params{Reference: "buy milk"}},
		{"rename additional notes to extra notes", intent.Update, intent.Params{Reference: "additional notes", NewTitle: "extra notes"}},
		{"update my address to 12 Oak Lane", intent.Update, intent.Params{Reference: "address", NewTitle: "12 Oak Lane"}},
		{"take a shower", intent.Unknown, intent.Params{}},
		{"listen to the podcast", intent.Unknown, intent.Params{}},
	}
	for _, tt := range tests {
		got := intent.Classify(tt.msg)
		if got.Intent != tt.intent {
			t.Fatalf("Classify(%q).Intent = %q, want %q", tt.msg, got.Intent, tt.intent)
		}
		if got.Params != tt.params {
			t.Fatalf("Classify(%q).Params = %+v, want %+v", tt.msg, got.Params, tt.params)
		}
	}
}

func TestClassify_GreetingNeedsWordBoundary(t *testing.T) {
	if got := intent.Classify("history of my tasks").Intent; got == intent.Greeting {
		t.Fatalf("'history' classified as greeting")
	}
	if got := intent.Classify("supper plans").Intent; got == intent.Greeting {
		t.Fatalf("'supper' classified as greeting")
	}
}

func TestClassify_MissingParamsAskToClarify(t *testing.T) {
	got := intent.Classify("add task")
	if got.Intent != intent.Clarify || got.Params.Target != intent.Create || got.Params.Question == "" {
		t.Fatalf("empty create = %+v, want clarify", got)
	}
	got = intent.Classify("rename buy milk")
	if got.Intent != intent.Clarify || got.Params.Target != intent.Update {
		t.Fatalf("rename without new title = %+v, want clarify", got)
	}
}

func TestClassify_PrecedenceIsAuditable(t *testing.T) {
	want := []intent.Intent{
		intent.Greeting, intent.Help, intent.Create, intent.List, intent.ClearCompleted,
		intent.Delete, intent.Uncomplete, intent.Complete, intent.Update,
	}
	if len(intent.Rules) != len(want) {
		t.Fatalf("rule count = %d, want %d", len(intent.Rules), len(want))
	}
	for i, r := range intent.Rules {
		if r.Intent != want[i] {
			t.Fatalf("rule %d = %q, want %q", i, r.Intent, want[i])
		}
	}
}

func TestExtractReference(t *testing.T) {
	tests := []struct {
		msg, trigger, want string
	}{
		{`finish 'Write report' now`, "finish", "Write report"},
		{"complete task pay the electricity bill before friday evening please", "complete", "pay the electricity bill before"},
		{"delete mom's birthday", "delete", "mom's birthday"},
		{"something odd", "", "something odd"},
	}
	for _, tt := range tests {
		if got := intent.ExtractReference(tt.msg, tt.trigger); got != tt.want {
			t.Fatalf("ExtractReference(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	tasks := []persistence.Task{
		{ID: "1", Title: "Buy groceries"},
		{ID: "2", Title: "Call mom"},
		{ID: "3", Title: "Call the bank"},
	}
	tests := []struct {
		ref    string
		wantID string
		found  bool
	}{
		{"call mom", "2", true},
		{"CALL THE BANK", "3", true},
		{"groceries", "1", true},
		{"delete buy groceries", "1", true},
		{"complete the grocery task", "1", true},
		{"grocery", "1", true},
		{"bank", "3", true},
		{"walk the dog", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := intent.Resolve(tt.ref, tasks)
		if ok != tt.found || got.ID != tt.wantID {
			t.Fatalf("Resolve(%q) = %q,%v; want %q,%v", tt.ref, got.ID, ok, tt.wantID, tt.found)
		}
	}
}

func TestIsMeaningless(t *testing.T) {
	for _, msg := range []string{"", " ", "a", "???", "aaaaa", "ababab", "asdfgh", "qwerty", "!!! ..."} {
		if !intent.IsMeaningless(msg) {
			t.Fatalf("IsMeaningless(%q) = false, want true", msg)
		}
	}
	for _, msg := range []string{"hi", "ok", "add task buy groceries", "show my tasks", "abc", "type"} {
		if intent.IsMeaningless(msg) {
			t.Fatalf("IsMeaningless(%q) = true, want false", msg)
		}
	}
}

func TestReplies(t *testing.T) {
	for _, r := range []string{"yes", "Yes!", "y", "ok", "do it", "go ahead", "yes please delete it", "sure thing"} {
		if !intent.IsAffirmative(r) {
			t.Fatalf("IsAffirmative(%q) = false", r)
		}
	}
	for _, r := range []string{"no", "Nope", "n", "never mind", "no thanks", "please cancel", "don't"} {
		if !intent.IsNegative(r) {
			t.Fatalf("IsNegative(%q) = false", r)
		}
	}
	for _, r := range []string{"maybe", "show my tasks", "nothing"} {
		if intent.IsAffirmative(r) || intent.IsNegative(r) {
			t.Fatalf("%q classified as a confirmation reply", r)
		}
	}
}

func TestFilterCompleted(t *testing.T) {
	if intent.FilterAll.Completed() != nil {
		t.Fatal("all filter should be nil")
	}
	if v := intent.FilterCompleted.Completed(); v == nil || !*v {
		t.Fatal("completed filter should be true")
	}
	if v := intent.FilterIncomplete.Completed(); v == nil || *v {
		t.Fatal("incomplete filter should be false")
	}
}
