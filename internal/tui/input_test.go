package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func press(e *lineEditor, keys ...string) {
	for _, k := range keys {
		switch k {
		case "backspace":
			e.key(tea.KeyMsg{Type: tea.KeyBackspace})
		case "delete":
			e.key(tea.KeyMsg{Type: tea.KeyDelete})
		case "left":
			e.key(tea.KeyMsg{Type: tea.KeyLeft})
		case "home":
			e.key(tea.KeyMsg{Type: tea.KeyHome})
		case "ctrl+w":
			e.key(tea.KeyMsg{Type: tea.KeyCtrlW})
		case "ctrl+k":
			e.key(tea.KeyMsg{Type: tea.KeyCtrlK})
		default:
			e.key(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
		}
	}
}

func TestLineEditor_Editing(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want string
	}{
		{"typing", []string{"add ", "milk"}, "add milk"},
		{"backspace", []string{"milkk", "backspace"}, "milk"},
		{"insert mid line", []string{"ad milk", "left", "left", "left", "left", "left", "d"}, "add milk"},
		{"delete at home", []string{"xadd", "home", "delete"}, "add"},
		{"kill to end", []string{"add milk", "home", "ctrl+k"}, ""},
		{"delete word", []string{"hello   world", "ctrl+w"}, "hello   "},
		{"delete word over spaces", []string{"abc   ", "ctrl+w"}, ""},
		{"control runes dropped", []string{"a\nb\tc"}, "abc"},
		{"backspace at start", []string{"home", "backspace"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e lineEditor
			press(&e, tt.keys...)
			if got := e.text(); got != tt.want {
				t.Fatalf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineEditor_TakeRecordsHistory(t *testing.T) {
	var e lineEditor
	e.set("  show my tasks  ")
	if got := e.take(); got != "show my tasks" {
		t.Fatalf("take = %q", got)
	}
	if e.text() != "" {
		t.Fatal("take should clear the line")
	}
	e.set("   ")
	if got := e.take(); got != "" {
		t.Fatalf("blank take = %q", got)
	}
	if len(e.past) != 1 {
		t.Fatalf("blank lines must not be recalled: %v", e.past)
	}
	e.prev()
	e.prev()
	if got := e.text(); got != "show my tasks" {
		t.Fatalf("recall = %q", got)
	}
}

func TestLineEditor_View(t *testing.T) {
	var e lineEditor
	e.set("abc")
	if got := e.view(); got != "abc█" {
		t.Fatalf("view at end = %q", got)
	}
	press(&e, "left")
	if got := e.view(); got != "ab█" {
		t.Fatalf("view mid line = %q", got)
	}
}
