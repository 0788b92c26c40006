package tui

import (
	"strings"
	"unicode"

	tea "github.com/charmbracelet/bubbletea"
)

// lineEditor is the single-line prompt under the chat log: emacs-style
// editing plus Up/Down recall of earlier submissions. Edits always build a
// fresh slice, so copies of a chatModel never share a buffer.
type lineEditor struct {
	buf []rune
	pos int // cursor, in runes

	past   []string
	recall int    // index into past; len(past) means the live line
	draft  string // the live line, kept while recalling
}

func (e lineEditor) text() string { return string(e.buf) }

// set replaces the line and puts the cursor at its end.
func (e *lineEditor) set(s string) {
	e.buf = []rune(s)
	e.pos = len(e.buf)
}

// take returns the trimmed line, clears the prompt and, when the line is not
// blank, appends it to the recall list.
func (e *lineEditor) take() string {
	line := strings.TrimSpace(e.text())
	e.set("")
	e.draft = ""
	if line != "" {
		e.past = append(e.past, line)
	}
	e.recall = len(e.past)
	return line
}

func (e *lineEditor) splice(from, to int, with []rune) {
	out := make([]rune, 0, len(e.buf)-(to-from)+len(with))
	out = append(out, e.buf[:from]...)
	out = append(out, with...)
	e.buf = append(out, e.buf[to:]...)
	e.pos = from + len(with)
}

func (e *lineEditor) insert(r []rune) {
	e.splice(e.pos, e.pos, r)
}

func (e *lineEditor) backspace() {
	if e.pos > 0 {
		e.splice(e.pos-1, e.pos, nil)
	}
}

func (e *lineEditor) del() {
	if e.pos < len(e.buf) {
		e.splice(e.pos, e.pos+1, nil)
	}
}

// deleteWord removes trailing spaces before the cursor and then the word
// in front of them.
func (e *lineEditor) deleteWord() {
	i := e.pos
	for i > 0 && unicode.IsSpace(e.buf[i-1]) {
		i--
	}
	for i > 0 && !unicode.IsSpace(e.buf[i-1]) {
		i--
	}
	e.splice(i, e.pos, nil)
}

func (e *lineEditor) prev() {
	if e.recall == 0 {
		return
	}
	if e.recall == len(e.past) {
		e.draft = e.text()
	}
	e.recall--
	e.set(e.past[e.recall])
}

func (e *lineEditor) next() {
	if e.recall >= len(e.past) {
		return
	}
	e.recall++
	if e.recall == len(e.past) {
		e.set(e.draft)
		return
	}
	e.set(e.past[e.recall])
}

// key applies an editing key. Keys it does not know are ignored.
func (e *lineEditor) key(k tea.KeyMsg) {
	switch k.String() {
	case "up", "ctrl+p":
		e.prev()
	case "down", "ctrl+n":
		e.next()
	case "backspace":
		e.backspace()
	case "delete":
		e.del()
	case "left", "ctrl+b":
		e.pos = max(e.pos-1, 0)
	case "right", "ctrl+f":
		e.pos = min(e.pos+1, len(e.buf))
	case "home", "ctrl+a":
		e.pos = 0
	case "end", "ctrl+e":
		e.pos = len(e.buf)
	case "ctrl+k":
		e.splice(e.pos, len(e.buf), nil)
	case "ctrl+u":
		e.set("")
	case "ctrl+w", "alt+backspace":
		e.deleteWord()
	case " ":
		// Some terminals report space as KeySpace rather than KeyRunes.
		e.insert([]rune{' '})
	default:
		if k.Type != tea.KeyRunes {
			return
		}
		typed := make([]rune, 0, len(k.Runes))
		for _, r := range k.Runes {
			if r >= 0x20 {
				typed = append(typed, r)
			}
		}
		if len(typed) > 0 {
			e.insert(typed)
		}
	}
}

// view renders the line with a block cursor.
func (e lineEditor) view() string {
	if e.pos >= len(e.buf) {
		return e.text() + "█"
	}
	return string(e.buf[:e.pos]) + "█" + string(e.buf[e.pos+1:])
}
