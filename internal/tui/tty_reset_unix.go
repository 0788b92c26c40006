//go:build !windows

package tui

import (
	"os"
	"os/exec"

	"github.com/mattn/go-isatty"
)

// restoreTerminal puts the controlling terminal back into cooked mode after
// a program exits abnormally. Errors are ignored.
func restoreTerminal() {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return
	}
	_ = exec.Command("sh", "-c", "stty sane < /dev/tty > /dev/null 2>&1").Run()
}
