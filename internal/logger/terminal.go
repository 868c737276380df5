package logger

import "github.com/mattn/go-isatty"

// isTerminal reports whether the file descriptor is attached to a
// terminal, including Cygwin and MSYS pseudo-terminals on Windows.
func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
