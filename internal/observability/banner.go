package observability

import (
	"fmt"
	"io"
	"strings"
)

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
	colorPurple   = "\033[35m"
)

const banner = `
 _____ ____  ___ _     _   _    _
|_   _|  _ \|_ _| |   | | | |  / \
  | | | |_) || || |   | |_| | / _ \
  | | |  _ < | || |___|  _  |/ ___ \
  |_| |_| \_\___|_____|_| |_/_/   \_\
`

// PrintBanner writes the startup banner followed by one line per detail.
// Colors and centering are only applied when stdout is a terminal.
func PrintBanner(w io.Writer, details ...string) {
	tty := IsTerminal()
	width := 0
	if tty {
		width = TermWidth()
	}

	for _, l := range strings.Split(strings.Trim(banner, "\n"), "\n") {
		fmt.Fprintln(w, paint(center(l, width), colorNeonCyan, tty))
	}
	fmt.Fprintln(w)
	for _, d := range details {
		fmt.Fprintln(w, paint(center(d, width), colorPurple, tty))
	}
}

func center(s string, width int) string {
	padding := (width - len(s)) / 2
	if padding <= 0 {
		return s
	}
	return strings.Repeat(" ", padding) + s
}

func paint(s, color string, enabled bool) string {
	if !enabled {
		return s
	}
	return color + s + colorReset
}
