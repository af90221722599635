// Package picker is a raw-mode terminal list selector.
package picker

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrCancelled = errors.New("selection cancelled")

type action int

const (
	actionMove action = iota
	actionConfirm
	actionCancel
)

// step applies one key press read from the terminal to cursor.
func step(key []byte, cursor, n int) (int, action) {
	if len(key) == 1 {
		switch key[0] {
		case 13, 10: // Enter
			return cursor, actionConfirm
		case 3, 'q': // Ctrl+C
			return cursor, actionCancel
		case 'j':
			if cursor < n-1 {
				cursor++
			}
		case 'k':
			if cursor > 0 {
				cursor--
			}
		}
	} else if len(key) == 3 && key[0] == 0x1b && key[1] == '[' {
		switch key[2] {
		case 'A': // Up arrow
			if cursor > 0 {
				cursor--
			}
		case 'B': // Down arrow
			if cursor < n-1 {
				cursor++
			}
		}
	}
	return cursor, actionMove
}

func render(w io.Writer, title string, items []string, tag func(string) string, cursor int) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprintf(w, "%s (↑/↓, Enter to confirm):\r\n\r\n", title)
	for i, item := range items {
		suffix := ""
		if tag != nil {
			if t := tag(item); t != "" {
				suffix = " \x1b[33m[⚠ " + t + "]\x1b[0m"
			}
		}
		if i == cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", item, suffix)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", item, suffix)
		}
	}
}

// Select shows items on the terminal and returns the chosen index. tag may
// annotate individual items with a warning.
func Select(title string, items []string, tag func(string) string) (int, error) {
	if len(items) == 0 {
		return 0, fmt.Errorf("nothing to select")
	}
	if len(items) == 1 {
		return 0, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return 0, fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return 0, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	return run(os.Stdin, os.Stdout, title, items, tag)
}

func run(in io.Reader, out io.Writer, title string, items []string, tag func(string) string) (int, error) {
	cursor := 0
	render(out, title, items, tag, cursor)

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("reading input: %w", err)
		}

		var act action
		cursor, act = step(buf[:n], cursor, len(items))
		switch act {
		case actionConfirm:
			fmt.Fprint(out, "\r\n")
			return cursor, nil
		case actionCancel:
			fmt.Fprint(out, "\r\n")
			return 0, ErrCancelled
		}

		fmt.Fprintf(out, "\x1b[%dA", len(items)+2)
		render(out, title, items, tag, cursor)
	}
}
