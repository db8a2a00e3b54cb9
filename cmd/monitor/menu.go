package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type command int

const (
	cmdStart command = iota
	cmdQuit
)

const menuPrompt = "Press 's' to start the task set, 'q' to quit"

// readCommands turns operator input into commands until r is exhausted.
// Anything other than s or q is answered with "Invalid input".
func readCommands(r io.Reader, out io.Writer, cmds chan<- command) {
	defer close(cmds)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		switch strings.TrimSpace(sc.Text()) {
		case "":
		case "s", "S":
			cmds <- cmdStart
		case "q", "Q":
			cmds <- cmdQuit
		default:
			fmt.Fprintln(out, "Invalid input")
		}
	}
}
