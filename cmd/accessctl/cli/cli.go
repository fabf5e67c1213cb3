// Package cli implements the accessctl operator commands. Each command returns
// a process exit code and writes to the configured streams.
package cli

import (
	"io"
	"os"
)

// Exit codes shared by the commands.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitDenied  = 3
)

// IO carries the output streams of a command.
type IO struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (s IO) withDefaults() IO {
	if s.Stdout == nil {
		s.Stdout = os.Stdout
	}
	if s.Stderr == nil {
		s.Stderr = os.Stderr
	}
	return s
}
