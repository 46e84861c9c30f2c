package git

import "strings"

// Command is a program invocation: the program name followed by its arguments.
// A nil Command means there is nothing to run.
type Command []string

// Program returns the executable name, or "" for an empty command
func (c Command) Program() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Args returns the arguments following the program name
func (c Command) Args() []string {
	if len(c) < 2 {
		return nil
	}
	return c[1:]
}

// String renders the command for logs and dry-run output
func (c Command) String() string {
	return strings.Join(c, " ")
}
