// Package forward splits a command line into the arguments the harness
// interprets and the arguments it forwards, untouched, to the test executor.
package forward

import "slices"

// Separator divides harness arguments from forwarded arguments.
const Separator = "--"

// Split returns the arguments before the first Separator and those after it.
// Forwarded arguments keep their order and are never reinterpreted; a second
// Separator is forwarded like any other token. Without a Separator, forwarded
// is nil.
func Split(args []string) (harness, forwarded []string) {
	i := slices.Index(args, Separator)
	if i < 0 {
		return slices.Clone(args), nil
	}
	return slices.Clone(args[:i]), append([]string{}, args[i+1:]...)
}

// SplitAt splits positional arguments whose separator was already consumed by
// a flag parser, such as cobra, which reports its position through
// ArgsLenAtDash. args[:n] belong to the harness and args[n:] are forwarded.
// A negative n means no separator was given.
func SplitAt(args []string, n int) (harness, forwarded []string) {
	if n < 0 || n > len(args) {
		return slices.Clone(args), nil
	}
	return slices.Clone(args[:n]), append([]string{}, args[n:]...)
}

// Join reassembles a command line from its two halves. It is the inverse of
// Split for any args that contain a Separator.
func Join(harness, forwarded []string) []string {
	out := make([]string, 0, len(harness)+1+len(forwarded))
	out = append(out, harness...)
	out = append(out, Separator)
	return append(out, forwarded...)
}
