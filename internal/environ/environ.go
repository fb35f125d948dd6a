// Package environ builds the environment of a test process from the ambient
// process environment and per-invocation overrides.
//
// Conflicts are resolved override-wins: a key present in the overrides always
// carries the override's value in the result, whatever the ambient value was.
package environ

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Harness-reserved variables. The harness sets these on every test process;
// overrides may not name them.
const (
	VarInvocationID = "TESTRIG_INVOCATION_ID"
	VarTarget       = "TESTRIG_TARGET"
)

// ErrReservedName is returned when an override names a harness-reserved variable.
var ErrReservedName = errors.New("reserved environment variable")

// ErrInvalidAssignment is returned for a malformed KEY=VALUE string.
var ErrInvalidAssignment = errors.New("invalid environment assignment")

var reserved = []string{VarInvocationID, VarTarget}

// Reserved returns the names the harness owns.
func Reserved() []string {
	return slices.Clone(reserved)
}

// Merge returns the effective environment for a child process in os/exec
// "KEY=VALUE" form. Ambient entries keep their order; duplicate ambient keys
// collapse to the last value seen. Every override replaces the ambient value
// in place, and overrides with no ambient counterpart are appended sorted by
// key. Ambient entries without '=' are dropped.
func Merge(ambient []string, overrides map[string]string) []string {
	order := make([]string, 0, len(ambient)+len(overrides))
	values := make(map[string]string, len(ambient)+len(overrides))

	for _, kv := range ambient {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if _, seen := values[k]; !seen {
			order = append(order, k)
		}
		values[k] = v
	}

	var added []string
	for k, v := range overrides {
		if _, seen := values[k]; !seen {
			added = append(added, k)
		}
		values[k] = v
	}
	slices.Sort(added)
	order = append(order, added...)

	env := make([]string, len(order))
	for i, k := range order {
		env[i] = k + "=" + values[k]
	}
	return env
}

// Layer merges override maps left to right into a new map; later layers win.
func Layer(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// ParseAssignment splits "KEY=VALUE". The value may itself contain '='; the
// key must be non-empty.
func ParseAssignment(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("%w: %q (want KEY=VALUE)", ErrInvalidAssignment, s)
	}
	return k, v, nil
}

// CheckReserved returns ErrReservedName if any override key is harness-owned.
// Keys are checked in sorted order so the reported key is deterministic.
func CheckReserved(overrides map[string]string) error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if slices.Contains(reserved, k) {
			return fmt.Errorf("%w: %s", ErrReservedName, k)
		}
	}
	return nil
}

// Lookup returns the value of key in an environment slice, honoring the
// last-wins rule used by os/exec.
func Lookup(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
