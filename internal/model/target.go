package model

import "strings"

// Target names a unit of test work, e.g. "sh_test:test". It is opaque to the
// harness apart from normalization.
type Target string

// Normalize strips the cosmetic "//" cell-root prefix and surrounding space,
// so "//sh_test:test" and "sh_test:test" name the same target.
func (t Target) Normalize() Target {
	s := strings.TrimSpace(string(t))
	return Target(strings.TrimPrefix(s, "//"))
}

func (t Target) String() string {
	return string(t)
}
