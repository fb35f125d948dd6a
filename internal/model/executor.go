package model

import "encoding/json"

// ExecutorSpec identifies which executor runs a test. It is either the
// registry default or a named executor; the zero value is the default.
type ExecutorSpec struct {
	name string
}

// DefaultExecutor returns the spec selecting the registry's default executor.
func DefaultExecutor() ExecutorSpec {
	return ExecutorSpec{}
}

// NamedExecutor returns a spec selecting the executor registered under name.
// An empty name yields the default spec.
func NamedExecutor(name string) ExecutorSpec {
	return ExecutorSpec{name: name}
}

// ParseExecutorSpec converts a command-line value into a spec. The empty
// string is the conventional spelling of the default executor.
func ParseExecutorSpec(s string) ExecutorSpec {
	return NamedExecutor(s)
}

// IsDefault reports whether the spec selects the default executor.
func (e ExecutorSpec) IsDefault() bool {
	return e.name == ""
}

// Name returns the executor name, or "" for the default spec.
func (e ExecutorSpec) Name() string {
	return e.name
}

func (e ExecutorSpec) String() string {
	if e.IsDefault() {
		return "<default>"
	}
	return e.name
}

// MarshalJSON encodes the spec as its name; the default spec is "".
func (e ExecutorSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.name)
}

// UnmarshalJSON decodes a name produced by MarshalJSON.
func (e *ExecutorSpec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	e.name = name
	return nil
}
