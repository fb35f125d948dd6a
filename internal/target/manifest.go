// Package target loads the manifest that maps test target names to the
// commands that run them.
package target

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"

	yaml "gopkg.in/yaml.v3"

	"github.com/seantiz/testrig/internal/model"
)

// ErrUnknownTarget is returned by Lookup for a name the manifest does not
// define.
var ErrUnknownTarget = errors.New("unknown target")

// Definition is the per-target configuration.
type Definition struct {
	// Command is the test binary followed by its fixed arguments.
	Command []string `yaml:"command"`

	// Dir is the working directory. Relative paths are resolved against the
	// directory holding the manifest.
	Dir string `yaml:"dir,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`

	// TimeoutS is the deadline applied when no --timeout is forwarded.
	TimeoutS int `yaml:"timeout_s,omitempty"`

	// SkipPlatforms lists GOOS values on which the target is not run.
	SkipPlatforms []string `yaml:"skip_platforms,omitempty"`

	// Executor optionally pins the target to a named executor.
	Executor string `yaml:"executor,omitempty"`
}

// Manifest is a parsed target manifest.
type Manifest struct {
	Targets map[model.Target]Definition `yaml:"targets"`
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve manifest dir: %w", err)
	}
	return Parse(data, abs)
}

// Parse decodes manifest data. baseDir anchors relative target directories.
// Unknown fields are rejected so typos do not silently drop configuration.
func Parse(data []byte, baseDir string) (*Manifest, error) {
	var raw struct {
		Targets map[string]Definition `yaml:"targets"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m := &Manifest{Targets: make(map[model.Target]Definition, len(raw.Targets))}
	for name, def := range raw.Targets {
		t := model.Target(name).Normalize()
		if t == "" {
			return nil, fmt.Errorf("parse manifest: empty target name")
		}
		if _, dup := m.Targets[t]; dup {
			return nil, fmt.Errorf("parse manifest: target %q defined twice", t)
		}
		if len(def.Command) == 0 {
			return nil, fmt.Errorf("parse manifest: target %q has no command", t)
		}
		if def.TimeoutS < 0 {
			return nil, fmt.Errorf("parse manifest: target %q has negative timeout_s", t)
		}
		switch {
		case def.Dir == "":
			def.Dir = baseDir
		case !filepath.IsAbs(def.Dir):
			def.Dir = filepath.Join(baseDir, def.Dir)
		}
		m.Targets[t] = def
	}
	return m, nil
}

// Lookup returns the definition for a target. The "//" prefix is optional.
func (m *Manifest) Lookup(t model.Target) (Definition, error) {
	def, ok := m.Targets[t.Normalize()]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownTarget, t)
	}
	return def, nil
}

// Names returns all target names in sorted order.
func (m *Manifest) Names() []model.Target {
	names := make([]model.Target, 0, len(m.Targets))
	for t := range m.Targets {
		names = append(names, t)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Skipped reports whether the definition opts out of running on goos.
func (d Definition) Skipped(goos string) bool {
	return slices.Contains(d.SkipPlatforms, goos)
}
