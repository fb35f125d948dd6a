package local

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/seantiz/testrig/internal/environ"
)

// Options are the forwarded arguments the internal executor understands.
type Options struct {
	// Env holds --env KEY=VALUE overrides. Later flags win for repeated keys.
	Env map[string]string
	// Timeout is the --timeout deadline; zero when the flag was absent.
	Timeout time.Duration
	// Extra are positional arguments, including anything after a second
	// separator, appended verbatim to the test command.
	Extra []string
}

// ParseArgs interprets forwarded arguments:
//
//	--env KEY=VALUE   set an environment variable for the test (repeatable)
//	--timeout N       fail the test with a timeout after N seconds
//
// Remaining positional arguments are passed to the test binary. Flags meant
// for the binary itself must follow a second "--".
func ParseArgs(args []string) (Options, error) {
	fs := pflag.NewFlagSet(Name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	envs := fs.StringArray("env", nil, "environment variable for the test process, as KEY=VALUE")
	timeoutS := fs.Int("timeout", 0, "timeout in seconds")

	if err := fs.Parse(args); err != nil {
		return Options{}, fmt.Errorf("parse executor arguments: %w", err)
	}

	opts := Options{
		Env:   make(map[string]string, len(*envs)),
		Extra: fs.Args(),
	}
	for _, kv := range *envs {
		k, v, err := environ.ParseAssignment(kv)
		if err != nil {
			return Options{}, fmt.Errorf("--env: %w", err)
		}
		opts.Env[k] = v
	}

	if fs.Changed("timeout") {
		if *timeoutS <= 0 {
			return Options{}, fmt.Errorf("--timeout must be a positive number of seconds, got %d", *timeoutS)
		}
		opts.Timeout = time.Duration(*timeoutS) * time.Second
	}

	return opts, nil
}
