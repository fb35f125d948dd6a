package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/testrig/internal/config"
	"github.com/seantiz/testrig/internal/engine"
	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/executor/local"
	"github.com/seantiz/testrig/internal/executor/remote"
	"github.com/seantiz/testrig/internal/forward"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/report"
	"github.com/seantiz/testrig/internal/store"
	"github.com/seantiz/testrig/internal/target"
)

type testOptions struct {
	executor string
	// executorSet is true when --test-executor was given, even as "".
	executorSet bool
	manifest string
	dbPath   string
	jobs     int
	verbose  bool
}

func newTestCmd() *cobra.Command {
	cfg := config.Load()
	opts := testOptions{
		manifest: cfg.Manifest,
		dbPath:   ":memory:",
		jobs:     cfg.Jobs,
	}

	cmd := &cobra.Command{
		Use:   "test [flags] TARGET... [-- EXECUTOR-ARGS...]",
		Short: "Run test targets",
		Example: `  testrig test sh_test:test
  testrig test --test-executor internal sh_test:test
  testrig test sh_test:test_env -- --env TEST_VAR=TEST_VALUE
  testrig test sh_test:test_timeout -- --timeout 1`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, forwarded := forward.SplitAt(args, cmd.ArgsLenAtDash())
			if len(targets) == 0 {
				return errWithCode(errors.New("no targets given"), report.ExitInfra)
			}
			opts.executorSet = cmd.Flags().Changed("test-executor")
			return runTests(cmd, cfg, opts, targets, forwarded)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.executor, "test-executor", "", "Executor to run the tests with (default depends on TESTRIG_ALLOW_INTERNAL_EXECUTOR)")
	f.StringVar(&opts.manifest, "manifest", opts.manifest, "Path to the target manifest")
	f.StringVar(&opts.dbPath, "db", opts.dbPath, "SQLite database recording the invocations")
	f.IntVarP(&opts.jobs, "jobs", "j", opts.jobs, "Number of targets to run in parallel")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log harness activity and print captured stdout")
	return cmd
}

// newRegistry registers every executor the CLI knows about and selects the
// default the environment allows.
func newRegistry(cfg config.Config, logger *slog.Logger) *executor.Registry {
	reg := executor.NewRegistry()
	reg.Register(executor.InternalName, local.New(logger, local.WithGrace(cfg.KillGrace)))
	reg.Register(remote.Name, remote.New(cfg.RemoteURL, logger))
	reg.SetDefault(cfg.DefaultExecutor())
	return reg
}

func runTests(cmd *cobra.Command, cfg config.Config, opts testOptions, targets, forwarded []string) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := config.NewLogger(os.Stderr, level)

	m, err := target.Load(opts.manifest)
	if err != nil {
		return errWithCode(err, report.ExitInfra)
	}

	printer := &report.Printer{
		Out:        cmd.OutOrStdout(),
		Err:        cmd.ErrOrStderr(),
		ShowOutput: opts.verbose,
	}

	var reqs []engine.Request
	for _, name := range targets {
		t := model.Target(name).Normalize()
		def, err := m.Lookup(t)
		if err != nil {
			return errWithCode(err, report.ExitInfra)
		}
		if def.Skipped(runtime.GOOS) {
			printer.Skipped(t, "not supported on "+runtime.GOOS)
			continue
		}

		spec := model.DefaultExecutor()
		switch {
		case opts.executorSet:
			spec = model.ParseExecutorSpec(opts.executor)
		case def.Executor != "":
			spec = model.NamedExecutor(def.Executor)
		}

		reqs = append(reqs, engine.Request{
			Target:   t,
			Executor: spec,
			Command:  def.Command,
			Dir:      def.Dir,
			Env:      def.Env,
			Args:     forwarded,
			TimeoutS: def.TimeoutS,
		})
	}
	if len(reqs) == 0 {
		return nil
	}

	db, err := store.NewSQLiteStore(opts.dbPath)
	if err != nil {
		return errWithCode(fmt.Errorf("open database: %w", err), report.ExitInfra)
	}
	defer db.Close()

	eng := engine.NewEngine(db, newRegistry(cfg, logger), logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("running targets", "count", len(reqs), "jobs", opts.jobs)
	invs, runErr := eng.RunAll(ctx, reqs, opts.jobs)

	done := make([]*model.Invocation, 0, len(invs))
	for _, inv := range invs {
		if inv != nil {
			printer.Invocation(inv)
			done = append(done, inv)
		}
	}
	printer.Summary(done)

	if runErr != nil {
		return errWithCode(runErr, report.ExitInfra)
	}
	if code := report.ExitCode(done); code != report.ExitSuccess {
		return errWithCode(nil, code)
	}
	return nil
}
