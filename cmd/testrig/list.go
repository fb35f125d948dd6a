package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/testrig/internal/config"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/report"
	"github.com/seantiz/testrig/internal/target"
)

func newTargetsCmd() *cobra.Command {
	manifest := config.Load().Manifest

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the targets defined in the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := target.Load(manifest)
			if err != nil {
				return errWithCode(err, report.ExitInfra)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range m.Names() {
				def := m.Targets[name]
				fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(def.Command, " "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", manifest, "Path to the target manifest")
	return cmd
}

func newExecutorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "executors",
		Short: "List the executors available to the test command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			reg := newRegistry(cfg, config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, info := range reg.List() {
				mark := ""
				if info.Default {
					mark = "(default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, mark, info.Capabilities.Description)
			}
			if _, name, err := reg.Resolve(model.DefaultExecutor()); err != nil {
				fmt.Fprintf(w, "%s\t(default)\tnot registered\n", name)
			}
			return w.Flush()
		},
	}
}
