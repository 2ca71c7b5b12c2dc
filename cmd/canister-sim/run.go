package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/canister-sim/scenario"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <scenario.toml>...",
		Short: "Run scenario files and check their expectations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v, zapcore.Lock(os.Stderr))
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			failed := 0
			for _, path := range args {
				s, err := scenario.Load(path)
				if err != nil {
					return err
				}
				runCtx, cancel := context.WithTimeout(ctx, timeout)
				report, err := scenario.Run(runCtx, s, replicaConfig(v, log), nil)
				cancel()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if err := report.Write(cmd.OutOrStdout()); err != nil {
					return err
				}
				failed += report.Failed()
			}
			if failed > 0 {
				return fmt.Errorf("%d steps failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Wall-clock bound per scenario")
	return cmd
}

func newExampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example",
		Short: "Print a scenario with one canister of every builtin kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return scenario.Encode(cmd.OutOrStdout(), scenario.Demo())
		},
	}
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the builtin canister kinds",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cat := scenario.Builtin()
			for _, k := range cat.Kinds() {
				e, _ := cat.Lookup(k)
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", k, e.Description)
			}
		},
	}
}
