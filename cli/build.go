package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kasuganosora/gamedb/build"
	"github.com/kasuganosora/gamedb/repo"
	"github.com/spf13/cobra"
)

func buildCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Switch the asset to binary around an external build",
		Long: `The asset is stored as JSON while editing and as binary while building.

  gamedb build run -- <command...>   switch, run the command, switch back
  gamedb build pre                   switch JSON to binary and mark pending
  gamedb build post                  switch back if pre marked it pending

The pending mark lives in the cache; pre and post can only run as separate
processes when cache.redis_addr is configured.`,
	}
	cmd.AddCommand(buildRunCmd(open), buildPreCmd(open), buildPostCmd(open))
	return cmd
}

func buildRunCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "run [-- command...]",
		Short: "Run a build command between the pre and post build hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			argv := args
			if len(argv) == 0 {
				argv = a.Config.Build.Command
			}
			if len(argv) == 0 {
				return errors.New("no build command: pass one after -- or set build.command")
			}
			a.Switcher()
			runner := build.NewRunner(a.Hooks, a.Cache, a.Logger)
			runner.Stdout, runner.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			if err := runner.Run(cmd.Context(), argv); err != nil {
				return err
			}
			okColor.Fprintf(a.out, "build finished, format %s\n", a.Repo.Format())
			return nil
		},
	}
}

func buildPreCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "pre",
		Short: "Switch the asset from JSON to binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Config.Cache.RedisAddr == "" {
				warnColor.Fprintln(a.out, "cache is process-local: a separate `build post` will not see the pending mark")
			}
			s := a.Switcher()
			if err := s.PreBuild(cmd.Context()); err != nil {
				return err
			}
			return reportPending(cmd.Context(), a.out, s, a.Repo.Format())
		},
	}
}

func reportPending(ctx context.Context, out io.Writer, s *build.Switcher, format repo.Format) error {
	pending, err := s.Pending(ctx)
	if err != nil {
		return fmt.Errorf("read pending mark: %w", err)
	}
	okColor.Fprintf(out, "format %s (pending revert: %t)\n", format, pending)
	return nil
}

func buildPostCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "post",
		Short: "Switch the asset back to JSON after a build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.LoadRepo(); err != nil {
				return err
			}
			if err := a.Switcher().PostBuild(cmd.Context()); err != nil {
				return err
			}
			okColor.Fprintf(a.out, "format %s\n", a.Repo.Format())
			return nil
		},
	}
}
