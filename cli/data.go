package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/kasuganosora/gamedb/game/params"
	"github.com/kasuganosora/gamedb/repo"
	"github.com/kasuganosora/gamedb/resource"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	tableColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	dimColor   = color.New(color.Faint)
)

func initCmd(open opener) *cobra.Command {
	var reseed bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the repository asset and load the seed tables",
		Long: `Loads the existing asset (or starts empty), loads every seed file from
repo.seed_dir, enables the settings addon with repo.format and saves.

Seeding is skipped when the repository already has tables, unless --reseed
is given, in which case the seed rows are appended.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.LoadRepo(); err != nil {
				return err
			}

			dir := a.Config.Repo.SeedDir
			switch {
			case len(a.Repo.Metas()) > 0 && !reseed:
				warnColor.Fprintf(a.out, "repository has %d tables, seeding skipped\n", len(a.Repo.Metas()))
			case dir == "":
			default:
				if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
					warnColor.Fprintf(a.out, "seed dir %s not found, seeding skipped\n", dir)
					break
				}
				st, err := resource.NewLoader(dir, a.Logger).Load(a.Repo)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "seeded %d rows from %d files (%d tables created)\n", st.Rows, st.Files, st.Created)
			}

			format, err := repo.ParseFormat(a.Config.Repo.Format)
			if err != nil {
				return err
			}
			a.Repo.EnableSettings(format)
			if err := a.Ops.Save(cmd.Context(), ""); err != nil {
				return err
			}
			okColor.Fprintf(a.out, "saved %s (%s)\n", a.Repo.Path(), a.Repo.Format())
			return nil
		},
	}
	cmd.Flags().BoolVar(&reseed, "reseed", false, "append seed rows to a non-empty repository")
	return cmd
}

func dumpCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [table...]",
		Short: "Print tables and their rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.LoadRepo(); err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = a.Repo.TableNames()
			}
			for _, name := range names {
				m, err := a.Repo.MustMeta(name)
				if err != nil {
					return err
				}
				dumpMeta(a.out, m)
			}
			return nil
		},
	}
}

func dumpMeta(w io.Writer, m *repo.Meta) {
	tableColor.Fprintf(w, "%s", m.Name())
	dimColor.Fprintf(w, " (%d rows)\n", m.CountEntities())
	fields := m.Fields()
	i := 0
	m.ForEachEntity(func(e *repo.Entity) {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			v, _ := e.Get(f.Name)
			parts = append(parts, f.Name+"="+v.String())
		}
		fmt.Fprintf(w, "  [%d] %s\n", i, strings.Join(parts, " "))
		i++
	})
}

func setCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "set <table> <index> <field> <value>",
		Short: "Assign one field of one row and save",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index %q: %w", args[1], err)
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.LoadRepo(); err != nil {
				return err
			}
			e, err := a.Ops.SetFields("", args[0], idx, map[string]any{args[2]: args[3]})
			if err != nil {
				return err
			}
			if err := a.Ops.Save(cmd.Context(), ""); err != nil {
				return err
			}
			v, _ := e.Get(args[2])
			okColor.Fprintf(a.out, "%s[%d].%s = %s\n", args[0], idx, args[2], v)
			return nil
		},
	}
}

func paramsCmd(open opener) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the typed parameters of the params table",
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
			if table == "" {
				table = a.Config.Simulation.ParamsTable
			}
			t, err := params.Load(a.Repo, table, a.Logger)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v := t[k]
				fmt.Fprintf(a.out, "%s = %s ", k, v)
				dimColor.Fprintf(a.out, "(%s)\n", v.Kind())
			}
			a.Logger.Debug("params printed", zap.String("table", table), zap.Int("count", len(keys)))
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "params table (default simulation.params_table)")
	return cmd
}

func formatCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "format [json|binary]",
		Short: "Show or change the asset format",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.LoadRepo(); err != nil {
				return err
			}
			if len(args) == 0 {
				settings := "disabled"
				if a.Repo.Settings() != nil {
					settings = "enabled"
				}
				fmt.Fprintf(a.out, "%s (settings addon %s)\n", a.Repo.Format(), settings)
				return nil
			}
			f, err := repo.ParseFormat(args[0])
			if err != nil {
				return err
			}
			a.Repo.EnableSettings(f)
			if err := a.Repo.SetFormat(f); err != nil {
				return err
			}
			if err := a.Ops.Save(cmd.Context(), ""); err != nil {
				return err
			}
			okColor.Fprintf(a.out, "format %s\n", a.Repo.Format())
			return nil
		},
	}
}
