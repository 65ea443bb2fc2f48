package cli

import (
	"github.com/spf13/cobra"
)

func exportCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "export [path]",
		Short: "Write every table to a flat JSON document",
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
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			st, err := a.Ops.Export(cmd.Context(), "", path)
			if err != nil {
				return err
			}
			if path == "" {
				path = a.Ops.ExportPath
			}
			okColor.Fprintf(a.out, "exported %d rows of %d tables to %s\n", st.Rows, st.Tables, path)
			return nil
		},
	}
}

func importCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "import [path]",
		Short: "Append the rows of a JSON export document and save",
		Long: `Every row of the document becomes a new row of the matching table; row
ids are assigned fresh. Unknown tables or fields abort the import before
anything is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.LoadRepo(); err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			st, err := a.Ops.Import(cmd.Context(), "", path)
			if err != nil {
				return err
			}
			if err := a.Ops.Save(cmd.Context(), ""); err != nil {
				return err
			}
			okColor.Fprintf(a.out, "imported %d rows into %d tables\n", st.Rows, st.Tables)
			return nil
		},
	}
}
