package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nczempin/httpc-fipe/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect quotes recorded in the --history database",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved quotes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		records, err := h.List(cmdContext(cmd))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No saved quotes.")
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(out, "%s  %s  %s (%d)  %s\n",
				rec.ID,
				rec.CreatedAt.Local().Format(time.DateTime),
				rec.Quote.Model,
				rec.Quote.ModelYear,
				rec.Quote.Price)
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved quote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		rec, err := h.Get(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no saved quote with id %q", args[0])
		}
		if err := h.Delete(cmdContext(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory(cmd *cobra.Command) (*store.SQLiteHistory, error) {
	path, _ := cmd.Flags().GetString("history")
	if path == "" {
		return nil, fmt.Errorf("history database is required (use --history)")
	}
	h, err := store.NewSQLiteHistory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %q: %w", path, err)
	}
	return h, nil
}
