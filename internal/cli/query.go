package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nczempin/httpc-fipe/fipe"
	"github.com/nczempin/httpc-fipe/menu"
	"github.com/nczempin/httpc-fipe/store"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Browse brands, models and years interactively",
	Args:  cobra.NoArgs,
	RunE:  runMenu,
}

var brandsCmd = &cobra.Command{
	Use:   "brands",
	Short: "List vehicle brands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		items, err := api.Brands(cmdContext(cmd))
		if err != nil {
			return err
		}
		printItems(cmd.OutOrStdout(), items)
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models <brand>",
	Short: "List the models of a brand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		brand, err := parseCode("brand", args[0])
		if err != nil {
			return err
		}
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		items, err := api.Models(cmdContext(cmd), brand)
		if err != nil {
			return err
		}
		printItems(cmd.OutOrStdout(), items)
		return nil
	},
}

var yearsCmd = &cobra.Command{
	Use:   "years <brand> <model>",
	Short: "List the years available for a model",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		brand, err := parseCode("brand", args[0])
		if err != nil {
			return err
		}
		model, err := parseCode("model", args[1])
		if err != nil {
			return err
		}
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		items, err := api.Years(cmdContext(cmd), brand, model)
		if err != nil {
			return err
		}
		printItems(cmd.OutOrStdout(), items)
		return nil
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote <brand> <model> <year>",
	Short: "Show the price of a model year",
	Args:  cobra.ExactArgs(3),
	RunE:  runQuote,
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Fetch a path under the base path and print the raw response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		resp, err := c.Get(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(resp.Raw())
		return err
	},
}

func init() {
	rootCmd.AddCommand(menuCmd, brandsCmd, modelsCmd, yearsCmd, quoteCmd, getCmd)
	quoteCmd.Flags().Bool("save", false, "Save the quote to --out-dir (and --history when set)")
	menuCmd.Flags().Duration("retry-delay", menu.DefaultRetryDelay, "Pause after an invalid code")
}

func runMenu(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmdContext(cmd), os.Interrupt)
	defer cancel()

	api, err := newAPI(cmd)
	if err != nil {
		return err
	}
	saver, closeSaver, err := newSaver(cmd)
	if err != nil {
		return err
	}
	defer closeSaver()

	delay, _ := cmd.Flags().GetDuration("retry-delay")
	verbose, _ := cmd.Flags().GetInt("verbose")

	m := menu.New(api, saver, cmd.InOrStdin(), cmd.OutOrStdout(), menu.Options{
		RetryDelay: delay,
		Logger:     newLogger(cmd.ErrOrStderr(), verbose),
	})
	return m.Run(ctx)
}

func runQuote(cmd *cobra.Command, args []string) error {
	brand, err := parseCode("brand", args[0])
	if err != nil {
		return err
	}
	model, err := parseCode("model", args[1])
	if err != nil {
		return err
	}

	api, err := newAPI(cmd)
	if err != nil {
		return err
	}
	q, err := api.Quote(cmdContext(cmd), brand, model, args[2])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), q.Summary())

	save, _ := cmd.Flags().GetBool("save")
	if !save {
		return nil
	}

	saver, closeSaver, err := newSaver(cmd)
	if err != nil {
		return err
	}
	defer closeSaver()

	path, err := saver.Save(cmdContext(cmd), q)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", path)
	return nil
}

// newSaver returns a saver writing to --out-dir and, when --history is set,
// recording into the SQLite history. The returned func closes the history.
func newSaver(cmd *cobra.Command) (store.QuoteSaver, func(), error) {
	outDir, _ := cmd.Flags().GetString("out-dir")
	historyPath, _ := cmd.Flags().GetString("history")

	saver := store.QuoteSaver{Exporter: store.FileExporter{Dir: outDir}}
	if historyPath == "" {
		return saver, func() {}, nil
	}

	h, err := store.NewSQLiteHistory(historyPath)
	if err != nil {
		return store.QuoteSaver{}, nil, fmt.Errorf("failed to open history %q: %w", historyPath, err)
	}
	saver.History = h
	return saver, func() { h.Close() }, nil
}

func parseCode(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s code must be a non-negative integer, got %q", name, s)
	}
	return n, nil
}

func printItems(w io.Writer, items []fipe.Item) {
	fmt.Fprintln(w, "CODE\t\tNAME")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t\t%s\n", it.Code, it.Name)
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
