package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
)

var confirmPurge bool

// errAborted is returned when a destructive command was not confirmed.
var errAborted = errors.New("aborted: pass --yes to confirm")

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or clear changes waiting to be synced",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt := openRuntime(ctx, cfg)
		defer rt.close()
		if rt.local == nil {
			return orchestrators.ErrLocalStoreUnavailable
		}

		actions, err := rt.local.Queue.ListAll(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(actions)
		}
		if len(actions) == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUEUED\tACTION\tRECORD\tRETRIES\tLAST ERROR")
		for _, a := range actions {
			fmt.Fprintf(w, "%d\t%s\t%s %s\t%s\t%d/%d\t%s\n",
				a.ID, a.CreatedAt.Local().Format("2006-01-02 15:04"), a.Kind, a.Entity,
				a.EntityKey, a.Retries, cfg.MaxRetries, a.LastError)
		}
		return w.Flush()
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every queued change without replaying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmPurge {
			return errAborted
		}
		ctx := cmd.Context()
		rt := openRuntime(ctx, cfg)
		defer rt.close()
		n, err := rt.reconciler.PurgeQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d queued change(s)\n", n)
		return nil
	},
}

func init() {
	queueListCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	queuePurgeCmd.Flags().BoolVarP(&confirmPurge, "yes", "y", false, "confirm dropping every queued change")
	queueCmd.AddCommand(queueListCmd, queuePurgeCmd)
	rootCmd.AddCommand(queueCmd)
}
