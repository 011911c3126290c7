package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/hitloop"
)

var threadRef string

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending approval requests in the configured store",
	Args:  cobra.NoArgs,
	Run:   runPending,
}

func init() {
	pendingCmd.Flags().StringVar(&threadRef, "thread", "", "only requests of this thread")
	rootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg, logger, err := loadConfig(ctx)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	s, err := hitloop.NewStore(ctx, &cfg.Store, logger)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = s.Close()
	}()
	records, err := s.ListPending(ctx, threadRef)
	if err != nil {
		logger.Error("Failed to list pending requests", "error", err)
		os.Exit(1)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tTHREAD\tDEADLINE\tATTEMPTS")
	for _, record := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", record.ID, record.ActionRef, record.ThreadRef, record.DeadlineAt.Format(time.RFC3339), record.DeliveryAttempts)
	}
	_ = w.Flush()
}
