package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/viant/hitloop"
	"github.com/viant/hitloop/internal/clock"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
)

var (
	approve   bool
	reject    bool
	decidedBy string
	reason    string
)

var decideCmd = &cobra.Command{
	Use:   "decide [id]",
	Short: "Resolve a pending approval request directly in the configured store",
	Long:  `Resolves a request in the store; a running server picks the decision up on its next overdue sweep. Use the HTTP callback to notify a running server immediately.`,
	Args:  cobra.ExactArgs(1),
	Run:   runDecide,
}

func init() {
	decideCmd.Flags().BoolVar(&approve, "approve", false, "approve the request")
	decideCmd.Flags().BoolVar(&reject, "reject", false, "reject the request")
	decideCmd.Flags().StringVar(&decidedBy, "by", "", "reviewer identity")
	decideCmd.Flags().StringVar(&reason, "reason", "", "decision reason")
	decideCmd.MarkFlagsMutuallyExclusive("approve", "reject")
	decideCmd.MarkFlagsOneRequired("approve", "reject")
	_ = decideCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg, logger, err := loadConfig(ctx)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := checkSharedStore(&cfg.Store); err != nil {
		logger.Error("Cannot decide", "error", err)
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
	record, err := s.MarkResolved(ctx, args[0], &store.Resolution{
		Status:     model.StatusOf(approve),
		DecidedBy:  decidedBy,
		Reason:     reason,
		ResolvedAt: clock.Now(),
	})
	if err != nil {
		if conflict, ok := store.AsConflict(err); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s already %s by %s (same outcome: %v)\n", conflict.ID, conflict.Existing, conflict.DecidedBy, conflict.SameOutcome())
			os.Exit(2)
		}
		logger.Error("Failed to resolve request", "id", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Request %s %s by %s\n", record.ID, record.Status, record.DecidedBy)
}

// checkSharedStore rejects stores that a running server cannot observe
func checkSharedStore(config *hitloop.StoreConfig) error {
	switch config.Kind {
	case hitloop.StoreMemory, "":
		return fmt.Errorf("store kind %q is private to one process, use fs, sql or redis", hitloop.StoreMemory)
	}
	return nil
}
