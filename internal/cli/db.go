package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dshills/abigate/internal/config"
	"github.com/dshills/abigate/internal/output"
	"github.com/dshills/abigate/internal/review"
	"github.com/dshills/abigate/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagState string
	flagDays  int
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and maintain stored results",
}

// withStore opens the store for a db subcommand and reports failures.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cfg config.Config, st *store.Store) error) error {
	cfg, err := config.Load(buildOverrides())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		failure(err)
		return nil
	}
	defer st.Close()
	if err := fn(ctx, cfg, st); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}
		failure(err)
	}
	return nil
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch flagState {
		case "", string(review.StateSeen), string(review.StateDone):
		default:
			return fmt.Errorf("invalid state %q (want seen or done)", flagState)
		}
		return withStore(cmd, func(ctx context.Context, _ config.Config, st *store.Store) error {
			reqs, err := st.List(ctx, flagState)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tRESULT\tUPDATED")
			for _, r := range reqs {
				result := r.Result
				if result == "" {
					result = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.State, result, r.Updated.Local().Format(time.DateTime))
			}
			return tw.Flush()
		})
	},
}

var dbLogCmd = &cobra.Command{
	Use:   "log <id>",
	Short: "Print the log of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, _ config.Config, st *store.Store) error {
			entries, err := st.Log(ctx, args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(os.Stdout, "%s %s\n", e.Created.Local().Format(time.DateTime), e.Line)
			}
			return nil
		})
	},
}

var dbShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the stored reports of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, cfg config.Config, st *store.Store) error {
			reports, err := st.Reports(ctx, args[0])
			if err != nil {
				return err
			}
			decisions := make([]review.Decision, 0, len(reports))
			for _, r := range reports {
				decisions = append(decisions, r.Decision)
			}
			return output.WriteOutcome(&review.Outcome{
				RequestID: args[0],
				Decision:  review.Combine(decisions...),
				Reports:   reports,
			}, cfg.Format, flagOut)
		})
	},
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a request with its reports and log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, cfg config.Config, st *store.Store) error {
			reports, err := st.Reports(ctx, args[0])
			if err != nil {
				return err
			}
			if err := st.Delete(ctx, args[0]); err != nil {
				return err
			}
			var keys []string
			for _, r := range reports {
				for _, lr := range r.LibResults {
					keys = append(keys, lr.Report)
				}
			}
			removeArtifacts(ctx, cfg, map[string][]string{args[0]: keys})
			fmt.Fprintf(os.Stdout, "Deleted request %s.\n", args[0])
			return nil
		})
	},
}

var dbRecheckCmd = &cobra.Command{
	Use:   "recheck <id>",
	Short: "Mark a request for another check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, _ config.Config, st *store.Store) error {
			if err := st.Recheck(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Request %s will be checked again.\n", args[0])
			return nil
		})
	},
}

var dbPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove requests not updated for a number of days",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDays <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		return withStore(cmd, func(ctx context.Context, cfg config.Config, st *store.Store) error {
			before := time.Now().AddDate(0, 0, -flagDays)
			pruned, err := st.Prune(ctx, before)
			if err != nil {
				return err
			}
			removed := removeArtifacts(ctx, cfg, pruned.Reports)
			fmt.Fprintf(os.Stdout, "Pruned %d requests and %d reports.\n", len(pruned.Requests), removed)
			return nil
		})
	},
}

// removeArtifacts deletes stored HTML reports and returns how many were
// removed. Failures are reported but do not stop the removal.
func removeArtifacts(ctx context.Context, cfg config.Config, reports map[string][]string) int {
	if len(reports) == 0 {
		return 0
	}
	arts, err := newArtifacts(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open report store: %v\n", err)
		return 0
	}
	n := 0
	for id, keys := range reports {
		for _, key := range keys {
			if key == "" {
				continue
			}
			if err := arts.Remove(ctx, artifactKey(id, key)); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: removing report %s: %v\n", key, err)
				continue
			}
			n++
		}
	}
	return n
}

// artifactKey returns the object key of a stored report name. Reports whose
// upload failed were stored under their bare file name.
func artifactKey(id, name string) string {
	if strings.HasPrefix(name, id+"/") {
		return name
	}
	return id + "/" + name
}

func init() {
	dbListCmd.Flags().StringVar(&flagState, "state", "", "Only list requests in this state (seen, done)")
	dbShowCmd.Flags().StringVar(&flagFormat, "format", "", "Output format (text, json, markdown)")
	dbShowCmd.Flags().StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	dbPruneCmd.Flags().IntVar(&flagDays, "days", 0, "Remove requests older than this many days")

	dbCmd.AddCommand(dbListCmd)
	dbCmd.AddCommand(dbLogCmd)
	dbCmd.AddCommand(dbShowCmd)
	dbCmd.AddCommand(dbDeleteCmd)
	dbCmd.AddCommand(dbRecheckCmd)
	dbCmd.AddCommand(dbPruneCmd)
}
