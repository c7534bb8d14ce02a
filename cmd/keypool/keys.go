package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"keypool/internal/health"
	"keypool/internal/httpapi"
	"keypool/internal/models"
	"keypool/internal/utils"
)

func newImportCmd() *cobra.Command {
	var prefix, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import upstream keys, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open key file: %w", err)
				}
				defer f.Close()
				in = f
			}
			secrets, err := readLines(in)
			if err != nil {
				return err
			}

			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				result, err := deps.Keys.BatchCreate(ctx, prefix, secrets)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, key := range result.SuccessKeys {
					fmt.Fprintf(out, "%d\t%s\t%s\n", key.ID, key.Name, utils.MaskSecret(key.Secret))
				}
				fmt.Fprintf(out, "Imported %d of %d keys, %d failed\n", result.SuccessCount, result.TotalCount, result.FailCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Name prefix of imported keys")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "File holding one key per line, - for stdin")
	_ = cmd.MarkFlagRequired("prefix")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "check [key-id...]",
		Short: "Probe keys upstream and record their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass key ids or --all")
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				out := cmd.OutOrStdout()
				if all {
					result, err := deps.Checker.UpdateAllBalances(ctx)
					if err != nil {
						return err
					}
					for _, msg := range result.Errors {
						fmt.Fprintln(out, msg)
					}
					fmt.Fprintf(out, "Checked %d keys: %d updated, %d failed\n", result.TotalKeys, result.UpdatedKeys, result.FailedKeys)
					return nil
				}

				result, err := checkKeys(ctx, deps.Checker, ids)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tOK\tCODE\tMESSAGE")
				for _, r := range result.Results {
					fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", r.KeyID, r.KeyName, r.Success, r.ErrorCode, r.Message)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "%d succeeded, %d failed\n", result.SuccessCount, result.FailCount)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Check every enabled key and refresh balances")
	return cmd
}

func newPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Print the active pool the selector would hand out now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				keys, err := deps.Keys.SelectActivePool(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tKEY\tBALANCE")
				for _, key := range keys {
					balance := "-"
					if key.Balance.Valid {
						balance = key.Balance.Decimal.String()
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", key.ID, key.Name, utils.MaskSecret(key.Secret), balance)
				}
				return tw.Flush()
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Usage statistics",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "trigger",
		Short: "Run a snapshot pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				summary, err := deps.Stats.Trigger(ctx)
				if err != nil {
					return err
				}
				if summary.Skipped {
					fmt.Fprintln(cmd.OutOrStdout(), "Stats pass already running elsewhere, skipped")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stats pass %s wrote %d rows in %s\n",
					summary.RunID, summary.Rows, summary.FinishedAt.Sub(summary.StartedAt))
				return nil
			})
		},
	})

	var date string
	var hour int
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored snapshot rows of one day or hour",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				rows, err := deps.Stats.Snapshots(ctx, date, hour)
				if err != nil {
					return err
				}
				return printSnapshots(cmd.OutOrStdout(), rows)
			})
		},
	}
	show.Flags().StringVar(&date, "date", "", "Day as YYYY-MM-DD, today when empty")
	show.Flags().IntVar(&hour, "hour", models.FullDayHour, "Hour 0-23, -1 for the whole-day rows")
	cmd.AddCommand(show)
	return cmd
}

func printSnapshots(w io.Writer, rows []*models.RequestStat) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No snapshot rows for this slot")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tDIMENSION\tREQUESTS\tERRORS\tTOKENS\tCOST\tAVG_MS")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%.1f\n",
			row.StatType, row.Dimension, row.RequestCount, row.ErrorCount, row.TotalTokens, row.TotalCost.String(), row.AvgLatencyMs)
	}
	return tw.Flush()
}

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect the usage writer",
	}

	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Usage entries the writer gave up on",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered usage entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				items, err := deps.UsageWorker.GetDeadLetterItems(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tREQUEST\tFAILED_AT\tERROR")
				for _, item := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID, item.Item.RequestID, item.Timestamp.Format(time.DateTime), item.Error)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "Maximum entries to list, 0 for all")

	retry := &cobra.Command{
		Use:   "retry <id>",
		Short: "Put a dead-lettered entry back on the usage queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				if err := deps.UsageWorker.RetryDeadLetterItem(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Re-queued %s\n", args[0])
				return nil
			})
		},
	}

	dlq.AddCommand(list, retry)
	cmd.AddCommand(dlq)
	return cmd
}

// checkKeys probes one key directly and several as a budgeted batch
func checkKeys(ctx context.Context, checker *health.Checker, ids []int64) (*health.BatchCheckResult, error) {
	if len(ids) != 1 {
		return checker.CheckMany(ctx, ids)
	}

	r, err := checker.CheckOne(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	batch := &health.BatchCheckResult{TotalCount: 1, Results: []*health.CheckResult{r}}
	if r.Success {
		batch.SuccessCount = 1
	} else {
		batch.FailCount = 1
	}
	return batch, nil
}

// readLines returns every line of r; blank lines are kept for the importer to drop
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	return lines, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, utils.Errorf(utils.ErrInvalidArgument, "invalid key id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
