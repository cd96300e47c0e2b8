package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/gwr-relay/internal/export"
	"github.com/sells-group/gwr-relay/internal/gwr"
)

var (
	batchIn          string
	batchOut         string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Look up a list of EGIDs and export the records as CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchConcurrency != 0 {
			cfg.Batch.Concurrency = batchConcurrency
		}

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		egids, err := export.ReadEGIDs(batchIn)
		if err != nil {
			return err
		}

		results, err := processBatch(ctx, egids, cfg.Batch.Concurrency, env.Lookup.Lookup)
		if err != nil {
			return err
		}

		if err := export.WriteFile(batchOut, results); err != nil {
			return err
		}
		zap.L().Info("batch written", zap.String("path", batchOut), zap.Int("rows", len(results)))
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchIn, "in", "", "input file with one EGID per row (.csv, .txt or .xlsx)")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "output file (.csv or .xlsx)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel lookups (default from config)")
	_ = batchCmd.MarkFlagRequired("in")
	_ = batchCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(batchCmd)
}

// lookupFunc is the callback signature for resolving one EGID.
type lookupFunc func(ctx context.Context, egid string) (gwr.Record, error)

// processBatch looks up egids concurrently. Individual failures are recorded
// in the result row and never abort the batch. Results keep input order.
func processBatch(ctx context.Context, egids []string, concurrency int, lookup lookupFunc) ([]export.Result, error) {
	results := make([]export.Result, len(egids))
	if len(egids) == 0 {
		zap.L().Info("no egids to process")
		return results, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("egids", len(egids)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for i, egid := range egids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := lookup(gctx, egid)
			results[i] = export.Result{EGID: egid, Record: rec, Err: err}
			if err != nil {
				failed.Add(1)
				zap.L().Warn("lookup failed", zap.String("egid", egid), zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			succeeded.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, nil
}
