package commands

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/docsmith/internal/output"
	"github.com/jmylchreest/docsmith/pkg/strategy"
)

var batchCmd = &cobra.Command{
	Use:   "batch [flags] FILE...",
	Short: "Process many files concurrently with the batch provider",
	Long: `Process files concurrently through batch.provider, at most
batch.max_workers at a time. A failed document does not stop the batch;
its error is recorded alongside the successful results.

Example:
  docsmith batch -c pipeline.yaml -s receipt.yaml \
      -i "Extract the receipt" receipts/*.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addExtractFlags(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipeline()
	if err != nil {
		return err
	}
	f, err := readExtractFlags(cmd)
	if err != nil {
		return err
	}

	b, err := cfg.BuildBatch()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bc := b.ProcessBatch(ctx, args, f.instruction, f.shape)

	dst, closeDst, err := openOutput(f.output)
	if err != nil {
		return err
	}
	defer func() { _ = closeDst() }()

	w, err := output.NewWriter(dst, f.format)
	if err != nil {
		return err
	}
	results := bc.Results()
	for _, key := range slices.Sorted(maps.Keys(results)) {
		out := results[key]
		if err := w.Write(output.NewRecord(key, b.Name(), out.Result, out.Err, out.Duration)); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	printSummary(bc)
	return bc.Err()
}

func printSummary(bc *strategy.BatchContext) {
	fmt.Fprintf(os.Stderr, "\nBatch %s\n", bc.ID)
	fmt.Fprintf(os.Stderr, "  Documents: %s\n", humanize.Comma(int64(bc.TotalDocuments)))
	fmt.Fprintf(os.Stderr, "  Completed: %s\n", humanize.Comma(int64(bc.CompletedCount())))
	fmt.Fprintf(os.Stderr, "  Failed:    %s\n", humanize.Comma(int64(bc.FailedCount())))
	fmt.Fprintf(os.Stderr, "  Started:   %s\n", humanize.Time(bc.StartedAt))
	fmt.Fprintf(os.Stderr, "  Duration:  %s\n", bc.Duration().Round(time.Millisecond))
}
