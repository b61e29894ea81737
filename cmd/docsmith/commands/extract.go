package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/internal/output"
	"github.com/jmylchreest/docsmith/pkg/provider"
)

var extractCmd = &cobra.Command{
	Use:   "extract [flags] FILE...",
	Short: "Run the configured pipeline on each file",
	Long: `Run the pipeline's strategy tree on each file in turn and write one
record per file.

Examples:
  docsmith extract -c pipeline.yaml -s invoice.yaml \
      -i "Extract the invoice header" invoice.pdf

  docsmith extract -s contract.json -i "Extract the parties" \
      --format yaml -o parties.yaml contract.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	addExtractFlags(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipeline()
	if err != nil {
		return err
	}
	f, err := readExtractFlags(cmd)
	if err != nil {
		return err
	}

	s, err := cfg.Build()
	if err != nil {
		return err
	}
	if c, ok := s.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dst, closeDst, err := openOutput(f.output)
	if err != nil {
		return err
	}
	defer func() { _ = closeDst() }()

	w, err := output.NewWriter(dst, f.format)
	if err != nil {
		return err
	}

	var failed int
	for _, path := range args {
		if ctx.Err() != nil {
			break
		}
		req := &provider.Request{
			DocumentRef: path,
			Instruction: f.instruction,
			Shape:       f.shape,
		}

		start := time.Now()
		res, perr := s.Process(ctx, req)
		elapsed := time.Since(start)

		var data map[string]any
		if perr != nil {
			failed++
			logger.Error("extraction failed", "document", path, "error", perr)
		} else {
			data = res
			logger.Info("extracted", "document", path, "duration", elapsed.Round(time.Millisecond))
		}
		if err := w.Write(output.NewRecord(path, s.Name(), data, perr, elapsed)); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return errors.New("interrupted")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}
