// Package commands implements the CLI commands for docsmith.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/docsmith/internal/config"
	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/internal/output"
	"github.com/jmylchreest/docsmith/pkg/shape"
)

var rootCmd = &cobra.Command{
	Use:   "docsmith",
	Short: "Reliable structured extraction from documents",
	Long: `Docsmith extracts structured data from documents by composing
unreliable model providers into a pipeline: fallback chains, content
routing, ensembles with a judge, page chunking, PII redaction,
consistency voting, self-verification and an agentic controller.

The pipeline is declared in a YAML file (docsmith.yaml by default).

Examples:
  # Extract an invoice with the configured pipeline
  docsmith extract -c pipeline.yaml -s invoice.yaml \
      -i "Extract the invoice header" invoice.pdf

  # Process a directory of receipts, four at a time
  docsmith batch -c pipeline.yaml -s receipt.yaml \
      -i "Extract the receipt" receipts/*.txt`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "pipeline file (default ./docsmith.yaml or $HOME/docsmith.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "only log errors")
	flags.Bool("log-json", false, "log as JSON")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("log_json", flags.Lookup("log-json"))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadPipeline reads the pipeline file and initializes logging. Flags
// override the file's log section.
func loadPipeline() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{
		Debug: cfg.Log.Debug || viper.GetBool("debug"),
		Quiet: cfg.Log.Quiet || viper.GetBool("quiet"),
		JSON:  cfg.Log.JSON || viper.GetBool("log_json"),
	})
	return cfg, nil
}

// addExtractFlags registers the flags shared by extract and batch.
func addExtractFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("shape", "s", "", "path to shape file (JSON or YAML)")
	flags.StringP("instruction", "i", "", "extraction instruction")
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "json", "output format: json, jsonl, yaml")
	_ = cmd.MarkFlagRequired("instruction")
}

type extractFlags struct {
	shape       *shape.Shape
	instruction string
	format      output.Format
	output      string
}

func readExtractFlags(cmd *cobra.Command) (extractFlags, error) {
	var f extractFlags
	flags := cmd.Flags()

	f.instruction, _ = flags.GetString("instruction")
	f.output, _ = flags.GetString("output")

	formatName, _ := flags.GetString("format")
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return f, err
	}
	f.format = format

	if path, _ := flags.GetString("shape"); path != "" {
		s, err := shape.FromFile(path)
		if err != nil {
			return f, fmt.Errorf("failed to load shape: %w", err)
		}
		f.shape = s
	}
	return f, nil
}

// openOutput returns the destination for results. The returned close
// function is safe to call when writing to stdout.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
