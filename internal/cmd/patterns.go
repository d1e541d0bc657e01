package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dativo-io/cloak/internal/config"
	"github.com/dativo-io/cloak/internal/detector"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the active recognizers",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "patterns")
		defer span.End()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		analyzer, err := detector.New(detector.WithPatternFile(cfg.PatternFile))
		if err != nil {
			return fmt.Errorf("building detector: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-28s %-16s %8s  %s\n", "RECOGNIZER", "ENTITY", "PATTERNS", "VALIDATION")
		for _, info := range analyzer.Recognizers() {
			fmt.Fprintf(out, "%-28s %-16s %8d  %s\n", info.Name, info.Entity, info.PatternCount, info.Validation)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}
