package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dativo-io/cloak/internal/config"
	"github.com/dativo-io/cloak/internal/detector"
	"github.com/dativo-io/cloak/internal/redact"
)

var (
	redactOperator  string
	redactThreshold float64
	redactRulesFile string
	redactLanguage  string
	redactManifest  bool
)

var redactCmd = &cobra.Command{
	Use:   "redact [file]",
	Short: "Redact PII from a file or stdin",
	Long: `Redact runs the anonymization pipeline once and prints the redacted
text to stdout. With --manifest, the entity manifest is written to stderr
as JSON so the two streams can be captured separately.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRedact,
}

func init() {
	redactCmd.Flags().StringVar(&redactOperator, "operator", "label", "replacement operator (label, redact, mask, hash)")
	redactCmd.Flags().Float64Var(&redactThreshold, "threshold", config.DefaultScoreThreshold, "minimum confidence to keep a detection")
	redactCmd.Flags().StringVar(&redactRulesFile, "rules", "", "rules file applied in addition to built-in detection")
	redactCmd.Flags().StringVar(&redactLanguage, "language", config.DefaultLanguage, "document language passed to the detector")
	redactCmd.Flags().BoolVar(&redactManifest, "manifest", false, "write the entity manifest to stderr as JSON")
	rootCmd.AddCommand(redactCmd)
}

func runRedact(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "redact")
	defer span.End()

	var text []byte
	var err error
	if len(args) == 1 {
		text, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading input file: %w", err)
		}
	} else {
		text, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}

	operator, err := redact.ParseOperator(redactOperator)
	if err != nil {
		return err
	}
	if redactThreshold < 0 || redactThreshold > 1 {
		return fmt.Errorf("threshold %v out of range [0,1]", redactThreshold)
	}

	var rules []redact.Rule
	if redactRulesFile != "" {
		rules, err = redact.LoadRulesFile(redactRulesFile)
		if err != nil {
			return err
		}
	}

	analyzer, err := detector.New()
	if err != nil {
		return fmt.Errorf("building detector: %w", err)
	}
	engine := redact.NewEngine(analyzer)

	result, err := engine.Anonymize(ctx, redact.Request{
		Text:           string(text),
		Language:       redactLanguage,
		Rules:          rules,
		Operator:       operator,
		ScoreThreshold: redactThreshold,
	})
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), result.Text)
	if redactManifest {
		enc := json.NewEncoder(cmd.ErrOrStderr())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Entities); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
	}
	return nil
}
