package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sqlferry/internal/config"
	"sqlferry/internal/confirmation"
	"sqlferry/internal/execution"
	"sqlferry/internal/restore"
)

var (
	restoreInput          string
	restoreFrom           string
	restoreTables         []string
	restoreNoTransaction  bool
	restoreSkipValidation bool
	restoreKeepChecks     bool
	restoreNoSequences    bool
	restoreYes            bool
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Restore a backup into the target database",
	Long: `Restore a backup artifact into the target database.

The strategy is taken from the artifact's metadata sidecar when present and
detected from its content otherwise. Compressed and encrypted artifacts are
decoded transparently. SQL scripts are split with the dialect-aware parser
and replayed statement by statement; failed statements are collected and
reported unless --stop-on-error is given.

When the target already holds tables the restore asks for confirmation;
--yes skips the question, which is required when stdin is not a terminal.

Examples:
  # Restore a local artifact
  sqlferry restore backups/app-20240101-120000.db --target sqlite://./restored.db

  # Download from the configured store and restore two tables
  sqlferry restore --from shop-20240101-120000.sql.gz --tables users,orders

  # Let sqlferry pick options from the script, but stop at the first error
  sqlferry restore shop.sql --infer-options --stop-on-error`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

func init() {
	flags := restoreCmd.Flags()
	flags.StringVarP(&restoreInput, "input", "i", "", "artifact path (alternative to the positional argument)")
	flags.StringVar(&restoreFrom, "from", "", "download this key from the configured store and restore it")
	flags.StringSliceVar(&restoreTables, "tables", nil, "restore only statements for these tables (comma separated)")
	flags.BoolVarP(&restoreYes, "yes", "y", false, "restore into a non-empty target without asking")

	flags.Bool("stop-on-error", false, "abort on the first failed statement")
	flags.Bool("infer-options", false, "infer restore options from the artifact content")
	flags.Int("max-failures", 100, "maximum number of failed statements kept in the report")
	flags.String("passphrase-env", config.DefaultPassphraseEnv, "environment variable holding the passphrase")
	flags.String("parser", "scanner", "statement splitter: scanner, or line for the line-oriented fallback")

	flags.BoolVar(&restoreNoTransaction, "no-transaction", false, "do not wrap the restore in a transaction")
	flags.BoolVar(&restoreSkipValidation, "skip-validation", false, "do not reject dangerous statements")
	flags.BoolVar(&restoreKeepChecks, "keep-constraints", false, "keep foreign key and unique checks enabled")
	flags.BoolVar(&restoreNoSequences, "no-reset-sequences", false, "do not reset sequences after the restore")

	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	input := restoreInput
	if len(args) == 1 {
		if input != "" && input != args[0] {
			return fmt.Errorf("give the artifact either as an argument or with --input, not both")
		}
		input = args[0]
	}
	if input == "" && restoreFrom == "" {
		return fmt.Errorf("an artifact path or --from is required")
	}

	app, err := newApplication(cmd)
	if err != nil {
		return err
	}
	return handled(app.Restore(cmd.Context(), execution.RestoreRequest{
		Input:     input,
		From:      restoreFrom,
		Tables:    restoreTables,
		Overrides: restoreOverrides(cmd),
		Confirm:   confirmation.NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr(), restoreYes, !noColor).ConfirmRestore,
	}))
}

// restoreOverrides applies the explicitly given switches on top of the
// configured or inferred options
func restoreOverrides(cmd *cobra.Command) func(*restore.Options) {
	flags := cmd.Flags()
	return func(opts *restore.Options) {
		if flags.Changed("no-transaction") {
			opts.ExecuteInTransaction = !restoreNoTransaction
		}
		if flags.Changed("skip-validation") {
			opts.ValidateStatements = !restoreSkipValidation
		}
		if flags.Changed("keep-constraints") && restoreKeepChecks {
			opts.DisableConstraints = false
			opts.DisableForeignKeys = false
			opts.DisableUniqueChecks = false
		}
		if flags.Changed("no-reset-sequences") {
			opts.ResetSequences = !restoreNoSequences
		}
		if flags.Changed("stop-on-error") {
			opts.StopOnError, _ = flags.GetBool("stop-on-error")
		}
	}
}
