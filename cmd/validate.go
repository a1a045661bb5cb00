package cmd

import (
	"github.com/spf13/cobra"

	"sqlferry/internal/config"
	"sqlferry/internal/execution"
)

var validateDialect string

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a backup artifact without restoring it",
	Long: `Check a backup artifact without connecting to a database.

The artifact is decoded, its checksum is compared with the metadata sidecar
and SQL scripts are parsed statement by statement. Statements that a restore
would reject, such as ATTACH DATABASE or LOAD DATA, make the artifact invalid.

The dialect is taken from --dialect, then the configured target, then the
metadata sidecar and finally the artifact content.

Examples:
  sqlferry validate shop.sql.gz --dialect mysql
  sqlferry validate backups/app-20240101-120000.db --output-format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd)
		if err != nil {
			return err
		}
		return handled(app.Validate(cmd.Context(), execution.ValidateRequest{
			Path:    args[0],
			Dialect: validateDialect,
		}))
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateDialect, "dialect", "", "dialect of the script (mysql, postgres, sqlite)")
	validateCmd.Flags().String("passphrase-env", config.DefaultPassphraseEnv, "environment variable holding the passphrase")
	rootCmd.AddCommand(validateCmd)
}
