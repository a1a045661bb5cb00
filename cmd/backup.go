package cmd

import (
	"github.com/spf13/cobra"

	"sqlferry/internal/config"
	"sqlferry/internal/execution"
)

var (
	backupOutput string
	backupTables []string
	backupUpload bool
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a backup of the source database",
	Long: `Create a backup of the source database using the best available strategy.

Strategies are tried in priority order: a native file copy for SQLite, the
engine's dump tool (sqlite3, mysqldump, pg_dump) and finally SQL generation,
which needs nothing but a connection and can translate the schema into
another dialect with --target-dialect.

Examples:
  # Back up with the default strategy into ./backups
  sqlferry backup --source sqlite://./app.db --output-dir ./backups

  # Force SQL generation, compress with zstd and encrypt
  SQLFERRY_PASSPHRASE=secret sqlferry backup --strategy sql-generation \
      --compression zstd --encrypt

  # Back up two tables of a MySQL database as a PostgreSQL script
  sqlferry backup --source mysql://root@localhost/shop --tables users,orders \
      --target-dialect postgres --output shop.pg.sql

  # Upload the artifact and apply the retention policy
  sqlferry backup --config prod.yaml --upload`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	flags := backupCmd.Flags()
	flags.StringVarP(&backupOutput, "output", "o", "", "artifact path (default: derived from the database name in --output-dir)")
	flags.String("output-dir", ".", "directory for derived artifact names")
	flags.StringSliceVar(&backupTables, "tables", nil, "back up only these tables (comma separated)")
	flags.BoolVar(&backupUpload, "upload", false, "upload the artifact to the configured store and apply retention")

	flags.String("strategy", "", "force a strategy (sqlite-native, sqlite-dump, mysql-dump, postgres-dump, sql-generation)")
	flags.String("compression", "none", "compression (none, gzip, zstd, lz4)")
	flags.Int("compression-level", 0, "compression level (0 uses the codec default)")
	flags.Int("batch-size", 100, "rows per INSERT statement for SQL generation")
	flags.String("target-dialect", "", "write SQL for another dialect (mysql, postgres, sqlite)")
	flags.Bool("encrypt", false, "encrypt the artifact with the passphrase from --passphrase-env")
	flags.String("passphrase-env", config.DefaultPassphraseEnv, "environment variable holding the passphrase")
	flags.Duration("tool-timeout", 0, "timeout for external dump tools (0 disables it)")

	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd)
	if err != nil {
		return err
	}
	return handled(app.Backup(cmd.Context(), execution.BackupRequest{
		Output: backupOutput,
		Tables: backupTables,
		Upload: backupUpload,
	}))
}
