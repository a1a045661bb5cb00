package cmd

import (
	"github.com/spf13/cobra"

	"sqlferry/internal/execution"
)

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the configured connections and strategies",
	Long: `Connect to the configured source and target databases, report their
versions and latency, and probe which backup strategies are usable on this
host. The configuration health check runs first.

Examples:
  sqlferry test --source mysql://root@localhost/shop
  sqlferry test --config prod.yaml --output-format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd)
		if err != nil {
			return err
		}
		return handled(app.Test(cmd.Context()))
	},
}

// estimateCmd represents the estimate command
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate backup size and duration for each strategy",
	Long: `Estimate the artifact size and backup duration of every strategy that
applies to the source database, without writing a backup.

Examples:
  sqlferry estimate --source sqlite://./app.db`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd)
		if err != nil {
			return err
		}
		return handled(app.Estimate(cmd.Context()))
	},
}

var strategiesDialect string

// strategiesCmd represents the strategies command
var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the backup strategies",
	Long: `List the backup strategies with their priority and capabilities, for one
dialect or for all of them.

Examples:
  sqlferry strategies
  sqlferry strategies --dialect postgres`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd)
		if err != nil {
			return err
		}
		return handled(app.Strategies(strategiesDialect))
	},
}

var (
	schemaTables  []string
	schemaDetails bool
)

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the source schema and preview its translation",
	Long: `Introspect the source database and print its tables. With --target-dialect
the schema is also translated and every changed or dropped construct is
listed, which is what a cross-dialect backup would record.

Examples:
  sqlferry schema --source mysql://root@localhost/shop --details
  sqlferry schema --source sqlite://./app.db --target-dialect postgres`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd)
		if err != nil {
			return err
		}
		return handled(app.Schema(cmd.Context(), execution.SchemaRequest{Tables: schemaTables}, schemaDetails))
	},
}

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the configuration without connecting to databases",
	Long: `Check the configuration, the storage provider, the encryption settings and
the metrics textfile location. Exits non-zero when the configuration is
unhealthy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd)
		if err != nil {
			return err
		}
		return handled(app.Health(cmd.Context()))
	},
}

func init() {
	strategiesCmd.Flags().StringVar(&strategiesDialect, "dialect", "", "only list strategies for this dialect")
	estimateCmd.Flags().String("target-dialect", "", "estimate SQL generation for another dialect")

	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(strategiesCmd)
	schemaCmd.Flags().StringSliceVar(&schemaTables, "tables", nil, "only describe these tables")
	schemaCmd.Flags().BoolVar(&schemaDetails, "details", false, "show columns, indexes and constraints")
	schemaCmd.Flags().String("target-dialect", "", "preview the translation into this dialect")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(schemaCmd)
}
