// Package application wires configuration, logging, output and metrics
// around the executor for one CLI invocation.
package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"sqlferry/internal/backup"
	"sqlferry/internal/config"
	"sqlferry/internal/display"
	appErrors "sqlferry/internal/errors"
	"sqlferry/internal/execution"
	"sqlferry/internal/logging"
	"sqlferry/internal/metrics"
	"sqlferry/internal/restore"
	"sqlferry/internal/schema"
)

// maxFailuresShown caps the failed statements printed after a restore
const maxFailuresShown = 20

// Application represents one CLI invocation
type Application struct {
	config   *config.Config
	executor *execution.Executor
	logger   *logging.Logger
	console  *display.Console
	metrics  *metrics.Recorder
}

// NewApplication creates the logger, console, metrics recorder and
// executor described by cfg
func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loggerConfig := cfg.LoggerConfig()
	if cfg.Display.ErrWriter != nil {
		loggerConfig.Output = cfg.Display.ErrWriter
	}
	logger, err := logging.NewLogger(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	recorder := metrics.NewRecorder()
	return &Application{
		config:   cfg,
		executor: execution.NewExecutor(cfg, logger, recorder),
		logger:   logger,
		console:  display.NewConsole(cfg.Display),
		metrics:  recorder,
	}, nil
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}

// Executor returns the executor, e.g. to replace its store factory
func (app *Application) Executor() *execution.Executor {
	return app.executor
}

// finish writes the metrics textfile and reports err to the user. It
// returns err unchanged so commands can exit non-zero.
func (app *Application) finish(err error) error {
	if writeErr := app.metrics.WriteTextfile(app.config.MetricsFile); writeErr != nil {
		app.logger.WithField("path", app.config.MetricsFile).Warnf("failed to write metrics: %v", writeErr)
	}
	if err != nil {
		app.handleExecutionError(err)
	}
	return err
}

// handleExecutionError logs the classified error and prints the user
// message with troubleshooting hints
func (app *Application) handleExecutionError(err error) {
	classified := appErrors.NewClassifier().Classify(err)

	fields := map[string]interface{}{
		"error_type":  string(classified.Kind),
		"recoverable": classified.IsRecoverable(),
	}
	for k, v := range classified.Context {
		fields[k] = v
	}
	app.logger.WithFields(fields).Debugf("command failed: %v", err)

	app.console.Error("%s", appErrors.FormatUserError(classified))
	app.console.Warning("Details: %v", err)
	if hints := troubleshootingHints(classified.Kind); len(hints) > 0 {
		app.console.Warning("Troubleshooting hints:")
		for _, hint := range hints {
			app.console.Warning("  - %s", hint)
		}
	}
}

func troubleshootingHints(kind appErrors.Kind) []string {
	switch kind {
	case appErrors.KindDatabaseConnection:
		return []string{
			"Check that the database server is running",
			"Verify the host, port and credentials",
			"Run 'sqlferry test' to check every configured connection",
		}
	case appErrors.KindPermissionDenied:
		return []string{
			"Check file and directory permissions",
			"Check that the database user has the required privileges",
		}
	case appErrors.KindStrategyUnavailable:
		return []string{
			"Run 'sqlferry strategies' to list the strategies for your dialect",
			"Install mysqldump, pg_dump or sqlite3, or use --strategy sql-generation",
		}
	case appErrors.KindValidationFailed:
		return []string{
			"Review the command line flags and configuration file",
			"Run 'sqlferry validate' on the backup file",
		}
	case appErrors.KindTimeout:
		return []string{
			"Increase --timeout or backup.tool_timeout",
		}
	case appErrors.KindFileNotFound, appErrors.KindFileEmpty, appErrors.KindFileCorrupt:
		return []string{
			"Check the backup path",
			"Encrypted backups need the passphrase variable set",
		}
	case appErrors.KindRestoreFailed:
		return []string{
			"Review the failed statements above",
			"Use --stop-on-error to halt at the first failure",
		}
	case appErrors.KindDiskSpace:
		return []string{
			"Free disk space or choose another output directory",
		}
	}
	return nil
}

// Backup runs the backup command
func (app *Application) Backup(ctx context.Context, req execution.BackupRequest) error {
	app.console.Header("Backup")
	counter := app.console.ByteCounter("writing backup")
	if counter != nil {
		req.Progress = func(written int64, _ time.Duration) { counter.Update(written) }
	}

	outcome, err := app.executor.Backup(ctx, req)
	if counter != nil {
		counter.Finish("")
	}
	if err != nil {
		return app.finish(err)
	}
	result := outcome.Result

	if app.console.Structured() {
		return app.finish(app.console.Render(backupView(outcome)))
	}

	app.console.Success("%s", result.Message)
	fields := []display.Field{
		{Key: "strategy", Value: outcome.Strategy},
		{Key: "path", Value: result.Path},
		{Key: "duration", Value: result.Duration.Round(time.Millisecond).String()},
	}
	if meta := result.Metadata; meta != nil {
		fields = append(fields,
			display.Field{Key: "format", Value: string(meta.Format)},
			display.Field{Key: "size", Value: humanize.IBytes(uint64(meta.Size))},
			display.Field{Key: "checksum", Value: meta.Checksum},
		)
		for _, w := range meta.Warnings {
			app.console.Warning("%s", w.String())
		}
	}
	if outcome.Location != "" {
		fields = append(fields, display.Field{Key: "uploaded", Value: outcome.Location})
	}
	app.console.Summary("Backup", fields)
	if outcome.Retention != nil {
		for _, removed := range outcome.Retention.Removed {
			app.console.Info("retention removed %s", removed.Key)
		}
	}
	return app.finish(nil)
}

func backupView(outcome *execution.BackupOutcome) map[string]interface{} {
	view := map[string]interface{}{
		"strategy": outcome.Strategy,
		"path":     outcome.Result.Path,
		"duration": outcome.Result.Duration.String(),
		"metadata": outcome.Result.Metadata,
	}
	if outcome.Location != "" {
		view["location"] = outcome.Location
	}
	if outcome.Retention != nil {
		removed := make([]string, 0, len(outcome.Retention.Removed))
		for _, o := range outcome.Retention.Removed {
			removed = append(removed, o.Key)
		}
		view["retention_removed"] = removed
	}
	return view
}

// Restore runs the restore command
func (app *Application) Restore(ctx context.Context, req execution.RestoreRequest) error {
	app.console.Header("Restore")
	bar := app.console.ProgressBar("restoring")
	if bar != nil {
		req.Progress = func(p restore.Progress) {
			bar.Update(p.Percent, fmt.Sprintf("%s (%d executed, %d failed)", p.Operation, p.Executed, p.Failed))
		}
	}

	result, err := app.executor.Restore(ctx, req)
	if bar != nil && bar.Percent() > 0 {
		bar.Finish("")
	}
	if result != nil {
		if renderErr := app.showRestore(result); renderErr != nil && err == nil {
			err = renderErr
		}
	}
	return app.finish(err)
}

func (app *Application) showRestore(result *backup.RestoreResult) error {
	if app.console.Structured() {
		return app.console.Render(restoreView(result))
	}

	stats := result.Stats
	switch {
	case result.Success && stats != nil && stats.Failed > 0:
		app.console.Warning("%s", result.Message)
	case result.Success:
		app.console.Success("%s", result.Message)
	}
	fields := []display.Field{
		{Key: "strategy", Value: result.Strategy},
		{Key: "format", Value: string(result.Format)},
	}
	if stats != nil {
		fields = append(fields,
			display.Field{Key: "statements", Value: strconv.Itoa(stats.Total)},
			display.Field{Key: "executed", Value: strconv.Itoa(stats.Executed)},
			display.Field{Key: "failed", Value: strconv.Itoa(stats.Failed)},
			display.Field{Key: "skipped", Value: strconv.Itoa(stats.Skipped)},
			display.Field{Key: "duration", Value: stats.Duration.Round(time.Millisecond).String()},
		)
		if stats.SequencesReplayed > 0 {
			fields = append(fields, display.Field{Key: "sequences", Value: strconv.Itoa(stats.SequencesReplayed)})
		}
	}
	app.console.Summary("Restore", fields)

	if stats == nil || len(stats.Failures) == 0 {
		return nil
	}
	table := app.console.NewTable("#", "line", "statement", "error")
	table.SetAlignment(0, display.AlignRight)
	table.SetAlignment(1, display.AlignRight)
	for i, f := range stats.Failures {
		if i == maxFailuresShown {
			break
		}
		table.AddRow(strconv.Itoa(f.Index+1), strconv.Itoa(f.Line), f.Preview, f.Message)
	}
	if err := app.console.PrintTable(table); err != nil {
		return err
	}
	if hidden := len(stats.Failures) - maxFailuresShown + stats.FailuresDropped; hidden > 0 {
		app.console.Warning("%d more failed statements not shown", hidden)
	}
	return nil
}

func restoreView(result *backup.RestoreResult) map[string]interface{} {
	view := map[string]interface{}{
		"success":  result.Success,
		"message":  result.Message,
		"strategy": result.Strategy,
		"format":   string(result.Format),
	}
	if s := result.Stats; s != nil {
		view["statements"] = s.Total
		view["executed"] = s.Executed
		view["failed"] = s.Failed
		view["skipped"] = s.Skipped
		view["sequences_replayed"] = s.SequencesReplayed
		view["duration"] = s.Duration.String()
		failures := make([]map[string]interface{}, 0, len(s.Failures))
		for _, f := range s.Failures {
			failures = append(failures, map[string]interface{}{
				"index":     f.Index,
				"line":      f.Line,
				"statement": f.Preview,
				"error":     f.Message,
			})
		}
		view["failures"] = failures
	}
	return view
}

// Validate runs the validate command
func (app *Application) Validate(ctx context.Context, req execution.ValidateRequest) error {
	report, err := app.executor.Validate(ctx, req)
	if report == nil {
		return app.finish(err)
	}
	if app.console.Structured() {
		if renderErr := app.console.Render(report); renderErr != nil && err == nil {
			err = renderErr
		}
		return app.finish(err)
	}

	app.console.Header("Validate")
	fields := []display.Field{
		{Key: "path", Value: report.Path},
		{Key: "format", Value: string(report.Format)},
	}
	if report.Dialect != "" {
		fields = append(fields, display.Field{Key: "dialect", Value: report.Dialect.String()})
	}
	fields = append(fields,
		display.Field{Key: "statements", Value: strconv.Itoa(report.Statements)},
		display.Field{Key: "ddl", Value: strconv.Itoa(report.DDL)},
		display.Field{Key: "dml", Value: strconv.Itoa(report.DML)},
		display.Field{Key: "sequences", Value: strconv.Itoa(report.Sequences)},
		display.Field{Key: "checksum verified", Value: strconv.FormatBool(report.ChecksumVerified)},
	)
	if len(report.Tables) > 0 {
		fields = append(fields, display.Field{Key: "tables", Value: strconv.Itoa(len(report.Tables))})
	}
	app.console.Summary("Backup file", fields)

	for _, p := range report.Problems {
		app.console.Warning("%s", p)
	}
	if report.Valid {
		app.console.Success("backup is valid")
	}
	return app.finish(err)
}

// Test runs the test command
func (app *Application) Test(ctx context.Context) error {
	report, err := app.executor.Test(ctx)
	if report == nil {
		return app.finish(err)
	}
	if app.console.Structured() {
		if renderErr := app.console.Render(report); renderErr != nil && err == nil {
			err = renderErr
		}
		return app.finish(err)
	}

	app.console.Header("Connection test")
	connections := app.console.NewTable("role", "dialect", "target", "status", "version", "latency")
	for _, c := range report.Connections {
		status := "ok"
		if !c.Connected {
			status = c.Error
		}
		connections.AddRow(c.Role, c.Dialect, c.Target, status, c.Version, c.Latency.Round(time.Millisecond).String())
	}
	if renderErr := app.console.PrintTable(connections); renderErr != nil {
		return app.finish(renderErr)
	}

	if len(report.Capabilities) > 0 {
		capabilities := app.console.NewTable("strategy", "check", "passed", "detail")
		for _, r := range report.Capabilities {
			for _, c := range r.Checks {
				capabilities.AddRow(r.Strategy, c.Name, strconv.FormatBool(c.Passed), c.Detail)
			}
		}
		if renderErr := app.console.PrintTable(capabilities); renderErr != nil {
			return app.finish(renderErr)
		}
	}

	if report.Health != nil {
		app.console.Summary("Configuration: "+report.Health.OverallHealth, nil)
		for _, issue := range report.Health.Issues {
			app.console.Warning("%s", issue)
		}
	}
	if err == nil {
		app.console.Success("all checks passed")
	}
	return app.finish(err)
}

// Estimate runs the estimate command
func (app *Application) Estimate(ctx context.Context) error {
	estimates, err := app.executor.Estimate(ctx)
	if err != nil {
		return app.finish(err)
	}
	if app.console.Structured() {
		return app.finish(app.console.Render(estimates))
	}

	app.console.Header("Backup estimate")
	table := app.console.NewTable("strategy", "available", "size", "time", "note")
	table.SetAlignment(2, display.AlignRight)
	table.SetAlignment(3, display.AlignRight)
	for _, e := range estimates {
		size, duration := "-", "-"
		if e.Error == "" {
			size = humanize.IBytes(uint64(e.Size))
			duration = e.Duration.String()
		}
		table.AddRow(e.Strategy, strconv.FormatBool(e.Available), size, duration, e.Error)
	}
	return app.finish(app.console.PrintTable(table))
}

// Schema runs the schema command
func (app *Application) Schema(ctx context.Context, req execution.SchemaRequest, details bool) error {
	outcome, err := app.executor.Schema(ctx, req)
	if err != nil {
		return app.finish(err)
	}
	if app.console.Structured() {
		return app.finish(app.console.Render(outcome))
	}

	formatter := schema.NewDisplayFormatter(details, app.console.ColorSupported())
	app.console.Header("Schema")
	app.console.Print(formatter.FormatSchema(outcome.Source))
	if outcome.Translated != nil {
		app.console.Print(formatter.FormatWarnings(outcome.Warnings))
		if details {
			app.console.Print(formatter.FormatSchema(outcome.Translated))
		}
	}
	return app.finish(nil)
}

// Strategies runs the strategies command
func (app *Application) Strategies(dialectName string) error {
	descriptors, err := app.executor.Strategies(dialectName)
	if err != nil {
		return app.finish(err)
	}

	table := app.console.NewTable("strategy", "dialect", "priority", "compression", "cross-dialect", "description")
	table.SetAlignment(2, display.AlignRight)
	for _, d := range descriptors {
		table.AddRow(d.Type, d.Dialect.String(), strconv.Itoa(d.Priority),
			strconv.FormatBool(d.Compression), strconv.FormatBool(d.CrossDialect), d.Description)
	}
	return app.finish(app.console.PrintTable(table))
}

// Health runs the configuration health check without connecting to databases
func (app *Application) Health(ctx context.Context) error {
	result := config.CheckHealth(ctx, app.config, backup.NewStore)
	if app.console.Structured() {
		return app.finish(app.console.Render(result))
	}
	fields := make([]display.Field, 0, len(result.ComponentStatus))
	for _, component := range []string{"configuration", "storage", "encryption", "metrics"} {
		if status, ok := result.ComponentStatus[component]; ok {
			fields = append(fields, display.Field{Key: component, Value: status})
		}
	}
	app.console.Summary("Health: "+result.OverallHealth, fields)
	for _, issue := range result.Issues {
		app.console.Warning("%s", issue)
	}
	if result.OverallHealth == config.Unhealthy {
		return app.finish(appErrors.New(appErrors.KindValidationFailed, "configuration is unhealthy", nil))
	}
	return app.finish(nil)
}
