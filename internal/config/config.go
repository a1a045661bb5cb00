// Package config loads the sqlferry configuration file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sqlferry/internal/backup"
	"sqlferry/internal/database"
	"sqlferry/internal/dialect"
	"sqlferry/internal/display"
	"sqlferry/internal/logging"
	"sqlferry/internal/parser"
	"sqlferry/internal/restore"
)

// EnvPrefix prefixes every environment variable sqlferry reads
const EnvPrefix = "SQLFERRY"

// DefaultPassphraseEnv names the variable holding the encryption passphrase
const DefaultPassphraseEnv = "SQLFERRY_PASSPHRASE"

// Config is the complete sqlferry configuration
type Config struct {
	Connections database.CLIConfig `mapstructure:"-" yaml:"-"`

	Backup      BackupConfig           `mapstructure:"backup" yaml:"backup"`
	Restore     RestoreConfig          `mapstructure:"restore" yaml:"restore"`
	Storage     backup.StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Retention   backup.RetentionPolicy `mapstructure:"retention" yaml:"retention"`
	Display     display.Config         `mapstructure:"display" yaml:"display"`
	Logging     LoggingConfig          `mapstructure:"logging" yaml:"logging"`
	MetricsFile string                 `mapstructure:"metrics_file" yaml:"metrics_file"`
	// Timeout bounds a whole command; zero means no limit
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BackupConfig holds defaults for the backup command
type BackupConfig struct {
	Strategy         string        `mapstructure:"strategy" yaml:"strategy"`
	Compression      string        `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int           `mapstructure:"compression_level" yaml:"compression_level"`
	BatchSize        int           `mapstructure:"batch_size" yaml:"batch_size"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	OutputDir        string        `mapstructure:"output_dir" yaml:"output_dir"`
	TargetDialect    string        `mapstructure:"target_dialect" yaml:"target_dialect"`
	// PassphraseEnv names the variable holding the passphrase; the
	// passphrase itself is never read from the file
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env"`
	Encrypt       bool   `mapstructure:"encrypt" yaml:"encrypt"`
}

// RestoreConfig holds defaults for the restore command
type RestoreConfig struct {
	Transaction         bool `mapstructure:"transaction" yaml:"transaction"`
	DisableForeignKeys  bool `mapstructure:"disable_foreign_keys" yaml:"disable_foreign_keys"`
	DisableUniqueChecks bool `mapstructure:"disable_unique_checks" yaml:"disable_unique_checks"`
	ResetSequences      bool `mapstructure:"reset_sequences" yaml:"reset_sequences"`
	StopOnError         bool `mapstructure:"stop_on_error" yaml:"stop_on_error"`
	ValidateStatements  bool `mapstructure:"validate_statements" yaml:"validate_statements"`
	// InferOptions derives options from the backup content before flags apply
	InferOptions      bool `mapstructure:"infer_options" yaml:"infer_options"`
	ProgressInterval  int  `mapstructure:"progress_interval" yaml:"progress_interval"`
	MaxFailureRecords int  `mapstructure:"max_failure_records" yaml:"max_failure_records"`
	// Parser is "scanner" or the degraded "line" fallback
	Parser string `mapstructure:"parser" yaml:"parser"`
}

// LoggingConfig selects the log level, format and optional file
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults only, so decoding cannot fail
	_ = v.Unmarshal(&cfg)
	cfg.Storage.SetDefaults()
	return &cfg
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	ropts := restore.DefaultOptions()

	v.SetDefault("source_url", "")
	v.SetDefault("target_url", "")
	for _, side := range []string{"source", "target"} {
		for _, key := range []string{"dialect", "host", "username", "password", "database", "path"} {
			v.SetDefault(side+"."+key, "")
		}
		v.SetDefault(side+".port", 0)
		v.SetDefault(side+".timeout", "0s")
	}

	v.SetDefault("backup.strategy", "")
	v.SetDefault("backup.compression", string(backup.CompressionNone))
	v.SetDefault("backup.compression_level", 0)
	v.SetDefault("backup.batch_size", 100)
	v.SetDefault("backup.tool_timeout", "0s")
	v.SetDefault("backup.output_dir", ".")
	v.SetDefault("backup.target_dialect", "")
	v.SetDefault("backup.passphrase_env", DefaultPassphraseEnv)
	v.SetDefault("backup.encrypt", false)

	v.SetDefault("restore.transaction", ropts.ExecuteInTransaction)
	v.SetDefault("restore.disable_foreign_keys", ropts.DisableForeignKeys)
	v.SetDefault("restore.disable_unique_checks", ropts.DisableUniqueChecks)
	v.SetDefault("restore.reset_sequences", ropts.ResetSequences)
	v.SetDefault("restore.stop_on_error", ropts.StopOnError)
	v.SetDefault("restore.validate_statements", ropts.ValidateStatements)
	v.SetDefault("restore.infer_options", false)
	v.SetDefault("restore.progress_interval", ropts.ProgressInterval)
	v.SetDefault("restore.max_failure_records", ropts.MaxFailureRecords)
	v.SetDefault("restore.parser", parser.ModeScanner)

	v.SetDefault("storage.provider", string(backup.StoreLocal))
	v.SetDefault("storage.local.base_path", "./backups")

	v.SetDefault("retention.max_backups", 0)
	v.SetDefault("retention.max_age", "0s")
	v.SetDefault("retention.keep_daily", 0)
	v.SetDefault("retention.keep_weekly", 0)
	v.SetDefault("retention.keep_monthly", 0)

	dcfg := display.DefaultConfig()
	v.SetDefault("display.color_enabled", dcfg.ColorEnabled)
	v.SetDefault("display.theme", dcfg.Theme)
	v.SetDefault("display.format", string(dcfg.Format))
	v.SetDefault("display.show_progress", dcfg.ShowProgress)
	v.SetDefault("display.quiet", false)

	v.SetDefault("logging.level", string(logging.LogLevelNormal))
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics_file", "")
	v.SetDefault("timeout", "0s")
}

// Load reads configFile (or .sqlferry.yaml from the working or home
// directory) and SQLFERRY_* variables into a validated Config. Nested keys
// map to variables with dots replaced by underscores, so
// SQLFERRY_BACKUP_COMPRESSION sets backup.compression.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	connections, err := database.NewConfigLoader(v).LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Connections = *connections
	cfg.Storage.LoadFromEnvironment()
	cfg.Storage.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []error

	if _, err := backup.ParseCompression(c.Backup.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Backup.TargetDialect != "" {
		if _, err := dialect.Parse(c.Backup.TargetDialect); err != nil {
			errs = append(errs, fmt.Errorf("backup.target_dialect: %w", err))
		}
	}
	if c.Backup.BatchSize < 0 {
		errs = append(errs, errors.New("backup.batch_size cannot be negative"))
	}
	if c.Backup.Encrypt && c.Backup.PassphraseEnv == "" {
		errs = append(errs, errors.New("backup.encrypt needs backup.passphrase_env"))
	}

	if c.Restore.ProgressInterval < 0 {
		errs = append(errs, errors.New("restore.progress_interval cannot be negative"))
	}
	if c.Restore.MaxFailureRecords < 0 {
		errs = append(errs, errors.New("restore.max_failure_records cannot be negative"))
	}
	if _, err := parser.ForMode(c.Restore.Parser, dialect.SQLite); err != nil {
		errs = append(errs, fmt.Errorf("restore.parser: %w", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if c.Retention.MaxBackups < 0 || c.Retention.MaxAge < 0 || c.Retention.KeepDaily < 0 ||
		c.Retention.KeepWeekly < 0 || c.Retention.KeepMonthly < 0 {
		errs = append(errs, errors.New("retention values cannot be negative"))
	}

	if err := c.Display.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("display: %w", err))
	}

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("invalid logging.level %q", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid logging.format %q (valid: text, json)", c.Logging.Format))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// Passphrase returns the encryption passphrase from the configured variable.
// It is empty when encryption is off.
func (c *Config) Passphrase() (string, error) {
	if c.Backup.PassphraseEnv == "" {
		return "", nil
	}
	value := os.Getenv(c.Backup.PassphraseEnv)
	if value == "" && c.Backup.Encrypt {
		return "", fmt.Errorf("encryption is enabled but %s is not set", c.Backup.PassphraseEnv)
	}
	return value, nil
}

// BackupOptions converts the backup section into strategy options
func (c *Config) BackupOptions() (backup.Options, error) {
	compression, err := backup.ParseCompression(c.Backup.Compression)
	if err != nil {
		return backup.Options{}, err
	}
	return backup.Options{
		Compression:      compression,
		CompressionLevel: c.Backup.CompressionLevel,
		Timeout:          c.Backup.ToolTimeout,
		BatchSize:        c.Backup.BatchSize,
	}, nil
}

// RestoreOptions converts the restore section into orchestrator options
func (c *Config) RestoreOptions() restore.Options {
	opts := restore.DefaultOptions()
	opts.ExecuteInTransaction = c.Restore.Transaction
	opts.DisableForeignKeys = c.Restore.DisableForeignKeys
	opts.DisableUniqueChecks = c.Restore.DisableUniqueChecks
	opts.ResetSequences = c.Restore.ResetSequences
	opts.StopOnError = c.Restore.StopOnError
	opts.ValidateStatements = c.Restore.ValidateStatements
	if c.Restore.ProgressInterval > 0 {
		opts.ProgressInterval = c.Restore.ProgressInterval
	}
	if c.Restore.MaxFailureRecords > 0 {
		opts.MaxFailureRecords = c.Restore.MaxFailureRecords
	}
	opts.Parser = c.Restore.Parser
	return opts
}

// LoggerConfig builds the logger configuration
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      logging.LogLevel(c.Logging.Level),
		Format:     c.Logging.Format,
		LogFile:    c.Logging.File,
		ShowCaller: c.Logging.Level == string(logging.LogLevelDebug),
		NoColor:    !c.Display.ColorEnabled,
	}
}
