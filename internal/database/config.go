package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"sqlferry/internal/dialect"
)

const defaultTimeout = 30 * time.Second

// DatabaseConfig holds the connection parameters for one database
type DatabaseConfig struct {
	Dialect  dialect.Dialect `mapstructure:"dialect" yaml:"dialect"`
	Host     string          `mapstructure:"host" yaml:"host"`
	Port     int             `mapstructure:"port" yaml:"port"`
	Username string          `mapstructure:"username" yaml:"username"`
	Password string          `mapstructure:"password" yaml:"password"`
	Database string          `mapstructure:"database" yaml:"database"`
	// Path is the database file for sqlite
	Path    string            `mapstructure:"path" yaml:"path"`
	Params  map[string]string `mapstructure:"params" yaml:"params,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// CLIConfig holds the connection settings the CLI reads from file, env and flags.
// A URL takes precedence over the structured block of the same side.
type CLIConfig struct {
	SourceURL string         `mapstructure:"source_url" yaml:"source_url"`
	TargetURL string         `mapstructure:"target_url" yaml:"target_url"`
	SourceDB  DatabaseConfig `mapstructure:"source" yaml:"source"`
	TargetDB  DatabaseConfig `mapstructure:"target" yaml:"target"`
}

// SetDefaults fills the port and timeout when they are not set
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Port == 0 {
		dc.Port = dc.Dialect.DefaultPort()
	}
	if dc.Timeout <= 0 {
		dc.Timeout = defaultTimeout
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	if !dc.Dialect.Valid() {
		return fmt.Errorf("database configuration validation failed: unsupported dialect %q", dc.Dialect)
	}

	var errs []error
	if dc.Dialect == dialect.SQLite {
		if dc.Path == "" {
			errs = append(errs, errors.New("path is required"))
		}
	} else {
		if dc.Host == "" {
			errs = append(errs, errors.New("host is required"))
		}
		if dc.Port <= 0 || dc.Port > 65535 {
			errs = append(errs, errors.New("port must be between 1 and 65535"))
		}
		if dc.Username == "" {
			errs = append(errs, errors.New("username is required"))
		}
		if dc.Database == "" {
			errs = append(errs, errors.New("database name is required"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the data source name understood by the dialect's driver
func (dc *DatabaseConfig) DSN() string {
	timeout := dc.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	switch dc.Dialect {
	case dialect.MySQL:
		cfg := mysql.NewConfig()
		cfg.User = dc.Username
		cfg.Passwd = dc.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
		cfg.DBName = dc.Database
		cfg.Timeout = timeout
		cfg.ParseTime = true
		if len(dc.Params) > 0 {
			cfg.Params = make(map[string]string, len(dc.Params))
			for k, v := range dc.Params {
				cfg.Params[k] = v
			}
		}
		return cfg.FormatDSN()

	case dialect.Postgres:
		query := url.Values{}
		for k, v := range dc.Params {
			query.Set(k, v)
		}
		if query.Get("connect_timeout") == "" {
			query.Set("connect_timeout", strconv.Itoa(int(timeout.Seconds())))
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(dc.Username, dc.Password),
			Host:     net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port)),
			Path:     "/" + dc.Database,
			RawQuery: query.Encode(),
		}
		return u.String()

	case dialect.SQLite:
		if len(dc.Params) == 0 {
			return "file:" + dc.Path
		}
		keys := make([]string, 0, len(dc.Params))
		for k := range dc.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = url.QueryEscape(k) + "=" + url.QueryEscape(dc.Params[k])
		}
		return "file:" + dc.Path + "?" + strings.Join(pairs, "&")
	}
	return ""
}

// Target describes the connection for logs without credentials
func (dc *DatabaseConfig) Target() string {
	if dc.Dialect == dialect.SQLite {
		return "sqlite:" + dc.Path
	}
	return fmt.Sprintf("%s://%s@%s/%s", dc.Dialect, dc.Username,
		net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port)), dc.Database)
}

// Source resolves the source connection, preferring SourceURL
func (cc *CLIConfig) Source() (*DatabaseConfig, error) {
	return resolve(cc.SourceURL, cc.SourceDB)
}

// Target resolves the target connection, preferring TargetURL
func (cc *CLIConfig) Target() (*DatabaseConfig, error) {
	return resolve(cc.TargetURL, cc.TargetDB)
}

func resolve(raw string, structured DatabaseConfig) (*DatabaseConfig, error) {
	if raw != "" {
		return ParseConnectionString(raw)
	}
	cfg := structured
	if cfg.Dialect == "" {
		return nil, errors.New("no connection configured")
	}
	d, err := dialect.Parse(string(cfg.Dialect))
	if err != nil {
		return nil, err
	}
	cfg.Dialect = d
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
