package backup

import (
	"database/sql"
	"time"

	"sqlferry/internal/database"
	"sqlferry/internal/dialect"
	"sqlferry/internal/logging"
	"sqlferry/internal/metrics"
	"sqlferry/internal/process"
	"sqlferry/internal/restore"
)

// Criterion is one selection check a strategy consults
type Criterion struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Descriptor identifies a strategy. It is a value type; Criteria returns a copy.
type Descriptor struct {
	Type        string
	Description string
	Dialect     dialect.Dialect
	// Priority orders capable strategies; lower wins
	Priority    int
	Compression bool
	// CrossDialect strategies can write a backup in another dialect
	CrossDialect bool

	criteria []Criterion
}

// NewDescriptor builds a descriptor, copying criteria
func NewDescriptor(typ, description string, d dialect.Dialect, priority int, compression, crossDialect bool, criteria ...Criterion) Descriptor {
	return Descriptor{
		Type:         typ,
		Description:  description,
		Dialect:      d,
		Priority:     priority,
		Compression:  compression,
		CrossDialect: crossDialect,
		criteria:     append([]Criterion(nil), criteria...),
	}
}

// Criteria returns the ordered selection criteria
func (d Descriptor) Criteria() []Criterion {
	return append([]Criterion(nil), d.criteria...)
}

// CapabilityCheck is the outcome of one probe
type CapabilityCheck struct {
	Name   string `yaml:"name"`
	Passed bool   `yaml:"passed"`
	Detail string `yaml:"detail,omitempty"`
}

// CapabilityReport collects the probes of one strategy
type CapabilityReport struct {
	Strategy string            `yaml:"strategy"`
	Checks   []CapabilityCheck `yaml:"checks"`
}

// Passed reports whether every check passed
func (r CapabilityReport) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return len(r.Checks) > 0
}

// Map returns the per-capability pass/fail map
func (r CapabilityReport) Map() map[string]bool {
	m := make(map[string]bool, len(r.Checks))
	for _, c := range r.Checks {
		m[c.Name] = c.Passed
	}
	return m
}

// Failed returns the checks that did not pass
func (r CapabilityReport) Failed() []CapabilityCheck {
	var failed []CapabilityCheck
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

func (r *CapabilityReport) add(name string, passed bool, detail string) {
	r.Checks = append(r.Checks, CapabilityCheck{Name: name, Passed: passed, Detail: detail})
}

// ProgressFunc receives the bytes written so far during a backup
type ProgressFunc func(written int64, elapsed time.Duration)

// Options controls CreateBackup
type Options struct {
	Compression      Compression `yaml:"compression"`
	CompressionLevel int         `yaml:"compression_level"`
	// Tables limits the backup to the named tables; empty means all
	Tables []string `yaml:"tables,omitempty"`
	// Timeout bounds external dump tools; zero means no limit
	Timeout time.Duration `yaml:"timeout"`
	// BatchSize is the number of rows per generated INSERT
	BatchSize int          `yaml:"batch_size"`
	Progress  ProgressFunc `yaml:"-"`
}

func (o *Options) setDefaults() {
	if o.Compression == "" {
		o.Compression = CompressionNone
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
}

// StrategyConfig carries everything a strategy needs. DB is the source for
// backups and the target for restores.
type StrategyConfig struct {
	DB         *sql.DB
	Connection database.DatabaseConfig
	// TargetDialect requests a backup written for another dialect
	TargetDialect dialect.Dialect
	// Passphrase enables artifact encryption and is needed to restore it
	Passphrase string
	Executor   *process.Executor
	Logger     *logging.Logger
	Metrics    *metrics.Recorder
}

// BackupResult is returned by CreateBackup
type BackupResult struct {
	Success  bool
	Message  string
	Path     string
	Metadata *Metadata
	Duration time.Duration
}

// RestoreResult is returned by RestoreBackup and PartialRestore
type RestoreResult struct {
	Success  bool
	Message  string
	Strategy string
	Format   Format
	Stats    *restore.Stats
}

// ValidationReport is returned by ValidateBackupFile
type ValidationReport struct {
	Path       string          `yaml:"path"`
	Format     Format          `yaml:"format"`
	Dialect    dialect.Dialect `yaml:"dialect,omitempty"`
	Valid      bool            `yaml:"valid"`
	Statements int             `yaml:"statements"`
	DDL        int             `yaml:"ddl"`
	DML        int             `yaml:"dml"`
	Sequences  int             `yaml:"sequences"`
	Tables     []string        `yaml:"tables,omitempty"`
	// Rejected lists statements the restore deny-list would refuse
	Rejected []restore.Failure `yaml:"rejected,omitempty"`
	Problems []string          `yaml:"problems,omitempty"`
	// ChecksumVerified is set when a sidecar was found and matched
	ChecksumVerified bool `yaml:"checksum_verified"`
}
