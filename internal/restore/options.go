// Package restore replays parsed SQL backups against a live connection.
package restore

// Progress is reported to the caller while a restore runs
type Progress struct {
	Percent   float64
	Operation string
	Executed  int
	Failed    int
}

// ProgressFunc receives progress updates
type ProgressFunc func(Progress)

// Range is the slice of 0..100 that statement execution is scaled into
type Range struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

// Options controls one restore run
type Options struct {
	ExecuteInTransaction bool `yaml:"execute_in_transaction"`
	// DisableConstraints turns off foreign key and unique checks together
	DisableConstraints  bool `yaml:"disable_constraints"`
	DisableForeignKeys  bool `yaml:"disable_foreign_keys"`
	DisableUniqueChecks bool `yaml:"disable_unique_checks"`
	ResetSequences      bool `yaml:"reset_sequences"`
	StopOnError         bool `yaml:"stop_on_error"`
	ValidateStatements  bool `yaml:"validate_statements"`

	// Tables limits the run to statements targeting these tables
	Tables []string `yaml:"tables"`

	ProgressInterval  int   `yaml:"progress_interval"`
	ProgressRange     Range `yaml:"progress_range"`
	MaxFailureRecords int   `yaml:"max_failure_records"`
	// Parser selects the statement splitter; empty uses the state-machine
	// scanner, "line" the line-oriented fallback
	Parser string `yaml:"parser"`

	Progress ProgressFunc `yaml:"-"`
}

// DefaultOptions returns the options used when the caller has no preference
func DefaultOptions() Options {
	opts := Options{
		ExecuteInTransaction: true,
		DisableForeignKeys:   true,
		ResetSequences:       true,
		ValidateStatements:   true,
	}
	opts.SetDefaults()
	return opts
}

// SetDefaults fills zero-valued tuning fields
func (o *Options) SetDefaults() {
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 10
	}
	if o.ProgressRange.Start == 0 && o.ProgressRange.End == 0 {
		o.ProgressRange = Range{Start: 5, End: 95}
	}
	if o.MaxFailureRecords <= 0 {
		o.MaxFailureRecords = 100
	}
}

func (o Options) foreignKeysOff() bool {
	return o.DisableConstraints || o.DisableForeignKeys
}

func (o Options) uniqueChecksOff() bool {
	return o.DisableConstraints || o.DisableUniqueChecks
}

func (o Options) report(p Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

// scale maps done/total into the configured progress range
func (o Options) scale(done, total int) float64 {
	if total <= 0 {
		return o.ProgressRange.End
	}
	span := o.ProgressRange.End - o.ProgressRange.Start
	return o.ProgressRange.Start + span*float64(done)/float64(total)
}
