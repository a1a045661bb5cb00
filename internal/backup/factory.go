package backup

import (
	"context"
	"fmt"
	"sort"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/logging"
	"sqlferry/internal/process"
)

// Factory holds the candidate strategies for one connection, in
// declaration order
type Factory struct {
	logger     *logging.Logger
	candidates []Strategy
}

// NewFactory registers the strategies that apply to cfg.Connection.Dialect.
// A TargetDialect other than the source leaves only sql-generation, the
// one strategy that translates.
func NewFactory(cfg StrategyConfig) (*Factory, error) {
	d := cfg.Connection.Dialect
	if !d.Valid() {
		return nil, apperrors.New(apperrors.KindValidationFailed, fmt.Sprintf("unsupported dialect %q", d), nil)
	}
	if cfg.TargetDialect != "" && !cfg.TargetDialect.Valid() {
		return nil, apperrors.New(apperrors.KindValidationFailed, fmt.Sprintf("unsupported target dialect %q", cfg.TargetDialect), nil)
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Executor == nil {
		cfg.Executor = process.NewExecutor(cfg.Logger)
	}

	var candidates []Strategy
	if cfg.TargetDialect == "" || cfg.TargetDialect == d {
		switch d {
		case dialect.SQLite:
			candidates = append(candidates, NewSQLiteNativeStrategy(cfg), NewSQLiteDumpStrategy(cfg))
		case dialect.MySQL:
			candidates = append(candidates, NewMySQLDumpStrategy(cfg))
		case dialect.Postgres:
			candidates = append(candidates, NewPostgresDumpStrategy(cfg))
		}
	}
	candidates = append(candidates, NewSQLGenerationStrategy(cfg))
	return NewFactoryWithCandidates(cfg.Logger, candidates...), nil
}

// NewFactoryWithCandidates builds a factory over an explicit candidate list
func NewFactoryWithCandidates(logger *logging.Logger, candidates ...Strategy) *Factory {
	return &Factory{logger: logging.OrNop(logger), candidates: candidates}
}

// Candidates returns the registered strategies in declaration order
func (f *Factory) Candidates() []Strategy {
	return append([]Strategy(nil), f.candidates...)
}

// Get returns the strategy with the given type
func (f *Factory) Get(typ string) (Strategy, bool) {
	for _, s := range f.candidates {
		if s.Descriptor().Type == typ {
			return s, true
		}
	}
	return nil, false
}

// Probe runs every candidate's capability test in declaration order
func (f *Factory) Probe(ctx context.Context) []CapabilityReport {
	reports := make([]CapabilityReport, len(f.candidates))
	for i, s := range f.candidates {
		reports[i] = s.TestCapabilities(ctx)
	}
	return reports
}

// Select probes the candidates and returns the passing one with the lowest
// priority, ties going to declaration order. A forced strategy must exist
// and pass its own probe.
func (f *Factory) Select(ctx context.Context, forced string) (Strategy, error) {
	names := make([]string, len(f.candidates))
	for i, s := range f.candidates {
		names[i] = s.Descriptor().Type
	}

	if forced != "" {
		s, ok := f.Get(forced)
		if !ok {
			return nil, apperrors.NewStrategyUnavailable(forced, fmt.Errorf("unknown strategy; candidates are %v", names))
		}
		report := s.TestCapabilities(ctx)
		if !report.Passed() {
			return nil, apperrors.NewStrategyUnavailable(forced, failedChecksError(report))
		}
		f.logger.LogStrategySelection(forced, names, true)
		return s, nil
	}

	var passing []Strategy
	var failures []error
	for _, s := range f.candidates {
		report := s.TestCapabilities(ctx)
		if report.Passed() {
			passing = append(passing, s)
			continue
		}
		failures = append(failures, fmt.Errorf("%s: %w", s.Descriptor().Type, failedChecksError(report)))
		f.logger.WithField("strategy", s.Descriptor().Type).Debugf("capability probe failed: %v", failedChecksError(report))
	}
	if len(passing) == 0 {
		return nil, apperrors.New(apperrors.KindStrategyUnavailable, "no backup strategy is available",
			fmt.Errorf("%v", failures))
	}

	sort.SliceStable(passing, func(i, j int) bool {
		return passing[i].Descriptor().Priority < passing[j].Descriptor().Priority
	})
	selected := passing[0]
	f.logger.LogStrategySelection(selected.Descriptor().Type, names, false)
	return selected, nil
}

// ForRestore picks the strategy that restores the artifact at path without
// probing for dump tools, which restores do not need. The strategy recorded
// in the sidecar wins when registered; native copies go to sqlite-native;
// everything else is replayed by sql-generation.
func (f *Factory) ForRestore(path string) (Strategy, Format, error) {
	var format Format
	if meta, err := ReadMetadata(path); err == nil {
		format = meta.Format
		if s, ok := f.Get(meta.Strategy); ok {
			return s, format, nil
		}
	}
	if format == "" {
		detected, err := DetectFormat(path)
		if err != nil {
			return nil, FormatUnknown, err
		}
		format = detected
	}
	_, compressed := compressionFormat(format)
	if compressed || format == FormatEncrypted {
		// the payload is unknown until unwrapped; sqlite-native handles both kinds
		if s, ok := f.Get(TypeSQLiteNative); ok {
			return s, format, nil
		}
	}
	if format == FormatSQLiteNative {
		if s, ok := f.Get(TypeSQLiteNative); ok {
			return s, format, nil
		}
		return nil, format, apperrors.NewStrategyUnavailable(TypeSQLiteNative,
			fmt.Errorf("native sqlite copies can only be restored into sqlite"))
	}
	if s, ok := f.Get(TypeSQLGeneration); ok {
		return s, format, nil
	}
	return nil, format, apperrors.NewStrategyUnavailable(TypeSQLGeneration, nil)
}

func failedChecksError(report CapabilityReport) error {
	failed := report.Failed()
	if len(failed) == 0 {
		return fmt.Errorf("no capability checks ran")
	}
	msg := ""
	for i, c := range failed {
		if i > 0 {
			msg += "; "
		}
		msg += c.Name
		if c.Detail != "" {
			msg += " (" + c.Detail + ")"
		}
	}
	return fmt.Errorf("failed checks: %s", msg)
}
