// Package metrics provides Prometheus metrics for backup and restore runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Statement result label values
const (
	ResultExecuted = "executed"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
)

// Recorder owns a registry for one process. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// BackupCount tracks backups per strategy and outcome
	BackupCount *prometheus.CounterVec
	// RestoreCount tracks restore runs per target dialect and outcome
	RestoreCount *prometheus.CounterVec
	// StatementCount tracks individual restored statements by result
	StatementCount *prometheus.CounterVec
	// OperationDuration measures backup, restore and upload durations
	OperationDuration *prometheus.HistogramVec
	// BackupSize records the size of the last artifact per strategy
	BackupSize *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		BackupCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlferry_backups_total",
			Help: "The total number of backups performed",
		}, []string{"strategy", "status"}),
		RestoreCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlferry_restores_total",
			Help: "The total number of restore runs",
		}, []string{"dialect", "status"}),
		StatementCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlferry_statements_total",
			Help: "The total number of statements processed during restores",
		}, []string{"result"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sqlferry_operation_duration_seconds",
			Help:    "Time taken by backup, restore and upload operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		BackupSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sqlferry_backup_size_bytes",
			Help: "Size of the last backup artifact in bytes",
		}, []string{"strategy"}),
	}

	r.registry.MustRegister(r.BackupCount, r.RestoreCount, r.StatementCount, r.OperationDuration, r.BackupSize)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveBackup records one finished backup
func (r *Recorder) ObserveBackup(strategy string, size int64, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.BackupCount.WithLabelValues(strategy, status(err)).Inc()
	r.OperationDuration.WithLabelValues("backup").Observe(duration.Seconds())
	if err == nil {
		r.BackupSize.WithLabelValues(strategy).Set(float64(size))
	}
}

// ObserveRestore records one finished restore run and its statement counters
func (r *Recorder) ObserveRestore(dialect string, executed, failed, skipped int, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.RestoreCount.WithLabelValues(dialect, status(err)).Inc()
	r.StatementCount.WithLabelValues(ResultExecuted).Add(float64(executed))
	r.StatementCount.WithLabelValues(ResultFailed).Add(float64(failed))
	r.StatementCount.WithLabelValues(ResultSkipped).Add(float64(skipped))
	r.OperationDuration.WithLabelValues("restore").Observe(duration.Seconds())
}

// ObserveDuration records the duration of any other named operation
func (r *Recorder) ObserveDuration(operation string, duration time.Duration) {
	if r == nil {
		return
	}
	r.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// WriteTextfile writes the registry in the node exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

func status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}
