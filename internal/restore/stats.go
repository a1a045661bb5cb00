package restore

import (
	"fmt"
	"time"

	"sqlferry/internal/logging"
)

const failurePreviewLength = 200

// Failure records one statement that did not execute
type Failure struct {
	Index   int
	Line    int
	Preview string
	Message string
}

// Stats counts what happened to every statement of one run
type Stats struct {
	RunID    string
	Total    int
	Executed int
	Failed   int
	Skipped  int
	Failures []Failure
	// FailuresDropped counts failures beyond the record limit
	FailuresDropped   int
	SequencesReplayed int
	Duration          time.Duration

	maxFailures int
}

func newStats(runID string, total, maxFailures int) *Stats {
	return &Stats{RunID: runID, Total: total, maxFailures: maxFailures}
}

func (s *Stats) recordFailure(index, line int, sql string, err error) {
	s.Failed++
	if len(s.Failures) >= s.maxFailures {
		s.FailuresDropped++
		return
	}
	s.Failures = append(s.Failures, Failure{
		Index:   index,
		Line:    line,
		Preview: logging.SanitizeSQL(logging.Preview(sql, failurePreviewLength)),
		Message: err.Error(),
	})
}

// Check verifies that every statement was accounted for exactly once
func (s *Stats) Check() error {
	if s.Executed+s.Failed+s.Skipped != s.Total {
		return fmt.Errorf("statement counters out of balance: executed %d + failed %d + skipped %d != total %d",
			s.Executed, s.Failed, s.Skipped, s.Total)
	}
	return nil
}
