package restore

import (
	"context"
	"database/sql"

	"sqlferry/internal/dialect"
)

// execer is satisfied by both *sql.Conn and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sessionStep is one pre-restore setting and the statement that undoes it
type sessionStep struct {
	name  string
	apply string
	// fallback runs inside the transaction when apply is refused
	fallback string
	revert   string
	// inTx steps only take effect inside the restore transaction
	inTx bool
}

func sessionSteps(d dialect.Dialect, opts Options) []sessionStep {
	var steps []sessionStep
	switch d {
	case dialect.MySQL:
		if opts.foreignKeysOff() {
			steps = append(steps, sessionStep{
				name:   "foreign_key_checks",
				apply:  "SET FOREIGN_KEY_CHECKS=0",
				revert: "SET FOREIGN_KEY_CHECKS=1",
			})
		}
		if opts.uniqueChecksOff() {
			steps = append(steps, sessionStep{
				name:   "unique_checks",
				apply:  "SET UNIQUE_CHECKS=0",
				revert: "SET UNIQUE_CHECKS=1",
			})
		}
		steps = append(steps, sessionStep{
			name:   "sql_mode",
			apply:  "SET @SQLFERRY_OLD_SQL_MODE=@@SQL_MODE, SQL_MODE='NO_AUTO_VALUE_ON_ZERO'",
			revert: "SET SQL_MODE=@SQLFERRY_OLD_SQL_MODE",
		})

	case dialect.Postgres:
		if opts.foreignKeysOff() {
			steps = append(steps, sessionStep{
				name:     "session_replication_role",
				apply:    "SET session_replication_role = replica",
				fallback: "SET CONSTRAINTS ALL DEFERRED",
				revert:   "SET session_replication_role = DEFAULT",
			})
		}

	case dialect.SQLite:
		if !opts.foreignKeysOff() {
			break
		}
		if opts.ExecuteInTransaction {
			// foreign_keys cannot change inside a transaction. defer_foreign_keys
			// resets itself on commit; switching it off earlier would discard
			// the pending violation count.
			steps = append(steps, sessionStep{
				name:  "defer_foreign_keys",
				apply: "PRAGMA defer_foreign_keys = ON",
				inTx:  true,
			})
		} else {
			steps = append(steps, sessionStep{
				name:   "foreign_keys",
				apply:  "PRAGMA foreign_keys = OFF",
				revert: "PRAGMA foreign_keys = ON",
			})
		}
	}
	return steps
}
