package copier

import (
	"fmt"

	"github.com/vitebski/db-replicator/internal/introspect"
	"github.com/vitebski/db-replicator/internal/sqlbuild"
	"github.com/vitebski/db-replicator/pkg/models"
)

// CopyByKeyInterval partitions the source table into contiguous fixed-size
// ranges of a monotonic key column and copies range by range, committing
// per range. Read or write failures inside the loop never raise: they are
// converted into CopyState{Succeeded: false, NextKey: <failed range
// start>} so the caller can resume without recounting the destination.
// The returned error is non-nil only for validation, schema and connection
// failures before the loop starts.
func (c *Copier) CopyByKeyInterval(job models.KeyCopyJob) (models.CopyState, error) {
	state := models.CopyState{NextKey: job.KeyStart}

	if job.KeyInterval <= 0 {
		return state, &sqlbuild.ValidationError{
			Msg: fmt.Sprintf("key interval must be positive, got %d", job.KeyInterval),
		}
	}
	if err := sqlbuild.ValidateTables(job.SourceTable, job.DestinationTable, "", c.Logger); err != nil {
		return state, err
	}

	columns, err := introspect.ResolveColumns(c.Destination, job.DestinationTable, nil)
	if err != nil {
		return state, err
	}

	insert := sqlbuild.BuildInsert(c.Destination.Dialect, job.DestinationTable, columns)
	selectSQL := fmt.Sprintf("%s WHERE %s BETWEEN %s AND %s",
		sqlbuild.BuildSelect(c.Source.Dialect, job.SourceTable, columns),
		c.Source.Dialect.QuoteIdentifier(job.KeyColumn),
		c.Source.Dialect.Placeholder(1),
		c.Source.Dialect.Placeholder(2))

	if job.Truncate {
		if _, err := c.Destination.ExecuteStatement(sqlbuild.BuildTruncate(job.DestinationTable)); err != nil {
			return state, err
		}
	}

	// The upper bound is observed once at job start; rows appended to the
	// source afterwards belong to the next run.
	maxKey, err := c.Source.QueryInt(fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s",
		c.Source.Dialect.QuoteIdentifier(job.KeyColumn), job.SourceTable))
	if err != nil {
		return state, err
	}

	start := c.now()
	lastPause := c.now()
	keyBegin := job.KeyStart
	keyEnd := keyBegin + job.KeyInterval - 1

	for keyBegin <= maxKey && maxKey > 0 {
		if c.now().Sub(lastPause) > c.runStep {
			c.Logger.Infof("Active for %s, pausing %s to stay under the scheduler's kill timeout",
				c.runStep, c.pause)
			c.sleep(c.pause)
			lastPause = c.now()
		}

		rows, err := c.Source.FetchRows(selectSQL, keyBegin, keyEnd)
		if err != nil {
			c.Logger.Infof("Source error: %v. Key interval: %d-%d", err, keyBegin, keyEnd)
			state.NextKey = keyBegin
			return state, nil
		}

		if len(rows) > 0 {
			if _, err := c.Destination.ExecuteMany(insert, rows); err != nil {
				c.Logger.Infof("Destination error: %v. Key interval: %d-%d", err, keyBegin, keyEnd)
				state.NextKey = keyBegin
				return state, nil
			}
			state.RowsInserted += int64(len(rows))
		}

		keyBegin = keyEnd + 1
		keyEnd = keyBegin + job.KeyInterval - 1
	}

	c.reportThroughput(state.RowsInserted, c.now().Sub(start))

	state.Succeeded = true
	state.NextKey = 0
	return state, nil
}
