// Package syncer implements incremental table synchronization: changed
// rows are staged through the bulk copy engine, then merged into the
// destination with an update pass followed by an insert pass, optionally
// propagating deletions recorded in a source deletion log.
package syncer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/connector"
	"github.com/vitebski/db-replicator/internal/copier"
	"github.com/vitebski/db-replicator/internal/introspect"
	"github.com/vitebski/db-replicator/internal/sqlbuild"
	"github.com/vitebski/db-replicator/pkg/models"
)

// ErrEmptyDestination guards against incrementally syncing a table that
// was never fully loaded: callers must run a full copy first.
var ErrEmptyDestination = errors.New("destination table is empty, run a full load first")

// Timestamp reference values are compared as literals at millisecond
// precision, matching what the merge filter can resolve.
const timestampFormat = "2006-01-02 15:04:05.000"

// Deletion keys are removed from the destination in bounded IN-list chunks
const deleteChunkSize = 500

// Result summarizes one incremental sync
type Result struct {
	ReferenceValue string
	RowsStaged     int64
	RowsUpdated    int64
	RowsInserted   int64
	RowsDeleted    int64
}

// Syncer performs incremental synchronization between one source and one
// destination connection
type Syncer struct {
	Source      *connector.DatabaseConnector
	Destination *connector.DatabaseConnector
	Logger      *logrus.Logger

	copier *copier.Copier
}

// New creates a syncer over an open connection pair
func New(source, destination *connector.DatabaseConnector, logger *logrus.Logger) *Syncer {
	return &Syncer{
		Source:      source,
		Destination: destination,
		Logger:      logger,
		copier:      copier.New(source, destination, logger),
	}
}

// Sync runs the three-phase incremental merge: stage changed rows into the
// staging table, update matched destination rows, insert missing ones.
// When the job enables deletion sync, keys logged as deleted after the
// reference value are removed from the destination as a fourth phase.
func (s *Syncer) Sync(job models.SyncJob) (Result, error) {
	var result Result

	sourceTable := fmt.Sprintf("%s.%s", job.SourceSchema, job.Table)
	destTable := fmt.Sprintf("%s.%s", job.DestinationSchema, job.Table)
	stagingTable := fmt.Sprintf("%s.%s", job.IncrementSchema, job.Table)
	if job.IncrementSchema == "" {
		stagingTable = fmt.Sprintf("%s.%s_changes", job.DestinationSchema, job.Table)
	}

	columns, err := introspect.ResolveColumns(s.Destination, destTable, nil)
	if err != nil {
		return result, err
	}

	destCount, err := s.Destination.QueryInt("SELECT COUNT(*) FROM " + destTable)
	if err != nil {
		return result, err
	}
	s.Logger.Infof("Destination table currently has %d rows", destCount)
	if destCount == 0 {
		return result, ErrEmptyDestination
	}

	refValue, condition, err := s.buildFilterCondition(destTable, columns, job)
	if err != nil {
		return result, err
	}
	result.ReferenceValue = refValue

	newCount, err := s.Source.QueryInt(
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", sourceTable, condition))
	if err != nil {
		return result, err
	}
	s.Logger.Infof("New or modified rows on source: %d", newCount)

	selectSQL := job.SelectSQL
	if selectSQL == "" {
		selectSQL = sqlbuild.BuildSelect(s.Source.Dialect, sourceTable, columns)
	}
	selectDiff := fmt.Sprintf("%s WHERE %s", selectSQL, condition)
	s.Logger.Infof("Staging query: %s", selectDiff)

	result.RowsStaged, err = s.copier.CopyFull(models.CopyJob{
		SelectSQL:        selectDiff,
		DestinationTable: stagingTable,
		ChunkSize:        job.ChunkSize,
		Truncate:         true,
		LoadType:         "incremental",
	})
	if err != nil {
		return result, err
	}

	if _, err := s.Destination.ExecuteStatement(s.Destination.Dialect.RebuildIndexSQL(stagingTable)); err != nil {
		return result, err
	}

	s.Logger.Infof("Starting incremental merge into %s", destTable)

	// update before insert: a row that is both changed and present must be
	// updated in place, never counted twice
	updates := sqlbuild.BuildUpdate(s.Destination.Dialect, destTable, stagingTable, job.KeyColumn, columns)
	result.RowsUpdated, err = s.Destination.ExecuteStatement(updates)
	if err != nil {
		return result, err
	}

	inserts := sqlbuild.BuildInsertMissing(s.Destination.Dialect, destTable, stagingTable, job.KeyColumn, columns)
	result.RowsInserted, err = s.Destination.ExecuteStatement(inserts)
	if err != nil {
		return result, err
	}

	if job.SyncDeletions {
		result.RowsDeleted, err = s.propagateDeletions(destTable, refValue, job)
		if err != nil {
			return result, err
		}
	}

	s.Logger.Infof("Sync of %s finished: %d staged, %d updated, %d inserted, %d deleted",
		destTable, result.RowsStaged, result.RowsUpdated, result.RowsInserted, result.RowsDeleted)

	return result, nil
}

// buildFilterCondition computes the exclusive lower-bound predicate for
// the staging select. The configured date column is preferred whenever it
// exists among the destination's resolved columns; otherwise the key
// column is used.
func (s *Syncer) buildFilterCondition(destTable string, columns []string, job models.SyncJob) (string, string, error) {
	refColumn := job.KeyColumn
	if introspect.HasColumn(columns, job.DateColumn) {
		refColumn = job.DateColumn
	}

	var refValue string
	if job.SinceTime != nil {
		refValue = job.SinceTime.Format(timestampFormat)
	} else {
		max, err := s.Destination.QueryValue(fmt.Sprintf("SELECT MAX(%s) FROM %s",
			s.Destination.Dialect.QuoteIdentifier(refColumn), destTable))
		if err != nil {
			return "", "", err
		}
		refValue = formatReference(max)
	}

	condition := fmt.Sprintf("%s > '%s'",
		s.Source.Dialect.QuoteIdentifier(refColumn), refValue)

	return refValue, condition, nil
}

func formatReference(value interface{}) string {
	switch v := value.(type) {
	case time.Time:
		return v.Format(timestampFormat)
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// propagateDeletions removes from the destination the keys recorded on
// the source deletion-log table after the reference value
func (s *Syncer) propagateDeletions(destTable, refValue string, job models.SyncJob) (int64, error) {
	logTable := fmt.Sprintf("%s.%s", job.DeletionSchema, job.DeletionTable)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > '%s'",
		s.Source.Dialect.QuoteIdentifier(job.KeyColumn),
		logTable,
		s.Source.Dialect.QuoteIdentifier(job.DeletionColumn),
		refValue)

	rows, err := s.Source.FetchRows(query)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, fmt.Sprintf("%v", row[0]))
	}

	for start := 0; start < len(keys); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		del := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			destTable,
			s.Destination.Dialect.QuoteIdentifier(job.KeyColumn),
			strings.Join(keys[start:end], ", "))
		if _, err := s.Destination.ExecuteStatement(del); err != nil {
			return 0, err
		}
	}

	s.Logger.Infof("Rows possibly deleted on destination: %d", len(keys))
	return int64(len(keys)), nil
}
