// Package loadlog records finished loads into a control table on the
// destination, one row per load with the source identity and row count.
package loadlog

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/connector"
	"github.com/vitebski/db-replicator/internal/sqlbuild"
	"github.com/vitebski/db-replicator/pkg/models"
)

// DefaultTable is the log table name used when none is configured
const DefaultTable = "consumption_log"

// Record describes one finished load
type Record struct {
	SourceDatabase string
	SourceSchema   string
	SourceTable    string
	Login          string
	LoadType       string
	RowCount       int64
}

// Writer appends load records to the control table of one destination
type Writer struct {
	Destination *connector.DatabaseConnector
	Schema      string
	Table       string
	Logger      *logrus.Logger
}

// New creates a writer for the log table at schema.table on the
// destination. An empty table name falls back to DefaultTable.
func New(destination *connector.DatabaseConnector, schema, table string, logger *logrus.Logger) *Writer {
	if table == "" {
		table = DefaultTable
	}
	return &Writer{Destination: destination, Schema: schema, Table: table, Logger: logger}
}

// Write creates the log table when missing and appends one record. The
// consumption timestamp is taken from the destination server clock.
func (w *Writer) Write(record Record) error {
	if err := w.ensureTable(); err != nil {
		return err
	}

	logTable := fmt.Sprintf("%s.%s", w.Schema, w.Table)
	sql := fmt.Sprintf(`INSERT INTO %s
	(source_database, source_schema, source_table, login, load_type, consumed_at, row_count)
	VALUES ('%s', '%s', '%s', '%s', '%s', CURRENT_TIMESTAMP, %d)`,
		logTable,
		record.SourceDatabase, record.SourceSchema, record.SourceTable,
		record.Login, record.LoadType, record.RowCount)

	if _, err := w.Destination.ExecuteStatement(sql); err != nil {
		w.Logger.Errorf("Error writing load record to %s: %v", logTable, err)
		return err
	}
	w.Logger.Infof("Recorded %s load of %s.%s (%d rows) in %s",
		record.LoadType, record.SourceSchema, record.SourceTable, record.RowCount, logTable)
	return nil
}

// RecordFromSpec derives the source identity fields of a record from a
// connection spec and a schema-qualified table name.
func RecordFromSpec(spec models.ConnectionSpec, sourceTable, loadType string, rows int64) (Record, error) {
	ref, err := sqlbuild.ParseTableRef(sourceTable)
	if err != nil {
		return Record{}, err
	}
	return Record{
		SourceDatabase: spec.Schema,
		SourceSchema:   ref.Schema,
		SourceTable:    ref.Table,
		Login:          spec.Login,
		LoadType:       loadType,
		RowCount:       rows,
	}, nil
}

func (w *Writer) ensureTable() error {
	logTable := fmt.Sprintf("%s.%s", w.Schema, w.Table)

	var createPrefix, dateType string
	switch w.Destination.Spec.Provider {
	case models.MSSQL:
		createPrefix = fmt.Sprintf("IF OBJECT_ID('%s', 'U') IS NULL CREATE TABLE", logTable)
		dateType = "datetime2"
	case models.Postgres:
		createPrefix = "CREATE TABLE IF NOT EXISTS"
		dateType = "timestamp"
	case models.MySQL:
		createPrefix = "CREATE TABLE IF NOT EXISTS"
		dateType = "datetime"
	default:
		return fmt.Errorf("no load log table DDL for provider %q", w.Destination.Spec.Provider)
	}

	sql := fmt.Sprintf(`%s %s (
	source_database varchar(30) NOT NULL,
	source_schema   varchar(30) NOT NULL,
	source_table    varchar(60) NOT NULL,
	login           varchar(20) NOT NULL,
	load_type       varchar(15) NOT NULL,
	consumed_at     %s NOT NULL,
	row_count       bigint NULL)`, createPrefix, logTable, dateType)

	_, err := w.Destination.ExecuteStatement(sql)
	return err
}
