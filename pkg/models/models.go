package models

import (
	"fmt"
	"time"
)

// Provider identifies a supported database backend
type Provider string

const (
	Postgres Provider = "postgres"
	MSSQL    Provider = "mssql"
	MySQL    Provider = "mysql"
)

// ConnectionSpec holds everything needed to open a connection to one
// database. Resolved once per job from the connection registry and owned
// by the job for its lifetime.
type ConnectionSpec struct {
	ID       string
	Provider Provider
	Host     string
	Port     int
	Schema   string
	Login    string
	Password string
}

// TableRef is a schema-qualified table name
type TableRef struct {
	Schema string
	Table  string
}

// String returns the schema.table form
func (t TableRef) String() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Table)
}

// CopyJob describes a full or offset-paginated table copy. SourceTable and
// SelectSQL are mutually exclusive: when SelectSQL is set it overrides the
// generated source query and SourceTable is not validated.
type CopyJob struct {
	SourceTable      string
	SelectSQL        string
	DestinationTable string
	ColumnsToIgnore  []string
	ChunkSize        int
	Truncate         bool
	LoadType         string
}

// KeyCopyJob describes a key-interval copy over a monotonic integer key
type KeyCopyJob struct {
	SourceTable      string
	DestinationTable string
	KeyColumn        string
	KeyStart         int64
	KeyInterval      int64
	Truncate         bool
}

// CopyState is the outcome of a key-interval copy. When Succeeded is false
// NextKey is the first key of the interval that failed, so a caller can
// resume without recounting the destination.
type CopyState struct {
	Succeeded    bool
	NextKey      int64
	RowsInserted int64
}

// BackoffPolicy bounds the retry orchestrator
type BackoffPolicy struct {
	Retries int
	Delay   time.Duration
}

// SyncJob describes an incremental synchronization of one table
type SyncJob struct {
	Table             string
	DateColumn        string
	KeyColumn         string
	SourceSchema      string
	DestinationSchema string
	IncrementSchema   string
	SelectSQL         string
	SinceTime         *time.Time
	ChunkSize         int

	// Delete propagation from a source deletion-log table
	SyncDeletions  bool
	DeletionSchema string
	DeletionTable  string
	DeletionColumn string
}

// GapJob describes a read-only per-interval row-count comparison
type GapJob struct {
	SourceTable      string
	DestinationTable string
	KeyColumn        string
	KeyStart         int64
	KeyInterval      int64
}

// GapReport accumulates the result of a gap audit
type GapReport struct {
	IntervalsScanned    int
	MismatchedIntervals int
	RowDifference       int64
}
