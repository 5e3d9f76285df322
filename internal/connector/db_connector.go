package connector

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/dialect"
	"github.com/vitebski/db-replicator/pkg/models"
)

// ConnectionError wraps a failure to open or ping a database
type ConnectionError struct {
	ConnID string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s failed: %v", e.ConnID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DatabaseConnector handles one side of a replication job: a single
// database connection plus the dialect facts needed to talk to it
type DatabaseConnector struct {
	Spec    models.ConnectionSpec
	Dialect dialect.Dialect
	DB      *sql.DB
	Logger  *logrus.Logger
}

// NewDatabaseConnector resolves the dialect for the connection spec.
// An unsupported provider tag fails here, before any connection is opened.
func NewDatabaseConnector(spec models.ConnectionSpec, logger *logrus.Logger) (*DatabaseConnector, error) {
	d, err := dialect.For(spec.Provider)
	if err != nil {
		return nil, err
	}

	return &DatabaseConnector{
		Spec:    spec,
		Dialect: d,
		Logger:  logger,
	}, nil
}

// Connect opens and pings the database
func (dc *DatabaseConnector) Connect() error {
	db, err := sql.Open(dc.Dialect.DriverName(), dc.Dialect.DSN(dc.Spec))
	if err != nil {
		dc.Logger.Errorf("Error opening %s connection %s: %v", dc.Spec.Provider, dc.Spec.ID, err)
		return &ConnectionError{ConnID: dc.Spec.ID, Err: err}
	}

	if err := db.Ping(); err != nil {
		dc.Logger.Errorf("Error pinging %s connection %s: %v", dc.Spec.Provider, dc.Spec.ID, err)
		db.Close()
		return &ConnectionError{ConnID: dc.Spec.ID, Err: err}
	}

	dc.DB = db
	dc.Logger.Infof("Connected to %s database %s", dc.Spec.Provider, dc.Spec.ID)
	return nil
}

// Disconnect closes the database connection
func (dc *DatabaseConnector) Disconnect() {
	if dc.DB != nil {
		if err := dc.DB.Close(); err != nil {
			dc.Logger.Errorf("Error closing connection %s: %v", dc.Spec.ID, err)
		} else {
			dc.Logger.Infof("Connection %s closed", dc.Spec.ID)
		}
	}
}

// QueryValue executes a query expected to return a single scalar
func (dc *DatabaseConnector) QueryValue(query string, params ...interface{}) (interface{}, error) {
	var value interface{}
	if err := dc.DB.QueryRow(query, params...).Scan(&value); err != nil {
		dc.Logger.Errorf("Error executing query on %s: %v", dc.Spec.ID, err)
		return nil, err
	}
	return value, nil
}

// QueryInt executes a query expected to return a single integer, treating
// NULL as zero
func (dc *DatabaseConnector) QueryInt(query string, params ...interface{}) (int64, error) {
	var value sql.NullInt64
	if err := dc.DB.QueryRow(query, params...).Scan(&value); err != nil {
		dc.Logger.Errorf("Error executing query on %s: %v", dc.Spec.ID, err)
		return 0, err
	}
	return value.Int64, nil
}

// FetchRows executes a query and returns all rows as positional values
func (dc *DatabaseConnector) FetchRows(query string, params ...interface{}) ([][]interface{}, error) {
	rows, err := dc.DB.Query(query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing query on %s: %v", dc.Spec.ID, err)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results [][]interface{}
	for rows.Next() {
		row, err := scanRow(rows, len(columns))
		if err != nil {
			dc.Logger.Errorf("Error scanning row from %s: %v", dc.Spec.ID, err)
			return nil, err
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// ExecuteStatement executes a SQL statement and returns the number of
// affected rows
func (dc *DatabaseConnector) ExecuteStatement(query string, params ...interface{}) (int64, error) {
	result, err := dc.DB.Exec(query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing statement on %s: %v", dc.Spec.ID, err)
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// ExecuteMany executes a parameterized statement once per row inside a
// single transaction, committing at the end. This is the batched insert
// path of the copy engines.
func (dc *DatabaseConnector) ExecuteMany(query string, rows [][]interface{}) (int64, error) {
	tx, err := dc.DB.Begin()
	if err != nil {
		dc.Logger.Errorf("Error starting transaction on %s: %v", dc.Spec.ID, err)
		return 0, err
	}

	stmt, err := tx.Prepare(query)
	if err != nil {
		dc.Logger.Errorf("Error preparing statement on %s: %v", dc.Spec.ID, err)
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	var totalAffected int64
	for _, row := range rows {
		result, err := stmt.Exec(row...)
		if err != nil {
			dc.Logger.Errorf("Error executing batch statement on %s: %v", dc.Spec.ID, err)
			tx.Rollback()
			return 0, err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		totalAffected += affected
	}

	if err := tx.Commit(); err != nil {
		dc.Logger.Errorf("Error committing transaction on %s: %v", dc.Spec.ID, err)
		return 0, err
	}

	return totalAffected, nil
}

// RowStream is a held server-side cursor over a source query, read in
// bounded chunks
type RowStream struct {
	rows     *sql.Rows
	colCount int
}

// OpenStream executes a query and returns a stream for chunked fetching.
// The caller must Close the stream on every exit path.
func (dc *DatabaseConnector) OpenStream(query string, params ...interface{}) (*RowStream, error) {
	rows, err := dc.DB.Query(query, params...)
	if err != nil {
		dc.Logger.Errorf("Error opening cursor on %s: %v", dc.Spec.ID, err)
		return nil, err
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}

	return &RowStream{rows: rows, colCount: len(columns)}, nil
}

// FetchMany reads up to n rows from the stream. A short or empty result
// means the stream is exhausted.
func (rs *RowStream) FetchMany(n int) ([][]interface{}, error) {
	var chunk [][]interface{}
	for len(chunk) < n && rs.rows.Next() {
		row, err := scanRow(rs.rows, rs.colCount)
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, row)
	}
	if err := rs.rows.Err(); err != nil {
		return nil, err
	}
	return chunk, nil
}

// Close releases the underlying cursor
func (rs *RowStream) Close() {
	rs.rows.Close()
}

func scanRow(rows *sql.Rows, colCount int) ([]interface{}, error) {
	values := make([]interface{}, colCount)
	ptrs := make([]interface{}, colCount)
	for i := range values {
		ptrs[i] = &values[i]
	}

	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	// []byte buffers are reused by drivers between scans
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}

	return values, nil
}
