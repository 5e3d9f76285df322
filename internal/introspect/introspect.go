package introspect

import (
	"fmt"
	"strings"

	"github.com/vitebski/db-replicator/internal/connector"
)

// SchemaError reports a table whose columns could not be resolved on the
// destination
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("could not resolve columns of %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ResolveColumns obtains the column names of a table through a zero-row
// probe query, without scanning any data. Names in the ignore set are
// removed (case-insensitive). The returned names are unquoted; quoting is
// applied by the query builder with the dialect of each statement's target.
func ResolveColumns(dc *connector.DatabaseConnector, table string, ignore []string) ([]string, error) {
	probe := fmt.Sprintf("SELECT * FROM %s WHERE 1 = 2", table)
	rows, err := dc.DB.Query(probe)
	if err != nil {
		dc.Logger.Errorf("Error probing columns of %s: %v", table, err)
		return nil, &SchemaError{Table: table, Err: err}
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, &SchemaError{Table: table, Err: err}
	}

	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[strings.ToLower(name)] = true
	}

	var columns []string
	for _, name := range names {
		if ignored[strings.ToLower(name)] {
			continue
		}
		columns = append(columns, name)
	}

	if len(columns) == 0 {
		return nil, &SchemaError{Table: table, Err: fmt.Errorf("no usable columns")}
	}

	return columns, nil
}

// HasColumn reports whether name is among the resolved columns,
// case-insensitive
func HasColumn(columns []string, name string) bool {
	if name == "" {
		return false
	}
	for _, col := range columns {
		if strings.EqualFold(col, name) {
			return true
		}
	}
	return false
}
