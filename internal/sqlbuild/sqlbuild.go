// Package sqlbuild assembles the SQL statements used by the copy and sync
// engines. It is pure string assembly: identifiers come from introspection
// or trusted configuration, never from data values, and quoting is always
// delegated to the dialect of the database the statement will run on.
package sqlbuild

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/dialect"
	"github.com/vitebski/db-replicator/pkg/models"
)

// ValidationError reports a malformed table reference or job input,
// raised before any connection is opened
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ParseTableRef splits a schema.table string, requiring exactly one
// separator and both parts non-empty
func ParseTableRef(s string) (models.TableRef, error) {
	if strings.Count(s, ".") != 1 {
		return models.TableRef{}, &ValidationError{
			Msg: fmt.Sprintf("table reference %q must be in schema.table format", s),
		}
	}
	parts := strings.SplitN(s, ".", 2)
	if parts[0] == "" || parts[1] == "" {
		return models.TableRef{}, &ValidationError{
			Msg: fmt.Sprintf("table reference %q must be in schema.table format", s),
		}
	}
	return models.TableRef{Schema: parts[0], Table: parts[1]}, nil
}

// ValidateTables checks the destination (and, without a SELECT override,
// the source) table references. Differing bare table names between source
// and destination are a warning, not a failure.
func ValidateTables(sourceTable, destinationTable, selectSQL string, logger *logrus.Logger) error {
	dest, err := ParseTableRef(destinationTable)
	if err != nil {
		return err
	}

	if selectSQL != "" {
		return nil
	}

	src, err := ParseTableRef(sourceTable)
	if err != nil {
		return err
	}

	if src.Table != dest.Table {
		logger.Warningf("Source and destination tables have different names: %s vs %s",
			src.Table, dest.Table)
	}

	return nil
}

// QuoteColumns quotes every column name with the given dialect, keeping order
func QuoteColumns(d dialect.Dialect, columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = d.QuoteIdentifier(col)
	}
	return quoted
}

// BuildSelect assembles the source read query
func BuildSelect(d dialect.Dialect, table string, columns []string) string {
	return fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(QuoteColumns(d, columns), ", "), table)
}

// BuildInsert assembles a parameterized multi-column insert using the
// destination dialect's placeholder style
func BuildInsert(d dialect.Dialect, table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(QuoteColumns(d, columns), ", "),
		strings.Join(placeholders, ", "))
}

// BuildTruncate assembles the destination truncate statement
func BuildTruncate(table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s", table)
}

// BuildUpdate assembles the merge update: every tracked column on the
// destination is set from the staging row matched by key. The statement
// shape comes from the dialect, since MySQL takes a JOIN form where the
// others take UPDATE ... FROM.
func BuildUpdate(d dialect.Dialect, destTable, stagingTable, keyColumn string, columns []string) string {
	sets := make([]string, len(columns))
	for i, col := range QuoteColumns(d, columns) {
		sets[i] = fmt.Sprintf("%s = orig.%s", col, col)
	}
	key := d.QuoteIdentifier(keyColumn)
	match := fmt.Sprintf("orig.%s = %s.%s", key, destTable, key)
	return d.MergeUpdateSQL(destTable, stagingTable, strings.Join(sets, ", "), match)
}

// BuildInsertMissing assembles the merge insert: staging rows whose key is
// absent from the destination, guarded by NOT EXISTS
func BuildInsertMissing(d dialect.Dialect, destTable, stagingTable, keyColumn string, columns []string) string {
	cols := strings.Join(QuoteColumns(d, columns), ", ")
	key := d.QuoteIdentifier(keyColumn)
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s AS inc "+
			"WHERE NOT EXISTS (SELECT 1 FROM %s AS cur WHERE cur.%s = inc.%s)",
		destTable, cols, cols, stagingTable, destTable, key, key)
}

var fromPattern = regexp.MustCompile(`(?i)from\s+("?'?\[?[\w."'\[\]]*"?'?\]?)`)

// TableFromQuery extracts the schema.table of the FROM clause of a SELECT
// override, for load-log attribution
func TableFromQuery(query string) (string, error) {
	match := fromPattern.FindStringSubmatch(query)
	if match == nil {
		return "", &ValidationError{Msg: fmt.Sprintf("no FROM clause found in query %q", query)}
	}

	ref := strings.NewReplacer("[", "", "]", "", `"`, "", "'", "").Replace(match[1])
	parts := strings.Split(ref, ".")
	if len(parts) < 2 {
		return "", &ValidationError{Msg: fmt.Sprintf("unqualified table in query %q", query)}
	}
	// drop a leading database qualifier on db.schema.table
	return strings.Join(parts[len(parts)-2:], "."), nil
}
