package dialect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vitebski/db-replicator/pkg/models"
)

// ErrUnsupportedProvider is returned by For when the provider tag is not
// one of postgres, mssql or mysql. It surfaces at job construction, before
// any connection is opened.
var ErrUnsupportedProvider = fmt.Errorf("unsupported provider (use postgres, mssql or mysql)")

// Dialect captures the per-backend facts the engines need: identifier
// quoting, parameter placeholders, index rebuilding and the shape of
// the staging merge update. Implementations are stateless.
type Dialect interface {
	Provider() models.Provider
	QuoteIdentifier(name string) string
	Placeholder(pos int) string
	RebuildIndexSQL(table string) string
	// PaginateSQL bounds a query to one page of the offset-paginated
	// copy strategy. Offset and limit are trusted job inputs.
	PaginateSQL(query string, offset, limit int64) string
	// MergeUpdateSQL shapes the update half of a staging merge: setClause
	// assigns destination columns from the staging alias "orig" and
	// matchClause joins staging rows to destination rows by key. MySQL
	// has no UPDATE ... FROM and needs a JOIN form instead.
	MergeUpdateSQL(destTable, stagingTable, setClause, matchClause string) string
	DriverName() string
	DSN(spec models.ConnectionSpec) string
}

// For returns the dialect implementation for a provider tag
func For(provider models.Provider) (Dialect, error) {
	switch models.Provider(strings.ToLower(string(provider))) {
	case models.Postgres:
		return postgresDialect{}, nil
	case models.MSSQL:
		return mssqlDialect{}, nil
	case models.MySQL:
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
}

type postgresDialect struct{}

func (postgresDialect) Provider() models.Provider { return models.Postgres }

func (postgresDialect) QuoteIdentifier(name string) string {
	return `"` + name + `"`
}

func (postgresDialect) Placeholder(pos int) string {
	return fmt.Sprintf("$%d", pos)
}

func (postgresDialect) RebuildIndexSQL(table string) string {
	return fmt.Sprintf("REINDEX TABLE %s", table)
}

func (postgresDialect) PaginateSQL(query string, offset, limit int64) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset)
}

func (postgresDialect) MergeUpdateSQL(destTable, stagingTable, setClause, matchClause string) string {
	return fmt.Sprintf("UPDATE %s SET %s FROM %s orig WHERE %s",
		destTable, setClause, stagingTable, matchClause)
}

func (postgresDialect) DriverName() string { return "postgres" }

func (postgresDialect) DSN(spec models.ConnectionSpec) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		spec.Host, spec.Port, spec.Schema, spec.Login, spec.Password)
}

type mssqlDialect struct{}

func (mssqlDialect) Provider() models.Provider { return models.MSSQL }

func (mssqlDialect) QuoteIdentifier(name string) string {
	return "[" + name + "]"
}

func (mssqlDialect) Placeholder(pos int) string {
	return fmt.Sprintf("@p%d", pos)
}

func (mssqlDialect) RebuildIndexSQL(table string) string {
	return fmt.Sprintf("ALTER INDEX ALL ON %s REBUILD", table)
}

func (mssqlDialect) PaginateSQL(query string, offset, limit int64) string {
	return fmt.Sprintf("%s ORDER BY (SELECT NULL) OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
		query, offset, limit)
}

func (mssqlDialect) MergeUpdateSQL(destTable, stagingTable, setClause, matchClause string) string {
	return fmt.Sprintf("UPDATE %s SET %s FROM %s orig WHERE %s",
		destTable, setClause, stagingTable, matchClause)
}

func (mssqlDialect) DriverName() string { return "sqlserver" }

func (mssqlDialect) DSN(spec models.ConnectionSpec) string {
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(spec.Login, spec.Password),
		Host:     fmt.Sprintf("%s:%d", spec.Host, spec.Port),
		RawQuery: url.Values{"database": []string{spec.Schema}}.Encode(),
	}
	return u.String()
}

type mysqlDialect struct{}

func (mysqlDialect) Provider() models.Provider { return models.MySQL }

func (mysqlDialect) QuoteIdentifier(name string) string {
	return "`" + name + "`"
}

func (mysqlDialect) Placeholder(pos int) string { return "?" }

func (mysqlDialect) RebuildIndexSQL(table string) string {
	return fmt.Sprintf("OPTIMIZE TABLE %s", table)
}

func (mysqlDialect) PaginateSQL(query string, offset, limit int64) string {
	return fmt.Sprintf("%s LIMIT %d, %d", query, offset, limit)
}

func (mysqlDialect) MergeUpdateSQL(destTable, stagingTable, setClause, matchClause string) string {
	return fmt.Sprintf("UPDATE %s JOIN %s orig ON %s SET %s",
		destTable, stagingTable, matchClause, setClause)
}

func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) DSN(spec models.ConnectionSpec) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		spec.Login, spec.Password, spec.Host, spec.Port, spec.Schema)
}
