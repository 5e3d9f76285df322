package introspect

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/connector"
	"github.com/vitebski/db-replicator/internal/dialect"
	"github.com/vitebski/db-replicator/pkg/models"
)

func mockConnector(t *testing.T) (*connector.DatabaseConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Error creating sqlmock: %v", err)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	d, _ := dialect.For(models.Postgres)
	return &connector.DatabaseConnector{
		Spec:    models.ConnectionSpec{ID: "dest", Provider: models.Postgres},
		Dialect: d,
		DB:      db,
		Logger:  logger,
	}, mock
}

func TestResolveColumns(t *testing.T) {
	dc, mock := mockConnector(t)
	defer dc.DB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM stg.flight WHERE 1 = 2")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "route", "updated_at"}))

	cols, err := ResolveColumns(dc, "stg.flight", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := []string{"id", "route", "updated_at"}
	if len(cols) != len(want) {
		t.Fatalf("Expected %d columns, got %d", len(want), len(cols))
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("Expected column %d to be %s, got %s", i, want[i], cols[i])
		}
	}
}

func TestResolveColumnsFiltersIgnoreSet(t *testing.T) {
	dc, mock := mockConnector(t)
	defer dc.DB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM stg.flight WHERE 1 = 2")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "route", "LoadStamp"}))

	cols, err := ResolveColumns(dc, "stg.flight", []string{"loadstamp"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("Expected 2 columns after ignore filter, got %d", len(cols))
	}
	for _, col := range cols {
		if col == "LoadStamp" {
			t.Error("Expected LoadStamp to be filtered out")
		}
	}
}

func TestResolveColumnsMissingTable(t *testing.T) {
	dc, mock := mockConnector(t)
	defer dc.DB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM stg.missing WHERE 1 = 2")).
		WillReturnError(errors.New(`relation "stg.missing" does not exist`))

	_, err := ResolveColumns(dc, "stg.missing", nil)
	if err == nil {
		t.Fatal("Expected error for missing table, got nil")
	}
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Errorf("Expected SchemaError, got %T", err)
	}
}

func TestHasColumn(t *testing.T) {
	cols := []string{"id", "UpdatedAt"}
	if !HasColumn(cols, "updatedat") {
		t.Error("Expected case-insensitive match")
	}
	if HasColumn(cols, "route") {
		t.Error("Expected no match for absent column")
	}
	if HasColumn(cols, "") {
		t.Error("Expected no match for empty name")
	}
}
