package connector

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/dialect"
	"github.com/vitebski/db-replicator/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func mockConnector(t *testing.T, provider models.Provider) (*DatabaseConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Error creating sqlmock: %v", err)
	}
	d, err := dialect.For(provider)
	if err != nil {
		t.Fatalf("Error resolving dialect: %v", err)
	}
	return &DatabaseConnector{
		Spec:    models.ConnectionSpec{ID: "test-conn", Provider: provider},
		Dialect: d,
		DB:      db,
		Logger:  testLogger(),
	}, mock
}

func TestNewDatabaseConnectorUnsupportedProvider(t *testing.T) {
	spec := models.ConnectionSpec{ID: "bad", Provider: "oracle"}
	_, err := NewDatabaseConnector(spec, testLogger())
	if err == nil {
		t.Fatal("Expected error for unsupported provider, got nil")
	}
	if !errors.Is(err, dialect.ErrUnsupportedProvider) {
		t.Errorf("Expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewDatabaseConnectorResolvesDialect(t *testing.T) {
	spec := models.ConnectionSpec{ID: "src", Provider: models.Postgres}
	dc, err := NewDatabaseConnector(spec, testLogger())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if dc.Dialect.Provider() != models.Postgres {
		t.Errorf("Expected postgres dialect, got %s", dc.Dialect.Provider())
	}
	if dc.DB != nil {
		t.Error("Expected no connection to be opened at construction")
	}
}

func TestQueryInt(t *testing.T) {
	dc, mock := mockConnector(t, models.Postgres)
	defer dc.DB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM stg.flight")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := dc.QueryInt("SELECT COUNT(*) FROM stg.flight")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if count != 42 {
		t.Errorf("Expected 42, got %d", count)
	}
}

func TestQueryIntTreatsNullAsZero(t *testing.T) {
	dc, mock := mockConnector(t, models.Postgres)
	defer dc.DB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(id) FROM stg.flight")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	max, err := dc.QueryInt("SELECT MAX(id) FROM stg.flight")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if max != 0 {
		t.Errorf("Expected 0 for NULL max, got %d", max)
	}
}

func TestFetchRowsConvertsBytes(t *testing.T) {
	dc, mock := mockConnector(t, models.MySQL)
	defer dc.DB.Close()

	mock.ExpectQuery("SELECT .* FROM origin.flight").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, []byte("GRU-BSB")).
			AddRow(2, []byte("BSB-REC")))

	rows, err := dc.FetchRows("SELECT id, name FROM origin.flight")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0][1] != "GRU-BSB" {
		t.Errorf("Expected []byte converted to string, got %T %v", rows[0][1], rows[0][1])
	}
}

func TestExecuteMany(t *testing.T) {
	dc, mock := mockConnector(t, models.MSSQL)
	defer dc.DB.Close()

	insert := "INSERT INTO dbo.flight (id, name) VALUES (@p1, @p2)"
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(insert))
	prep.ExpectExec().WithArgs(1, "GRU-BSB").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(2, "BSB-REC").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, err := dc.ExecuteMany(insert, [][]interface{}{
		{1, "GRU-BSB"},
		{2, "BSB-REC"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if affected != 2 {
		t.Errorf("Expected 2 affected rows, got %d", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestExecuteManyRollsBackOnError(t *testing.T) {
	dc, mock := mockConnector(t, models.Postgres)
	defer dc.DB.Close()

	insert := "INSERT INTO stg.flight (id) VALUES ($1)"
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(insert))
	prep.ExpectExec().WithArgs(1).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := dc.ExecuteMany(insert, [][]interface{}{{1}})
	if err == nil {
		t.Fatal("Expected error from failing insert, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestRowStreamFetchMany(t *testing.T) {
	dc, mock := mockConnector(t, models.Postgres)
	defer dc.DB.Close()

	mock.ExpectQuery("SELECT .* FROM origin.flight").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(1).AddRow(2).AddRow(3))

	stream, err := dc.OpenStream("SELECT id FROM origin.flight")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer stream.Close()

	chunk, err := stream.FetchMany(2)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(chunk) != 2 {
		t.Errorf("Expected first chunk of 2 rows, got %d", len(chunk))
	}

	chunk, err = stream.FetchMany(2)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(chunk) != 1 {
		t.Errorf("Expected final chunk of 1 row, got %d", len(chunk))
	}

	chunk, _ = stream.FetchMany(2)
	if len(chunk) != 0 {
		t.Errorf("Expected exhausted stream, got %d rows", len(chunk))
	}
}
