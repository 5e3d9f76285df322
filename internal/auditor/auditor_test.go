package auditor

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/connector"
	"github.com/vitebski/db-replicator/internal/dialect"
	"github.com/vitebski/db-replicator/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func mockConnector(t *testing.T, id string, provider models.Provider) (*connector.DatabaseConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Error creating sqlmock: %v", err)
	}
	d, err := dialect.For(provider)
	if err != nil {
		t.Fatalf("Error resolving dialect: %v", err)
	}
	return &connector.DatabaseConnector{
		Spec:    models.ConnectionSpec{ID: id, Provider: provider},
		Dialect: d,
		DB:      db,
		Logger:  testLogger(),
	}, mock
}

func testAuditor(t *testing.T) (*Auditor, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()
	source, sourceMock := mockConnector(t, "src", models.Postgres)
	dest, destMock := mockConnector(t, "dest", models.MSSQL)
	return New(source, dest, testLogger()), sourceMock, destMock
}

const (
	sourceCountSQL = `SELECT COUNT(DISTINCT "id") FROM origin.flight WHERE "id" BETWEEN $1 AND $2`
	destCountSQL   = `SELECT COUNT(DISTINCT [id]) FROM dbo.flight WHERE [id] BETWEEN @p1 AND @p2`
	destMaxSQL     = `SELECT COALESCE(MAX([id]), 0) FROM dbo.flight`
)

func gapJob() models.GapJob {
	return models.GapJob{
		SourceTable:      "origin.flight",
		DestinationTable: "dbo.flight",
		KeyColumn:        "id",
		KeyStart:         0,
		KeyInterval:      10,
	}
}

func countRows(n int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func TestAuditReportsNoGapsWhenCountsMatch(t *testing.T) {
	a, sourceMock, destMock := testAuditor(t)
	defer a.Source.DB.Close()
	defer a.Destination.DB.Close()

	destMock.ExpectQuery(regexp.QuoteMeta(destMaxSQL)).WillReturnRows(countRows(25))
	for _, count := range []int64{10, 10, 6} {
		sourceMock.ExpectQuery(regexp.QuoteMeta(sourceCountSQL)).WillReturnRows(countRows(count))
		destMock.ExpectQuery(regexp.QuoteMeta(destCountSQL)).WillReturnRows(countRows(count))
	}

	report, err := a.Audit(gapJob())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if report.IntervalsScanned != 3 {
		t.Errorf("Expected 3 intervals scanned, got %d", report.IntervalsScanned)
	}
	if report.MismatchedIntervals != 0 {
		t.Errorf("Expected no mismatched intervals, got %d", report.MismatchedIntervals)
	}
	if report.RowDifference != 0 {
		t.Errorf("Expected zero row difference, got %d", report.RowDifference)
	}
	if err := sourceMock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet source expectations: %v", err)
	}
	if err := destMock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet destination expectations: %v", err)
	}
}

func TestAuditAccumulatesMismatches(t *testing.T) {
	a, sourceMock, destMock := testAuditor(t)
	defer a.Source.DB.Close()
	defer a.Destination.DB.Close()

	destMock.ExpectQuery(regexp.QuoteMeta(destMaxSQL)).WillReturnRows(countRows(25))

	// interval [0,9]: destination is missing 3 keys
	sourceMock.ExpectQuery(regexp.QuoteMeta(sourceCountSQL)).WillReturnRows(countRows(10))
	destMock.ExpectQuery(regexp.QuoteMeta(destCountSQL)).WillReturnRows(countRows(7))
	// interval [10,19]: in agreement
	sourceMock.ExpectQuery(regexp.QuoteMeta(sourceCountSQL)).WillReturnRows(countRows(10))
	destMock.ExpectQuery(regexp.QuoteMeta(destCountSQL)).WillReturnRows(countRows(10))
	// interval [20,29]: destination has 1 extra key
	sourceMock.ExpectQuery(regexp.QuoteMeta(sourceCountSQL)).WillReturnRows(countRows(5))
	destMock.ExpectQuery(regexp.QuoteMeta(destCountSQL)).WillReturnRows(countRows(6))

	report, err := a.Audit(gapJob())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if report.MismatchedIntervals != 2 {
		t.Errorf("Expected 2 mismatched intervals, got %d", report.MismatchedIntervals)
	}
	if report.RowDifference != 2 {
		t.Errorf("Expected net row difference of 2, got %d", report.RowDifference)
	}
}

func TestAuditEmptyDestinationScansNothing(t *testing.T) {
	a, sourceMock, destMock := testAuditor(t)
	defer a.Source.DB.Close()
	defer a.Destination.DB.Close()

	destMock.ExpectQuery(regexp.QuoteMeta(destMaxSQL)).WillReturnRows(countRows(0))

	report, err := a.Audit(gapJob())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if report.IntervalsScanned != 0 {
		t.Errorf("Expected no intervals scanned, got %d", report.IntervalsScanned)
	}
	if err := sourceMock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet source expectations: %v", err)
	}
}

func TestAuditRejectsMalformedTable(t *testing.T) {
	a, _, _ := testAuditor(t)
	defer a.Source.DB.Close()
	defer a.Destination.DB.Close()

	job := gapJob()
	job.DestinationTable = "flight"

	if _, err := a.Audit(job); err == nil {
		t.Error("Expected error for table name without schema, got nil")
	}
}
