package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/syncer"
	"github.com/vitebski/db-replicator/pkg/models"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("DBREP_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	logger.Infof("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from .env file
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) {
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Infof("Loaded environment variables from %s", envFile)
		}
	} else {
		logger.Infof("No %s file found, using existing environment variables", envFile)
	}

	// Log all available DBREP_* environment variables (for debugging)
	if logger.Level == logrus.DebugLevel {
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "DBREP_") {
				parts := strings.SplitN(env, "=", 2)
				if len(parts) == 2 {
					// Mask passwords
					if strings.HasSuffix(parts[0], "_PASSWORD") {
						logger.Debugf("%s=********", parts[0])
					} else {
						logger.Debugf("%s=%s", parts[0], parts[1])
					}
				}
			}
		}
	}
}

// GetEnvInt gets an integer value from environment variable
func GetEnvInt(varName string, defaultValue int) int {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// PrintCopySummary prints a summary of a finished copy job
func PrintCopySummary(source, destination string, rows int64, succeeded bool) {
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("TABLE COPY SUMMARY")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Source: %s\n", source)
	fmt.Printf("Destination: %s\n", destination)
	fmt.Printf("Rows inserted: %d\n", rows)
	if succeeded {
		fmt.Println("Status: completed")
	} else {
		fmt.Println("Status: FAILED")
	}
	fmt.Println(strings.Repeat("=", 50))
}

// PrintSyncSummary prints a summary of a finished incremental sync
func PrintSyncSummary(table string, result syncer.Result) {
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("INCREMENTAL SYNC SUMMARY")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Table: %s\n", table)
	fmt.Printf("Reference value: %s\n", result.ReferenceValue)
	fmt.Printf("Rows staged: %d\n", result.RowsStaged)
	fmt.Printf("Rows updated: %d\n", result.RowsUpdated)
	fmt.Printf("Rows inserted: %d\n", result.RowsInserted)
	if result.RowsDeleted > 0 {
		fmt.Printf("Rows deleted: %d\n", result.RowsDeleted)
	}
	fmt.Println(strings.Repeat("=", 50))
}

// PrintGapReport prints the result of a gap audit
func PrintGapReport(source, destination string, report models.GapReport) {
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("GAP AUDIT REPORT")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Source: %s\n", source)
	fmt.Printf("Destination: %s\n", destination)
	fmt.Printf("Intervals scanned: %d\n", report.IntervalsScanned)
	fmt.Printf("Mismatched intervals: %d\n", report.MismatchedIntervals)
	fmt.Printf("Total row difference: %d\n", report.RowDifference)
	fmt.Println(strings.Repeat("=", 50))
}
