package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vitebski/db-replicator/internal/auditor"
	"github.com/vitebski/db-replicator/internal/connector"
	"github.com/vitebski/db-replicator/internal/copier"
	"github.com/vitebski/db-replicator/internal/loadlog"
	"github.com/vitebski/db-replicator/internal/registry"
	"github.com/vitebski/db-replicator/internal/sqlbuild"
	"github.com/vitebski/db-replicator/internal/syncer"
	"github.com/vitebski/db-replicator/internal/utils"
	"github.com/vitebski/db-replicator/pkg/models"
)

// connectionPair opens the source and destination connections named by
// the two identifiers. The caller must disconnect both.
func connectionPair(sourceID, destID string, logger *logrus.Logger) (*connector.DatabaseConnector, *connector.DatabaseConnector, error) {
	reg := registry.New(logger)

	sourceSpec, err := reg.Resolve(sourceID)
	if err != nil {
		return nil, nil, err
	}
	destSpec, err := reg.Resolve(destID)
	if err != nil {
		return nil, nil, err
	}

	source, err := connector.NewDatabaseConnector(sourceSpec, logger)
	if err != nil {
		return nil, nil, err
	}
	dest, err := connector.NewDatabaseConnector(destSpec, logger)
	if err != nil {
		return nil, nil, err
	}

	if err := source.Connect(); err != nil {
		return nil, nil, err
	}
	if err := dest.Connect(); err != nil {
		source.Disconnect()
		return nil, nil, err
	}
	return source, dest, nil
}

func recordLoad(dest *connector.DatabaseConnector, sourceSpec models.ConnectionSpec,
	sourceTable, logSchema, loadType string, rows int64, logger *logrus.Logger) {
	if logSchema == "" {
		return
	}
	record, err := loadlog.RecordFromSpec(sourceSpec, sourceTable, loadType, rows)
	if err != nil {
		logger.Warningf("Not recording load: %v", err)
		return
	}
	writer := loadlog.New(dest, logSchema, "", logger)
	if err := writer.Write(record); err != nil {
		logger.Warningf("Load record not written: %v", err)
	}
}

func main() {
	var (
		sourceID  string
		destID    string
		envFile   string
		logLevel  string
		logSchema string
	)

	rootCmd := &cobra.Command{
		Use:   "db-replicator",
		Short: "A tool to replicate tables between Postgres, MSSQL and MySQL databases",
		Long: `DB Replicator

A Go tool that bulk-copies and incrementally synchronizes tables between
databases, with chunked transfers, resumable key-interval copies, bounded
retries and offline gap auditing.`,
	}

	rootCmd.PersistentFlags().StringVarP(&sourceID, "source", "s", "", "Source connection identifier")
	rootCmd.PersistentFlags().StringVarP(&destID, "destination", "d", "", "Destination connection identifier")
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logSchema, "load-log-schema", "", "Destination schema for the load control table (disabled when empty)")

	var (
		copySourceTable string
		copySelectSQL   string
		copyDestTable   string
		copyIgnore      []string
		copyChunkSize   int
		copyTruncate    bool
		copyPaginated   bool
	)

	copyCmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy a full table between two connections in chunks",
		Run: func(cmd *cobra.Command, args []string) {
			logger := utils.SetupLogging(logLevel)
			utils.LoadEnvironmentVariables(envFile, logger)

			source, dest, err := connectionPair(sourceID, destID, logger)
			if err != nil {
				logger.Errorf("Failed to open connections: %v", err)
				os.Exit(1)
			}
			defer source.Disconnect()
			defer dest.Disconnect()

			job := models.CopyJob{
				SourceTable:      copySourceTable,
				SelectSQL:        copySelectSQL,
				DestinationTable: copyDestTable,
				ColumnsToIgnore:  copyIgnore,
				ChunkSize:        copyChunkSize,
				Truncate:         copyTruncate,
				LoadType:         "full",
			}

			c := copier.New(source, dest, logger)
			var rows int64
			if copyPaginated {
				rows, err = c.CopyByLimitOffset(job)
			} else {
				rows, err = c.CopyFull(job)
			}
			if err != nil {
				logger.Errorf("Copy failed: %v", err)
				utils.PrintCopySummary(copySourceTable, copyDestTable, rows, false)
				os.Exit(1)
			}

			if copySourceTable != "" {
				if _, _, err := c.CompareRowCounts(copySourceTable, copyDestTable); err != nil {
					logger.Warningf("Row count comparison failed: %v", err)
				}
			}

			loggedTable := copySourceTable
			if loggedTable == "" {
				if loggedTable, err = sqlbuild.TableFromQuery(copySelectSQL); err != nil {
					logger.Warningf("Load record source unknown: %v", err)
				}
			}
			recordLoad(dest, source.Spec, loggedTable, logSchema, "full", rows, logger)
			utils.PrintCopySummary(copySourceTable, copyDestTable, rows, true)
		},
	}

	copyCmd.Flags().StringVarP(&copySourceTable, "source-table", "t", "", "Source table as schema.table")
	copyCmd.Flags().StringVarP(&copySelectSQL, "select", "q", "", "Select statement overriding the source table")
	copyCmd.Flags().StringVarP(&copyDestTable, "destination-table", "T", "", "Destination table as schema.table")
	copyCmd.Flags().StringSliceVarP(&copyIgnore, "ignore-columns", "i", nil, "Destination columns to exclude from the copy")
	copyCmd.Flags().IntVarP(&copyChunkSize, "chunk-size", "c",
		utils.GetEnvInt("DBREP_CHUNK_SIZE", copier.DefaultChunkSize), "Rows per chunk")
	copyCmd.Flags().BoolVarP(&copyTruncate, "truncate", "x", false, "Truncate the destination table before loading")
	copyCmd.Flags().BoolVarP(&copyPaginated, "paginated", "p", false, "Use offset pagination instead of a single cursor")

	var (
		keySourceTable string
		keyDestTable   string
		keyColumn      string
		keyStart       int64
		keyInterval    int64
		keyTruncate    bool
		keyRetries     int
		keyRetryDelay  time.Duration
	)

	keyCopyCmd := &cobra.Command{
		Use:   "key-copy",
		Short: "Copy a table range-by-range over a monotonic key, resuming on failure",
		Run: func(cmd *cobra.Command, args []string) {
			logger := utils.SetupLogging(logLevel)
			utils.LoadEnvironmentVariables(envFile, logger)

			source, dest, err := connectionPair(sourceID, destID, logger)
			if err != nil {
				logger.Errorf("Failed to open connections: %v", err)
				os.Exit(1)
			}
			defer source.Disconnect()
			defer dest.Disconnect()

			job := models.KeyCopyJob{
				SourceTable:      keySourceTable,
				DestinationTable: keyDestTable,
				KeyColumn:        keyColumn,
				KeyStart:         keyStart,
				KeyInterval:      keyInterval,
				Truncate:         keyTruncate,
			}
			policy := models.BackoffPolicy{
				Retries: keyRetries,
				Delay:   keyRetryDelay,
			}

			c := copier.New(source, dest, logger)
			state, err := c.CopyWithRetry(job, policy)
			if err != nil {
				logger.Errorf("Key-interval copy failed: %v", err)
				os.Exit(1)
			}
			if !state.Succeeded {
				logger.Errorf("Key-interval copy gave up at key %d", state.NextKey)
				utils.PrintCopySummary(keySourceTable, keyDestTable, state.RowsInserted, false)
				os.Exit(1)
			}

			recordLoad(dest, source.Spec, keySourceTable, logSchema, "full", state.RowsInserted, logger)
			utils.PrintCopySummary(keySourceTable, keyDestTable, state.RowsInserted, true)
		},
	}

	keyCopyCmd.Flags().StringVarP(&keySourceTable, "source-table", "t", "", "Source table as schema.table")
	keyCopyCmd.Flags().StringVarP(&keyDestTable, "destination-table", "T", "", "Destination table as schema.table")
	keyCopyCmd.Flags().StringVarP(&keyColumn, "key-column", "k", "", "Monotonic integer key column")
	keyCopyCmd.Flags().Int64Var(&keyStart, "key-start", 0, "First key of the scan")
	keyCopyCmd.Flags().Int64Var(&keyInterval, "key-interval",
		int64(utils.GetEnvInt("DBREP_KEY_INTERVAL", copier.DefaultKeyInterval)), "Keys per interval")
	keyCopyCmd.Flags().BoolVarP(&keyTruncate, "truncate", "x", false, "Truncate the destination table before loading")
	keyCopyCmd.Flags().IntVarP(&keyRetries, "retries", "r", 0, "Retries after a failed interval")
	keyCopyCmd.Flags().DurationVar(&keyRetryDelay, "retry-delay", copier.DefaultRetryDelay, "Delay between retries")

	var (
		syncTable          string
		syncDateColumn     string
		syncKeyColumn      string
		syncSourceSchema   string
		syncDestSchema     string
		syncIncSchema      string
		syncSelectSQL      string
		syncSince          string
		syncChunkSize      int
		syncDeletions      bool
		syncDeletionSchema string
		syncDeletionTable  string
		syncDeletionColumn string
	)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Incrementally synchronize a table through a staging merge",
		Run: func(cmd *cobra.Command, args []string) {
			logger := utils.SetupLogging(logLevel)
			utils.LoadEnvironmentVariables(envFile, logger)

			source, dest, err := connectionPair(sourceID, destID, logger)
			if err != nil {
				logger.Errorf("Failed to open connections: %v", err)
				os.Exit(1)
			}
			defer source.Disconnect()
			defer dest.Disconnect()

			job := models.SyncJob{
				Table:             syncTable,
				DateColumn:        syncDateColumn,
				KeyColumn:         syncKeyColumn,
				SourceSchema:      syncSourceSchema,
				DestinationSchema: syncDestSchema,
				IncrementSchema:   syncIncSchema,
				SelectSQL:         syncSelectSQL,
				ChunkSize:         syncChunkSize,
				SyncDeletions:     syncDeletions,
				DeletionSchema:    syncDeletionSchema,
				DeletionTable:     syncDeletionTable,
				DeletionColumn:    syncDeletionColumn,
			}
			if syncSince != "" {
				since, err := time.Parse("2006-01-02 15:04:05", syncSince)
				if err != nil {
					logger.Errorf("Invalid --since value: %v", err)
					os.Exit(1)
				}
				job.SinceTime = &since
			}

			s := syncer.New(source, dest, logger)
			result, err := s.Sync(job)
			if err != nil {
				logger.Errorf("Sync failed: %v", err)
				os.Exit(1)
			}

			sourceTable := fmt.Sprintf("%s.%s", syncSourceSchema, syncTable)
			recordLoad(dest, source.Spec, sourceTable, logSchema, "incremental", result.RowsStaged, logger)
			utils.PrintSyncSummary(syncTable, result)
		},
	}

	syncCmd.Flags().StringVarP(&syncTable, "table", "t", "", "Table name shared by source and destination")
	syncCmd.Flags().StringVar(&syncDateColumn, "date-column", "", "Last-modified column used for change detection")
	syncCmd.Flags().StringVarP(&syncKeyColumn, "key-column", "k", "", "Key column used for the merge and as change-detection fallback")
	syncCmd.Flags().StringVar(&syncSourceSchema, "source-schema", "", "Schema of the table on the source")
	syncCmd.Flags().StringVar(&syncDestSchema, "destination-schema", "", "Schema of the table on the destination")
	syncCmd.Flags().StringVar(&syncIncSchema, "staging-schema", "", "Schema of the staging table (default: destination schema, table suffixed _changes)")
	syncCmd.Flags().StringVarP(&syncSelectSQL, "select", "q", "", "Select statement overriding the source table")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "Sync rows changed after this timestamp (YYYY-MM-DD HH:MM:SS) instead of the destination maximum")
	syncCmd.Flags().IntVarP(&syncChunkSize, "chunk-size", "c",
		utils.GetEnvInt("DBREP_CHUNK_SIZE", copier.DefaultChunkSize), "Rows per chunk while staging")
	syncCmd.Flags().BoolVar(&syncDeletions, "sync-deletions", false, "Propagate deletions recorded on the source deletion log")
	syncCmd.Flags().StringVar(&syncDeletionSchema, "deletion-schema", "", "Schema of the source deletion-log table")
	syncCmd.Flags().StringVar(&syncDeletionTable, "deletion-table", "", "Source deletion-log table")
	syncCmd.Flags().StringVar(&syncDeletionColumn, "deletion-column", "", "Deletion-log column holding the deletion timestamp")

	var (
		auditSourceTable string
		auditDestTable   string
		auditKeyColumn   string
		auditKeyStart    int64
		auditKeyInterval int64
	)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare per-interval key counts between two tables without writing",
		Run: func(cmd *cobra.Command, args []string) {
			logger := utils.SetupLogging(logLevel)
			utils.LoadEnvironmentVariables(envFile, logger)

			source, dest, err := connectionPair(sourceID, destID, logger)
			if err != nil {
				logger.Errorf("Failed to open connections: %v", err)
				os.Exit(1)
			}
			defer source.Disconnect()
			defer dest.Disconnect()

			a := auditor.New(source, dest, logger)
			report, err := a.Audit(models.GapJob{
				SourceTable:      auditSourceTable,
				DestinationTable: auditDestTable,
				KeyColumn:        auditKeyColumn,
				KeyStart:         auditKeyStart,
				KeyInterval:      auditKeyInterval,
			})
			if err != nil {
				logger.Errorf("Audit failed: %v", err)
				os.Exit(1)
			}

			utils.PrintGapReport(auditSourceTable, auditDestTable, report)
			if report.MismatchedIntervals > 0 {
				os.Exit(1)
			}
		},
	}

	auditCmd.Flags().StringVarP(&auditSourceTable, "source-table", "t", "", "Source table as schema.table")
	auditCmd.Flags().StringVarP(&auditDestTable, "destination-table", "T", "", "Destination table as schema.table")
	auditCmd.Flags().StringVarP(&auditKeyColumn, "key-column", "k", "", "Key column to count per interval")
	auditCmd.Flags().Int64Var(&auditKeyStart, "key-start", 0, "First key of the scan")
	auditCmd.Flags().Int64Var(&auditKeyInterval, "key-interval", auditor.DefaultKeyInterval, "Keys per interval")

	rootCmd.AddCommand(copyCmd, keyCopyCmd, syncCmd, auditCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
