package constants

import "time"

// Database Constants
const (
	// PostgreSQL defaults
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"

	// Connection pool settings. Every stage is single-threaded so the
	// postgres pool only needs one connection for the replay transaction.
	DefaultPostgresMaxConnections = 2
	DefaultPostgresMaxIdleConns   = 1
	DefaultSQLiteMaxConnections   = 1 // SQLite allows only one writer
	DefaultSQLiteMaxIdleConns     = 1

	// SQLite lock waits. Stages fail fast on contention rather than queueing.
	DefaultBusyTimeoutMS  = 2000
	SnapshotBusyTimeoutMS = 500
)

// Time and Duration Constants
const (
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute
)

// Scratch directory layout
const (
	WorkingCopyName = "working.sqlr"
	LedgerFileName  = "ch2migrate-ledger.db"
	DumpFilePattern = "dump-%d-%d.sql"
	ChecksumSuffix  = ".sha256"
	TempSuffix      = ".tmp"
)

// Schema versions handled by the built-in registry
const (
	DefaultFromVersion = 25
	DefaultToVersion   = 26
)

// Exit codes per failure class
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfig        = 2
	ExitSnapshot      = 10
	ExitIntegrity     = 11
	ExitStructural    = 12
	ExitSerialization = 13
	ExitReplay        = 14
)
