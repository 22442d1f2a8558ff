// Package load replays a dump into a freshly initialized target database.
package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/dump"
	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/store/connector"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
)

// Result summarizes a completed replay.
type Result struct {
	Header     dump.Header
	Statements int
	Rows       map[string]int64
	Verified   bool // artifact checksum was checked against its sidecar
	Duration   time.Duration
}

// Loader replays dumps.
type Loader struct {
	// ExpectVersion, when set, must match the dump's to-version.
	ExpectVersion int
	logger        *common.Logger
}

// New creates a Loader.
func New() *Loader {
	return &Loader{logger: common.GetLogger().WithComponent("loader")}
}

// LoadFile verifies the artifact at path against its checksum sidecar,
// if it has one, and replays it.
func (l *Loader) LoadFile(ctx context.Context, db *sql.DB, dialect connector.Dialect, path string) (*Result, error) {
	verified, err := dump.VerifyChecksum(path)
	if err != nil {
		return nil, migerr.NewReplayError(0, "", "artifact checksum", err)
	}
	if !verified {
		l.logger.Warn("artifact has no checksum sidecar, loading unverified", "path", path)
	}

	r, err := dump.OpenArtifact(path)
	if err != nil {
		return nil, migerr.NewReplayError(0, "", "open artifact", err)
	}
	defer func() { _ = r.Close() }()

	res, err := l.Load(ctx, db, dialect, r)
	if err != nil {
		return nil, err
	}
	res.Verified = verified
	return res, nil
}

// Load replays the dump read from r in one transaction. The target must
// already hold every table the dump names, all of them empty. On any
// failure the transaction is rolled back and nothing is written.
func (l *Loader) Load(ctx context.Context, db *sql.DB, dialect connector.Dialect, r io.Reader) (*Result, error) {
	start := time.Now()
	logger := l.logger.WithStore(dialect.GetDriverName())

	rd, err := dump.NewReader(r)
	if err != nil {
		return nil, migerr.NewReplayError(0, "", "read dump", err)
	}
	hdr, err := rd.ReadHeader()
	if err != nil {
		return nil, migerr.NewReplayError(0, "", "read dump header", err)
	}
	if len(hdr.Tables) == 0 {
		return nil, migerr.NewReplayError(0, "", "dump names no tables", nil)
	}
	if l.ExpectVersion != 0 && hdr.ToVersion != l.ExpectVersion {
		return nil, migerr.NewReplayError(0, "",
			fmt.Sprintf("dump targets version %d, expected %d", hdr.ToVersion, l.ExpectVersion), nil)
	}

	if err := checkEmpty(ctx, db, dialect, hdr.Tables); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, migerr.NewReplayError(0, "", "begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := dialect.BeginReplay(ctx, tx); err != nil {
		return nil, migerr.NewReplayError(0, "", "prepare transaction", err)
	}

	res := &Result{Header: hdr, Rows: make(map[string]int64, len(hdr.Tables))}
	for {
		st, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, migerr.NewReplayError(res.Statements+1, "", "read dump", err)
		}
		if _, err := tx.ExecContext(ctx, st.SQL); err != nil {
			logger.Debug("statement failed", "statement", st.Index, "table", st.Table, "sql", st.SQL)
			return nil, migerr.NewReplayError(st.Index, st.Table, "statement rejected", err)
		}
		res.Statements++
		res.Rows[st.Table]++
	}

	if err := dialect.VerifyReplay(ctx, tx); err != nil {
		return nil, migerr.NewReplayError(0, "", "verify constraints", err)
	}
	if err := dialect.FinishReplay(ctx, tx, hdr.Tables); err != nil {
		return nil, migerr.NewReplayError(0, "", "finish replay", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, migerr.NewReplayError(0, "", "commit", err)
	}
	committed = true

	res.Duration = time.Since(start)
	logger.Info("replay complete",
		"tables", len(hdr.Tables),
		"statements", res.Statements,
		"duration", res.Duration)
	return res, nil
}

// checkEmpty fails unless every table exists in the target and has no rows.
func checkEmpty(ctx context.Context, db *sql.DB, dialect connector.Dialect, tables []string) error {
	existing, err := dialect.ListTables(ctx, db)
	if err != nil {
		return migerr.NewReplayError(0, "", "list target tables", err)
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}
	for _, t := range tables {
		if !have[t] {
			return migerr.NewReplayError(0, t, "table missing from target", nil)
		}
		n, err := sqlite.CountRows(ctx, db, t)
		if err != nil {
			return migerr.NewReplayError(0, t, "count target rows", err)
		}
		if n != 0 {
			return migerr.NewReplayError(0, t, fmt.Sprintf("target table is not empty (%d rows)", n), nil)
		}
	}
	return nil
}
