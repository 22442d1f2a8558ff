// Package snapshot makes the private working copy every later stage runs
// against. The source database is only ever read, apart from folding its
// write-ahead log back into the main file.
package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/constants"
	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
)

// Snapshot describes a prepared working copy.
type Snapshot struct {
	Source   string
	Path     string
	Size     int64
	Checksum string // hex SHA-256 of the working copy
	Duration time.Duration
}

// Stager copies a source database to a working path.
type Stager struct {
	// BusyTimeoutMS bounds every lock wait on the source.
	BusyTimeoutMS int
	logger        *common.Logger
}

// New creates a Stager that fails fast on a busy source.
func New() *Stager {
	return &Stager{
		BusyTimeoutMS: constants.SnapshotBusyTimeoutMS,
		logger:        common.GetLogger().WithComponent("stager"),
	}
}

// sidecar suffixes SQLite keeps next to a database file
var sidecars = []string{"-wal", "-shm", "-journal"}

// Prepare checkpoints the source, copies it to workingPath while holding a
// write lock on it, verifies the copy byte for byte and checks its
// integrity. An existing working copy is replaced.
func (s *Stager) Prepare(ctx context.Context, sourcePath, workingPath string) (*Snapshot, error) {
	start := time.Now()
	logger := s.logger.With("source", sourcePath, "working", workingPath)

	srcAbs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, migerr.NewSnapshotError(sourcePath, "resolve path", err)
	}
	workAbs, err := filepath.Abs(workingPath)
	if err != nil {
		return nil, migerr.NewSnapshotError(workingPath, "resolve path", err)
	}
	if srcAbs == workAbs {
		return nil, migerr.NewSnapshotError(sourcePath, "working copy must differ from the source", nil)
	}
	st, err := os.Stat(srcAbs)
	if err != nil {
		return nil, migerr.NewSnapshotError(sourcePath, "source unreadable", err)
	}
	if !st.Mode().IsRegular() {
		return nil, migerr.NewSnapshotError(sourcePath, "source is not a regular file", nil)
	}
	if err := os.MkdirAll(filepath.Dir(workAbs), 0o750); err != nil {
		return nil, migerr.NewSnapshotError(workingPath, "create scratch directory", err)
	}

	db, err := sqlite.Open(sqlite.Config{Path: srcAbs, BusyTimeoutMS: s.BusyTimeoutMS})
	if err != nil {
		return nil, migerr.NewSnapshotError(sourcePath, "open source", err)
	}
	defer func() { _ = db.Close() }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, migerr.NewSnapshotError(sourcePath, "open source", err)
	}
	defer func() { _ = conn.Close() }()

	if err := foldWAL(ctx, conn, srcAbs); err != nil {
		return nil, err
	}

	// BEGIN IMMEDIATE takes the write lock: no writer can change the file
	// while it is copied, readers are unaffected.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, migerr.NewSnapshotError(sourcePath, "source is locked by another writer", err)
	}
	defer func() { _, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK") }()

	tmp := workAbs + constants.TempSuffix
	size, srcSum, err := copyFile(ctx, srcAbs, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, migerr.NewSnapshotError(workingPath, "copy incomplete", err)
	}
	if err := verifyCopy(tmp, size, srcSum); err != nil {
		_ = os.Remove(tmp)
		return nil, migerr.NewSnapshotError(workingPath, "copy does not match source", err)
	}

	// leftovers of an earlier working copy would be replayed into the new one
	for _, suffix := range sidecars {
		if err := os.Remove(workAbs + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			_ = os.Remove(tmp)
			return nil, migerr.NewSnapshotError(workingPath, "remove stale "+suffix, err)
		}
	}
	if err := os.Rename(tmp, workAbs); err != nil {
		_ = os.Remove(tmp)
		return nil, migerr.NewSnapshotError(workingPath, "move copy into place", err)
	}

	if err := checkCopy(ctx, workAbs); err != nil {
		_ = Discard(workAbs)
		return nil, migerr.NewSnapshotError(workingPath, "working copy failed integrity check", err)
	}

	snap := &Snapshot{
		Source:   srcAbs,
		Path:     workAbs,
		Size:     size,
		Checksum: srcSum,
		Duration: time.Since(start),
	}
	logger.Info("working copy prepared",
		"size", humanize.Bytes(uint64(size)),
		"sha256", srcSum,
		"duration", snap.Duration)
	return snap, nil
}

// foldWAL checkpoints the source and switches it to rollback journaling so
// that the main file alone holds every committed transaction.
func foldWAL(ctx context.Context, conn *sql.Conn, path string) error {
	var busy, logFrames, checkpointed int
	err := conn.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return migerr.NewSnapshotError(path, "checkpoint failed", err)
	}
	if busy != 0 {
		return migerr.NewSnapshotError(path, "checkpoint blocked by an active reader or writer", nil)
	}

	var mode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode=DELETE").Scan(&mode); err != nil {
		return migerr.NewSnapshotError(path, "switch journal mode", err)
	}
	if !strings.EqualFold(mode, "delete") {
		return migerr.NewSnapshotError(path, fmt.Sprintf("journal mode is still %s", mode), nil)
	}

	if st, err := os.Stat(path + "-wal"); err == nil && st.Size() > 0 {
		return migerr.NewSnapshotError(path, "write-ahead log still holds frames", nil)
	}
	return nil
}

// copyFile copies src to dst, syncs dst and returns the byte count and the
// SHA-256 of what was read.
func copyFile(ctx context.Context, src, dst string) (int64, string, error) {
	// #nosec G304 -- source path comes from the operator
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = in.Close() }()

	// #nosec G304 -- scratch path comes from the operator
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, "", err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), &ctxReader{ctx: ctx, r: in})
	if err != nil {
		_ = out.Close()
		return 0, "", err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		return 0, "", err
	}

	st, err := in.Stat()
	if err != nil {
		return 0, "", err
	}
	if st.Size() != n {
		return 0, "", fmt.Errorf("read %d bytes but source has %d", n, st.Size())
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func verifyCopy(path string, size int64, sum string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Size() != size {
		return fmt.Errorf("copy has %d bytes, source %d", st.Size(), size)
	}
	// #nosec G304 -- scratch path comes from the operator
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != sum {
		return fmt.Errorf("copy checksum %s, source %s", got, sum)
	}
	return nil
}

func checkCopy(ctx context.Context, path string) error {
	db, err := sqlite.Open(sqlite.Config{Path: path})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return sqlite.QuickCheck(ctx, db)
}

// Discard removes a working copy and its SQLite sidecar files.
func Discard(path string) error {
	var errs []error
	for _, p := range append([]string{path}, withSuffixes(path)...) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func withSuffixes(path string) []string {
	out := make([]string, len(sidecars))
	for i, s := range sidecars {
		out[i] = path + s
	}
	return out
}

// ctxReader stops a long copy when ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
