package dump

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/constants"
)

// ErrChecksumMismatch is returned when an artifact does not match its sidecar.
var ErrChecksumMismatch = errors.New("artifact checksum mismatch")

// Compression is chosen from the artifact file extension.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// CompressionFor returns the compression implied by path's extension.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// ChecksumPath is the sidecar holding the SHA-256 of path.
func ChecksumPath(path string) string {
	return path + constants.ChecksumSuffix
}

// WriteArtifact streams fill into path through the compressor its
// extension selects. The file is written under a temporary name, synced
// and renamed into place, then its SHA-256 is stored in the sidecar. The
// hex checksum is returned.
func WriteArtifact(path string, fill func(w io.Writer) error) (string, error) {
	tmp := path + constants.TempSuffix
	// #nosec G304 -- artifact path comes from operator configuration
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	hasher := sha256.New()
	buffered := bufio.NewWriter(io.MultiWriter(f, hasher))

	var w io.Writer = buffered
	var closer io.Closer
	switch CompressionFor(path) {
	case CompressionGzip:
		gz := gzip.NewWriter(buffered)
		w, closer = gz, gz
	case CompressionZstd:
		zw, err := zstd.NewWriter(buffered)
		if err != nil {
			return "", fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w, closer = zw, zw
	}

	if err := fill(w); err != nil {
		return "", err
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return "", fmt.Errorf("failed to finish compression: %w", err)
		}
	}
	if err := buffered.Flush(); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	committed = true

	sum := hex.EncodeToString(hasher.Sum(nil))
	if err := WriteChecksum(path, sum); err != nil {
		return "", err
	}

	if st, err := os.Stat(path); err == nil {
		common.GetLogger().WithComponent("artifact").Info("artifact written",
			"path", path,
			"size", humanize.Bytes(uint64(st.Size())),
			"sha256", sum)
	}
	return sum, nil
}

// OpenArtifact opens path for reading, decompressing by extension.
func OpenArtifact(path string) (io.ReadCloser, error) {
	// #nosec G304 -- artifact path comes from operator configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	switch CompressionFor(path) {
	case CompressionGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to read gzip artifact: %w", err)
		}
		return &stackedReader{Reader: gz, closers: []io.Closer{gz, f}}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to read zstd artifact: %w", err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zstdCloser{zr}, f}}, nil
	default:
		return f, nil
	}
}

type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// zstd.Decoder.Close has no error result.
type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

// FileChecksum returns the hex SHA-256 of the file at path.
func FileChecksum(path string) (string, error) {
	// #nosec G304 -- artifact path comes from operator configuration
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksum stores sum in the sidecar of path, in sha256sum format.
func WriteChecksum(path, sum string) error {
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(path))
	if err := os.WriteFile(ChecksumPath(path), []byte(line), 0o600); err != nil {
		return fmt.Errorf("failed to write checksum sidecar: %w", err)
	}
	return nil
}

// ReadChecksum returns the checksum recorded in the sidecar of path.
// ok is false when there is no sidecar.
func ReadChecksum(path string) (sum string, ok bool, err error) {
	// #nosec G304 -- sidecar sits next to an operator supplied artifact
	data, err := os.ReadFile(ChecksumPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read checksum sidecar: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", false, fmt.Errorf("checksum sidecar %s is empty", ChecksumPath(path))
	}
	return fields[0], true, nil
}

// VerifyChecksum compares path against its sidecar. A missing sidecar is
// not an error; verified reports whether a comparison happened.
func VerifyChecksum(path string) (verified bool, err error) {
	want, ok, err := ReadChecksum(path)
	if err != nil || !ok {
		return false, err
	}
	got, err := FileChecksum(path)
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(got, want) {
		return false, fmt.Errorf("%w: %s has %s, sidecar says %s", ErrChecksumMismatch, path, got, want)
	}
	return true, nil
}
