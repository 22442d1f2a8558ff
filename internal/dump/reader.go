package dump

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrTruncated is returned when a dump ends without its statement count.
var ErrTruncated = errors.New("dump is truncated")

// Header is the metadata block at the top of a dump.
type Header struct {
	FromVersion int
	ToVersion   int
	Tables      []string
}

// Statement is one replayable statement.
type Statement struct {
	Index int    // 1-based position in the dump
	Table string // table section the statement belongs to
	SQL   string // without the terminating semicolon
}

// Reader splits a dump into statements. It understands single-quoted
// strings (including embedded newlines and doubled quotes), double-quoted
// identifiers and "--" comments.
type Reader struct {
	r        *bufio.Reader
	header   Header
	table    string
	index    int
	declared int
	trailer  bool
}

// NewReader reads the header of the dump in r.
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{r: bufio.NewReader(r), declared: -1}
	first, err := rd.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if strings.TrimRight(first, "\r\n") != magicLine {
		return nil, fmt.Errorf("not a ch2migrate dump: first line %q", strings.TrimSpace(first))
	}
	return rd, nil
}

// Header returns the metadata read so far. It is complete once the first
// statement has been returned.
func (rd *Reader) Header() Header {
	return rd.header
}

// ReadHeader consumes directives up to the first statement without
// returning it; the statement is still delivered by the next Next call.
func (rd *Reader) ReadHeader() (Header, error) {
	for {
		b, err := rd.r.Peek(1)
		if errors.Is(err, io.EOF) {
			return rd.header, nil
		}
		if err != nil {
			return rd.header, err
		}
		switch b[0] {
		case '\n', '\r', ' ', '\t':
			_, _ = rd.r.ReadByte()
		case '-':
			line, err := rd.r.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return rd.header, err
			}
			if err := rd.directive(line); err != nil {
				return rd.header, err
			}
		default:
			return rd.header, nil
		}
	}
}

// Next returns the next statement, or io.EOF after the last one.
func (rd *Reader) Next() (*Statement, error) {
	var sb strings.Builder
	const (
		normal = iota
		inString
		inIdent
	)
	state := normal
	for {
		c, err := rd.r.ReadByte()
		if errors.Is(err, io.EOF) {
			if strings.TrimSpace(sb.String()) != "" {
				return nil, fmt.Errorf("%w: unterminated statement %d", ErrTruncated, rd.index+1)
			}
			return nil, rd.finish()
		}
		if err != nil {
			return nil, err
		}

		switch state {
		case inString:
			sb.WriteByte(c)
			if c == '\'' {
				state = normal
			}
			continue
		case inIdent:
			sb.WriteByte(c)
			if c == '"' {
				state = normal
			}
			continue
		}

		switch c {
		case '\'':
			state = inString
			sb.WriteByte(c)
		case '"':
			state = inIdent
			sb.WriteByte(c)
		case '-':
			next, _ := rd.r.Peek(1)
			if len(next) == 1 && next[0] == '-' {
				line, err := rd.r.ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return nil, err
				}
				if strings.TrimSpace(sb.String()) == "" {
					if err := rd.directive("-" + line); err != nil {
						return nil, err
					}
				}
				continue
			}
			sb.WriteByte(c)
		case ';':
			stmt := strings.TrimSpace(sb.String())
			sb.Reset()
			if stmt == "" {
				continue
			}
			if rd.trailer {
				return nil, errors.New("statement after dump trailer")
			}
			rd.index++
			return &Statement{Index: rd.index, Table: rd.table, SQL: stmt}, nil
		default:
			sb.WriteByte(c)
		}
	}
}

// All reads every remaining statement.
func (rd *Reader) All() ([]Statement, error) {
	var out []Statement
	for {
		st, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
}

func (rd *Reader) finish() error {
	if !rd.trailer {
		return fmt.Errorf("%w: missing statement count", ErrTruncated)
	}
	if rd.declared != rd.index {
		return fmt.Errorf("%w: trailer declares %d statements, read %d", ErrTruncated, rd.declared, rd.index)
	}
	return io.EOF
}

// directive interprets a "-- key: value" comment. Other comments are ignored.
func (rd *Reader) directive(line string) error {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, directivePrefix) {
		return nil
	}
	key, value, ok := strings.Cut(strings.TrimPrefix(line, directivePrefix), ":")
	if !ok {
		return nil
	}
	value = strings.TrimSpace(value)
	switch strings.TrimSpace(key) {
	case keyFromVersion:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", keyFromVersion, value, err)
		}
		rd.header.FromVersion = v
	case keyToVersion:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", keyToVersion, value, err)
		}
		rd.header.ToVersion = v
	case keyTables:
		rd.header.Tables = nil
		for _, t := range strings.Split(value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				rd.header.Tables = append(rd.header.Tables, t)
			}
		}
	case keyTable:
		rd.table = value
	case keyStatements:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", keyStatements, value, err)
		}
		rd.declared = v
		rd.trailer = true
	}
	return nil
}
