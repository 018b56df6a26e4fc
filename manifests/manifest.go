package manifests

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// recordFixedSize is the byte length of the four uint32 fields that share
// the record length prefix with the path.
const recordFixedSize = 16

var ErrTruncatedTable = errors.New("truncated file table")

type FileRecord struct {
	Path           string // normalized: backslash separated, lower case, no leading separator
	SizeReal       uint32 // uncompressed size
	SizeCompressed uint32 // bytes stored in the data chunk, == SizeReal unless compressed
	CRC            uint32 // crc32 of the stored bytes
	Offset         uint32 // relative to the start of the data chunk payload
}

// Compressed reports whether the stored bytes need decompressing.
func (r FileRecord) Compressed() bool {
	return r.SizeCompressed != r.SizeReal
}

// Table is the in-memory file table of one archive. Records keep their
// insertion order, which is also their offset order.
type Table struct {
	records []FileRecord
	paths   map[string]struct{}
}

func NewTable() *Table {
	return &Table{paths: make(map[string]struct{})}
}

// Append adds rec. Paths must be unique and offsets must not go backwards.
func (t *Table) Append(rec FileRecord) error {
	if t.paths == nil {
		t.paths = make(map[string]struct{})
	}
	if _, dup := t.paths[rec.Path]; dup {
		return fmt.Errorf("duplicate path %q", rec.Path)
	}
	if n := len(t.records); n > 0 {
		prev := t.records[n-1]
		if uint64(rec.Offset) < uint64(prev.Offset)+uint64(prev.SizeCompressed) {
			return fmt.Errorf("offset %d of %q overlaps %q", rec.Offset, rec.Path, prev.Path)
		}
	}
	t.records = append(t.records, rec)
	t.paths[rec.Path] = struct{}{}
	return nil
}

func (t *Table) Contains(path string) bool {
	_, ok := t.paths[path]
	return ok
}

func (t *Table) Len() int {
	return len(t.records)
}

// Records returns the records in insertion order. The slice must not be
// modified.
func (t *Table) Records() []FileRecord {
	return t.records
}

// Paths returns the record paths in insertion order.
func (t *Table) Paths() []string {
	out := make([]string, len(t.records))
	for i, r := range t.records {
		out[i] = r.Path
	}
	return out
}

// NormalizePath converts a collected path to its table form. Only ASCII
// letters are lower-cased; other bytes, valid UTF-8 or not, are kept as is.
func NormalizePath(p string) string {
	b := []byte(p)
	for i, c := range b {
		switch {
		case c == '/':
			b[i] = '\\'
		case 'A' <= c && c <= 'Z':
			b[i] = c + ('a' - 'A')
		}
	}
	return strings.TrimLeft(string(b), "\\")
}

// MarshalTable serializes the records in insertion order.
func MarshalTable(t *Table) ([]byte, error) {
	wbuf := bytes.NewBuffer(nil)
	for _, r := range t.records {
		if len(r.Path)+recordFixedSize > math.MaxUint16 {
			return nil, fmt.Errorf("path too long for file table: %q", r.Path)
		}
		head := struct {
			Length         uint16
			SizeReal       uint32
			SizeCompressed uint32
			CRC            uint32
		}{uint16(len(r.Path) + recordFixedSize), r.SizeReal, r.SizeCompressed, r.CRC}

		if err := binary.Write(wbuf, binary.LittleEndian, head); err != nil {
			return nil, err
		}
		wbuf.WriteString(r.Path)
		if err := binary.Write(wbuf, binary.LittleEndian, r.Offset); err != nil {
			return nil, err
		}
	}
	return wbuf.Bytes(), nil
}

// UnmarshalTable parses a serialized table. Paths are taken as stored.
func UnmarshalTable(b []byte) (*Table, error) {
	t := NewTable()
	for pos := 0; pos < len(b); {
		if len(b)-pos < 2 {
			return nil, fmt.Errorf("%w: record length at %d", ErrTruncatedTable, pos)
		}
		length := int(binary.LittleEndian.Uint16(b[pos:]))
		if length < recordFixedSize {
			return nil, fmt.Errorf("invalid record length %d at %d", length, pos)
		}
		pos += 2
		// three uint32 fields, path, uint32 offset
		if len(b)-pos < length {
			return nil, fmt.Errorf("%w: record at %d needs %d bytes", ErrTruncatedTable, pos-2, length)
		}
		pathLen := length - recordFixedSize
		rec := FileRecord{
			SizeReal:       binary.LittleEndian.Uint32(b[pos:]),
			SizeCompressed: binary.LittleEndian.Uint32(b[pos+4:]),
			CRC:            binary.LittleEndian.Uint32(b[pos+8:]),
			Path:           string(b[pos+12 : pos+12+pathLen]),
			Offset:         binary.LittleEndian.Uint32(b[pos+12+pathLen:]),
		}
		pos += length
		// readers keep the table order; only uniqueness is enforced here
		if t.Contains(rec.Path) {
			return nil, fmt.Errorf("duplicate path %q in file table", rec.Path)
		}
		t.records = append(t.records, rec)
		t.paths[rec.Path] = struct{}{}
	}
	return t, nil
}
