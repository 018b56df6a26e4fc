// Package compression dispatches the file table codec. The game only reads
// lzhuf tables; zstd and lz4 tables are for archives consumed by our own
// tooling, where faster codecs are preferable.
package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/goopsie/dbconverter/lzhuf"
)

// Scheme identifies a table codec.
type Scheme uint8

const (
	SchemeLZHUF Scheme = iota
	SchemeZstd
	SchemeLZ4
)

const compressionLevel = zstd.BestSpeed

func (s Scheme) String() string {
	switch s {
	case SchemeLZHUF:
		return "lzhuf"
	case SchemeZstd:
		return "zstd"
	case SchemeLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ParseScheme parses a scheme name. The empty string selects lzhuf.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "", "lzhuf":
		return SchemeLZHUF, nil
	case "zstd":
		return SchemeZstd, nil
	case "lz4":
		return SchemeLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression scheme: %q", name)
	}
}

// Compress encodes data with the scheme. Every scheme records the
// uncompressed length so Decompress can validate its output.
func Compress(data []byte, s Scheme) ([]byte, error) {
	switch s {
	case SchemeLZHUF:
		return lzhuf.Compress(data)
	case SchemeZstd:
		if len(data) == 0 {
			return withSize(0, nil), nil
		}
		out, err := zstd.CompressLevel(nil, data, compressionLevel)
		if err != nil {
			return nil, fmt.Errorf("zstd compress: %w", err)
		}
		return withSize(len(data), out), nil
	case SchemeLZ4:
		if len(data) == 0 {
			return withSize(0, nil), nil
		}
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return withSize(len(data), buf.Bytes()), nil
	default:
		return nil, fmt.Errorf("unsupported compression scheme: %d", s)
	}
}

// Decompress reverses Compress.
func Decompress(data []byte, s Scheme) ([]byte, error) {
	switch s {
	case SchemeLZHUF:
		return lzhuf.Decompress(data)
	case SchemeZstd:
		size, body, err := splitSize(data)
		if err != nil {
			return nil, err
		}
		if emptyBody(size, body) {
			return []byte{}, nil
		}
		out, err := zstd.Decompress(nil, body)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return checkSize(out, size)
	case SchemeLZ4:
		size, body, err := splitSize(data)
		if err != nil {
			return nil, err
		}
		if emptyBody(size, body) {
			return []byte{}, nil
		}
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return checkSize(out, size)
	default:
		return nil, fmt.Errorf("unsupported compression scheme: %d", s)
	}
}

func withSize(size int, body []byte) []byte {
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(size))
	return append(out, body...)
}

func splitSize(data []byte) (int, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("compressed table too short (%d bytes)", len(data))
	}
	return int(binary.LittleEndian.Uint32(data)), data[4:], nil
}

// empty tables are stored as a bare size prefix
func emptyBody(size int, body []byte) bool {
	return size == 0 && len(body) == 0
}

func checkSize(out []byte, size int) ([]byte, error) {
	if len(out) != size {
		return nil, fmt.Errorf("decompressed %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
