// Package chunks reads and writes the tagged chunk stream the archives are
// made of. Each chunk is a little-endian uint32 id, a uint32 payload size and
// the payload itself.
package chunks

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// FlagCompressed is or-ed into a chunk id when the payload is compressed.
const FlagCompressed uint32 = 0x80000000

const headerSize = 8

var (
	ErrNoOpenChunk = errors.New("chunks: no open chunk")
	ErrTruncated   = errors.New("chunks: truncated chunk")
)

// Writer writes chunks to a seekable stream. Chunk sizes are patched in when
// a chunk is closed, so chunks can be filled incrementally.
type Writer struct {
	w    io.WriteSeeker
	pos  int64
	open []int64
}

func NewWriter(w io.WriteSeeker) (*Writer, error) {
	pos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	return &Writer{w: w, pos: pos}, nil
}

// OpenChunk starts a chunk. Chunks may nest; each OpenChunk must be paired
// with a CloseChunk.
func (w *Writer) OpenChunk(id uint32) error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], id)
	w.open = append(w.open, w.pos)
	return w.WriteRaw(hdr[:])
}

// CloseChunk patches the size of the innermost open chunk.
func (w *Writer) CloseChunk() error {
	if len(w.open) == 0 {
		return ErrNoOpenChunk
	}
	start := w.open[len(w.open)-1]
	w.open = w.open[:len(w.open)-1]

	size := w.pos - start - headerSize
	if size > math.MaxUint32 {
		return fmt.Errorf("chunks: chunk at %d is too large (%d bytes)", start, size)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(size))

	if _, err := w.w.Seek(start+4, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.w.Write(buf[:]); err != nil {
		return err
	}
	_, err := w.w.Seek(w.pos, io.SeekStart)
	return err
}

// WriteRaw appends p to the current chunk.
func (w *Writer) WriteRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.pos += int64(n)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	return err
}

func (w *Writer) Write(p []byte) (int, error) {
	start := w.pos
	err := w.WriteRaw(p)
	return int(w.pos - start), err
}

// Tell returns the current stream position.
func (w *Writer) Tell() int64 {
	return w.pos
}

// Depth returns the number of chunks still open.
func (w *Writer) Depth() int {
	return len(w.open)
}

// Chunk locates one top level chunk inside a stream.
type Chunk struct {
	ID     uint32
	Offset int64 // payload start
	Size   int64
}

// Tag returns the chunk id without flags.
func (c Chunk) Tag() uint32 {
	return c.ID &^ FlagCompressed
}

func (c Chunk) Compressed() bool {
	return c.ID&FlagCompressed != 0
}

// Section returns a reader over the chunk payload.
func (c Chunk) Section(r io.ReaderAt) *io.SectionReader {
	return io.NewSectionReader(r, c.Offset, c.Size)
}

// ReadAll scans the top level chunks of a stream of the given size.
func ReadAll(r io.ReaderAt, size int64) ([]Chunk, error) {
	var (
		out []Chunk
		hdr [headerSize]byte
		pos int64
	)
	for pos < size {
		if size-pos < headerSize {
			return nil, fmt.Errorf("%w: header at %d", ErrTruncated, pos)
		}
		if _, err := r.ReadAt(hdr[:], pos); err != nil {
			return nil, err
		}
		c := Chunk{
			ID:     binary.LittleEndian.Uint32(hdr[:4]),
			Offset: pos + headerSize,
			Size:   int64(binary.LittleEndian.Uint32(hdr[4:])),
		}
		if c.Offset+c.Size > size {
			return nil, fmt.Errorf("%w: chunk %#x claims %d bytes at %d", ErrTruncated, c.ID, c.Size, c.Offset)
		}
		out = append(out, c)
		pos = c.Offset + c.Size
	}
	return out, nil
}

// Find returns the first chunk whose tag matches.
func Find(list []Chunk, tag uint32) (Chunk, bool) {
	for _, c := range list {
		if c.Tag() == tag {
			return c, true
		}
	}
	return Chunk{}, false
}
