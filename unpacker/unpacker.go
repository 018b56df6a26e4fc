// Package unpacker extracts the files of an archive back to a directory.
package unpacker

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/goopsie/dbconverter/chunks"
	"github.com/goopsie/dbconverter/compression"
	"github.com/goopsie/dbconverter/dbformat"
	"github.com/goopsie/dbconverter/lzhuf"
	"github.com/goopsie/dbconverter/manifests"
)

var (
	// ErrCorruptArchive is returned when the chunk layout or a record does
	// not fit the archive.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrChecksumMismatch is returned when stored bytes do not hash to the
	// recorded CRC.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

type Request struct {
	Source      string
	Destination string
	// Version of the archive; VersionAuto detects it from the extension.
	Version dbformat.Version
	// Filter keeps only the records whose table path starts with it.
	Filter      string
	TableScheme compression.Scheme
}

// Result lists what was extracted.
type Result struct {
	Version dbformat.Version
	Table   *manifests.Table
	Files   int
}

type Unpacker struct {
	logger  *slog.Logger
	workers int
}

// New returns an Unpacker logging to logger. A nil logger discards output.
func New(logger *slog.Logger) *Unpacker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Unpacker{logger: logger, workers: runtime.GOMAXPROCS(0)}
}

// Unpack reads the file table of r.Source and writes every matching record
// below r.Destination. Files are extracted concurrently; the first failure
// cancels the rest.
func (u *Unpacker) Unpack(ctx context.Context, r Request) (Result, error) {
	v := r.Version
	if v == dbformat.VersionAuto {
		v = dbformat.DetectVersion(filepath.Ext(r.Source))
		if v == dbformat.VersionAuto {
			return Result{}, fmt.Errorf("%w: can't detect version of %s", dbformat.ErrUnsupportedVersion, r.Source)
		}
		u.logger.Info("auto-detected version", "path", r.Source, "version", v.String())
	}

	f, err := os.Open(r.Source)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Result{}, err
	}

	list, err := chunks.ReadAll(f, info.Size())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	hdr, ok := chunks.Find(list, dbformat.ChunkHeader)
	if !ok {
		return Result{}, fmt.Errorf("%w: no header chunk", ErrCorruptArchive)
	}
	data, ok := chunks.Find(list, dbformat.ChunkData)
	if !ok {
		return Result{}, fmt.Errorf("%w: no data chunk", ErrCorruptArchive)
	}

	payload := make([]byte, hdr.Size)
	if _, err := hdr.Section(f).ReadAt(payload, 0); err != nil && !errors.Is(err, io.EOF) {
		return Result{}, err
	}
	table, err := dbformat.DecodeHeader(payload, hdr.Compressed(), v, r.TableScheme)
	if err != nil {
		return Result{}, fmt.Errorf("read file table: %w", err)
	}

	filter := manifests.NormalizePath(r.Filter)
	var selected []manifests.FileRecord
	for _, rec := range table.Records() {
		if strings.HasPrefix(rec.Path, filter) {
			selected = append(selected, rec)
		}
	}
	u.logger.Info("extracting", "archive", r.Source, "version", v.String(), "files", len(selected), "total", table.Len())

	section := data.Section(f)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)
	for _, rec := range selected {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return u.extract(section, rec, r.Destination)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Version: v, Table: table, Files: len(selected)}, nil
}

func (u *Unpacker) extract(data *io.SectionReader, rec manifests.FileRecord, root string) error {
	target, err := localPath(root, rec.Path)
	if err != nil {
		return err
	}
	end := int64(rec.Offset) + int64(rec.SizeCompressed)
	if end > data.Size() {
		return fmt.Errorf("%w: %s ends at %d past data chunk of %d bytes", ErrCorruptArchive, rec.Path, end, data.Size())
	}

	stored := make([]byte, rec.SizeCompressed)
	if _, err := data.ReadAt(stored, int64(rec.Offset)); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %s: %w", rec.Path, err)
	}
	if sum := crc32.ChecksumIEEE(stored); sum != rec.CRC {
		return fmt.Errorf("%w: %s has %08x, table says %08x", ErrChecksumMismatch, rec.Path, sum, rec.CRC)
	}

	content := stored
	if rec.Compressed() {
		content, err = lzhuf.Decompress(stored)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorruptArchive, rec.Path, err)
		}
		if len(content) != int(rec.SizeReal) {
			return fmt.Errorf("%w: %s unpacked to %d bytes, table says %d", ErrCorruptArchive, rec.Path, len(content), rec.SizeReal)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return err
	}
	u.logger.Debug("extracted", "path", rec.Path, "size", len(content))
	return nil
}

// localPath maps a table path below root, refusing anything that would
// escape it.
func localPath(root, tablePath string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(tablePath, "\\", "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: unsafe path %q", ErrCorruptArchive, tablePath)
	}
	return filepath.Join(root, rel), nil
}
