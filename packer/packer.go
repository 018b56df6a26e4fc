// Package packer builds archives from a source tree or a file list, and
// splits large trees over several archives.
package packer

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/goopsie/dbconverter/chunks"
	"github.com/goopsie/dbconverter/dbformat"
	"github.com/goopsie/dbconverter/lzhuf"
	"github.com/goopsie/dbconverter/manifests"
	"github.com/goopsie/dbconverter/walker"
)

// Result describes one written archive.
type Result struct {
	Destination string
	Table       *manifests.Table
}

type Packer struct {
	logger *slog.Logger
}

// New returns a Packer logging to logger. A nil logger discards output.
func New(logger *slog.Logger) *Packer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Packer{logger: logger}
}

// Pack runs req and returns one Result per archive written. Validation
// errors are returned before the destination is touched; an I/O error in
// the middle of a run leaves a partial archive behind.
func (p *Packer) Pack(req Request) ([]Result, error) {
	switch r := req.(type) {
	case DirectoryRequest:
		res, err := p.packDirectory(r)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	case FilesRequest:
		res, err := p.packFiles(r)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	case SplitRequest:
		return p.packSplit(r)
	default:
		return nil, fmt.Errorf("%w: unknown request %T", ErrConfiguration, req)
	}
}

func (p *Packer) packDirectory(r DirectoryRequest) (Result, error) {
	if err := checkSource(r.Source); err != nil {
		return Result{}, err
	}
	if err := checkTarget(r.Target); err != nil {
		return Result{}, err
	}

	tree, err := walker.Walk(r.Source, walker.Options{
		SkipFolders: r.SkipFolders,
		DontStrip:   r.DontStrip,
		Exclude:     r.Exclude,
	})
	if err != nil {
		return Result{}, fmt.Errorf("walk %s: %w", r.Source, err)
	}
	p.logger.Debug("walked source", "source", r.Source, "files", len(tree.Files), "folders", len(tree.Folders))

	return p.build(r.Target, tree.Files)
}

func (p *Packer) packFiles(r FilesRequest) (Result, error) {
	if err := checkTarget(r.Target); err != nil {
		return Result{}, err
	}

	entries := make([]walker.Entry, 0, len(r.Files))
	for _, name := range r.Files {
		info, err := os.Stat(name)
		if err != nil || !info.Mode().IsRegular() {
			p.logger.Warn("file not found, skipped", "path", name)
			continue
		}
		path := filepath.Clean(name)
		if r.Root != "" && !r.DontStrip {
			if rel, err := filepath.Rel(r.Root, name); err == nil {
				path = rel
			}
		}
		entries = append(entries, walker.Entry{
			Path:     filepath.ToSlash(path),
			FullPath: name,
			Size:     info.Size(),
		})
	}

	return p.build(r.Target, entries)
}

func checkSource(source string) error {
	if source == "" {
		return fmt.Errorf("%w: missing source directory path", ErrConfiguration)
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSourceNotFound, source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, source)
	}
	return nil
}

func checkTarget(t Target) error {
	if t.Destination == "" {
		return fmt.Errorf("%w: missing destination file path", ErrConfiguration)
	}
	if t.Version == dbformat.VersionAuto {
		return fmt.Errorf("%w: unspecified archive version", ErrConfiguration)
	}
	if !t.Version.CanPack() {
		return fmt.Errorf("%w: %s archives can not be packed", ErrConfiguration, t.Version)
	}
	return nil
}

// build writes one archive holding entries, in order.
func (p *Packer) build(t Target, entries []walker.Entry) (res Result, err error) {
	if dir := filepath.Dir(t.Destination); dir != "" {
		if _, statErr := os.Stat(dir); errors.Is(statErr, fs.ErrNotExist) {
			p.logger.Info("destination folder doesn't exist, creating", "folder", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrDestination, err)
		}
	}

	f, err := os.Create(t.Destination)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDestination, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %w", ErrDestination, t.Destination, cerr)
		}
	}()

	cw, err := chunks.NewWriter(f)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDestination, err)
	}
	a := &archive{
		target: t,
		log:    p.logger.With("archive", t.Destination),
		cw:     cw,
		table:  manifests.NewTable(),
		buf:    make([]byte, 32*1024),
	}

	if err := a.writeUserData(); err != nil {
		return Result{}, err
	}
	if err := a.writeData(entries); err != nil {
		return Result{}, err
	}
	if err := a.writeHeader(); err != nil {
		return Result{}, err
	}
	if t.SaveList {
		if err := writeList(t.Destination+".json", a.table.Paths()); err != nil {
			return Result{}, err
		}
	}

	p.logger.Info("archive written",
		"path", t.Destination,
		"version", t.Version.String(),
		"files", a.table.Len(),
		"data_size", a.dataSize,
	)
	return Result{Destination: t.Destination, Table: a.table}, nil
}

// archive is the state of one archive being written. It owns the output
// stream and the table until build returns.
type archive struct {
	target Target
	log    *slog.Logger
	cw     *chunks.Writer
	table  *manifests.Table
	buf    []byte

	dataStart int64
	dataSize  int64
}

func (a *archive) writeUserData() error {
	if a.target.UserData == "" {
		return nil
	}
	if !a.target.Version.SupportsUserData() {
		a.log.Warn("user data is only stored in xdb archives, ignored", "path", a.target.UserData)
		return nil
	}
	data, err := os.ReadFile(a.target.UserData)
	if err != nil {
		a.log.Warn("failed to load user data", "path", a.target.UserData, "error", err)
		return nil
	}
	if err := a.cw.OpenChunk(dbformat.ChunkUserData); err != nil {
		return err
	}
	if err := a.cw.WriteRaw(data); err != nil {
		return err
	}
	return a.cw.CloseChunk()
}

func (a *archive) writeData(entries []walker.Entry) error {
	if err := a.cw.OpenChunk(dbformat.ChunkData); err != nil {
		return err
	}
	a.dataStart = a.cw.Tell()
	for _, e := range entries {
		if err := a.addFile(e); err != nil {
			return err
		}
	}
	a.dataSize = a.cw.Tell() - a.dataStart
	return a.cw.CloseChunk()
}

func (a *archive) addFile(e walker.Entry) error {
	path := manifests.NormalizePath(e.Path)
	if a.table.Contains(path) {
		a.log.Warn("duplicate path, skipped", "path", path, "source", e.FullPath)
		return nil
	}

	offset := a.cw.Tell() - a.dataStart
	if offset > math.MaxUint32 {
		return fmt.Errorf("data chunk exceeds 4 GiB at %s", e.FullPath)
	}

	var (
		sizeReal, sizeStored int64
		crc                  uint32
		err                  error
	)
	if a.target.CompressFiles {
		sizeReal, sizeStored, crc, err = a.writeCompressed(e.FullPath)
	} else {
		sizeReal, crc, err = a.writeStored(e.FullPath)
		sizeStored = sizeReal
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", e.FullPath, err)
	}
	if sizeReal > math.MaxUint32 || sizeStored > math.MaxUint32 {
		return fmt.Errorf("%s is too large (%d bytes)", e.FullPath, sizeReal)
	}

	rec := manifests.FileRecord{
		Path:           path,
		SizeReal:       uint32(sizeReal),
		SizeCompressed: uint32(sizeStored),
		CRC:            crc,
		Offset:         uint32(offset),
	}
	if err := a.table.Append(rec); err != nil {
		return err
	}
	a.log.Debug("packed", "path", path, "size", sizeReal, "stored", sizeStored, "offset", offset)
	return nil
}

// writeStored streams a file into the data chunk, hashing what is written.
func (a *archive) writeStored(name string) (int64, uint32, error) {
	f, err := os.Open(name)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	hasher := crc32.NewIEEE()
	n, err := io.CopyBuffer(io.MultiWriter(a.cw, hasher), f, a.buf)
	if err != nil {
		return 0, 0, err
	}
	return n, hasher.Sum32(), nil
}

// writeCompressed stores the lzhuf form of a file when it is smaller. The
// CRC covers the stored bytes.
func (a *archive) writeCompressed(name string) (int64, int64, uint32, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return 0, 0, 0, err
	}
	packed, err := lzhuf.Compress(data)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	// equal sizes would read back as a stored record
	if len(packed) >= len(data) {
		packed = data
	}
	if err := a.cw.WriteRaw(packed); err != nil {
		return 0, 0, 0, err
	}
	return int64(len(data)), int64(len(packed)), crc32.ChecksumIEEE(packed), nil
}

func (a *archive) writeHeader() error {
	payload, err := dbformat.EncodeHeader(a.table, a.target.Version, a.target.TableScheme)
	if err != nil {
		return fmt.Errorf("%w: file table: %w", ErrCodec, err)
	}
	if err := a.cw.OpenChunk(dbformat.ChunkHeader | chunks.FlagCompressed); err != nil {
		return err
	}
	if err := a.cw.WriteRaw(payload); err != nil {
		return err
	}
	return a.cw.CloseChunk()
}
