package packer

import (
	"github.com/dlclark/regexp2"

	"github.com/goopsie/dbconverter/compression"
	"github.com/goopsie/dbconverter/dbformat"
)

// Target holds the settings shared by every pack request.
type Target struct {
	// Destination is the archive path. Split requests derive segment names
	// from it.
	Destination string
	Version     dbformat.Version

	// UserData is an optional file embedded verbatim in a userdata chunk.
	// Only xdb archives carry one.
	UserData string

	// DontStrip keeps source paths as given instead of making them relative.
	DontStrip bool

	// SaveList writes a JSON list of the packed paths next to each archive.
	SaveList bool

	// TableScheme compresses the file table. The zero value is lzhuf, the
	// only scheme the game understands.
	TableScheme compression.Scheme

	// CompressFiles stores file contents lzhuf compressed. Off by default:
	// stored files can be read in place.
	CompressFiles bool
}

// Request is one of DirectoryRequest, FilesRequest or SplitRequest.
type Request interface {
	target() Target
}

// DirectoryRequest packs a whole source tree into one archive.
type DirectoryRequest struct {
	Target
	Source      string
	SkipFolders bool
	Exclude     *regexp2.Regexp
}

// FilesRequest packs an explicit list of files into one archive. Missing
// files are skipped with a warning.
type FilesRequest struct {
	Target
	Files []string
	// Root, when set, is stripped from each file path.
	Root string
}

// SplitRequest packs a source tree into numbered archives of at most
// MaxSize source bytes each (a single larger file gets a segment of its
// own).
type SplitRequest struct {
	Target
	Source      string
	SkipFolders bool
	Exclude     *regexp2.Regexp
	MaxSize     int64
}

func (r DirectoryRequest) target() Target { return r.Target }
func (r FilesRequest) target() Target     { return r.Target }
func (r SplitRequest) target() Target     { return r.Target }
