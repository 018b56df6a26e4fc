// Package dbformat describes the archive format versions and converts the
// file table to and from its header chunk payload.
package dbformat

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/goopsie/dbconverter/scrambler"
)

// chunk ids
const (
	ChunkData     uint32 = 0x0
	ChunkHeader   uint32 = 0x1
	ChunkUserData uint32 = 0x29a
)

var ErrUnsupportedVersion = errors.New("unsupported archive version")

type Version uint8

const (
	VersionAuto Version = iota // unspecified
	Version1114
	Version2215
	Version2945
	Version2947RU
	Version2947WW
	VersionXDB
)

// version names double as CLI flag names
var versionNames = []struct {
	name    string
	version Version
}{
	{"xdb", VersionXDB},
	{"2947ru", Version2947RU},
	{"2947ww", Version2947WW},
	{"11xx", Version1114},
	{"2215", Version2215},
	{"2945", Version2945},
}

func (v Version) String() string {
	if v == VersionAuto {
		return "auto"
	}
	for _, n := range versionNames {
		if n.version == v {
			return n.name
		}
	}
	return fmt.Sprintf("unknown(%d)", v)
}

// Names returns the version names in flag order.
func Names() []string {
	out := make([]string, len(versionNames))
	for i, n := range versionNames {
		out[i] = n.name
	}
	return out
}

func ParseVersion(name string) (Version, error) {
	if name == "" || name == "auto" {
		return VersionAuto, nil
	}
	for _, n := range versionNames {
		if n.name == name {
			return n.version, nil
		}
	}
	return VersionAuto, fmt.Errorf("unknown archive version %q", name)
}

// CanPack reports whether archives of this version can be written.
func (v Version) CanPack() bool {
	switch v {
	case VersionXDB, Version2947RU, Version2947WW:
		return true
	default:
		return false
	}
}

// SupportsUserData reports whether the version carries a userdata chunk.
func (v Version) SupportsUserData() bool {
	return v == VersionXDB
}

// ScramblerKey returns the header cipher key of the version, if any.
func (v Version) ScramblerKey() (scrambler.Key, bool) {
	switch v {
	case Version2947RU:
		return scrambler.KeyRU, true
	case Version2947WW:
		return scrambler.KeyWW, true
	default:
		return 0, false
	}
}

// DetectVersion guesses the version from an archive file extension
// (".db0", ".xdb", ".xrp", ".xp2", ...). It returns VersionAuto when the
// extension is unknown.
func DetectVersion(ext string) Version {
	ext = strings.ToLower(ext)
	switch {
	case isNumbered(ext, ".db"), isNumbered(ext, ".xdb"):
		return VersionXDB
	case ext == ".xrp":
		return Version1114
	case isNumbered(ext, ".xp"):
		return Version2215
	default:
		return VersionAuto
	}
}

// isNumbered matches base exactly or base followed by one alphanumeric
// character (".db" and ".db0" .. ".dbz").
func isNumbered(ext, base string) bool {
	if ext == base {
		return true
	}
	if len(ext) != len(base)+1 || !strings.HasPrefix(ext, base) {
		return false
	}
	r := rune(ext[len(base)])
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
