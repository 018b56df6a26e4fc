package packer

import (
	"bytes"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goopsie/dbconverter/chunks"
	"github.com/goopsie/dbconverter/compression"
	"github.com/goopsie/dbconverter/dbformat"
	"github.com/goopsie/dbconverter/lzhuf"
	"github.com/goopsie/dbconverter/manifests"
	"github.com/goopsie/dbconverter/walker"
)

const (
	contentA = "0123456789"
	contentB = "abcdefghijklmnopqrst"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func scenarioTree(t *testing.T) string {
	return writeTree(t, map[string]string{"a.txt": contentA, "sub/b.txt": contentB})
}

type archiveContents struct {
	chunks []chunks.Chunk
	raw    []byte
	data   []byte
	table  *manifests.Table
}

func readArchive(t *testing.T, path string, v dbformat.Version) archiveContents {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	list, err := chunks.ReadAll(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	data, ok := chunks.Find(list, dbformat.ChunkData)
	require.True(t, ok, "data chunk")
	hdr, ok := chunks.Find(list, dbformat.ChunkHeader)
	require.True(t, ok, "header chunk")
	assert.True(t, hdr.Compressed())

	payload := bytes.Clone(raw[hdr.Offset : hdr.Offset+hdr.Size])
	table, err := dbformat.DecodeHeader(payload, true, v, compression.SchemeLZHUF)
	require.NoError(t, err)

	return archiveContents{
		chunks: list,
		raw:    raw,
		data:   raw[data.Offset : data.Offset+data.Size],
		table:  table,
	}
}

func TestPackDirectory(t *testing.T) {
	src := scenarioTree(t)
	dst := filepath.Join(t.TempDir(), "out", "resources.db")

	results, err := New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB},
		Source: src,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, dst, results[0].Destination)

	got := readArchive(t, dst, dbformat.VersionXDB)
	assert.Equal(t, []manifests.FileRecord{
		{Path: "a.txt", SizeReal: 10, SizeCompressed: 10, CRC: crc32.ChecksumIEEE([]byte(contentA)), Offset: 0},
		{Path: "sub\\b.txt", SizeReal: 20, SizeCompressed: 20, CRC: crc32.ChecksumIEEE([]byte(contentB)), Offset: 10},
	}, got.table.Records())
	assert.Equal(t, contentA+contentB, string(got.data))

	// data first, header last, nothing else
	require.Len(t, got.chunks, 2)
	assert.Equal(t, dbformat.ChunkData, got.chunks[0].ID)
	assert.Equal(t, dbformat.ChunkHeader|chunks.FlagCompressed, got.chunks[1].ID)
	assert.Equal(t, results[0].Table.Records(), got.table.Records())
}

func TestPackIsDeterministic(t *testing.T) {
	src := writeTree(t, map[string]string{
		"z/last.ltx":     "zz",
		"a.txt":          contentA,
		"sub/b.txt":      contentB,
		"sub/deep/c.dds": "ccc",
		"Upper/Case.OGG": "ogg",
		"textures/x.dds": "x",
	})
	out := t.TempDir()

	for _, name := range []string{"one.db", "two.db"} {
		_, err := New(nil).Pack(DirectoryRequest{
			Target: Target{Destination: filepath.Join(out, name), Version: dbformat.Version2947WW},
			Source: src,
		})
		require.NoError(t, err)
	}

	one, err := os.ReadFile(filepath.Join(out, "one.db"))
	require.NoError(t, err)
	two, err := os.ReadFile(filepath.Join(out, "two.db"))
	require.NoError(t, err)
	assert.Equal(t, one, two)
}

func TestPackOffsetsFollowPathOrder(t *testing.T) {
	src := writeTree(t, map[string]string{
		"b/2.txt": "22",
		"b/1.txt": "1",
		"a/9.txt": "999",
		"c.txt":   "cccc",
	})
	dst := filepath.Join(t.TempDir(), "o.db")
	_, err := New(nil).Pack(DirectoryRequest{Target: Target{Destination: dst, Version: dbformat.VersionXDB}, Source: src})
	require.NoError(t, err)

	recs := readArchive(t, dst, dbformat.VersionXDB).table.Records()
	require.Len(t, recs, 4)
	assert.Equal(t, []string{"a\\9.txt", "b\\1.txt", "b\\2.txt", "c.txt"}, []string{recs[0].Path, recs[1].Path, recs[2].Path, recs[3].Path})
	for i := 1; i < len(recs); i++ {
		assert.Equal(t, recs[i-1].Offset+recs[i-1].SizeCompressed, recs[i].Offset)
	}
}

func TestPackNormalizesPaths(t *testing.T) {
	src := writeTree(t, map[string]string{"Assets/Textures/Rock.DDS": "rock"})
	dst := filepath.Join(t.TempDir(), "o.db")

	_, err := New(nil).Pack(DirectoryRequest{Target: Target{Destination: dst, Version: dbformat.VersionXDB}, Source: src})
	require.NoError(t, err)

	assert.Equal(t, []string{"assets\\textures\\rock.dds"}, readArchive(t, dst, dbformat.VersionXDB).table.Paths())
}

func TestPackExclude(t *testing.T) {
	src := writeTree(t, map[string]string{
		"a.txt":       contentA,
		"a.txt.bak":   "old",
		"sub/b.txt":   contentB,
		"sub/tmp.bak": "old",
	})
	re, err := walker.CompileExclude(`.*\.bak`)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "o.db")
	_, err = New(nil).Pack(DirectoryRequest{
		Target:  Target{Destination: dst, Version: dbformat.VersionXDB},
		Source:  src,
		Exclude: re,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub\\b.txt"}, readArchive(t, dst, dbformat.VersionXDB).table.Paths())
}

func TestPackSkipFolders(t *testing.T) {
	src := scenarioTree(t)
	dst := filepath.Join(t.TempDir(), "o.db")
	_, err := New(nil).Pack(DirectoryRequest{
		Target:      Target{Destination: dst, Version: dbformat.VersionXDB},
		Source:      src,
		SkipFolders: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, readArchive(t, dst, dbformat.VersionXDB).table.Paths())
}

func TestPackRejectsBadConfiguration(t *testing.T) {
	src := scenarioTree(t)
	out := t.TempDir()

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"unspecified version", DirectoryRequest{Target: Target{Destination: filepath.Join(out, "auto.db")}, Source: src}, ErrConfiguration},
		{"legacy 2945", DirectoryRequest{Target: Target{Destination: filepath.Join(out, "legacy.db"), Version: dbformat.Version2945}, Source: src}, ErrConfiguration},
		{"legacy 1114 file list", FilesRequest{Target: Target{Destination: filepath.Join(out, "files.db"), Version: dbformat.Version1114}}, ErrConfiguration},
		{"missing destination", DirectoryRequest{Target: Target{Version: dbformat.VersionXDB}, Source: src}, ErrConfiguration},
		{"missing source path", DirectoryRequest{Target: Target{Destination: filepath.Join(out, "nosrc.db"), Version: dbformat.VersionXDB}}, ErrConfiguration},
		{"source not found", DirectoryRequest{Target: Target{Destination: filepath.Join(out, "gone.db"), Version: dbformat.VersionXDB}, Source: filepath.Join(src, "gone")}, ErrSourceNotFound},
		{"zero split budget", SplitRequest{Target: Target{Destination: filepath.Join(out, "split.db"), Version: dbformat.VersionXDB}, Source: src}, ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil).Pack(tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries, "no archive may be created")
}

func TestPackFilesSkipsMissing(t *testing.T) {
	src := scenarioTree(t)
	dst := filepath.Join(t.TempDir(), "files.db")

	results, err := New(nil).Pack(FilesRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB},
		Files: []string{
			filepath.Join(src, "sub", "b.txt"),
			filepath.Join(src, "missing.txt"),
			filepath.Join(src, "a.txt"),
		},
		Root: src,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// list order is kept
	got := readArchive(t, dst, dbformat.VersionXDB)
	assert.Equal(t, []string{"sub\\b.txt", "a.txt"}, got.table.Paths())
	assert.Equal(t, contentB+contentA, string(got.data))
}

func TestPackFilesDuplicatePath(t *testing.T) {
	src := scenarioTree(t)
	dst := filepath.Join(t.TempDir(), "dup.db")
	a := filepath.Join(src, "a.txt")

	_, err := New(nil).Pack(FilesRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB},
		Files:  []string{a, a},
		Root:   src,
	})
	require.NoError(t, err)
	got := readArchive(t, dst, dbformat.VersionXDB)
	assert.Equal(t, 1, got.table.Len())
	assert.Equal(t, contentA, string(got.data))
}

func TestPackUserData(t *testing.T) {
	src := scenarioTree(t)
	out := t.TempDir()
	ud := filepath.Join(out, "ud.bin")
	require.NoError(t, os.WriteFile(ud, []byte("user data blob"), 0o644))

	dst := filepath.Join(out, "with_ud.xdb")
	_, err := New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB, UserData: ud},
		Source: src,
	})
	require.NoError(t, err)

	got := readArchive(t, dst, dbformat.VersionXDB)
	require.Len(t, got.chunks, 3)
	first := got.chunks[0]
	assert.Equal(t, dbformat.ChunkUserData, first.ID)
	assert.Equal(t, "user data blob", string(got.raw[first.Offset:first.Offset+first.Size]))
	// offsets stay relative to the data chunk
	assert.Equal(t, uint32(0), got.table.Records()[0].Offset)

	// an unreadable blob only costs the chunk
	dst = filepath.Join(out, "no_ud.xdb")
	_, err = New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB, UserData: filepath.Join(out, "missing.bin")},
		Source: src,
	})
	require.NoError(t, err)
	assert.Len(t, readArchive(t, dst, dbformat.VersionXDB).chunks, 2)

	// 2947 archives have no userdata chunk
	dst = filepath.Join(out, "ru.db")
	_, err = New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.Version2947RU, UserData: ud},
		Source: src,
	})
	require.NoError(t, err)
	assert.Len(t, readArchive(t, dst, dbformat.Version2947RU).chunks, 2)
}

func TestPackScrambledHeader(t *testing.T) {
	src := scenarioTree(t)
	out := t.TempDir()

	for _, v := range []dbformat.Version{dbformat.Version2947RU, dbformat.Version2947WW} {
		t.Run(v.String(), func(t *testing.T) {
			dst := filepath.Join(out, v.String()+".db")
			_, err := New(nil).Pack(DirectoryRequest{Target: Target{Destination: dst, Version: v}, Source: src})
			require.NoError(t, err)

			got := readArchive(t, dst, v)
			assert.Equal(t, []string{"a.txt", "sub\\b.txt"}, got.table.Paths())

			// the raw payload is not a plain lzhuf stream
			hdr, _ := chunks.Find(got.chunks, dbformat.ChunkHeader)
			payload := got.raw[hdr.Offset : hdr.Offset+hdr.Size]
			plain, err := manifests.MarshalTable(got.table)
			require.NoError(t, err)
			packed, err := lzhuf.Compress(plain)
			require.NoError(t, err)
			assert.NotEqual(t, packed, payload)
		})
	}
}

func TestPackSaveList(t *testing.T) {
	src := writeTree(t, map[string]string{"a.txt": contentA, "sub/b.txt": contentB, "odd/q\"uote.txt": "q"})
	dst := filepath.Join(t.TempDir(), "listed.db")

	_, err := New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB, SaveList: true},
		Source: src,
	})
	require.NoError(t, err)

	list, err := os.ReadFile(dst + ".json")
	require.NoError(t, err)
	assert.Equal(t, `["a.txt","odd\\q\"uote.txt","sub\\b.txt"]`, string(list))
}

func TestPackCompressFiles(t *testing.T) {
	big := bytes.Repeat([]byte("compressible "), 400)
	src := writeTree(t, map[string]string{"big.txt": string(big)})
	dst := filepath.Join(t.TempDir(), "c.db")

	_, err := New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB, CompressFiles: true},
		Source: src,
	})
	require.NoError(t, err)

	got := readArchive(t, dst, dbformat.VersionXDB)
	rec := got.table.Records()[0]
	assert.True(t, rec.Compressed())
	assert.Equal(t, uint32(len(big)), rec.SizeReal)

	stored := got.data[rec.Offset : rec.Offset+rec.SizeCompressed]
	assert.Equal(t, crc32.ChecksumIEEE(stored), rec.CRC)
	plain, err := lzhuf.Decompress(stored)
	require.NoError(t, err)
	assert.Equal(t, big, plain)
}

func TestPackTableScheme(t *testing.T) {
	src := scenarioTree(t)
	dst := filepath.Join(t.TempDir(), "zstd.db")

	_, err := New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB, TableScheme: compression.SchemeZstd},
		Source: src,
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	list, err := chunks.ReadAll(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	hdr, ok := chunks.Find(list, dbformat.ChunkHeader)
	require.True(t, ok)

	table, err := dbformat.DecodeHeader(raw[hdr.Offset:hdr.Offset+hdr.Size], true, dbformat.VersionXDB, compression.SchemeZstd)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
}

func TestPackEmptyDirectory(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "empty.db")
	results, err := New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB},
		Source: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Table.Len())
	assert.Equal(t, 0, readArchive(t, dst, dbformat.VersionXDB).table.Len())
}

func TestPackKeepsNonASCIIPathBytes(t *testing.T) {
	src := writeTree(t, map[string]string{
		"\xc0\xcf.TXT":       "cp1251",
		"\xe0\xef.TXT":       "lower cp1251",
		"Текстура/Rock.DDS":  "upper",
		"текстура/Rock2.DDS": "lower",
	})
	dst := filepath.Join(t.TempDir(), "names.db")

	_, err := New(nil).Pack(DirectoryRequest{
		Target: Target{Destination: dst, Version: dbformat.VersionXDB, SaveList: true},
		Source: src,
	})
	require.NoError(t, err)

	want := []string{
		"\xc0\xcf.txt",
		"Текстура\\rock.dds",
		"текстура\\rock2.dds",
		"\xe0\xef.txt",
	}
	assert.Equal(t, want, readArchive(t, dst, dbformat.VersionXDB).table.Paths())

	list, err := os.ReadFile(dst + ".json")
	require.NoError(t, err)
	assert.Equal(t, "[\"\xc0\xcf.txt\",\"Текстура\\\\rock.dds\",\"текстура\\\\rock2.dds\",\"\xe0\xef.txt\"]", string(list))
}

func TestWriteListEscaping(t *testing.T) {
	dir := t.TempDir()

	name := filepath.Join(dir, "list.json")
	require.NoError(t, writeList(name, []string{"tab\there", "\xc0\xcf.txt", `q"\b`, "<html>&"}))
	got, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "[\"tab\there\",\"\xc0\xcf.txt\",\"q\\\"\\\\b\",\"<html>&\"]", string(got))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, writeList(empty, nil))
	got, err = os.ReadFile(empty)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))
}
