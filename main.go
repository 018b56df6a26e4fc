package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/goopsie/dbconverter/compression"
	"github.com/goopsie/dbconverter/config"
	"github.com/goopsie/dbconverter/dbformat"
	"github.com/goopsie/dbconverter/packer"
	"github.com/goopsie/dbconverter/unpacker"
	"github.com/goopsie/dbconverter/walker"
)

type options struct {
	pack       string
	packFiles  []string
	unpack     string
	out        string
	userData   string
	skip       string
	filter     string
	tableCodec string
	configPath string
	maxSize    int64

	dontStrip     bool
	saveList      bool
	skipFolders   bool
	compressFiles bool
	debug         bool
	help          bool

	versions map[string]*bool
}

func newFlagSet(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("dbconverter", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&o.pack, "pack", "", "pack directory content into game archive")
	fs.StringSliceVar(&o.packFiles, "pack_files", nil, "list of files which will be packed into archive")
	fs.StringVar(&o.unpack, "unpack", "", "unpack game archive")
	fs.StringVar(&o.out, "out", "", "output file or folder name")
	fs.StringVar(&o.userData, "xdb_ud", "", "attach user data file")
	fs.StringVar(&o.skip, "skip", "", "skip files by regex")
	fs.StringVar(&o.filter, "flt", "", "extract files filtered by mask")
	fs.StringVar(&o.tableCodec, "table_codec", compression.SchemeLZHUF.String(), "file table compression: lzhuf, zstd or lz4")
	fs.StringVar(&o.configPath, "config", "", "YAML file with default options (or $"+config.EnvVar+")")
	fs.Int64Var(&o.maxSize, "max_size", 0, "create a few db archives splitted by size, sets in bytes")
	fs.BoolVar(&o.dontStrip, "dont_strip", false, "if set then root path for each file will not stripped")
	fs.BoolVar(&o.saveList, "save_list", false, "create json files for each db archive which contain json array with files")
	fs.BoolVar(&o.skipFolders, "skip_folders", false, "pack only files in a source folder")
	fs.BoolVar(&o.compressFiles, "compress_files", false, "store file data lzhuf compressed")
	fs.BoolVar(&o.debug, "debug", false, "enable debug output")
	fs.BoolVarP(&o.help, "help", "h", false, "produce help message")

	o.versions = make(map[string]*bool)
	usage := map[string]string{
		"xdb":    "assume .xdb or .db archive format",
		"2947ru": "assume release version format",
		"2947ww": "assume worldwide release version and 3120 format",
		"11xx":   "assume 1114/1154 archive format (unpack only)",
		"2215":   "assume 2215 archive format (unpack only)",
		"2945":   "assume 2945/2939 archive format (unpack only)",
	}
	for _, name := range dbformat.Names() {
		o.versions[name] = fs.Bool(name, false, usage[name])
	}
	return fs
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	var o options
	fs := newFlagSet(&o)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, fs)
			return nil
		}
		return fmt.Errorf("%w: %w", packer.ErrConfiguration, err)
	}
	if o.help {
		printHelp(stderr, fs)
		return nil
	}

	if path := config.Path(o.configPath); path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("%w: config: %w", packer.ErrConfiguration, err)
		}
		o.merge(fs, cfg)
	}

	// positional arguments extend --pack_files
	if fs.Changed("pack_files") {
		o.packFiles = append(o.packFiles, fs.Args()...)
	} else if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %s", packer.ErrConfiguration, fs.Arg(0))
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := conflicting(fs, "pack", "pack_files", "unpack"); err != nil {
		return err
	}
	if err := conflicting(fs, dbformat.Names()...); err != nil {
		return err
	}
	version, err := o.version()
	if err != nil {
		return err
	}
	scheme, err := compression.ParseScheme(o.tableCodec)
	if err != nil {
		return fmt.Errorf("%w: %w", packer.ErrConfiguration, err)
	}

	switch {
	case fs.Changed("unpack"):
		return runUnpack(logger, o, version, scheme)
	case fs.Changed("pack"), fs.Changed("pack_files"):
		return runPack(logger, fs, o, version, scheme)
	default:
		logger.Info("no tools selected")
		logger.Info(`try "dbconverter --help" for more information`)
		return nil
	}
}

func runUnpack(logger *slog.Logger, o options, v dbformat.Version, scheme compression.Scheme) error {
	dest := o.out
	if dest == "" {
		dest = "."
	}

	res, err := unpacker.New(logger).Unpack(context.Background(), unpacker.Request{
		Source:      o.unpack,
		Destination: dest,
		Version:     v,
		Filter:      o.filter,
		TableScheme: scheme,
	})
	if err != nil {
		return err
	}
	logger.Info("unpacked", "archive", o.unpack, "version", res.Version.String(), "files", res.Files, "out", dest)
	return nil
}

func runPack(logger *slog.Logger, fs *pflag.FlagSet, o options, v dbformat.Version, scheme compression.Scheme) error {
	if v == dbformat.VersionAuto {
		v = dbformat.DetectVersion(filepath.Ext(o.out))
		if v == dbformat.VersionAuto {
			return fmt.Errorf("%w: unknown output file extension %q", packer.ErrConfiguration, filepath.Ext(o.out))
		}
		logger.Info("auto-detected version", "version", v.String())
	}
	exclude, err := walker.CompileExclude(o.skip)
	if err != nil {
		return fmt.Errorf("%w: %w", packer.ErrConfiguration, err)
	}

	target := packer.Target{
		Destination:   o.out,
		Version:       v,
		UserData:      o.userData,
		DontStrip:     o.dontStrip,
		SaveList:      o.saveList,
		TableScheme:   scheme,
		CompressFiles: o.compressFiles,
	}

	var req packer.Request
	switch {
	case fs.Changed("pack_files"):
		if exclude != nil {
			logger.Warn("--skip is ignored for file lists")
		}
		req = packer.FilesRequest{Target: target, Files: o.packFiles}
	case o.maxSize > 0:
		req = packer.SplitRequest{
			Target:      target,
			Source:      o.pack,
			SkipFolders: o.skipFolders,
			Exclude:     exclude,
			MaxSize:     o.maxSize,
		}
	default:
		req = packer.DirectoryRequest{
			Target:      target,
			Source:      o.pack,
			SkipFolders: o.skipFolders,
			Exclude:     exclude,
		}
	}

	results, err := packer.New(logger).Pack(req)
	if err != nil {
		return err
	}
	for _, r := range results {
		logger.Debug("packed archive", "path", r.Destination, "files", r.Table.Len())
	}
	return nil
}

// conflicting fails when more than one of names was given.
func conflicting(fs *pflag.FlagSet, names ...string) error {
	var found string
	for _, name := range names {
		if !fs.Changed(name) {
			continue
		}
		if found != "" {
			return fmt.Errorf("%w: conflicting options %q and %q specified", packer.ErrConfiguration, found, name)
		}
		found = name
	}
	return nil
}

func (o *options) version() (dbformat.Version, error) {
	for _, name := range dbformat.Names() {
		if *o.versions[name] {
			return dbformat.ParseVersion(name)
		}
	}
	return dbformat.VersionAuto, nil
}

// merge copies config values for every flag not set on the command line.
func (o *options) merge(fs *pflag.FlagSet, cfg *config.Config) {
	if !anyChanged(fs, dbformat.Names()...) && cfg.Version != "" {
		if p, ok := o.versions[strings.ToLower(cfg.Version)]; ok {
			*p = true
		}
	}
	setString(fs, "xdb_ud", &o.userData, cfg.UserData)
	setString(fs, "skip", &o.skip, cfg.Skip)
	setString(fs, "table_codec", &o.tableCodec, cfg.TableCodec)
	if !fs.Changed("max_size") {
		o.maxSize = cfg.MaxSize
	}
	setBool(fs, "save_list", &o.saveList, cfg.SaveList)
	setBool(fs, "dont_strip", &o.dontStrip, cfg.DontStrip)
	setBool(fs, "skip_folders", &o.skipFolders, cfg.SkipFolders)
	setBool(fs, "compress_files", &o.compressFiles, cfg.CompressFiles)
	setBool(fs, "debug", &o.debug, cfg.Debug)
}

func anyChanged(fs *pflag.FlagSet, names ...string) bool {
	for _, name := range names {
		if fs.Changed(name) {
			return true
		}
	}
	return false
}

func setString(fs *pflag.FlagSet, name string, dst *string, v string) {
	if !fs.Changed(name) && v != "" {
		*dst = v
	}
}

func setBool(fs *pflag.FlagSet, name string, dst *bool, v bool) {
	if !fs.Changed(name) {
		*dst = v
	}
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, `dbconverter packs and unpacks X-Ray game archives.

Usage examples:
  dbconverter --unpack resources.db0 --xdb --out ~/extracted
  dbconverter --pack ~/dir_to_pack/ --out ~/packed.db --xdb
  dbconverter --pack ~/dir_to_pack/ --out ~/packed.db --2947ww --max_size 104857600
  dbconverter --pack_files a.ltx,b.dds --out ~/packed.xdb

Options:
%s`, fs.FlagUsages())
}
