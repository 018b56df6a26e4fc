// Package config loads default pack options from a YAML file. Command line
// flags override whatever the file sets.
//
// The file is named by the --config flag or the DBCONVERTER_CONFIG
// environment variable; there is no discovery.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goopsie/dbconverter/compression"
	"github.com/goopsie/dbconverter/dbformat"
	"github.com/goopsie/dbconverter/walker"
)

// EnvVar names the environment variable consulted when no --config flag is
// given.
const EnvVar = "DBCONVERTER_CONFIG"

// Config holds the defaults for a run.
type Config struct {
	// Version is a version flag name: xdb, 2947ru, 2947ww.
	// Default: detected from the output extension
	Version string `yaml:"version"`

	// UserData is the blob stored in xdb archives.
	UserData string `yaml:"xdb_ud"`

	// Skip is the exclusion pattern, matched against whole paths.
	Skip string `yaml:"skip"`

	// MaxSize splits packed directories into segments of about this many
	// bytes. Zero disables splitting.
	MaxSize int64 `yaml:"max_size"`

	SaveList    bool `yaml:"save_list"`
	DontStrip   bool `yaml:"dont_strip"`
	SkipFolders bool `yaml:"skip_folders"`

	// CompressFiles stores file data lzhuf compressed.
	CompressFiles bool `yaml:"compress_files"`

	// TableCodec compresses the file table: lzhuf, zstd or lz4.
	// Default: lzhuf
	TableCodec string `yaml:"table_codec"`

	Debug bool `yaml:"debug"`
}

// Default returns the built in defaults.
func Default() *Config {
	return &Config{TableCodec: compression.SchemeLZHUF.String()}
}

// Path returns the config file to use: flagValue if set, else the
// environment variable. An empty result means no file.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvVar)
}

// LoadFile reads path over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every value names something the tool understands.
func (c *Config) Validate() error {
	if c.Version != "" {
		v, err := dbformat.ParseVersion(c.Version)
		if err != nil {
			return err
		}
		if v != dbformat.VersionAuto && !v.CanPack() {
			return fmt.Errorf("version %s can not be packed", c.Version)
		}
	}
	if _, err := compression.ParseScheme(c.TableCodec); err != nil {
		return err
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("max_size must not be negative, got %d", c.MaxSize)
	}
	if _, err := walker.CompileExclude(c.Skip); err != nil {
		return fmt.Errorf("skip: %w", err)
	}
	return nil
}
