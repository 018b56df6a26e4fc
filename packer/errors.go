package packer

import "errors"

var (
	// ErrConfiguration is returned for invalid requests: missing paths,
	// unspecified or read-only versions. Nothing is written.
	ErrConfiguration = errors.New("configuration error")

	// ErrSourceNotFound is returned when the source directory is missing.
	ErrSourceNotFound = errors.New("source not found")

	// ErrDestination is returned when the archive or its folder cannot be
	// created.
	ErrDestination = errors.New("destination error")

	// ErrCodec is returned when the file table cannot be compressed or
	// scrambled.
	ErrCodec = errors.New("codec error")
)
