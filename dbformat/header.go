package dbformat

import (
	"fmt"

	"github.com/goopsie/dbconverter/compression"
	"github.com/goopsie/dbconverter/manifests"
	"github.com/goopsie/dbconverter/scrambler"
)

// EncodeHeader serializes, compresses and, for the 2947 versions, scrambles
// the file table. The result is the header chunk payload.
func EncodeHeader(t *manifests.Table, v Version, scheme compression.Scheme) ([]byte, error) {
	if !v.CanPack() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	raw, err := manifests.MarshalTable(t)
	if err != nil {
		return nil, err
	}
	data, err := compression.Compress(raw, scheme)
	if err != nil {
		return nil, err
	}
	if key, ok := v.ScramblerKey(); ok {
		s, err := scrambler.New(key)
		if err != nil {
			return nil, err
		}
		s.Encrypt(data, data)
	}
	return data, nil
}

// DecodeHeader reverses EncodeHeader. payload is modified in place when the
// version scrambles its header.
func DecodeHeader(payload []byte, compressed bool, v Version, scheme compression.Scheme) (*manifests.Table, error) {
	switch v {
	case VersionXDB, Version2947RU, Version2947WW:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	if key, ok := v.ScramblerKey(); ok {
		s, err := scrambler.New(key)
		if err != nil {
			return nil, err
		}
		s.Decrypt(payload, payload)
	}
	raw := payload
	if compressed {
		var err error
		raw, err = compression.Decompress(payload, scheme)
		if err != nil {
			return nil, fmt.Errorf("decompress header: %w", err)
		}
	}
	return manifests.UnmarshalTable(raw)
}
