// Package scrambler implements the keyed byte substitution cipher applied to
// the compressed file table of the 2947 release archives.
package scrambler

import "fmt"

// Key selects one of the two cipher configurations.
type Key uint8

const (
	KeyRU Key = iota + 1
	KeyWW
)

func (k Key) String() string {
	switch k {
	case KeyRU:
		return "ru"
	case KeyWW:
		return "ww"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

type keyParams struct {
	tableSeed uint32
	seed      uint32
	sizeMult  int
}

var params = map[Key]keyParams{
	KeyRU: {tableSeed: 0x131a9d3, seed: 0x1329436, sizeMult: 8},
	KeyWW: {tableSeed: 0x16eb2eb, seed: 0x5bbc4b, sizeMult: 4},
}

// Scrambler holds the substitution tables for one key.
type Scrambler struct {
	seed uint32
	enc  [256]byte
	dec  [256]byte
}

// New builds the tables for key.
func New(key Key) (*Scrambler, error) {
	p, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("scrambler: unsupported key %s", key)
	}

	s := &Scrambler{seed: p.seed}
	for i := range s.enc {
		s.enc[i] = byte(i)
	}
	seed := p.tableSeed
	for i := p.sizeMult * len(s.enc); i != 0; i-- {
		seed = step(seed)
		a := seed >> 24
		seed = step(seed)
		b := seed >> 24
		if a != b {
			s.enc[a], s.enc[b] = s.enc[b], s.enc[a]
		}
	}
	for i, v := range s.enc {
		s.dec[v] = byte(i)
	}
	return s, nil
}

func step(seed uint32) uint32 {
	return 1 + seed*0x8088405
}

// Encrypt writes the scrambled form of src into dst. dst and src may be the
// same slice; dst must be at least len(src) long.
func (s *Scrambler) Encrypt(dst, src []byte) {
	seed := s.seed
	for i, c := range src {
		seed = step(seed)
		dst[i] = s.enc[c] ^ byte(seed>>24)
	}
}

// Decrypt reverses Encrypt.
func (s *Scrambler) Decrypt(dst, src []byte) {
	seed := s.seed
	for i, c := range src {
		seed = step(seed)
		dst[i] = s.dec[c^byte(seed>>24)]
	}
}
