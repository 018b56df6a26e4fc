// Package lzhuf implements the LZSS + adaptive Huffman codec used for the
// archive file table. Compressed streams start with the uncompressed size as
// a little-endian uint32, followed by the coded bit stream.
package lzhuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	ringSize  = 4096 // N
	lookahead = 60   // F
	threshold = 2
	nilNode   = ringSize

	nChar   = 256 - threshold + lookahead
	tabSize = nChar*2 - 1 // T
	root    = tabSize - 1 // R
	maxFreq = 0x8000
)

var ErrTruncated = errors.New("lzhuf: truncated input")

// upper 6 bits of a match position, coded with a fixed prefix table
var pLen = [64]uint8{
	0x03, 0x04, 0x04, 0x04, 0x05, 0x05, 0x05, 0x05,
	0x05, 0x05, 0x05, 0x05, 0x06, 0x06, 0x06, 0x06,
	0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06,
	0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07,
	0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07,
	0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07,
	0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08,
	0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08,
}

var pCode = [64]uint8{
	0x00, 0x20, 0x30, 0x40, 0x50, 0x58, 0x60, 0x68,
	0x70, 0x78, 0x80, 0x88, 0x90, 0x94, 0x98, 0x9C,
	0xA0, 0xA4, 0xA8, 0xAC, 0xB0, 0xB4, 0xB8, 0xBC,
	0xC0, 0xC2, 0xC4, 0xC6, 0xC8, 0xCA, 0xCC, 0xCE,
	0xD0, 0xD2, 0xD4, 0xD6, 0xD8, 0xDA, 0xDC, 0xDE,
	0xE0, 0xE2, 0xE4, 0xE6, 0xE8, 0xEA, 0xEC, 0xEE,
	0xF0, 0xF1, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6, 0xF7,
	0xF8, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF,
}

// decode tables, indexed by the next 8 bits of the stream
var dCode, dLen [256]uint8

func init() {
	for i := range pCode {
		span := 1 << (8 - pLen[i])
		for b := int(pCode[i]); b < int(pCode[i])+span; b++ {
			dCode[b] = uint8(i)
			dLen[b] = pLen[i]
		}
	}
}

// huffman holds the adaptive tree shared by the encoder and decoder.
type huffman struct {
	freq [tabSize + 1]uint32
	prnt [tabSize + nChar]int
	son  [tabSize]int
}

func (h *huffman) start() {
	for i := 0; i < nChar; i++ {
		h.freq[i] = 1
		h.son[i] = i + tabSize
		h.prnt[i+tabSize] = i
	}
	i, j := 0, nChar
	for j <= root {
		h.freq[j] = h.freq[i] + h.freq[i+1]
		h.son[j] = i
		h.prnt[i] = j
		h.prnt[i+1] = j
		i += 2
		j++
	}
	h.freq[tabSize] = 0xffff
	h.prnt[root] = 0
}

// reconst rebuilds the tree once the root frequency saturates.
func (h *huffman) reconst() {
	j := 0
	for i := 0; i < tabSize; i++ {
		if h.son[i] >= tabSize {
			h.freq[j] = (h.freq[i] + 1) / 2
			h.son[j] = h.son[i]
			j++
		}
	}
	for i, j := 0, nChar; j < tabSize; i, j = i+2, j+1 {
		f := h.freq[i] + h.freq[i+1]
		h.freq[j] = f
		k := j - 1
		for f < h.freq[k] {
			k--
		}
		k++
		copy(h.freq[k+1:j+1], h.freq[k:j])
		h.freq[k] = f
		copy(h.son[k+1:j+1], h.son[k:j])
		h.son[k] = i
	}
	for i := 0; i < tabSize; i++ {
		k := h.son[i]
		h.prnt[k] = i
		if k < tabSize {
			h.prnt[k+1] = i
		}
	}
}

func (h *huffman) update(c int) {
	if h.freq[root] == maxFreq {
		h.reconst()
	}
	c = h.prnt[c+tabSize]
	for {
		h.freq[c]++
		k := h.freq[c]
		l := c + 1
		if k > h.freq[l] {
			for {
				l++
				if k <= h.freq[l] {
					break
				}
			}
			l--
			h.freq[c] = h.freq[l]
			h.freq[l] = k

			i := h.son[c]
			h.prnt[i] = l
			if i < tabSize {
				h.prnt[i+1] = l
			}
			j := h.son[l]
			h.son[l] = i
			h.prnt[j] = c
			if j < tabSize {
				h.prnt[j+1] = c
			}
			h.son[c] = j
			c = l
		}
		c = h.prnt[c]
		if c == 0 {
			return
		}
	}
}

// Compress encodes src. The result is prefixed with len(src).
func Compress(src []byte) ([]byte, error) {
	if uint64(len(src)) > math.MaxUint32 {
		return nil, fmt.Errorf("lzhuf: input too large (%d bytes)", len(src))
	}
	out := make([]byte, 4, 4+len(src)/2)
	binary.LittleEndian.PutUint32(out, uint32(len(src)))
	if len(src) == 0 {
		return out, nil
	}

	e := &encoder{src: src, bw: bitWriter{out: out}}
	e.encode()
	return e.bw.out, nil
}

// Decompress decodes a stream produced by Compress.
func Decompress(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return nil, ErrTruncated
	}
	size := int(binary.LittleEndian.Uint32(src))
	out := make([]byte, 0, min(size, 1<<20))
	if size == 0 {
		return out, nil
	}

	var h huffman
	h.start()
	br := bitReader{in: src[4:]}

	var text [ringSize + lookahead - 1]byte
	for i := 0; i < ringSize-lookahead; i++ {
		text[i] = ' '
	}
	r := ringSize - lookahead

	for len(out) < size {
		if br.overrun() {
			return nil, ErrTruncated
		}
		c := h.decodeChar(&br)
		if c < 256 {
			out = append(out, byte(c))
			text[r] = byte(c)
			r = (r + 1) & (ringSize - 1)
			continue
		}
		i := (r - br.decodePosition() - 1) & (ringSize - 1)
		j := c - 255 + threshold
		for k := 0; k < j && len(out) < size; k++ {
			b := text[(i+k)&(ringSize-1)]
			out = append(out, b)
			text[r] = b
			r = (r + 1) & (ringSize - 1)
		}
	}
	return out, nil
}

func (h *huffman) decodeChar(br *bitReader) int {
	c := h.son[root]
	for c < tabSize {
		c += br.bit()
		c = h.son[c]
	}
	c -= tabSize
	h.update(c)
	return c
}
