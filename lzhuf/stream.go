package lzhuf

// encoder keeps the LZSS sliding window and its binary search tree.
type encoder struct {
	src []byte
	pos int

	h  huffman
	bw bitWriter

	text [ringSize + lookahead - 1]byte
	lson [ringSize + 1]int
	rson [ringSize + 257]int
	dad  [ringSize + 1]int

	matchPosition int
	matchLength   int
}

func (e *encoder) next() (byte, bool) {
	if e.pos >= len(e.src) {
		return 0, false
	}
	c := e.src[e.pos]
	e.pos++
	return c, true
}

func (e *encoder) initTree() {
	for i := ringSize + 1; i <= ringSize+256; i++ {
		e.rson[i] = nilNode
	}
	for i := 0; i < ringSize; i++ {
		e.dad[i] = nilNode
	}
}

func (e *encoder) insertNode(r int) {
	cmp := 1
	p := ringSize + 1 + int(e.text[r])
	e.rson[r] = nilNode
	e.lson[r] = nilNode
	e.matchLength = 0

	for {
		if cmp >= 0 {
			if e.rson[p] == nilNode {
				e.rson[p] = r
				e.dad[r] = p
				return
			}
			p = e.rson[p]
		} else {
			if e.lson[p] == nilNode {
				e.lson[p] = r
				e.dad[r] = p
				return
			}
			p = e.lson[p]
		}

		i := 1
		for ; i < lookahead; i++ {
			cmp = int(e.text[r+i]) - int(e.text[p+i])
			if cmp != 0 {
				break
			}
		}
		if i > threshold {
			if i > e.matchLength {
				e.matchPosition = ((r - p) & (ringSize - 1)) - 1
				e.matchLength = i
				if i >= lookahead {
					break
				}
			}
			if i == e.matchLength {
				if c := ((r - p) & (ringSize - 1)) - 1; c < e.matchPosition {
					e.matchPosition = c
				}
			}
		}
	}

	// full-length match: r replaces p in the tree
	e.dad[r] = e.dad[p]
	e.lson[r] = e.lson[p]
	e.rson[r] = e.rson[p]
	e.dad[e.lson[p]] = r
	e.dad[e.rson[p]] = r
	if e.rson[e.dad[p]] == p {
		e.rson[e.dad[p]] = r
	} else {
		e.lson[e.dad[p]] = r
	}
	e.dad[p] = nilNode
}

func (e *encoder) deleteNode(p int) {
	if e.dad[p] == nilNode {
		return
	}
	var q int
	switch {
	case e.rson[p] == nilNode:
		q = e.lson[p]
	case e.lson[p] == nilNode:
		q = e.rson[p]
	default:
		q = e.lson[p]
		if e.rson[q] != nilNode {
			for e.rson[q] != nilNode {
				q = e.rson[q]
			}
			e.rson[e.dad[q]] = e.lson[q]
			e.dad[e.lson[q]] = e.dad[q]
			e.lson[q] = e.lson[p]
			e.dad[e.lson[p]] = q
		}
		e.rson[q] = e.rson[p]
		e.dad[e.rson[p]] = q
	}
	e.dad[q] = e.dad[p]
	if e.rson[e.dad[p]] == p {
		e.rson[e.dad[p]] = q
	} else {
		e.lson[e.dad[p]] = q
	}
	e.dad[p] = nilNode
}

func (e *encoder) encode() {
	e.h.start()
	e.initTree()

	s := 0
	r := ringSize - lookahead
	for i := s; i < r; i++ {
		e.text[i] = ' '
	}
	n := 0
	for ; n < lookahead; n++ {
		c, ok := e.next()
		if !ok {
			break
		}
		e.text[r+n] = c
	}
	for i := 1; i <= lookahead; i++ {
		e.insertNode(r - i)
	}
	e.insertNode(r)

	for n > 0 {
		if e.matchLength > n {
			e.matchLength = n
		}
		if e.matchLength <= threshold {
			e.matchLength = 1
			e.encodeChar(int(e.text[r]))
		} else {
			e.encodeChar(255 - threshold + e.matchLength)
			e.encodePosition(e.matchPosition)
		}

		last := e.matchLength
		i := 0
		for ; i < last; i++ {
			c, ok := e.next()
			if !ok {
				break
			}
			e.deleteNode(s)
			e.text[s] = c
			if s < lookahead-1 {
				e.text[s+ringSize] = c
			}
			s = (s + 1) & (ringSize - 1)
			r = (r + 1) & (ringSize - 1)
			e.insertNode(r)
		}
		for ; i < last; i++ {
			e.deleteNode(s)
			s = (s + 1) & (ringSize - 1)
			r = (r + 1) & (ringSize - 1)
			n--
			if n != 0 {
				e.insertNode(r)
			}
		}
	}
	e.bw.flush()
}

func (e *encoder) encodeChar(c int) {
	var code uint32
	length := 0
	k := e.h.prnt[c+tabSize]
	for {
		code >>= 1
		if k&1 != 0 {
			code += 0x8000
		}
		length++
		k = e.h.prnt[k]
		if k == root {
			break
		}
	}
	e.bw.putCode(length, code)
	e.h.update(c)
}

func (e *encoder) encodePosition(c int) {
	i := c >> 6
	e.bw.putCode(int(pLen[i]), uint32(pCode[i])<<8)
	e.bw.putCode(6, uint32(c&0x3f)<<10)
}

// bitWriter emits codes MSB first. Codes are left aligned in 16 bits.
type bitWriter struct {
	out    []byte
	buf    uint32
	length int
}

func (w *bitWriter) putCode(l int, c uint32) {
	w.buf |= c >> uint(w.length)
	w.length += l
	if w.length < 8 {
		return
	}
	w.out = append(w.out, byte(w.buf>>8))
	w.length -= 8
	if w.length >= 8 {
		w.out = append(w.out, byte(w.buf))
		w.length -= 8
		w.buf = (c << uint(l-w.length)) & 0xffff
	} else {
		w.buf = (w.buf << 8) & 0xffff
	}
}

func (w *bitWriter) flush() {
	if w.length > 0 {
		w.out = append(w.out, byte(w.buf>>8))
	}
}

// bitReader reads zero bits past the end of its input, like the reference
// decoder; overrun reports when that padding has been exhausted.
type bitReader struct {
	in     []byte
	pos    int
	buf    uint32
	length int
}

func (r *bitReader) fill() {
	for r.length <= 8 {
		var b uint32
		if r.pos < len(r.in) {
			b = uint32(r.in[r.pos])
		}
		r.pos++
		r.buf |= b << uint(8-r.length)
		r.length += 8
	}
}

func (r *bitReader) bit() int {
	r.fill()
	v := r.buf
	r.buf = (r.buf << 1) & 0xffff
	r.length--
	return int((v & 0x8000) >> 15)
}

func (r *bitReader) readByte() int {
	r.fill()
	v := r.buf
	r.buf = (r.buf << 8) & 0xffff
	r.length -= 8
	return int((v & 0xff00) >> 8)
}

func (r *bitReader) decodePosition() int {
	i := r.readByte()
	c := int(dCode[i]) << 6
	for j := int(dLen[i]) - 2; j > 0; j-- {
		i = (i << 1) + r.bit()
	}
	return c | (i & 0x3f)
}

func (r *bitReader) overrun() bool {
	return r.pos > len(r.in)+4
}
