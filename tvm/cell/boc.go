package cell

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var bocMagic = []byte{0xB5, 0xEE, 0x9C, 0x72}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	ErrInvalidBOC        = errors.New("invalid boc")
	ErrInvalidChecksum   = errors.New("invalid boc checksum")
	ErrNoRoots           = errors.New("boc has no roots")
	ErrAbsentUnsupported = errors.New("absent cells are not supported")
)

func (c *Cell) ToBOC() []byte {
	return c.ToBOCWithFlags(true)
}

func (c *Cell) ToBOCWithFlags(withCRC bool) []byte {
	return ToBOCWithFlags([]*Cell{c}, withCRC)
}

// ToBOCWithFlags serializes roots into one bag, shared subtrees are stored once.
func ToBOCWithFlags(roots []*Cell, withCRC bool) []byte {
	order := topologicalOrder(roots)

	index := make(map[string]int, len(order))
	for i, cl := range order {
		index[string(cl.hash)] = i
	}

	sizeBytes := bytesFor(uint64(len(order)))

	var payload []byte
	for _, cl := range order {
		payload = append(payload, cl.descriptors()...)
		payload = append(payload, cl.paddedData()...)
		for _, ref := range cl.refs {
			payload = append(payload, uintBytes(uint64(index[string(ref.hash)]), sizeBytes)...)
		}
	}

	offBytes := bytesFor(uint64(len(payload)))

	// has_idx:1 has_crc32c:1 has_cache_bits:1 flags:2 size:3
	flags := byte(sizeBytes)
	if withCRC {
		flags |= 0b0100_0000
	}

	data := append([]byte{}, bocMagic...)
	data = append(data, flags, byte(offBytes))
	data = append(data, uintBytes(uint64(len(order)), sizeBytes)...)
	data = append(data, uintBytes(uint64(len(roots)), sizeBytes)...)
	data = append(data, uintBytes(0, sizeBytes)...)
	data = append(data, uintBytes(uint64(len(payload)), offBytes)...)
	for _, root := range roots {
		data = append(data, uintBytes(uint64(index[string(root.hash)]), sizeBytes)...)
	}
	data = append(data, payload...)

	if withCRC {
		data = binary.LittleEndian.AppendUint32(data, crc32.Checksum(data, castagnoli))
	}
	return data
}

// topologicalOrder returns unique cells so that every parent precedes its children.
func topologicalOrder(roots []*Cell) []*Cell {
	visited := map[string]bool{}
	var post []*Cell

	var visit func(c *Cell)
	visit = func(c *Cell) {
		if visited[string(c.hash)] {
			return
		}
		visited[string(c.hash)] = true
		for _, ref := range c.refs {
			visit(ref)
		}
		post = append(post, c)
	}

	for i := len(roots) - 1; i >= 0; i-- {
		visit(roots[i])
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func FromBOC(data []byte) (*Cell, error) {
	cells, err := FromBOCMultiRoot(data)
	if err != nil {
		return nil, err
	}
	return cells[0], nil
}

func FromBOCMultiRoot(data []byte) ([]*Cell, error) {
	r := &bocReader{data: data}

	magic, err := r.read(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, bocMagic) {
		return nil, fmt.Errorf("%w: unknown magic %x", ErrInvalidBOC, magic)
	}

	flags, err := r.read(1)
	if err != nil {
		return nil, err
	}
	hasIdx := flags[0]&0b1000_0000 != 0
	hasCRC := flags[0]&0b0100_0000 != 0
	sizeBytes := int(flags[0] & 0b111)
	if sizeBytes == 0 || sizeBytes > 4 {
		return nil, fmt.Errorf("%w: bad size bytes %d", ErrInvalidBOC, sizeBytes)
	}

	if hasCRC {
		if len(data) < 4 {
			return nil, ErrInvalidBOC
		}
		body, sum := data[:len(data)-4], data[len(data)-4:]
		if crc32.Checksum(body, castagnoli) != binary.LittleEndian.Uint32(sum) {
			return nil, ErrInvalidChecksum
		}
		r.data = body
	}

	off, err := r.read(1)
	if err != nil {
		return nil, err
	}
	offBytes := int(off[0])
	if offBytes == 0 || offBytes > 8 {
		return nil, fmt.Errorf("%w: bad offset bytes %d", ErrInvalidBOC, offBytes)
	}

	cellsNum, err := r.uint(sizeBytes)
	if err != nil {
		return nil, err
	}
	rootsNum, err := r.uint(sizeBytes)
	if err != nil {
		return nil, err
	}
	absentNum, err := r.uint(sizeBytes)
	if err != nil {
		return nil, err
	}
	if absentNum != 0 {
		return nil, ErrAbsentUnsupported
	}
	if rootsNum == 0 {
		return nil, ErrNoRoots
	}
	// every cell takes at least its 2 descriptor bytes
	if cellsNum > uint64(len(r.data))/2 {
		return nil, fmt.Errorf("%w: too many cells for the data size", ErrInvalidBOC)
	}
	if rootsNum > cellsNum {
		return nil, fmt.Errorf("%w: more roots than cells", ErrInvalidBOC)
	}

	payloadLen, err := r.uint(offBytes)
	if err != nil {
		return nil, err
	}

	rootIdx := make([]int, rootsNum)
	for i := range rootIdx {
		v, err := r.uint(sizeBytes)
		if err != nil {
			return nil, err
		}
		if v >= cellsNum {
			return nil, fmt.Errorf("%w: root index out of range", ErrInvalidBOC)
		}
		rootIdx[i] = int(v)
	}

	if hasIdx {
		if _, err = r.read(int(cellsNum) * offBytes); err != nil {
			return nil, err
		}
	}

	payload, err := r.read(int(payloadLen))
	if err != nil {
		return nil, err
	}

	cells, err := parseCells(int(cellsNum), sizeBytes, payload)
	if err != nil {
		return nil, err
	}

	roots := make([]*Cell, len(rootIdx))
	for i, idx := range rootIdx {
		roots[i] = cells[idx]
	}
	return roots, nil
}

type rawCell struct {
	special bool
	mask    byte
	bitsSz  uint
	data    []byte
	refs    []int
}

func parseCells(num, sizeBytes int, payload []byte) ([]*Cell, error) {
	r := &bocReader{data: payload}

	raw := make([]rawCell, num)
	for i := 0; i < num; i++ {
		desc, err := r.read(2)
		if err != nil {
			return nil, fmt.Errorf("failed to read cell %d descriptors: %w", i, err)
		}

		d1, d2 := desc[0], desc[1]
		mask := LevelMask{d1 >> 5}
		refsNum := int(d1 & 0b111)
		if refsNum > MaxRefs {
			return nil, fmt.Errorf("%w: cell %d has %d refs", ErrInvalidBOC, i, refsNum)
		}

		if d1&0b1_0000 != 0 {
			// stored hashes and depths are recomputed, skip them
			if _, err = r.read(mask.hashesCount() * (32 + 2)); err != nil {
				return nil, fmt.Errorf("failed to read cell %d hashes: %w", i, err)
			}
		}

		data, err := r.read((int(d2) + 1) / 2)
		if err != nil {
			return nil, fmt.Errorf("failed to read cell %d data: %w", i, err)
		}

		bitsSz := uint(len(data)) * 8
		if d2%2 == 1 {
			// strip completion tag
			last := data[len(data)-1]
			if last == 0 {
				return nil, fmt.Errorf("%w: cell %d has no completion tag", ErrInvalidBOC, i)
			}
			tz := uint(0)
			for last&(1<<tz) == 0 {
				tz++
			}
			bitsSz -= tz + 1
			data = append([]byte{}, data...)
			data[len(data)-1] &^= 1 << tz
		}

		refs := make([]int, refsNum)
		for j := range refs {
			v, err := r.uint(sizeBytes)
			if err != nil {
				return nil, fmt.Errorf("failed to read cell %d ref: %w", i, err)
			}
			// refs must point forward, this also rules out cycles
			if int(v) <= i || int(v) >= num {
				return nil, fmt.Errorf("%w: cell %d has bad ref index %d", ErrInvalidBOC, i, v)
			}
			refs[j] = int(v)
		}

		raw[i] = rawCell{special: d1&0b1000 != 0, mask: mask.mask, bitsSz: bitsSz, data: data, refs: refs}
	}

	cells := make([]*Cell, num)
	for i := num - 1; i >= 0; i-- {
		refs := make([]*Cell, len(raw[i].refs))
		for j, idx := range raw[i].refs {
			refs[j] = cells[idx]
		}

		cl, err := newCell(raw[i].special, raw[i].bitsSz, raw[i].data, refs)
		if err != nil {
			return nil, fmt.Errorf("failed to build cell %d: %w", i, err)
		}
		if cl.levelMask.mask != raw[i].mask {
			return nil, fmt.Errorf("%w: cell %d level mask %d, computed %d", ErrInvalidBOC, i, raw[i].mask, cl.levelMask.mask)
		}
		cells[i] = cl
	}
	return cells, nil
}

type bocReader struct {
	data []byte
	pos  int
}

func (r *bocReader) read(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrInvalidBOC)
	}
	res := r.data[r.pos : r.pos+n]
	r.pos += n
	return res, nil
}

func (r *bocReader) uint(n int) (uint64, error) {
	b, err := r.read(n)
	if err != nil {
		return 0, err
	}

	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v, nil
}

func bytesFor(v uint64) int {
	n := 1
	for v >= 1<<(8*n) && n < 8 {
		n++
	}
	return n
}

func uintBytes(v uint64, n int) []byte {
	res := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		res[i] = byte(v)
		v >>= 8
	}
	return res
}
