package cell

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

const (
	MaxBits  = 1023
	MaxRefs  = 4
	MaxDepth = 1024
)

// Type is the kind of a cell, the first byte of an exotic cell data.
type Type int

const (
	OrdinaryCellType     Type = -1
	PrunedCellType       Type = 1
	LibraryCellType      Type = 2
	MerkleProofCellType  Type = 3
	MerkleUpdateCellType Type = 4
)

var ErrInvalidExoticCell = errors.New("invalid exotic cell")

// Cell is an immutable node of a bag of cells. Hashes and depths are computed once, on creation.
type Cell struct {
	special   bool
	levelMask LevelMask
	bitsSz    uint
	data      []byte
	refs      []*Cell

	// per significant level, a pruned branch keeps only its own top hash here
	hashes [][]byte
	depths []uint16

	hash  []byte
	depth uint16
}

func newCell(special bool, bitsSz uint, data []byte, refs []*Cell) (*Cell, error) {
	if bitsSz > MaxBits {
		return nil, ErrNotFit1023
	}
	if len(refs) > MaxRefs {
		return nil, ErrTooMuchRefs
	}

	c := &Cell{
		special: special,
		bitsSz:  bitsSz,
		data:    data,
		refs:    refs,
	}

	if err := c.calcLevel(); err != nil {
		return nil, err
	}
	if err := c.calcHashes(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cell) calcLevel() error {
	typ := c.Type()
	if typ == OrdinaryCellType {
		for _, ref := range c.refs {
			c.levelMask.mask |= ref.levelMask.mask
		}
		return nil
	}

	switch typ {
	case PrunedCellType:
		if len(c.refs) != 0 || c.bitsSz < 16 {
			return fmt.Errorf("%w: bad pruned branch layout", ErrInvalidExoticCell)
		}
		m := LevelMask{c.data[1]}
		if m.mask == 0 || m.Level() > maxLevel {
			return fmt.Errorf("%w: bad pruned branch level mask %d", ErrInvalidExoticCell, m.mask)
		}
		if c.bitsSz != uint(16+m.hashIndex()*(256+16)) {
			return fmt.Errorf("%w: bad pruned branch size %d", ErrInvalidExoticCell, c.bitsSz)
		}
		c.levelMask = m
	case LibraryCellType:
		if len(c.refs) != 0 || c.bitsSz != 8+256 {
			return fmt.Errorf("%w: bad library cell layout", ErrInvalidExoticCell)
		}
	case MerkleProofCellType:
		if len(c.refs) != 1 || c.bitsSz != 8+256+16 {
			return fmt.Errorf("%w: bad merkle proof layout", ErrInvalidExoticCell)
		}
		if err := checkMerkleRef(c.data[1:35], c.refs[0]); err != nil {
			return err
		}
		c.levelMask = LevelMask{c.refs[0].levelMask.mask >> 1}
	case MerkleUpdateCellType:
		if len(c.refs) != 2 || c.bitsSz != 8+2*(256+16) {
			return fmt.Errorf("%w: bad merkle update layout", ErrInvalidExoticCell)
		}
		for i, ref := range c.refs {
			hash := c.data[1+32*i : 1+32*(i+1)]
			depth := c.data[1+64+2*i : 1+64+2*(i+1)]
			if err := checkMerkleRef(append(append([]byte{}, hash...), depth...), ref); err != nil {
				return err
			}
		}
		c.levelMask = LevelMask{(c.refs[0].levelMask.mask | c.refs[1].levelMask.mask) >> 1}
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidExoticCell, typ)
	}
	return nil
}

// checkMerkleRef compares the stored 32 byte hash and 2 byte depth with the level 0 values of ref.
func checkMerkleRef(stored []byte, ref *Cell) error {
	if !bytes.Equal(stored[:32], ref.hashAt(0)) {
		return fmt.Errorf("%w: merkle hash mismatch", ErrInvalidExoticCell)
	}
	if binary.BigEndian.Uint16(stored[32:34]) != ref.depthAt(0) {
		return fmt.Errorf("%w: merkle depth mismatch", ErrInvalidExoticCell)
	}
	return nil
}

func (c *Cell) calcHashes() error {
	typ := c.Type()

	total := c.levelMask.hashesCount()
	offset := 0
	if typ == PrunedCellType {
		// lower hashes of a pruned branch are stored in its data
		offset = total - 1
	}

	shift := 0
	if typ == MerkleProofCellType || typ == MerkleUpdateCellType {
		shift = 1
	}

	c.hashes = make([][]byte, total-offset)
	c.depths = make([]uint16, total-offset)

	for level, hi := 0, 0; level <= c.levelMask.Level(); level++ {
		if !c.levelMask.isSignificant(level) {
			continue
		}
		if hi < offset {
			hi++
			continue
		}

		h := sha256.New()
		h.Write(c.descriptorsAt(c.levelMask.apply(level)))
		if hi == offset {
			h.Write(c.paddedData())
		} else {
			h.Write(c.hashes[hi-offset-1])
		}

		depth := 0
		for _, ref := range c.refs {
			d := ref.depthAt(level + shift)
			var db [2]byte
			binary.BigEndian.PutUint16(db[:], d)
			h.Write(db[:])
			if int(d)+1 > depth {
				depth = int(d) + 1
			}
		}
		if depth > MaxDepth {
			return ErrTooDeep
		}
		for _, ref := range c.refs {
			h.Write(ref.hashAt(level + shift))
		}

		c.hashes[hi-offset] = h.Sum(nil)
		c.depths[hi-offset] = uint16(depth)
		hi++
	}

	c.hash = c.hashAt(maxLevel)
	c.depth = c.depthAt(maxLevel)
	return nil
}

func (c *Cell) hashAt(level int) []byte {
	hi := c.levelMask.apply(level).hashIndex()
	if c.Type() == PrunedCellType {
		if hi != c.levelMask.hashIndex() {
			return c.data[2+hi*32 : 2+(hi+1)*32]
		}
		return c.hashes[0]
	}
	return c.hashes[hi]
}

func (c *Cell) depthAt(level int) uint16 {
	hi := c.levelMask.apply(level).hashIndex()
	if c.Type() == PrunedCellType {
		if top := c.levelMask.hashIndex(); hi != top {
			off := 2 + top*32 + hi*2
			return binary.BigEndian.Uint16(c.data[off : off+2])
		}
		return c.depths[0]
	}
	return c.depths[hi]
}

func (c *Cell) descriptors() []byte {
	return c.descriptorsAt(c.levelMask)
}

func (c *Cell) descriptorsAt(m LevelMask) []byte {
	d1 := byte(len(c.refs)) + m.mask<<5
	if c.special {
		d1 |= 8
	}
	d2 := byte((c.bitsSz+7)/8 + c.bitsSz/8)
	return []byte{d1, d2}
}

// paddedData returns data with the completion tag appended when bits are not byte aligned.
func (c *Cell) paddedData() []byte {
	ln := (c.bitsSz + 7) / 8
	data := make([]byte, ln)
	copy(data, c.data)

	if rest := c.bitsSz % 8; rest != 0 {
		data[ln-1] &= ^byte(0xFF >> rest)
		data[ln-1] |= 0x80 >> rest
	}
	return data
}

func (c *Cell) BeginParse() *Slice {
	return &Slice{
		special: c.special,
		bitsSz:  c.bitsSz,
		data:    c.data,
		refs:    c.refs,
	}
}

func (c *Cell) ToBuilder() *Builder {
	return &Builder{
		bitsSz: c.bitsSz,
		data:   append([]byte{}, c.data...),
		refs:   append([]*Cell{}, c.refs...),
	}
}

func (c *Cell) BitsSize() uint {
	return c.bitsSz
}

func (c *Cell) RefsNum() int {
	return len(c.refs)
}

func (c *Cell) IsSpecial() bool {
	return c.special
}

func (c *Cell) Type() Type {
	if !c.special {
		return OrdinaryCellType
	}
	if c.bitsSz < 8 {
		return Type(0)
	}
	return Type(c.data[0])
}

func (c *Cell) LevelMask() LevelMask {
	return c.levelMask
}

func (c *Cell) Level() int {
	return c.levelMask.Level()
}

// HashAt returns the hash of the cell as seen at the merkle level, levels above the cell level give the representation hash.
func (c *Cell) HashAt(level int) []byte {
	if level < 0 || level > maxLevel {
		level = maxLevel
	}
	return append([]byte{}, c.hashAt(level)...)
}

func (c *Cell) DepthAt(level int) uint16 {
	if level < 0 || level > maxLevel {
		level = maxLevel
	}
	return c.depthAt(level)
}

func (c *Cell) PeekRef(i int) (*Cell, error) {
	if i < 0 || i >= len(c.refs) {
		return nil, ErrNoMoreRefs
	}
	return c.refs[i], nil
}

// Hash is the representation hash.
func (c *Cell) Hash() []byte {
	return append([]byte{}, c.hash...)
}

func (c *Cell) Depth() uint16 {
	return c.depth
}

func (c *Cell) Sign(key ed25519.PrivateKey) []byte {
	return ed25519.Sign(key, c.hash)
}

func (c *Cell) Dump() string {
	return c.dump(0, false)
}

func (c *Cell) DumpBits() string {
	return c.dump(0, true)
}

func (c *Cell) dump(deep int, bin bool) string {
	var val string
	if bin {
		var sb strings.Builder
		for i := uint(0); i < c.bitsSz; i++ {
			if c.data[i/8]&(0x80>>(i%8)) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		val = sb.String()
	} else {
		val = hex.EncodeToString(c.data[:(c.bitsSz+7)/8])
	}

	str := strings.Repeat("  ", deep) + fmt.Sprint(c.bitsSz) + "[" + val + "]"
	if len(c.refs) > 0 {
		str += " -> {"
		for i, ref := range c.refs {
			str += "\n" + ref.dump(deep+1, bin)
			if i == len(c.refs)-1 {
				str += "\n"
			} else {
				str += ","
			}
		}
		str += strings.Repeat("  ", deep)
		return str + "}"
	}
	return str
}

func (c *Cell) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(base64.StdEncoding.EncodeToString(c.ToBOC()))), nil
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	boc, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return fmt.Errorf("failed to decode base64: %w", err)
	}

	cl, err := FromBOC(boc)
	if err != nil {
		return err
	}
	*c = *cl
	return nil
}
