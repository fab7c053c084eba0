package cell

import "math/bits"

const maxLevel = 3

// LevelMask marks the merkle levels at which a cell has a distinct hash.
type LevelMask struct {
	mask byte
}

func (m LevelMask) Mask() byte {
	return m.mask
}

func (m LevelMask) Level() int {
	return bits.Len8(m.mask)
}

// hashIndex is the index of the highest hash of the mask, also the number of hashes minus one.
func (m LevelMask) hashIndex() int {
	return bits.OnesCount8(m.mask)
}

func (m LevelMask) hashesCount() int {
	return m.hashIndex() + 1
}

func (m LevelMask) apply(level int) LevelMask {
	return LevelMask{m.mask & ((1 << level) - 1)}
}

func (m LevelMask) isSignificant(level int) bool {
	return level == 0 || (m.mask>>(level-1))&1 != 0
}
