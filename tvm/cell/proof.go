package cell

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrNotProof = errors.New("not a merkle proof cell")

// CreateProof builds a merkle proof of the cell that keeps the subtrees with the given hashes
// and prunes the other branches.
func (c *Cell) CreateProof(parts [][]byte) (*Cell, error) {
	keep := make(map[string]bool, len(parts))
	for _, p := range parts {
		keep[string(p)] = true
	}

	found := map[string]bool{}
	body, _, err := c.prune(keep, found)
	if err != nil {
		return nil, fmt.Errorf("failed to build proof for cell: %w", err)
	}
	if len(found) != len(keep) {
		return nil, fmt.Errorf("given cell not contains all parts to proof")
	}

	data := make([]byte, 1+32+2)
	data[0] = byte(MerkleProofCellType)
	copy(data[1:], body.hashAt(0))
	binary.BigEndian.PutUint16(data[1+32:], body.depthAt(0))

	return newCell(true, 8+256+16, data, []*Cell{body})
}

// prune returns a copy where refs without kept parts are replaced with pruned branches.
// The flag reports whether the subtree holds any kept part.
func (c *Cell) prune(keep, found map[string]bool) (*Cell, bool, error) {
	if keep[string(c.hash)] {
		found[string(c.hash)] = true
		return c, true, nil
	}
	if len(c.refs) == 0 {
		return c, false, nil
	}

	refs := make([]*Cell, len(c.refs))
	has := make([]bool, len(c.refs))
	hasParts := false
	for i, ref := range c.refs {
		nr, ok, err := ref.prune(keep, found)
		if err != nil {
			return nil, false, err
		}
		refs[i], has[i] = nr, ok
		hasParts = hasParts || ok
	}
	if !hasParts {
		return c, false, nil
	}

	for i, ref := range c.refs {
		// leaves are cheaper to keep than to prune
		if has[i] || len(ref.refs) == 0 {
			continue
		}
		p, err := prunedBranch(ref, 1)
		if err != nil {
			return nil, false, err
		}
		refs[i] = p
	}

	nc, err := newCell(c.special, c.bitsSz, c.data, refs)
	if err != nil {
		return nil, false, err
	}
	return nc, true, nil
}

func prunedBranch(c *Cell, level int) (*Cell, error) {
	if c.levelMask.Level() >= level || level > maxLevel {
		return nil, fmt.Errorf("%w: cell level %d is too big to prune at %d", ErrInvalidExoticCell, c.levelMask.Level(), level)
	}
	mask := LevelMask{c.levelMask.mask | 1<<(level-1)}

	b := BeginCell().
		MustStoreUInt(uint64(PrunedCellType), 8).
		MustStoreUInt(uint64(mask.mask), 8)
	for l := 0; l <= c.levelMask.Level(); l++ {
		if c.levelMask.isSignificant(l) {
			b.MustStoreSlice(c.hashAt(l), 256)
		}
	}
	for l := 0; l <= c.levelMask.Level(); l++ {
		if c.levelMask.isSignificant(l) {
			b.MustStoreUInt(uint64(c.depthAt(l)), 16)
		}
	}
	return newCell(true, b.bitsSz, b.data, nil)
}

// CheckProof verifies that proof is a merkle proof of the cell with the hash.
func CheckProof(proof *Cell, hash []byte) error {
	if proof.Type() != MerkleProofCellType {
		return ErrNotProof
	}
	// the stored hash was matched with the body when the cell was built
	if !bytes.Equal(hash, proof.data[1:33]) {
		return fmt.Errorf("incorrect proof hash")
	}
	return nil
}

// UnwrapProof checks the proof and returns its body, pruned branches stay in place.
func UnwrapProof(proof *Cell, hash []byte) (*Cell, error) {
	if err := CheckProof(proof, hash); err != nil {
		return nil, err
	}
	return proof.refs[0], nil
}
