package tlb

import (
	"fmt"

	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	OpComment          = 0
	OpEncryptedComment = 0x2167da4b
)

// BuildComment makes a text comment body: zero opcode and snake encoded text.
func BuildComment(text string) (*cell.Cell, error) {
	b := cell.BeginCell().MustStoreUInt(OpComment, 32)
	if err := b.StoreStringSnake(text); err != nil {
		return nil, fmt.Errorf("failed to build comment: %w", err)
	}
	return b.EndCell(), nil
}

func MustBuildComment(text string) *cell.Cell {
	c, err := BuildComment(text)
	if err != nil {
		panic(err)
	}
	return c
}

func ParseComment(body *cell.Cell) (string, error) {
	s := body.BeginParse()
	op, err := s.LoadUInt(32)
	if err != nil {
		return "", err
	}
	if op != OpComment {
		return "", fmt.Errorf("%w: %x", ErrUnexpectedOpcode, op)
	}
	return s.LoadStringSnake()
}

// StringSnake is a snake encoded string stored without an opcode.
type StringSnake struct {
	Value string
}

func (s *StringSnake) LoadFromCell(loader *cell.Slice) error {
	str, err := loader.LoadStringSnake()
	if err != nil {
		return err
	}
	s.Value = str
	return nil
}

func (s StringSnake) ToCell() (*cell.Cell, error) {
	b := cell.BeginCell()
	if err := b.StoreStringSnake(s.Value); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}
