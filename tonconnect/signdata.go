package tonconnect

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// SignDataFormat is the type field of a signData request.
type SignDataFormat string

const (
	SignDataText   SignDataFormat = "text"
	SignDataBinary SignDataFormat = "binary"
	SignDataCell   SignDataFormat = "cell"
)

const (
	signDataPrefix = "ton-connect/sign-data/"
	OpSignDataCell = 0x75569022
)

// SignDataPayload is the first param of a signData request.
type SignDataPayload struct {
	Type    SignDataFormat `json:"type"`
	Text    string         `json:"text,omitempty"`
	Bytes   string         `json:"bytes,omitempty"`
	Schema  string         `json:"schema,omitempty"`
	Cell    string         `json:"cell,omitempty"`
	Network string         `json:"network,omitempty"`
	From    string         `json:"from,omitempty"`
}

// SignDataResult is the reply of a signData request.
type SignDataResult struct {
	Signature []byte          `json:"signature"`
	Address   string          `json:"address"`
	Timestamp int64           `json:"timestamp"`
	Domain    string          `json:"domain"`
	Payload   SignDataPayload `json:"payload"`
}

// ParseSignDataPayload decodes and validates the request param.
func ParseSignDataPayload(param string) (*SignDataPayload, error) {
	var p SignDataPayload
	if err := json.Unmarshal([]byte(param), &p); err != nil {
		return nil, &ConnectError{Code: CodeBadRequest, Message: "invalid sign data payload", Err: err}
	}

	switch p.Type {
	case SignDataText:
	case SignDataBinary:
		if _, err := base64.StdEncoding.DecodeString(p.Bytes); err != nil {
			return nil, &ConnectError{Code: CodeBadRequest, Message: "bytes are not base64", Err: err}
		}
	case SignDataCell:
		if p.Schema == "" {
			return nil, NewConnectError(CodeBadRequest, "cell schema is missing")
		}
		if _, err := p.payloadCell(); err != nil {
			return nil, &ConnectError{Code: CodeBadRequest, Message: "invalid cell", Err: err}
		}
	default:
		return nil, NewConnectError(CodeBadRequest, fmt.Sprintf("unknown sign data type %q", p.Type))
	}
	return &p, nil
}

func (p *SignDataPayload) payloadCell() (*cell.Cell, error) {
	boc, err := base64.StdEncoding.DecodeString(p.Cell)
	if err != nil {
		return nil, err
	}
	return cell.FromBOC(boc)
}

// Message is the pre-hash message of text and binary payloads.
func (p *SignDataPayload) Message(addr *address.Address, domain string, timestamp int64) ([]byte, error) {
	var prefix string
	var data []byte
	switch p.Type {
	case SignDataText:
		prefix, data = "txt", []byte(p.Text)
	case SignDataBinary:
		var err error
		if data, err = base64.StdEncoding.DecodeString(p.Bytes); err != nil {
			return nil, fmt.Errorf("failed to decode bytes: %w", err)
		}
		prefix = "bin"
	default:
		return nil, fmt.Errorf("%s payload has no byte message", p.Type)
	}

	var msg bytes.Buffer
	msg.Write([]byte{0xff, 0xff})
	msg.WriteString(signDataPrefix)
	_ = binary.Write(&msg, binary.BigEndian, addr.Workchain())
	msg.Write(addr.Data())
	_ = binary.Write(&msg, binary.BigEndian, uint32(len(domain)))
	msg.WriteString(domain)
	_ = binary.Write(&msg, binary.BigEndian, uint64(timestamp))
	msg.WriteString(prefix)
	_ = binary.Write(&msg, binary.BigEndian, uint32(len(data)))
	msg.Write(data)
	return msg.Bytes(), nil
}

// MessageCell is the signed cell of a cell payload:
// message#75569022 schema_hash:uint32 timestamp:uint64 userAddress:MsgAddress appDomain:^SnakeData payload:^Cell.
func (p *SignDataPayload) MessageCell(addr *address.Address, domain string, timestamp int64) (*cell.Cell, error) {
	payload, err := p.payloadCell()
	if err != nil {
		return nil, fmt.Errorf("failed to parse cell: %w", err)
	}

	dom := cell.BeginCell()
	if err = dom.StoreBinarySnake(encodeDomain(domain)); err != nil {
		return nil, fmt.Errorf("failed to store domain: %w", err)
	}

	b := cell.BeginCell().
		MustStoreUInt(OpSignDataCell, 32).
		MustStoreUInt(uint64(crc32.ChecksumIEEE([]byte(p.Schema))), 32).
		MustStoreUInt(uint64(timestamp), 64)
	if err = b.StoreAddr(addr); err != nil {
		return nil, err
	}
	return b.MustStoreRef(dom.EndCell()).MustStoreRef(payload).EndCell(), nil
}

// encodeDomain writes labels in reverse order, each terminated by a zero byte.
func encodeDomain(domain string) []byte {
	labels := strings.Split(strings.Trim(domain, "."), ".")

	var buf bytes.Buffer
	for i := len(labels) - 1; i >= 0; i-- {
		buf.WriteString(labels[i])
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// SignData signs the payload for the wallet address.
func SignData(ctx context.Context, s signer.Signer, p *SignDataPayload, addr *address.Address, domain string, timestamp int64) (*SignDataResult, error) {
	var sig []byte
	switch p.Type {
	case SignDataCell:
		c, err := p.MessageCell(addr, domain, timestamp)
		if err != nil {
			return nil, err
		}
		if sig, err = s.SignCell(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to sign cell: %w", err)
		}
	default:
		msg, err := p.Message(addr, domain, timestamp)
		if err != nil {
			return nil, err
		}
		if s.Kind().HashesInternally() {
			sig, err = s.SignData(ctx, msg)
		} else {
			h := sha256.Sum256(msg)
			sig, err = s.SignData(ctx, h[:])
		}
		if err != nil {
			return nil, fmt.Errorf("failed to sign data: %w", err)
		}
	}

	return &SignDataResult{
		Signature: sig,
		Address:   addr.StringRaw(),
		Timestamp: timestamp,
		Domain:    domain,
		Payload:   *p,
	}, nil
}
