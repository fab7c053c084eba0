// Package tonconnect implements the wallet side of the TON Connect protocol v2.
package tonconnect

import (
	"encoding/json"
)

const ProtocolVersion = 2

// RPC methods
const (
	MethodSendTransaction = "sendTransaction"
	MethodSignData        = "signData"
	MethodDisconnect      = "disconnect"
)

// Wallet events
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// Connect items
const (
	ItemTonAddr  = "ton_addr"
	ItemTonProof = "ton_proof"
)

// ConnectRequest is the r parameter of a pairing link.
type ConnectRequest struct {
	ManifestURL string        `json:"manifestUrl"`
	Items       []ConnectItem `json:"items"`
}

type ConnectItem struct {
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"`
}

// ProofPayload returns the ton_proof payload when the item is requested.
func (r *ConnectRequest) ProofPayload() (string, bool) {
	for _, it := range r.Items {
		if it.Name == ItemTonProof {
			return it.Payload, true
		}
	}
	return "", false
}

// AppRequest is an RPC request of a dApp. Params are JSON strings.
type AppRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     string   `json:"id"`
}

// WalletResponse is a reply to an AppRequest, either Result or Error is set.
type WalletResponse struct {
	ID     string      `json:"id"`
	Result any         `json:"result,omitempty"`
	Error  *ErrorReply `json:"error,omitempty"`
}

type ErrorReply struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// WalletEvent is a message the wallet sends on its own: connect, connect_error or disconnect.
type WalletEvent struct {
	Event   string `json:"event"`
	ID      int64  `json:"id"`
	Payload any    `json:"payload"`
}

type ConnectPayload struct {
	Items  []json.RawMessage `json:"items"`
	Device DeviceInfo        `json:"device"`
}

type DeviceInfo struct {
	Platform           string `json:"platform"`
	AppName            string `json:"appName"`
	AppVersion         string `json:"appVersion"`
	MaxProtocolVersion int    `json:"maxProtocolVersion"`
	Features           []any  `json:"features"`
}

type SendTransactionFeature struct {
	Name        string `json:"name"`
	MaxMessages int    `json:"maxMessages"`
}

type SignDataFeature struct {
	Name  string           `json:"name"`
	Types []SignDataFormat `json:"types"`
}

// NewDeviceInfo describes this wallet with the features it supports.
func NewDeviceInfo(platform, appName, appVersion string, maxMessages int) DeviceInfo {
	return DeviceInfo{
		Platform:           platform,
		AppName:            appName,
		AppVersion:         appVersion,
		MaxProtocolVersion: ProtocolVersion,
		Features: []any{
			"SendTransaction",
			SendTransactionFeature{Name: "SendTransaction", MaxMessages: maxMessages},
			SignDataFeature{Name: "SignData", Types: []SignDataFormat{SignDataText, SignDataBinary, SignDataCell}},
		},
	}
}

type TonAddressItem struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	Network         string `json:"network"`
	PublicKey       string `json:"publicKey"`
	WalletStateInit string `json:"walletStateInit"`
}

type TonProofItem struct {
	Name  string      `json:"name"`
	Proof *TonProof   `json:"proof,omitempty"`
	Error *ErrorReply `json:"error,omitempty"`
}

type ProofDomain struct {
	LengthBytes uint32 `json:"lengthBytes"`
	Value       string `json:"value"`
}

// TonProof is the signed ownership proof of a ton_proof item.
type TonProof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Signature []byte      `json:"signature"`
	Payload   string      `json:"payload"`
}

type ConnectErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func connectErrorEvent(id int64, e *ConnectError) *WalletEvent {
	return &WalletEvent{
		Event:   EventConnectError,
		ID:      id,
		Payload: ConnectErrorPayload{Code: e.Code, Message: e.Message},
	}
}

func errorResponse(id string, e *ConnectError) *WalletResponse {
	return &WalletResponse{ID: id, Error: e.Reply()}
}
