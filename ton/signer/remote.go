package signer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/xssnick/tonwallet/tvm/cell"
)

const remoteScheme = "tonsign"

// RemoteRequest is shown as a QR code and scanned by the signing device.
type RemoteRequest struct {
	ID        string
	PublicKey []byte
	Payloads  [][]byte
	// RawData is set when the request is a data signature instead of cells.
	RawData bool
}

// Link encodes the request as a deep link.
func (r *RemoteRequest) Link() string {
	q := url.Values{}
	q.Set("id", r.ID)
	q.Set("pk", hex.EncodeToString(r.PublicKey))
	if r.RawData {
		q.Set("type", "data")
	}
	for _, p := range r.Payloads {
		q.Add("body", base64.RawURLEncoding.EncodeToString(p))
	}
	return remoteScheme + "://v1/?" + q.Encode()
}

// ParseRemoteRequest is the inverse of Link, used by the signing side.
func ParseRemoteRequest(link string) (*RemoteRequest, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("failed to parse link: %w", err)
	}
	if u.Scheme != remoteScheme {
		return nil, fmt.Errorf("unexpected scheme %q", u.Scheme)
	}

	q := u.Query()
	pk, err := hex.DecodeString(q.Get("pk"))
	if err != nil || len(pk) != 32 {
		return nil, fmt.Errorf("invalid public key")
	}

	req := &RemoteRequest{
		ID:        q.Get("id"),
		PublicKey: pk,
		RawData:   q.Get("type") == "data",
	}
	for i, b := range q["body"] {
		data, err := base64.RawURLEncoding.DecodeString(b)
		if err != nil {
			return nil, fmt.Errorf("invalid body %d: %w", i, err)
		}
		req.Payloads = append(req.Payloads, data)
	}
	return req, nil
}

type RemoteResponse struct {
	ID         string
	Signatures [][]byte
	Rejected   bool
}

// RemoteRelay shows the request to the user and delivers the device answer.
type RemoteRelay interface {
	Show(ctx context.Context, req *RemoteRequest) error
	Await(ctx context.Context, id string) (*RemoteResponse, error)
}

type Remote struct {
	publicKey []byte
	relay     RemoteRelay
}

func NewRemote(publicKey []byte, relay RemoteRelay) *Remote {
	return &Remote{publicKey: publicKey, relay: relay}
}

func (r *Remote) Kind() Kind {
	return KindRemote
}

func (r *Remote) SignCell(ctx context.Context, payload *cell.Cell) ([]byte, error) {
	sigs, err := r.SignCells(ctx, []*cell.Cell{payload})
	if err != nil {
		return nil, err
	}
	return sigs[0], nil
}

func (r *Remote) SignCells(ctx context.Context, payloads []*cell.Cell) ([][]byte, error) {
	bocs := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		bocs = append(bocs, p.ToBOCWithFlags(false))
	}
	return r.request(ctx, bocs, false)
}

func (r *Remote) SignData(ctx context.Context, data []byte) ([]byte, error) {
	sigs, err := r.request(ctx, [][]byte{data}, true)
	if err != nil {
		return nil, err
	}
	return sigs[0], nil
}

func (r *Remote) request(ctx context.Context, payloads [][]byte, raw bool) ([][]byte, error) {
	req := &RemoteRequest{
		ID:        uuid.NewString(),
		PublicKey: r.publicKey,
		Payloads:  payloads,
		RawData:   raw,
	}

	if err := r.relay.Show(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to show signing request: %w", err)
	}

	resp, err := r.relay.Await(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing response: %w", err)
	}
	if resp.Rejected {
		return nil, ErrCanceled
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response is for request %s, expected %s", resp.ID, req.ID)
	}
	if len(resp.Signatures) != len(payloads) {
		if len(resp.Signatures) > 0 && len(resp.Signatures) < len(payloads) {
			return nil, &BatchError{Signed: resp.Signatures, Err: ErrCanceled}
		}
		return nil, fmt.Errorf("%w: got %d for %d", ErrSignatureMismatch, len(resp.Signatures), len(payloads))
	}
	return resp.Signatures, nil
}
