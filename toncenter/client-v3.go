package toncenter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var ErrGetMethodFailed = errors.New("get method exited with error")

type V3 struct {
	client *Client
}

func (c *Client) V3() *V3 {
	return &V3{client: c}
}

func (v *V3) apiBase() string {
	return strings.TrimRight(v.client.baseURL, "/") + "/api/v3"
}

type stackElementV3 struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type AccountStateV3 struct {
	Address string    `json:"address"`
	Balance NanoCoins `json:"balance"`
	Status  string    `json:"status"` // "active", "uninit", "frozen", "nonexist"
}

type accountStatesV3Result struct {
	Accounts []AccountStateV3 `json:"accounts"`
}

// GetAccountStates /accountStates, one request for many addresses.
func (v *V3) GetAccountStates(ctx context.Context, addrs []*address.Address) ([]AccountStateV3, error) {
	q := url.Values{"include_boc": []string{"false"}}
	for _, a := range addrs {
		q.Add("address", a.String())
	}

	res, err := V3GetCall[accountStatesV3Result](ctx, v, "accountStates", q)
	if err != nil {
		return nil, err
	}
	return res.Accounts, nil
}

type RunGetMethodV3Result struct {
	GasUsed  uint64
	Stack    []any
	ExitCode int
}

// RunGetMethod calls a contract get method, stack elements could be *address.Address, *cell.Cell, *cell.Slice, and *big.Int.
// Exit codes other than 0 and 1 are returned as ErrGetMethodFailed.
func (v *V3) RunGetMethod(ctx context.Context, addr *address.Address, method string, stack []any) (*RunGetMethodV3Result, error) {
	type runGetMethodRequest struct {
		Address *address.Address `json:"address"`
		Method  string           `json:"method,omitempty"`
		Stack   []stackElementV3 `json:"stack"`
	}

	type runGetMethodResult struct {
		GasUsed  uint64           `json:"gas_used"`
		Stack    []stackElementV3 `json:"stack"`
		ExitCode int              `json:"exit_code"`
	}

	var stk = []stackElementV3{}
	for _, a := range stack {
		switch val := a.(type) {
		case *cell.Cell:
			stk = append(stk, stackElementV3{
				Type:  "cell",
				Value: json.RawMessage(strconv.Quote(base64.StdEncoding.EncodeToString(val.ToBOC()))),
			})
		case *cell.Slice:
			stk = append(stk, stackElementV3{
				Type:  "slice",
				Value: json.RawMessage(strconv.Quote(base64.StdEncoding.EncodeToString(val.MustToCell().ToBOC()))),
			})
		case *address.Address:
			stk = append(stk, stackElementV3{
				Type:  "slice",
				Value: json.RawMessage(strconv.Quote(base64.StdEncoding.EncodeToString(cell.BeginCell().MustStoreAddr(val).EndCell().ToBOC()))),
			})
		case *big.Int:
			if val == nil {
				return nil, fmt.Errorf("nil big.Int")
			}
			stk = append(stk, stackElementV3{
				Type:  "num",
				Value: json.RawMessage(strconv.Quote("0x" + val.Text(16))),
			})
		default:
			return nil, fmt.Errorf("unsupported stack element type")
		}
	}

	res, err := V3PostCall[runGetMethodResult](ctx, v, "runGetMethod", runGetMethodRequest{
		Address: addr,
		Method:  method,
		Stack:   stk,
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 && res.ExitCode != 1 {
		return nil, fmt.Errorf("%w: %s exit code %d", ErrGetMethodFailed, method, res.ExitCode)
	}

	stack, err = parseStackV3(res.Stack)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stack: %w", err)
	}

	return &RunGetMethodV3Result{
		GasUsed:  res.GasUsed,
		Stack:    stack,
		ExitCode: res.ExitCode,
	}, nil
}

func parseStackV3(stack []stackElementV3) ([]any, error) {
	var stk []any
	for _, a := range stack {
		switch a.Type {
		case "cell", "slice":
			var val string
			if err := json.Unmarshal(a.Value, &val); err != nil {
				return nil, fmt.Errorf("failed to unmarshal stack element: %w", err)
			}

			b, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return nil, err
			}

			c, err := cell.FromBOC(b)
			if err != nil {
				return nil, err
			}

			if a.Type == "cell" {
				stk = append(stk, c)
			} else {
				stk = append(stk, c.BeginParse())
			}
		case "num":
			var val string
			if err := json.Unmarshal(a.Value, &val); err != nil {
				return nil, fmt.Errorf("failed to unmarshal stack element: %w", err)
			}

			neg := strings.HasPrefix(val, "-")
			val = strings.TrimPrefix(val, "-")
			if !strings.HasPrefix(val, "0x") {
				return nil, fmt.Errorf("invalid number format %q", val)
			}

			res, ok := new(big.Int).SetString(val[2:], 16)
			if !ok {
				return nil, fmt.Errorf("invalid number format %q", val)
			}
			if neg {
				res.Neg(res)
			}

			stk = append(stk, res)
		case "tuple":
			var val []stackElementV3
			if err := json.Unmarshal(a.Value, &val); err != nil {
				return nil, fmt.Errorf("failed to unmarshal stack element: %w", err)
			}

			tup, err := parseStackV3(val)
			if err != nil {
				return nil, fmt.Errorf("failed to parse tuple: %w", err)
			}

			stk = append(stk, tup)
		default:
			return nil, fmt.Errorf("unsupported stack element type")
		}
	}
	return stk, nil
}

func V3PostCall[T any](ctx context.Context, v *V3, method string, req any) (*T, error) {
	return doPOST[T](ctx, v.client, v.apiBase()+"/"+method, req, true)
}

func V3GetCall[T any](ctx context.Context, v *V3, method string, query url.Values) (*T, error) {
	return doGET[T](ctx, v.client, v.apiBase()+"/"+method, query, true)
}
