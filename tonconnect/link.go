package tonconnect

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/xssnick/tonwallet/tonconnect/session"
)

// ConnectLink is a parsed pairing deep link.
type ConnectLink struct {
	Version  int
	ClientID string
	Request  ConnectRequest
	// Return is the ret parameter: back, none or a url to open after connecting.
	Return string
}

// ParseConnectLink reads the v, id, r and ret parameters of a pairing link.
// Errors are *ConnectError. When only the version is wrong the link is returned
// along with the error so the caller can still address the dApp.
func ParseConnectLink(link string) (*ConnectLink, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, &ConnectError{Code: CodeBadRequest, Message: "invalid link", Err: err}
	}
	q := u.Query()

	res := &ConnectLink{
		ClientID: q.Get("id"),
		Return:   q.Get("ret"),
	}

	if _, err = session.ParseSessionID(res.ClientID); err != nil {
		return nil, &ConnectError{Code: CodeBadRequest, Message: "invalid client id", Err: err}
	}

	if res.Version, err = strconv.Atoi(q.Get("v")); err != nil {
		return nil, &ConnectError{Code: CodeBadRequest, Message: "invalid protocol version", Err: err}
	}
	if res.Version != ProtocolVersion {
		return res, &ConnectError{
			Code:    CodeBadRequest,
			Message: fmt.Sprintf("protocol version %d is not supported", res.Version),
			Err:     ErrUnsupportedVersion,
		}
	}

	r := q.Get("r")
	if r == "" {
		return nil, NewConnectError(CodeBadRequest, "connect request is missing")
	}
	if err = json.Unmarshal([]byte(r), &res.Request); err != nil {
		return nil, &ConnectError{Code: CodeBadRequest, Message: "invalid connect request", Err: err}
	}
	if res.Request.ManifestURL == "" {
		return nil, NewConnectError(CodeBadRequest, "manifest url is missing")
	}
	return res, nil
}

// ConnectErrorEvent builds the connect_error event for a failed pairing.
func ConnectErrorEvent(id int64, err error) *WalletEvent {
	return connectErrorEvent(id, asConnectError(err))
}
