package tonconnect

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClientID = "230f1e4df32364888a5dbd92a410266fcb974b73e30ff3e546a654fc8ee2c953"

func testLink(v, id, r string) string {
	q := url.Values{}
	q.Set("v", v)
	q.Set("id", id)
	if r != "" {
		q.Set("r", r)
	}
	q.Set("ret", "none")
	return "tc://?" + q.Encode()
}

func TestParseConnectLink(t *testing.T) {
	r := `{"manifestUrl":"https://app.example/tonconnect-manifest.json","items":[{"name":"ton_addr"},{"name":"ton_proof","payload":"abc"}]}`

	link, err := ParseConnectLink(testLink("2", testClientID, r))
	require.NoError(t, err)
	assert.Equal(t, 2, link.Version)
	assert.Equal(t, testClientID, link.ClientID)
	assert.Equal(t, "none", link.Return)
	assert.Equal(t, "https://app.example/tonconnect-manifest.json", link.Request.ManifestURL)
	require.Len(t, link.Request.Items, 2)

	payload, ok := link.Request.ProofPayload()
	assert.True(t, ok)
	assert.Equal(t, "abc", payload)

	// universal links carry the same query
	link, err = ParseConnectLink(strings.Replace(testLink("2", testClientID, r), "tc://", "https://app.tonkeeper.com/ton-connect", 1))
	require.NoError(t, err)
	assert.Equal(t, testClientID, link.ClientID)
}

func TestParseConnectLinkErrors(t *testing.T) {
	r := `{"manifestUrl":"https://app.example/m.json","items":[{"name":"ton_addr"}]}`

	tests := []struct {
		name string
		link string
	}{
		{"bad client id", testLink("2", "xyz", r)},
		{"short client id", testLink("2", "abcd", r)},
		{"no version", testLink("", testClientID, r)},
		{"no request", testLink("2", testClientID, "")},
		{"bad json", testLink("2", testClientID, "{")},
		{"no manifest", testLink("2", testClientID, `{"items":[]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := ParseConnectLink(tt.link)
			require.Error(t, err)
			assert.Nil(t, link)

			var ce *ConnectError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, CodeBadRequest, ce.Code)
		})
	}
}

func TestParseConnectLinkVersion(t *testing.T) {
	r := `{"manifestUrl":"https://app.example/m.json","items":[{"name":"ton_addr"}]}`

	link, err := ParseConnectLink(testLink("3", testClientID, r))
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, CodeBadRequest, ce.Code)

	require.NotNil(t, link)
	assert.Equal(t, 3, link.Version)
	assert.Equal(t, testClientID, link.ClientID)

	ev := ConnectErrorEvent(5, err)
	assert.Equal(t, EventConnectError, ev.Event)
	assert.Equal(t, int64(5), ev.ID)
	assert.Equal(t, ConnectErrorPayload{Code: CodeBadRequest, Message: ce.Message}, ev.Payload)
}
