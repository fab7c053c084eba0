package tonconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru"
)

const (
	DefaultManifestTimeout   = 10 * time.Second
	DefaultManifestCacheSize = 256
	maxManifestSize          = 64 << 10
)

// Manifest describes a dApp, it is shown to the user on connect.
type Manifest struct {
	URL              string `json:"url"`
	Name             string `json:"name"`
	IconURL          string `json:"iconUrl"`
	TermsOfUseURL    string `json:"termsOfUseUrl,omitempty"`
	PrivacyPolicyURL string `json:"privacyPolicyUrl,omitempty"`
}

// Domain is the host of the dApp url, it goes into proofs.
func (m *Manifest) Domain() string {
	u, err := url.Parse(m.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is empty")
	}
	u, err := url.Parse(m.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("url %q is not valid", m.URL)
	}
	return nil
}

// ManifestLoader fetches dApp manifests, valid ones are cached by url.
type ManifestLoader struct {
	http  *resty.Client
	cache *lru.Cache
}

func NewManifestLoader(timeout time.Duration) *ManifestLoader {
	if timeout <= 0 {
		timeout = DefaultManifestTimeout
	}
	cache, _ := lru.New(DefaultManifestCacheSize)
	return &ManifestLoader{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		cache: cache,
	}
}

// Load returns the manifest, failures are *ConnectError with code 2 when it
// cannot be fetched and 3 when the content is wrong.
func (l *ManifestLoader) Load(ctx context.Context, manifestURL string) (*Manifest, error) {
	if v, ok := l.cache.Get(manifestURL); ok {
		m := v.(Manifest)
		return &m, nil
	}

	resp, err := l.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(manifestURL)
	if err != nil {
		return nil, &ConnectError{Code: CodeManifestNotFound, Message: "failed to fetch manifest", Err: err}
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return nil, NewConnectError(CodeManifestNotFound, fmt.Sprintf("manifest responded with status %d", resp.StatusCode()))
	}

	var m Manifest
	dec := json.NewDecoder(io.LimitReader(body, maxManifestSize))
	if err = dec.Decode(&m); err != nil {
		return nil, &ConnectError{Code: CodeManifestContentError, Message: "manifest is not valid json", Err: err}
	}
	if err = m.validate(); err != nil {
		return nil, &ConnectError{Code: CodeManifestContentError, Message: "manifest content error", Err: err}
	}

	l.cache.Add(manifestURL, m)
	return &m, nil
}
