// ABOUTME: Token sources for the API client: static config tokens and OAuth refresh
// ABOUTME: Refresh grants are cached until shortly before they expire

package tidal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultAuthURL = "https://auth.tidal.com/v1/oauth2/token"

// refreshSkew renews a grant this long before it actually expires, so a
// token never dies mid-request.
const refreshSkew = 30 * time.Second

// RefreshingToken trades a long-lived refresh token for short-lived access
// tokens, caching each grant until it is about to expire. Safe for
// concurrent use.
type RefreshingToken struct {
	ClientID     string
	ClientSecret string
	Refresh      string

	// AuthURL overrides the oauth2 token endpoint. Empty means the public
	// one.
	AuthURL string
	HTTP    *http.Client

	mu      sync.Mutex
	access  string
	expires time.Time
}

func (r *RefreshingToken) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.access != "" && time.Now().Add(refreshSkew).Before(r.expires) {
		return r.access, nil
	}

	form := url.Values{}
	form.Set("client_id", r.ClientID)
	form.Set("client_secret", r.ClientSecret)
	form.Set("refresh_token", r.Refresh)
	form.Set("grant_type", "refresh_token")

	endpoint := r.AuthURL
	if endpoint == "" {
		endpoint = defaultAuthURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh token: unexpected status %d", resp.StatusCode)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return "", fmt.Errorf("decode refresh grant: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("refresh grant carried no access token")
	}

	r.access = grant.AccessToken
	r.expires = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	return r.access, nil
}
