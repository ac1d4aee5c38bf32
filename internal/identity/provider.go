// Package identity resolves user identity against a remote management API
// (Auth0-shaped). The rest of the service consumes the resolved user id as
// an opaque owner id; no permission policy is enforced locally.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ojage/lokkito-backend/internal/logging"
)

// ErrUserNotFound means the management API has no user under the given id.
var ErrUserNotFound = errors.New("identity: user not found")

// Profile is the identity surface exposed to the rest of the service.
type Profile struct {
	UserID        string   `json:"userId"`
	Email         string   `json:"email"`
	Name          string   `json:"name,omitempty"`
	Picture       string   `json:"picture,omitempty"`
	EmailVerified bool     `json:"emailVerified"`
	Permissions   []string `json:"permissions"`
}

// Provider talks to the identity management API using a client-credentials
// grant. The zero-config provider (empty domain) is disabled: Resolve fails
// and callers fall back to request-supplied owner ids.
type Provider struct {
	baseURL string
	creds   clientcredentials.Config
	log     *logging.Logger

	once  sync.Once
	httpc *http.Client
}

// NewProvider creates an identity provider for the given tenant domain.
// An empty domain yields a disabled provider.
func NewProvider(domain, clientID, clientSecret string, log *logging.Logger) *Provider {
	baseURL := ""
	if domain != "" {
		baseURL = "https://" + strings.TrimSuffix(domain, "/")
	}
	p := &Provider{
		baseURL: baseURL,
		log:     log.Sub("identity"),
	}
	if baseURL != "" {
		p.creds = clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     baseURL + "/oauth/token",
			EndpointParams: url.Values{
				"audience": {baseURL + "/api/v2/"},
			},
		}
	}
	return p
}

// Enabled reports whether the provider is configured.
func (p *Provider) Enabled() bool {
	return p.baseURL != ""
}

// client returns an HTTP client that injects management tokens, refreshing
// them as they expire.
func (p *Provider) client() *http.Client {
	p.once.Do(func() {
		p.httpc = p.creds.Client(context.Background())
	})
	return p.httpc
}

// Resolve fetches the user's profile and permission list.
func (p *Provider) Resolve(ctx context.Context, userID string) (*Profile, error) {
	if !p.Enabled() {
		return nil, errors.New("identity: provider not configured")
	}

	profile, err := p.fetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	perms, err := p.fetchPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile.Permissions = perms
	return profile, nil
}

// Revoke ends the user's sessions on the management side. It always reports
// success: revoking an already-absent session must not leak existence
// through the error shape.
func (p *Provider) Revoke(ctx context.Context, userID string) {
	if !p.Enabled() {
		return
	}

	endpoint := fmt.Sprintf("%s/api/v2/device-credentials?user_id=%s", p.baseURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader("{}"))
	if err != nil {
		p.log.Warn().Err(err).Str("userId", userID).Msg("revoke request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client().Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("userId", userID).Msg("revoke failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		p.log.Warn().Int("status", resp.StatusCode).Str("userId", userID).Msg("revoke rejected")
	}
}

func (p *Provider) fetchUser(ctx context.Context, userID string) (*Profile, error) {
	var raw struct {
		UserID        string `json:"user_id"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	endpoint := p.baseURL + "/api/v2/users/" + url.PathEscape(userID)
	if err := p.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, err
	}
	return &Profile{
		UserID:        raw.UserID,
		Email:         raw.Email,
		Name:          raw.Name,
		Picture:       raw.Picture,
		EmailVerified: raw.EmailVerified,
		Permissions:   []string{},
	}, nil
}

func (p *Provider) fetchPermissions(ctx context.Context, userID string) ([]string, error) {
	var raw []struct {
		PermissionName string `json:"permission_name"`
	}
	endpoint := p.baseURL + "/api/v2/users/" + url.PathEscape(userID) + "/permissions"
	if err := p.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, err
	}

	perms := make([]string, 0, len(raw))
	for _, entry := range raw {
		perms = append(perms, entry.PermissionName)
	}
	return perms, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("identity: creating request: %w", err)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return fmt.Errorf("identity: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("identity: reading response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity: management API error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("identity: parsing response: %w", err)
	}
	return nil
}
