// Package oauth wraps the federated login providers.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"devpress/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
)

// Provider names.
const (
	Google   = "google"
	Facebook = "facebook"
)

// ErrNoProfileID is returned when the provider profile carries no stable id.
var ErrNoProfileID = errors.New("provider profile has no id")

// Profile is the subset of a provider profile used to find or create a user.
type Profile struct {
	Provider    string
	ID          string
	DisplayName string
	Email       string
	Picture     string
}

// Provider runs the authorization-code flow against one identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

type provider struct {
	name       string
	conf       *oauth2.Config
	profileURL string
	decode     func(io.Reader) (*Profile, error)
}

// NewGoogle returns the Google provider requesting the profile and email scopes.
func NewGoogle(clientID, clientSecret, redirectURL string) Provider {
	return &provider{
		name: Google,
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"profile", "email"},
		},
		profileURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		decode:     decodeGoogle,
	}
}

// NewFacebook returns the Facebook provider.
func NewFacebook(clientID, clientSecret, redirectURL string) Provider {
	return &provider{
		name: Facebook,
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     facebook.Endpoint,
			Scopes:       []string{"public_profile", "email"},
		},
		profileURL: "https://graph.facebook.com/me?fields=id,name,email,picture.type(large)",
		decode:     decodeFacebook,
	}
}

// FromConfig builds every provider that has credentials configured.
func FromConfig(cfg *config.Config) map[string]Provider {
	out := make(map[string]Provider)
	if cfg.GoogleEnabled() {
		out[Google] = NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}
	if cfg.FacebookEnabled() {
		out[Facebook] = NewFacebook(cfg.FacebookClientID, cfg.FacebookClientSecret, cfg.FacebookRedirectURL)
	}
	return out
}

func (p *provider) Name() string { return p.name }

func (p *provider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the callback code for a token and fetches the profile.
func (p *provider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: exchange code: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch profile: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: fetch profile: unexpected status %d", p.name, resp.StatusCode)
	}

	profile, err := p.decode(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: decode profile: %w", p.name, err)
	}
	if profile.ID == "" {
		return nil, ErrNoProfileID
	}
	profile.Provider = p.name
	return profile, nil
}

func decodeGoogle(r io.Reader) (*Profile, error) {
	var body struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, err
	}
	return &Profile{ID: body.Sub, DisplayName: body.Name, Email: body.Email, Picture: body.Picture}, nil
}

func decodeFacebook(r io.Reader) (*Profile, error) {
	var body struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, err
	}
	return &Profile{ID: body.ID, DisplayName: body.Name, Email: body.Email, Picture: body.Picture.Data.URL}, nil
}
