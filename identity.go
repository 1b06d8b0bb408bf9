package gbackup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const defaultRevokeURL = "https://oauth2.googleapis.com/revoke"

var DefaultScopes = []string{
	drive.DriveAppdataScope,
	googleoauth2.UserinfoEmailScope,
	googleoauth2.UserinfoProfileScope,
}

//go:generate mockgen -source=identity.go -destination=mock_identity_test.go -package=gbackup

// IdentityProvider signs the user in and mints access tokens.
type IdentityProvider interface {
	// CheckAvailability fails with ErrServiceUnavailable when sign in cannot
	// work at all on this installation.
	CheckAvailability(ctx context.Context) error
	SignIn(ctx context.Context) (*Credentials, error)
	SignInSilently(ctx context.Context) (*Credentials, error)
	AccessToken(ctx context.Context) (string, error)
	RevokeAndSignOut(ctx context.Context) error
}

// Authorizer shows authURL to the user and returns the authorization code
// Google hands back. An empty code means the user gave up.
type Authorizer func(ctx context.Context, authURL string) (string, error)

type IdentityConfig struct {
	// WebClientID overrides the client id of the credential file.
	WebClientID      string
	Scopes           []string
	RevokeURL        string
	UserInfoEndpoint string
	HTTPClient       *http.Client
}

// GoogleIdentity is an IdentityProvider backed by Google OAuth. The token is
// persisted under KeyAccessToken so later processes can sign in silently.
type GoogleIdentity struct {
	oauthConfig *oauth2.Config
	config      IdentityConfig
	store       Store
	authorize   Authorizer
	inProgress  int32

	mut    sync.Mutex
	source oauth2.TokenSource
	token  *oauth2.Token
}

func NewGoogleIdentity(credential json.RawMessage, store Store, authorize Authorizer, config IdentityConfig) (*GoogleIdentity, error) {
	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	cfg, err := google.ConfigFromJSON(credential, scopes...)
	if err != nil {
		return nil, err
	}
	if config.WebClientID != "" {
		cfg.ClientID = config.WebClientID
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultRevokeURL
	}
	return &GoogleIdentity{
		oauthConfig: cfg,
		config:      config,
		store:       store,
		authorize:   authorize,
	}, nil
}

func (g *GoogleIdentity) CheckAvailability(ctx context.Context) error {
	if g.oauthConfig.ClientID == "" || g.oauthConfig.Endpoint.AuthURL == "" || g.authorize == nil {
		return ErrServiceUnavailable
	}
	return nil
}

func (g *GoogleIdentity) SignIn(ctx context.Context) (*Credentials, error) {
	if !atomic.CompareAndSwapInt32(&g.inProgress, 0, 1) {
		return nil, ErrSignInInProgress
	}
	defer atomic.StoreInt32(&g.inProgress, 0)

	// The code is pasted back by the user, there is no redirect to carry the
	// state, so it is only sent and never compared.
	authURL := g.oauthConfig.AuthCodeURL(uuid.NewString(), oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
	code, err := g.authorize(ctx, authURL)
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSignInCancelled) {
		return nil, ErrSignInCancelled
	}
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrSignInCancelled
	}

	token, err := g.oauthConfig.Exchange(g.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := writeJSON(ctx, g.store, KeyAccessToken, token); err != nil {
		return nil, err
	}
	source := g.oauthConfig.TokenSource(g.oauthContext(context.Background()), token)
	g.setSession(source, token)

	profile, err := g.fetchProfile(ctx, source)
	if err != nil {
		return nil, err
	}
	logrus.WithField("email", profile.Email).Debug("signed in")
	return &Credentials{Profile: *profile}, nil
}

// SignInSilently restores the persisted session, refreshing the token when it
// has expired.
func (g *GoogleIdentity) SignInSilently(ctx context.Context) (*Credentials, error) {
	token := &oauth2.Token{}
	found, err := readJSON(ctx, g.store, KeyAccessToken, token)
	if err != nil {
		return nil, err
	}
	if !found || (token.RefreshToken == "" && !token.Valid()) {
		return nil, ErrSignInRequired
	}

	source := g.oauthConfig.TokenSource(g.oauthContext(context.Background()), token)
	fresh, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := writeJSON(ctx, g.store, KeyAccessToken, fresh); err != nil {
			return nil, err
		}
		logrus.Debug("access token refreshed")
	}
	g.setSession(oauth2.ReuseTokenSource(fresh, source), fresh)

	creds := &Credentials{}
	profile, err := LoadProfile(ctx, g.store)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		creds.Profile = *profile
	}
	return creds, nil
}

// AccessToken returns a valid access token, signing in silently when the
// process has no session yet.
func (g *GoogleIdentity) AccessToken(ctx context.Context) (string, error) {
	source, last := g.session()
	if source == nil {
		if _, err := g.SignInSilently(ctx); err != nil {
			return "", err
		}
		source, last = g.session()
	}
	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("obtain access token: %w", err)
	}
	if last == nil || token.AccessToken != last.AccessToken {
		if err := writeJSON(ctx, g.store, KeyAccessToken, token); err != nil {
			return "", err
		}
		g.setSession(source, token)
	}
	return token.AccessToken, nil
}

// RevokeAndSignOut revokes the grant at Google and drops the in-memory
// session. Persisted values are left to the caller.
func (g *GoogleIdentity) RevokeAndSignOut(ctx context.Context) error {
	_, token := g.session()
	if token == nil {
		token = &oauth2.Token{}
		found, err := readJSON(ctx, g.store, KeyAccessToken, token)
		if err != nil {
			return err
		}
		if !found {
			return ErrSignInRequired
		}
	}
	revoke := token.RefreshToken
	if revoke == "" {
		revoke = token.AccessToken
	}

	form := url.Values{"token": {revoke}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return err
	}

	g.setSession(nil, nil)
	logrus.Debug("grant revoked, signed out")
	return nil
}

func (g *GoogleIdentity) fetchProfile(ctx context.Context, source oauth2.TokenSource) (*Profile, error) {
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(g.oauthContext(ctx), source))}
	if g.config.UserInfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.config.UserInfoEndpoint))
	}
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &Profile{ID: info.Id, Name: info.Name, Email: info.Email, Photo: info.Picture}, nil
}

func (g *GoogleIdentity) oauthContext(ctx context.Context) context.Context {
	if g.config.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.config.HTTPClient)
}

func (g *GoogleIdentity) httpClient() *http.Client {
	if g.config.HTTPClient != nil {
		return g.config.HTTPClient
	}
	return http.DefaultClient
}

func (g *GoogleIdentity) session() (oauth2.TokenSource, *oauth2.Token) {
	g.mut.Lock()
	defer g.mut.Unlock()
	return g.source, g.token
}

func (g *GoogleIdentity) setSession(source oauth2.TokenSource, token *oauth2.Token) {
	g.mut.Lock()
	defer g.mut.Unlock()
	g.source = source
	g.token = token
}
