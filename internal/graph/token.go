package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAuthority = "https://login.microsoftonline.com"
	// Tokens are refreshed this long before their reported expiry.
	refreshMargin = 5 * time.Minute

	scopeDefault = "https://graph.microsoft.com/.default"
)

// delegatedScopes are requested for the device-code flow.
var delegatedScopes = []string{
	"ChannelMessage.Read.All",
	"Channel.ReadBasic.All",
	"Team.ReadBasic.All",
	"User.Read",
}

// Credential is a bearer token plus its expiry. It is owned by the
// TokenProvider and never persisted.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

func (c Credential) valid(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt.Add(-refreshMargin))
}

// TokenProviderConfig selects the authentication flow. With UseDeviceCode
// the provider runs the device-code flow and logs the verification URL and
// user code; otherwise it uses the client-credentials flow, which requires
// ClientSecret.
type TokenProviderConfig struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	UseDeviceCode bool

	// Authority overrides the login endpoint, used in tests.
	Authority string
}

// TokenProvider obtains and caches an OAuth bearer credential for the
// Graph API. Safe for concurrent use; concurrent calls during a refresh
// share a single exchange.
type TokenProvider struct {
	cfg  TokenProviderConfig
	http *http.Client
	log  *zap.Logger

	mu   sync.Mutex
	cred Credential

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewTokenProvider(cfg TokenProviderConfig, log *zap.Logger) (*TokenProvider, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" {
		return nil, &AuthError{Reason: "tenant id and client id are required"}
	}
	if !cfg.UseDeviceCode && cfg.ClientSecret == "" {
		return nil, &AuthError{Reason: "client secret required for client-credentials flow"}
	}
	if cfg.Authority == "" {
		cfg.Authority = defaultAuthority
	}
	return &TokenProvider{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

// Token returns a valid bearer token, performing a fresh exchange when the
// cached credential is absent or inside the refresh margin.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cred.valid(p.now()) {
		return p.cred.AccessToken, nil
	}

	var (
		cred Credential
		err  error
	)
	if p.cfg.UseDeviceCode {
		cred, err = p.deviceCodeExchange(ctx)
	} else {
		cred, err = p.clientCredentialsExchange(ctx)
	}
	if err != nil {
		return "", err
	}

	p.cred = cred
	p.log.Info("authenticated with Microsoft Graph",
		zap.Bool("device_code", p.cfg.UseDeviceCode),
		zap.Time("expires_at", cred.ExpiresAt))
	return cred.AccessToken, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type deviceCodeResponse struct {
	DeviceCode       string `json:"device_code"`
	UserCode         string `json:"user_code"`
	VerificationURI  string `json:"verification_uri"`
	Interval         int    `json:"interval"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p *TokenProvider) tokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.cfg.Authority, p.cfg.TenantID)
}

func (p *TokenProvider) clientCredentialsExchange(ctx context.Context) (Credential, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"scope":         {scopeDefault},
	}
	var tok tokenResponse
	if err := p.postForm(ctx, p.tokenURL(), form, &tok); err != nil {
		return Credential{}, err
	}
	if tok.AccessToken == "" {
		return Credential{}, &AuthError{Reason: authFailure(tok.Error, tok.ErrorDescription)}
	}
	return p.credentialFrom(tok), nil
}

func (p *TokenProvider) deviceCodeExchange(ctx context.Context) (Credential, error) {
	form := url.Values{
		"client_id": {p.cfg.ClientID},
		"scope":     {strings.Join(delegatedScopes, " ")},
	}
	codeURL := fmt.Sprintf("%s/%s/oauth2/v2.0/devicecode", p.cfg.Authority, p.cfg.TenantID)

	var dc deviceCodeResponse
	if err := p.postForm(ctx, codeURL, form, &dc); err != nil {
		return Credential{}, err
	}
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return Credential{}, &AuthError{Reason: authFailure(dc.Error, dc.ErrorDescription)}
	}

	p.log.Info("device code authentication required",
		zap.String("verification_uri", dc.VerificationURI),
		zap.String("user_code", dc.UserCode))

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := p.now().Add(time.Duration(dc.ExpiresIn) * time.Second)

	pollForm := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":   {p.cfg.ClientID},
		"device_code": {dc.DeviceCode},
	}
	for {
		var tok tokenResponse
		if err := p.postForm(ctx, p.tokenURL(), pollForm, &tok); err != nil {
			return Credential{}, err
		}
		if tok.AccessToken != "" {
			return p.credentialFrom(tok), nil
		}
		if tok.Error != "authorization_pending" && tok.Error != "slow_down" {
			return Credential{}, &AuthError{Reason: authFailure(tok.Error, tok.ErrorDescription)}
		}
		if p.now().After(deadline) {
			return Credential{}, &AuthError{Reason: "device code expired before authorization"}
		}
		if err := p.sleep(ctx, interval); err != nil {
			return Credential{}, &AuthError{Reason: "device code polling aborted", Err: err}
		}
	}
}

func (p *TokenProvider) credentialFrom(tok tokenResponse) Credential {
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return Credential{
		AccessToken: tok.AccessToken,
		ExpiresAt:   p.now().Add(time.Duration(expiresIn) * time.Second),
	}
}

func (p *TokenProvider) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &AuthError{Reason: "building token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return &AuthError{Reason: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &AuthError{Reason: "reading token response", Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &AuthError{Reason: fmt.Sprintf("malformed token response (HTTP %d)", resp.StatusCode), Err: err}
	}
	return nil
}

func authFailure(code, description string) string {
	if description != "" {
		return description
	}
	if code != "" {
		return code
	}
	return "authentication failed"
}
