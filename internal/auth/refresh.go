package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"crmbridge/internal/storage"
)

// Authorization is the outcome of a successful token refresh: the new access
// token and the instance URL to issue the next request against.
type Authorization struct {
	AccessToken string
	InstanceURL string
}

// RefreshRejectedError means the provider refused the refresh-token grant,
// typically because the credential was revoked. It is never retried
// automatically; the user must re-authorize.
type RefreshRejectedError struct {
	Code        string
	Description string
}

func (e *RefreshRejectedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token refresh rejected: %s (%s)", e.Description, e.Code)
	}
	return fmt.Sprintf("token refresh rejected: %s", e.Code)
}

// Refresher exchanges the stored refresh token for a new access token.
//
// It deliberately bypasses oauth2.TokenSource: the gateway needs at-most-once
// refresh semantics and the provider's error_description on rejection, both
// of which TokenSource's transparent auto-refresh hides.
type Refresher struct {
	store        storage.CredentialStore
	client       *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
}

// NewRefresher creates a Refresher. client may be nil, in which case
// http.DefaultClient is used.
func NewRefresher(ep Endpoints, store storage.CredentialStore, client *http.Client) *Refresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Refresher{
		store:        store,
		client:       client,
		tokenURL:     ep.TokenURL,
		clientID:     ep.ClientID,
		clientSecret: ep.ClientSecret,
	}
}

// Refresh issues the refresh_token grant and persists the new access token.
// The refresh token and stored instance URL are left untouched; if the
// response carries a new instance URL it is returned to the caller for the
// in-flight request. Refresh never retries itself.
func (r *Refresher) Refresh(ctx context.Context) (*Authorization, error) {
	cred, err := r.store.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading credential for refresh: %w", err)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to token endpoint %s: %w", r.tokenURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token endpoint response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, rejectionFromBody(body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		InstanceURL string `json:"instance_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing token endpoint response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint response missing access_token")
	}

	if err := r.store.UpdateAccessToken(ctx, cred.ID, payload.AccessToken); err != nil {
		return nil, fmt.Errorf("storing refreshed access token: %w", err)
	}

	instanceURL := payload.InstanceURL
	if instanceURL == "" {
		instanceURL = cred.InstanceURL
	}
	return &Authorization{AccessToken: payload.AccessToken, InstanceURL: instanceURL}, nil
}

func rejectionFromBody(body []byte) *RefreshRejectedError {
	var payload struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return &RefreshRejectedError{Code: "unknown", Description: string(body)}
	}
	return &RefreshRejectedError{Code: payload.Error, Description: payload.Description}
}
