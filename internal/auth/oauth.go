package auth

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/oauth2"

	"crmbridge/internal/storage"
)

// Endpoints holds the provider's OAuth endpoints and client registration.
type Endpoints struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// Client drives the Authorization Code + PKCE flow: it mints the authorize
// URL, redeems the callback's code for tokens, and persists the result.
type Client struct {
	config    *oauth2.Config
	store     storage.CredentialStore
	verifiers VerifierStore
	logger    *log.Logger
}

// NewClient creates a Client for the given provider endpoints.
func NewClient(ep Endpoints, store storage.CredentialStore, verifiers VerifierStore, logger *log.Logger) *Client {
	return &Client{
		config: &oauth2.Config{
			ClientID:     ep.ClientID,
			ClientSecret: ep.ClientSecret,
			RedirectURL:  ep.RedirectURL,
			Scopes:       ep.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  ep.AuthURL,
				TokenURL: ep.TokenURL,
			},
		},
		store:     store,
		verifiers: verifiers,
		logger:    logger,
	}
}

// AuthorizeURL generates a verifier, challenge, and state, records the
// pending authorization, and returns the provider consent URL to redirect
// the browser to.
func (c *Client) AuthorizeURL() (string, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}

	state, err := GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	if err := c.verifiers.Put(state, verifier); err != nil {
		return "", fmt.Errorf("failed to store verifier: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", DeriveChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	return c.config.AuthCodeURL(state, opts...), nil
}

// HandleCallback redeems the authorization code from the provider redirect.
// The state must match a pending authorization; its verifier is consumed and
// sent as code_verifier with the exchange. On success the resulting tokens
// replace any previously stored credential.
func (c *Client) HandleCallback(ctx context.Context, state, code string) error {
	if state == "" {
		return fmt.Errorf("%w: state cannot be empty", ErrInvalidState)
	}
	if code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	verifier, err := c.verifiers.Take(state)
	if err != nil {
		return fmt.Errorf("validating state %q: %w", state, err)
	}

	token, err := c.config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	instanceURL, _ := token.Extra("instance_url").(string)
	if instanceURL == "" {
		return fmt.Errorf("token response missing instance_url")
	}

	id, err := c.store.Replace(ctx, token.AccessToken, token.RefreshToken, instanceURL)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	c.logger.Printf("Connected to %s (credential id %d)", instanceURL, id)
	return nil
}

// Disconnect removes the stored credential. The refresh token is discarded;
// reconnecting requires a fresh authorization flow.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	c.logger.Println("Disconnected from CRM")
	return nil
}
