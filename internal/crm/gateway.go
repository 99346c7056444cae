package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crmbridge/internal/auth"
	"crmbridge/internal/metrics"
	"crmbridge/internal/storage"
)

// ErrNotConnected is returned when a gateway call is made with no stored
// credential. The user must complete the authorization flow first.
var ErrNotConnected = errors.New("not connected to CRM")

// APIError is a non-2xx response from a CRM API call after at most one
// refresh-and-retry. Body carries the raw response; Message is the provider's
// error message when one could be extracted.
type APIError struct {
	StatusCode int
	Body       json.RawMessage
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("CRM API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("CRM API error (status %d)", e.StatusCode)
}

// Refresher mints a fresh access token when the stored one is rejected.
type Refresher interface {
	Refresh(ctx context.Context) (*auth.Authorization, error)
}

// Gateway issues authenticated requests against the connected CRM instance.
// A 401 response triggers exactly one token refresh and one retry; a second
// failure propagates without another refresh so a fully revoked credential
// cannot cause a refresh loop.
type Gateway struct {
	store      storage.CredentialStore
	refresher  Refresher
	client     *http.Client
	apiVersion string
	logger     *log.Logger
}

// NewGateway creates a Gateway. client may be nil, in which case
// http.DefaultClient is used.
func NewGateway(store storage.CredentialStore, refresher Refresher, client *http.Client, apiVersion string, logger *log.Logger) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		store:      store,
		refresher:  refresher,
		client:     client,
		apiVersion: apiVersion,
		logger:     logger,
	}
}

// Call issues an authenticated JSON request against instanceURL+endpoint and
// returns the raw response body. body may be nil for bodiless methods.
func (g *Gateway) Call(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	cred, err := g.store.Current(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoCredential) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body for %s: %w", endpoint, err)
		}
	}

	status, respBody, err := g.do(ctx, method, cred.InstanceURL, endpoint, cred.AccessToken, payload)
	if err != nil {
		return nil, err
	}

	// 401 almost certainly means the access token expired. Refresh once and
	// reissue with the new token against the (possibly migrated) instance.
	if status == http.StatusUnauthorized {
		authz, err := g.refresher.Refresh(ctx)
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("refreshing token after 401 from %s: %w", endpoint, err)
		}
		metrics.TokenRefreshes.WithLabelValues("success").Inc()
		g.logger.Printf("Access token refreshed after 401 from %s", endpoint)

		status, respBody, err = g.do(ctx, method, authz.InstanceURL, endpoint, authz.AccessToken, payload)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, apiErrorFromBody(status, respBody)
	}
	if status == http.StatusNoContent || len(respBody) == 0 {
		return nil, nil
	}
	return json.RawMessage(respBody), nil
}

// Query runs a SOQL query through the provider's query route.
func (g *Gateway) Query(ctx context.Context, soql string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("/services/data/%s/query?q=%s", g.apiVersion, url.QueryEscape(soql))
	return g.Call(ctx, http.MethodGet, endpoint, nil)
}

// Describe fetches the schema description of a CRM object.
func (g *Gateway) Describe(ctx context.Context, objectName string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("/services/data/%s/sobjects/%s/describe", g.apiVersion, url.PathEscape(objectName))
	return g.Call(ctx, http.MethodGet, endpoint, nil)
}

// do performs a single request attempt and returns the status and body.
func (g *Gateway) do(ctx context.Context, method, instanceURL, endpoint, accessToken string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, instanceURL+endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("calling %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	metrics.APIRequestDuration.Observe(time.Since(start).Seconds())
	metrics.APIRequests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}
	return resp.StatusCode, body, nil
}

// apiErrorFromBody extracts the provider's error message where possible. The
// CRM reports errors as either [{"message":...,"errorCode":...}] or a single
// object; anything else is kept raw.
func apiErrorFromBody(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: json.RawMessage(body)}

	var list []struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		apiErr.Message = list[0].Message
		return apiErr
	}

	var single struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &single); err == nil {
		if single.Message != "" {
			apiErr.Message = single.Message
		} else if single.Error != "" {
			apiErr.Message = single.Error
		}
	}
	return apiErr
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
