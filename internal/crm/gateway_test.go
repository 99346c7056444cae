package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmbridge/internal/auth"
	"crmbridge/internal/storage"
)

// fakeStore is a minimal in-memory CredentialStore for gateway tests.
type fakeStore struct {
	mu   sync.Mutex
	cred *storage.Credential
}

func (f *fakeStore) Replace(ctx context.Context, at, rt, instanceURL string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cred = &storage.Credential{ID: 1, AccessToken: at, RefreshToken: rt, InstanceURL: instanceURL, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	return 1, nil
}

func (f *fakeStore) Current(ctx context.Context) (*storage.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return nil, storage.ErrNoCredential
	}
	copy := *f.cred
	return &copy, nil
}

func (f *fakeStore) UpdateAccessToken(ctx context.Context, id int64, at string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return storage.ErrNoCredential
	}
	f.cred.AccessToken = at
	return nil
}

func (f *fakeStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cred = nil
	return nil
}

func (f *fakeStore) Exists(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred != nil, nil
}

// fakeRefresher counts invocations and hands out a fresh token.
type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	authz *auth.Authorization
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*auth.Authorization, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.authz, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func gwLogger() *log.Logger {
	return log.New(os.Stdout, "test: ", log.LstdFlags)
}

func connectedStore(instanceURL string) *fakeStore {
	store := &fakeStore{}
	store.Replace(context.Background(), "AT-stale", "RT1", instanceURL)
	return store
}

func TestGateway_Call_NotConnected(t *testing.T) {
	gw := NewGateway(&fakeStore{}, &fakeRefresher{}, nil, "v60.0", gwLogger())

	_, err := gw.Call(context.Background(), http.MethodGet, "/services/data/v60.0/limits", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestGateway_Call_Success(t *testing.T) {
	var gotAuth, gotContentType, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"records": []}`)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	refresher := &fakeRefresher{}
	gw := NewGateway(store, refresher, server.Client(), "v60.0", gwLogger())

	body, err := gw.Call(context.Background(), http.MethodGet, "/services/data/v60.0/limits", nil)
	require.NoError(t, err)

	assert.JSONEq(t, `{"records": []}`, string(body))
	assert.Equal(t, "Bearer AT-stale", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "/services/data/v60.0/limits", gotPath)
	assert.Equal(t, 0, refresher.callCount())
}

func TestGateway_Call_RetryOn401(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `[{"message": "Session expired or invalid", "errorCode": "INVALID_SESSION_ID"}]`)
			return
		}
		assert.Equal(t, "Bearer AT-fresh", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"records": [{"Id": "001"}]}`)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	refresher := &fakeRefresher{authz: &auth.Authorization{AccessToken: "AT-fresh", InstanceURL: server.URL}}
	gw := NewGateway(store, refresher, server.Client(), "v60.0", gwLogger())

	body, err := gw.Call(context.Background(), http.MethodGet, "/services/data/v60.0/limits", nil)
	require.NoError(t, err)

	assert.JSONEq(t, `{"records": [{"Id": "001"}]}`, string(body))
	assert.Equal(t, 1, refresher.callCount(), "exactly one refresh per 401")
	assert.Equal(t, 2, attempts)
}

func TestGateway_Call_401TwiceNoSecondRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `[{"message": "Session expired or invalid", "errorCode": "INVALID_SESSION_ID"}]`)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	refresher := &fakeRefresher{authz: &auth.Authorization{AccessToken: "AT-fresh", InstanceURL: server.URL}}
	gw := NewGateway(store, refresher, server.Client(), "v60.0", gwLogger())

	_, err := gw.Call(context.Background(), http.MethodGet, "/services/data/v60.0/limits", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Session expired or invalid", apiErr.Message)
	assert.Equal(t, 1, refresher.callCount(), "no second refresh attempt")
}

func TestGateway_Call_RefreshRejectedPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	rejection := &auth.RefreshRejectedError{Code: "invalid_grant", Description: "token revoked"}
	refresher := &fakeRefresher{err: rejection}
	gw := NewGateway(store, refresher, server.Client(), "v60.0", gwLogger())

	_, err := gw.Call(context.Background(), http.MethodGet, "/services/data/v60.0/limits", nil)

	var rejected *auth.RefreshRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "invalid_grant", rejected.Code)
}

func TestGateway_Call_NonAuthErrorNoRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `[{"message": "unexpected token: LIMIT", "errorCode": "MALFORMED_QUERY"}]`)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	refresher := &fakeRefresher{}
	gw := NewGateway(store, refresher, server.Client(), "v60.0", gwLogger())

	_, err := gw.Call(context.Background(), http.MethodGet, "/services/data/v60.0/query", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "unexpected token: LIMIT", apiErr.Message)
	assert.Equal(t, 0, refresher.callCount())
}

func TestGateway_Call_PostBody(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "001xx000003DGb2AAG", "success": true}`)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	gw := NewGateway(store, &fakeRefresher{}, server.Client(), "v60.0", gwLogger())

	body, err := gw.Call(context.Background(), http.MethodPost,
		"/services/data/v60.0/sobjects/Account", map[string]string{"Name": "Acme"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"Name": "Acme"}, gotBody)
	assert.JSONEq(t, `{"id": "001xx000003DGb2AAG", "success": true}`, string(body))
}

func TestGateway_Call_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	gw := NewGateway(store, &fakeRefresher{}, server.Client(), "v60.0", gwLogger())

	body, err := gw.Call(context.Background(), http.MethodDelete,
		"/services/data/v60.0/sobjects/Account/001xx000003DGb2AAG", nil)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestGateway_Query_BuildsEndpoint(t *testing.T) {
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalSize": 0, "records": []}`)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	gw := NewGateway(store, &fakeRefresher{}, server.Client(), "v60.0", gwLogger())

	_, err := gw.Query(context.Background(), "SELECT Id FROM Account WHERE Name = 'Acme'")
	require.NoError(t, err)

	assert.Equal(t, "/services/data/v60.0/query?q=SELECT+Id+FROM+Account+WHERE+Name+%3D+%27Acme%27", gotURL)
}

func TestGateway_Describe_BuildsEndpoint(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name": "Contact", "fields": []}`)
	}))
	defer server.Close()

	store := connectedStore(server.URL)
	gw := NewGateway(store, &fakeRefresher{}, server.Client(), "v60.0", gwLogger())

	_, err := gw.Describe(context.Background(), "Contact")
	require.NoError(t, err)

	assert.Equal(t, "/services/data/v60.0/sobjects/Contact/describe", gotPath)
}
