package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"crmbridge/internal/auth"
	"crmbridge/internal/crm"
	"crmbridge/internal/metrics"
)

//
// Authorization Flow Handlers
//

// handleAuth initiates the OAuth2 flow by redirecting the browser to the
// provider's consent page.
func (a *Application) handleAuth(w http.ResponseWriter, r *http.Request) {
	authURL, err := a.Auth.AuthorizeURL()
	if err != nil {
		a.Logger.Printf("Failed to build authorize URL: %v", err)
		http.Error(w, "Failed to start authorization", http.StatusInternalServerError)
		return
	}

	metrics.AuthFlowsStarted.Inc()
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

// handleAuthCallback handles the redirect from the provider after consent.
// It exchanges the authorization code for tokens and stores the credential.
func (a *Application) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		a.Logger.Printf("Provider denied authorization: %s (%s)", errCode, q.Get("error_description"))
		metrics.AuthFlowsCompleted.WithLabelValues("denied").Inc()
		http.Error(w, "Authorization was denied by the provider", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Invalid request: missing code or state", http.StatusBadRequest)
		return
	}

	if err := a.Auth.HandleCallback(r.Context(), state, code); err != nil {
		a.Logger.Printf("Auth callback error: %v", err)
		if errors.Is(err, auth.ErrInvalidState) {
			metrics.AuthFlowsCompleted.WithLabelValues("invalid_state").Inc()
			http.Error(w, "Authorization attempt expired or unknown; please start over", http.StatusBadRequest)
			return
		}
		metrics.AuthFlowsCompleted.WithLabelValues("failure").Inc()
		http.Error(w, "Authentication failed", http.StatusInternalServerError)
		return
	}

	metrics.AuthFlowsCompleted.WithLabelValues("success").Inc()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleDisconnect deletes the stored credential.
func (a *Application) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := a.Auth.Disconnect(r.Context()); err != nil {
		a.Logger.Printf("Disconnect error: %v", err)
		http.Error(w, "Failed to disconnect", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

//
// Application Handlers
//

// handleDashboard shows the connection status.
func (a *Application) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	connected, err := a.Storage.Exists(r.Context())
	if err != nil {
		a.Logger.Printf("Failed to check connection status: %v", err)
		http.Error(w, "Failed to load status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if connected {
		fmt.Fprint(w, `<html><body><h1>CRM Bridge</h1><p>Status: connected</p>`+
			`<form method="post" action="/disconnect"><button type="submit">Disconnect</button></form>`+
			`</body></html>`)
		return
	}
	fmt.Fprint(w, `<html><body><h1>CRM Bridge</h1><p>Status: not connected</p>`+
		`<p><a href="/auth">Connect to CRM</a></p></body></html>`)
}

// handleQuery proxies a SOQL query through the gateway.
func (a *Application) handleQuery(w http.ResponseWriter, r *http.Request) {
	soql := r.URL.Query().Get("q")
	if soql == "" {
		http.Error(w, "Missing query parameter q", http.StatusBadRequest)
		return
	}

	result, err := a.Gateway.Query(r.Context(), soql)
	if err != nil {
		a.writeGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

// handleDescribe proxies an object schema describe through the gateway.
func (a *Application) handleDescribe(w http.ResponseWriter, r *http.Request) {
	objectName := strings.TrimPrefix(r.URL.Path, "/api/describe/")
	if objectName == "" || strings.Contains(objectName, "/") {
		http.Error(w, "Missing or invalid object name", http.StatusBadRequest)
		return
	}

	result, err := a.Gateway.Describe(r.Context(), objectName)
	if err != nil {
		a.writeGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

// writeGatewayError maps gateway failures to HTTP responses. RefreshRejected
// and InvalidState are never retried here; both require a fresh /auth flow.
func (a *Application) writeGatewayError(w http.ResponseWriter, err error) {
	var apiErr *crm.APIError
	var rejected *auth.RefreshRejectedError

	switch {
	case errors.Is(err, crm.ErrNotConnected):
		http.Error(w, "Not connected to CRM; visit /auth to connect", http.StatusUnauthorized)
	case errors.As(err, &rejected):
		a.Logger.Printf("Refresh rejected: %v", err)
		http.Error(w, "CRM credential revoked; re-authorization required", http.StatusBadGateway)
	case errors.As(err, &apiErr):
		a.Logger.Printf("CRM API error: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		if len(apiErr.Body) > 0 {
			w.Write(apiErr.Body)
		}
	default:
		a.Logger.Printf("Gateway error: %v", err)
		http.Error(w, "CRM request failed", http.StatusInternalServerError)
	}
}
