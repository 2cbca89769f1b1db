// Package vertexauth manages OAuth2 access tokens for Vertex AI calls from a
// service-account credential, refreshing them ahead of expiry.
package vertexauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenManager caches the OAuth2 token for the gateway's Vertex credential
// and refreshes it shortly before expiry.
type TokenManager struct {
	mu           sync.Mutex
	token        *oauth2.Token
	tokenSource  oauth2.TokenSource
	logger       *slog.Logger
	refreshAhead time.Duration
}

// NewTokenManager creates a token manager.
func NewTokenManager(logger *slog.Logger) *TokenManager {
	return &TokenManager{
		logger:       logger,
		refreshAhead: 5 * time.Minute, // Refresh 5 minutes before expiry
	}
}

// AccessToken returns a valid OAuth2 access token, loading the service
// account from credentialsFile (or the raw JSON if credentialsJSON is set)
// on first use.
func (tm *TokenManager) AccessToken(ctx context.Context, credentialsFile, credentialsJSON string) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != nil {
		if time.Now().Before(tm.token.Expiry.Add(-tm.refreshAhead)) {
			return tm.token.AccessToken, nil
		}

		// Token expired or about to expire, refresh it
		tm.logger.Debug("Refreshing Vertex AI token", "expires_at", tm.token.Expiry)
		newToken, err := tm.tokenSource.Token()
		if err != nil {
			tm.token = nil
			tm.tokenSource = nil
			return "", fmt.Errorf("refresh vertex token: %w", err)
		}
		tm.token = newToken
		tm.logger.Info("Vertex AI token refreshed", "expires_at", newToken.Expiry)
		return newToken.AccessToken, nil
	}

	var credBytes []byte
	var err error
	if credentialsFile != "" {
		credBytes, err = os.ReadFile(credentialsFile)
		if err != nil {
			return "", fmt.Errorf("read credentials file %s: %w", credentialsFile, err)
		}
	} else if credentialsJSON != "" {
		credBytes = []byte(credentialsJSON)
	} else {
		return "", fmt.Errorf("no vertex credentials provided")
	}

	// Parse and validate service account JSON
	var serviceAccount map[string]interface{}
	if err := json.Unmarshal(credBytes, &serviceAccount); err != nil {
		return "", fmt.Errorf("invalid service account JSON: %w", err)
	}
	if accountType, ok := serviceAccount["type"].(string); !ok || accountType != "service_account" {
		return "", fmt.Errorf("credentials must be for a service account, got type: %v", serviceAccount["type"])
	}

	creds, err := google.CredentialsFromJSON(ctx, credBytes, cloudPlatformScope)
	if err != nil {
		return "", fmt.Errorf("create credentials: %w", err)
	}

	token, err := creds.TokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("get initial token: %w", err)
	}

	tm.token = token
	tm.tokenSource = creds.TokenSource
	tm.logger.Info("Vertex AI token created", "expires_at", token.Expiry)

	return token.AccessToken, nil
}

// Clear drops the cached token. Used by tests and manual refresh.
func (tm *TokenManager) Clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = nil
	tm.tokenSource = nil
}
