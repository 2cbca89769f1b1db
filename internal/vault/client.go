package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MozzzieStudio/CinemaOS/internal/httputil"
	"github.com/MozzzieStudio/CinemaOS/internal/logger"
	"github.com/MozzzieStudio/CinemaOS/internal/monitoring"
)

const (
	fetchTimeout  = 5 * time.Second
	uploadTimeout = 30 * time.Second

	// LocalIDPrefix distinguishes locally-persisted asset ids from
	// server-assigned ones.
	LocalIDPrefix = "local:"

	defaultFallbackDir = "~/CinemaOS/outputs"

	maxTokenResponseBytes = 1 * 1024 * 1024
)

// Client wraps the two Vault operations, token fetch and asset upload, each
// with its own fallback policy. Vault unavailability never aborts a caller's
// workflow.
type Client struct {
	baseURL     string
	fallbackDir string
	fetchClient *http.Client
	saveClient  *http.Client
	cache       *TokenCache
	logger      *slog.Logger
	metrics     *monitoring.Metrics
}

// NewClient creates a Vault client. fallbackDir may start with "~/" and is
// expanded against the user's home directory; empty means the default
// ~/CinemaOS/outputs.
func NewClient(baseURL, fallbackDir string, cache *TokenCache, logger *slog.Logger, metrics *monitoring.Metrics) *Client {
	if fallbackDir == "" {
		fallbackDir = defaultFallbackDir
	}
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		fallbackDir: expandHome(fallbackDir),
		fetchClient: httputil.NewClient(&httputil.ClientConfig{Timeout: fetchTimeout}),
		saveClient:  httputil.NewClient(&httputil.ClientConfig{Timeout: uploadTimeout}),
		cache:       cache,
		logger:      logger,
		metrics:     metrics,
	}
}

// FallbackDir returns the expanded local fallback directory.
func (c *Client) FallbackDir() string {
	return c.fallbackDir
}

// InvalidateToken drops a cached token so the next fetch hits the Vault
// again. No-op without a cache.
func (c *Client) InvalidateToken(tokenType, tokenName string) {
	c.cache.Invalidate(tokenType, tokenName)
}

// FetchToken fetches a structured context record by type and name. It returns
// nil both when the token does not exist and when the Vault is unreachable:
// callers proceed with an empty prompt fragment either way and must not
// distinguish the two at this layer.
func (c *Client) FetchToken(ctx context.Context, tokenType, tokenName string) *ContextToken {
	if tokenName == "" {
		return nil
	}

	if c.cache != nil {
		if tok, ok := c.cache.Get(tokenType, tokenName); ok {
			c.metrics.RecordVaultFetch("cached")
			return tok
		}
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/tokens/%s/%s", c.baseURL, tokenType, tokenName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Error("Failed to create token fetch request", "error", err)
		c.metrics.RecordVaultFetch("offline")
		return nil
	}

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		c.logger.Debug("Vault unreachable for token fetch",
			"token_type", tokenType,
			"token_name", tokenName,
			"kind", string(httputil.ClassifyError(err)),
			"error", err,
		)
		c.metrics.RecordVaultFetch("offline")
		return nil
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close token response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Token not found in Vault",
			"token_type", tokenType,
			"token_name", tokenName,
			"status", resp.StatusCode,
		)
		c.metrics.RecordVaultFetch("miss")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		c.logger.Debug("Failed to read token response", "error", err)
		c.metrics.RecordVaultFetch("offline")
		return nil
	}

	var tok ContextToken
	if err := json.Unmarshal(body, &tok); err != nil {
		c.logger.Warn("Vault returned malformed token record",
			"token_type", tokenType,
			"token_name", tokenName,
			"error", err,
		)
		c.metrics.RecordVaultFetch("miss")
		return nil
	}

	if c.cache != nil {
		c.cache.Put(tokenType, tokenName, &tok)
	}
	c.metrics.RecordVaultFetch("hit")
	return &tok
}

// UploadAsset persists a generated asset. On success it returns the
// server-assigned id; on any remote failure (non-2xx or network error) it
// writes the asset to the local fallback directory and returns a
// "local:"-prefixed id. A failed local write is fatal for the save: there is
// no third fallback tier.
func (c *Client) UploadAsset(ctx context.Context, asset *Asset) (string, error) {
	suffix := uuid.NewString()[:8]
	filename := assetFilename(asset.TokenType, asset.TokenName, suffix)

	id, uploadErr := c.tryUpload(ctx, asset, filename)
	if uploadErr == nil {
		c.metrics.RecordVaultUpload("remote")
		c.logger.Info("Asset uploaded to Vault",
			"id", id,
			"filename", filename,
			"token_type", asset.TokenType,
			"token_name", asset.TokenName,
		)
		return id, nil
	}

	c.logger.Warn("Vault upload failed, falling back to local disk",
		"filename", filename,
		"failure", string(uploadFailureKind(uploadErr)),
		"error", uploadErr,
	)

	localPath := filepath.Join(c.fallbackDir, filename)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		c.metrics.RecordVaultUpload("failed")
		return "", fmt.Errorf("create fallback directory: %w", err)
	}
	if err := os.WriteFile(localPath, asset.PNG, 0o644); err != nil {
		c.metrics.RecordVaultUpload("failed")
		return "", fmt.Errorf("write fallback asset %s: %w", localPath, err)
	}

	c.metrics.RecordVaultUpload("local_fallback")
	c.logger.Info("Asset saved to local fallback",
		"path", localPath,
		"token_type", asset.TokenType,
		"token_name", asset.TokenName,
	)
	return LocalIDPrefix + suffix, nil
}

// tryUpload posts the asset to the Vault. Any 2xx response with an id counts
// as accepted; non-2xx responses come back as a *httputil.StatusError.
func (c *Client) tryUpload(ctx context.Context, asset *Asset, filename string) (string, error) {
	payload := uploadPayload{
		Filename:    filename,
		Data:        base64.StdEncoding.EncodeToString(asset.PNG),
		TokenType:   asset.TokenType,
		TokenName:   asset.TokenName,
		Description: asset.Description,
		Tags:        asset.Tags,
	}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal asset upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	url := c.baseURL + "/api/assets/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create asset upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Uploading asset to Vault",
		"filename", filename,
		"payload", logger.TruncateLongFields(string(body), 200),
	)

	resp, err := c.saveClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close upload response body", "error", closeErr)
		}
	}()

	if httputil.ClassifyStatus(resp.StatusCode) != httputil.FailureNone {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", &httputil.StatusError{
			StatusCode:  resp.StatusCode,
			BodyPreview: httputil.SafeStringPreview(preview, 200),
		}
	}

	var parsed uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.ID == "" {
		return "", errors.New("upload response missing id")
	}

	return parsed.ID, nil
}

// uploadFailureKind maps an upload error to the failure taxonomy used in the
// fallback log.
func uploadFailureKind(err error) httputil.FailureKind {
	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) {
		return httputil.FailureStatus
	}
	return httputil.ClassifyError(err)
}

// assetFilename derives the deterministic asset filename: token-linked assets
// carry their type and name, everything else gets a generic prefix.
func assetFilename(tokenType, tokenName, suffix string) string {
	if tokenName != "" {
		return fmt.Sprintf("%s_%s_%s.png", tokenType, tokenName, suffix)
	}
	return fmt.Sprintf("output_%s.png", suffix)
}

// SplitTags splits a free-text comma list into trimmed, non-empty tags.
func SplitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// expandHome expands a leading "~/" against the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
