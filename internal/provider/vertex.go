package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MozzzieStudio/CinemaOS/internal/httputil"
	"github.com/MozzzieStudio/CinemaOS/internal/imaging"
	"github.com/MozzzieStudio/CinemaOS/internal/logger"
	"github.com/MozzzieStudio/CinemaOS/internal/provider/vertexauth"
)

const (
	vertexDefaultCost   = 0.02
	vertexCallTimeout   = 120 * time.Second
	vertexDefaultRegion = "us-central1"
)

// vertexBaseCosts holds flat per-image base costs. Imagen pricing is
// per-image regardless of resolution.
var vertexBaseCosts = map[string]float64{
	"imagen-4":      0.04,
	"imagen-4-fast": 0.02,
	"veo-3.1":       0.50, // per second of video; video path is not served
}

// vertexImageModels is the closed set of models the adapter dispatches.
// Veo video models are known but fail closed until video output handling
// lands (see VaultSave pipeline).
var vertexImageModels = map[string]bool{
	"imagen-4":      true,
	"imagen-4-fast": true,
}

// VertexConfig carries the environment-derived settings for the adapter.
type VertexConfig struct {
	ProjectID       string
	Location        string
	CredentialsFile string
	CredentialsJSON string
}

// VertexAdapter generates images via Google Vertex AI Imagen models using the
// publisher :predict REST contract.
type VertexAdapter struct {
	cfg     VertexConfig
	tokens  *vertexauth.TokenManager
	client  *http.Client
	logger  *slog.Logger
	baseURL string // test override; empty means the regional endpoint

	// staticToken bypasses OAuth in tests.
	staticToken string
}

// NewVertexAdapter creates a Vertex AI adapter. Missing project settings are
// tolerated at construction; Generate fails with a ConfigurationError.
func NewVertexAdapter(cfg VertexConfig, logger *slog.Logger) *VertexAdapter {
	if cfg.Location == "" {
		cfg.Location = vertexDefaultRegion
	}
	return &VertexAdapter{
		cfg:    cfg,
		tokens: vertexauth.NewTokenManager(logger),
		client: httputil.NewClient(&httputil.ClientConfig{Timeout: vertexCallTimeout}),
		logger: logger,
	}
}

// SetBaseURL overrides the regional endpoint. Used by tests.
func (a *VertexAdapter) SetBaseURL(url string) {
	a.baseURL = url
}

// SetStaticToken installs a fixed bearer token, bypassing OAuth. Used by tests.
func (a *VertexAdapter) SetStaticToken(token string) {
	a.staticToken = token
}

// Name returns the adapter identifier.
func (a *VertexAdapter) Name() string {
	return "vertex"
}

// Supports reports whether the model is a known Vertex model, including the
// veo family so that routing sends those here (and fails closed with a clear
// error) instead of reporting no adapter at all.
func (a *VertexAdapter) Supports(model string) bool {
	if vertexImageModels[model] {
		return true
	}
	return strings.HasPrefix(model, "veo-")
}

// Models returns the logical model names this adapter claims.
func (a *VertexAdapter) Models() []string {
	names := make([]string, 0, len(vertexImageModels)+1)
	for name := range vertexImageModels {
		names = append(names, name)
	}
	names = append(names, "veo-3.1")
	return names
}

// vertexPredictRequest is the Imagen :predict request body.
type vertexPredictRequest struct {
	Instances  []vertexInstance `json:"instances"`
	Parameters vertexParameters `json:"parameters"`
}

type vertexInstance struct {
	Prompt string       `json:"prompt"`
	Image  *vertexImage `json:"image,omitempty"`
}

type vertexImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type vertexParameters struct {
	SampleCount    int    `json:"sampleCount"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

// vertexPredictResponse is the subset of the :predict response the gateway
// consumes.
type vertexPredictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
	} `json:"predictions"`
}

// Generate executes one generation call against Vertex AI.
func (a *VertexAdapter) Generate(ctx context.Context, req *Request) (*Result, error) {
	if a.cfg.ProjectID == "" {
		return nil, &ConfigurationError{Provider: "vertex", Reason: "GOOGLE_CLOUD_PROJECT environment variable not set"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Veo needs video output handling; fail closed rather than guess.
	if strings.HasPrefix(req.Model, "veo-") {
		return nil, &UnsupportedModelError{Model: req.Model, Provider: "vertex"}
	}
	if !vertexImageModels[req.Model] {
		return nil, &UnsupportedModelError{Model: req.Model, Provider: "vertex"}
	}

	token := a.staticToken
	if token == "" {
		var err error
		token, err = a.tokens.AccessToken(ctx, a.cfg.CredentialsFile, a.cfg.CredentialsJSON)
		if err != nil {
			return nil, &ConfigurationError{Provider: "vertex", Reason: err.Error()}
		}
	}

	payload := vertexPredictRequest{
		Instances: []vertexInstance{{Prompt: req.Prompt}},
		Parameters: vertexParameters{
			SampleCount:    1,
			AspectRatio:    aspectRatio(req.Width, req.Height),
			NegativePrompt: req.NegativePrompt,
		},
	}
	if req.Seed >= 0 {
		seed := req.Seed
		payload.Parameters.Seed = &seed
	}
	if req.SourceImage != nil {
		pngData, err := imaging.EncodePNG(req.SourceImage)
		if err != nil {
			return nil, fmt.Errorf("vertex: encode source image: %w", err)
		}
		payload.Instances[0].Image = &vertexImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(pngData),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vertex: marshal request: %w", err)
	}

	url := a.predictURL(req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vertex: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	a.logger.Debug("Dispatching generation to Vertex AI",
		"model", req.Model,
		"project", a.cfg.ProjectID,
		"location", a.cfg.Location,
		"aspect_ratio", payload.Parameters.AspectRatio,
		"payload", logger.TruncateLongFields(string(body), 200),
	)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: "vertex", Message: "request failed", Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			a.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownloadBytes))
	if err != nil {
		return nil, &UpstreamError{Provider: "vertex", Message: "read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Provider:   "vertex",
			StatusCode: resp.StatusCode,
			Message:    httputil.SafeStringPreview(respBody, 200),
		}
	}

	var parsed vertexPredictResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &UpstreamError{Provider: "vertex", Message: "parse response", Err: err}
	}

	if len(parsed.Predictions) == 0 || parsed.Predictions[0].BytesBase64Encoded == "" {
		return nil, &UpstreamError{Provider: "vertex", Message: "no image returned"}
	}

	imgData, err := base64.StdEncoding.DecodeString(parsed.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, &UpstreamError{Provider: "vertex", Message: "decode base64 image", Err: err}
	}

	img, err := imaging.Decode(imgData)
	if err != nil {
		return nil, &UpstreamError{Provider: "vertex", Message: "decode output image", Err: err}
	}

	return &Result{
		Image:    img,
		Credits:  a.EstimateCredits(req.Model, req.Width, req.Height),
		Provider: a.Name(),
		Model:    req.Model,
	}, nil
}

// predictURL builds the publisher model :predict endpoint.
func (a *VertexAdapter) predictURL(model string) string {
	base := a.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", a.cfg.Location)
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		base, a.cfg.ProjectID, a.cfg.Location, model)
}

// aspectRatio converts pixel dimensions to the closest Imagen aspect ratio
// string.
func aspectRatio(width, height int) string {
	ratio := float64(width) / float64(height)
	switch {
	case ratio > 1.6:
		return "16:9"
	case ratio < 0.6:
		return "9:16"
	case ratio > 1.2:
		return "4:3"
	case ratio < 0.8:
		return "3:4"
	default:
		return "1:1"
	}
}

// EstimateCredits returns the flat per-image base cost for the model.
// Imagen bills per image, so the estimate does not shrink at lower
// resolutions; unknown models use a fixed default base.
func (a *VertexAdapter) EstimateCredits(model string, width, height int) float64 {
	base, ok := vertexBaseCosts[model]
	if !ok {
		base = vertexDefaultCost
	}
	return base
}
