package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MozzzieStudio/CinemaOS/internal/httputil"
	"github.com/MozzzieStudio/CinemaOS/internal/imaging"
	"github.com/MozzzieStudio/CinemaOS/internal/logger"
)

const (
	falDefaultBaseURL = "https://fal.run"
	falDefaultCost    = 0.01

	// Provider calls block for the full diffusion run, not just a round trip.
	falRequestTimeout = 120 * time.Second

	maxImageDownloadBytes = 64 * 1024 * 1024
)

// falEndpoints maps logical model names to Fal.ai endpoint identifiers.
var falEndpoints = map[string]string{
	"flux-2-pro":       "fal-ai/flux-2/pro",
	"flux-1.1-pro":     "fal-ai/flux-pro/v1.1",
	"flux-schnell":     "fal-ai/flux/schnell",
	"kling-v2.5-turbo": "fal-ai/kling-video/v2.5/turbo/image-to-video",
	"seedream-4.5":     "fal-ai/seedream/v4.5",
}

// falLegacyAliases are older model names kept for callers that predate the
// versioned identifiers. Kept deliberately small: new identifiers fail closed.
var falLegacyAliases = map[string]string{
	"flux-pro": "fal-ai/flux-pro/v1.1",
	"flux-dev": "fal-ai/flux/dev",
}

// falBaseCosts holds per-model base cost in credits at the reference
// resolution. Best-effort values; not billing ground truth.
var falBaseCosts = map[string]float64{
	"flux-2-pro":       0.05,
	"flux-1.1-pro":     0.04,
	"flux-pro":         0.04, // same endpoint as flux-1.1-pro
	"flux-dev":         0.025,
	"flux-schnell":     0.003,
	"kling-v2.5-turbo": 0.08, // per second of video
	"seedream-4.5":     0.02,
}

// FalAdapter generates images via the Fal.ai serverless API.
type FalAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewFalAdapter creates a Fal.ai adapter. An empty apiKey is allowed at
// construction time; Generate fails with a ConfigurationError when called
// without one so that estimation-only use keeps working.
func NewFalAdapter(apiKey string, logger *slog.Logger) *FalAdapter {
	return &FalAdapter{
		apiKey:  apiKey,
		baseURL: falDefaultBaseURL,
		client:  httputil.NewClient(&httputil.ClientConfig{Timeout: falRequestTimeout}),
		logger:  logger,
	}
}

// SetBaseURL overrides the API base URL. Used by tests.
func (a *FalAdapter) SetBaseURL(url string) {
	a.baseURL = url
}

// Name returns the adapter identifier.
func (a *FalAdapter) Name() string {
	return "fal"
}

// Supports reports whether the model maps to a Fal endpoint.
func (a *FalAdapter) Supports(model string) bool {
	_, err := a.resolveEndpoint(model)
	return err == nil
}

// Models returns the logical model names this adapter claims.
func (a *FalAdapter) Models() []string {
	names := make([]string, 0, len(falEndpoints)+len(falLegacyAliases))
	for name := range falEndpoints {
		names = append(names, name)
	}
	for name := range falLegacyAliases {
		names = append(names, name)
	}
	return names
}

// resolveEndpoint maps a logical model name to a Fal endpoint identifier.
// Unknown models fail closed; only the documented legacy aliases fall back.
func (a *FalAdapter) resolveEndpoint(model string) (string, error) {
	if endpoint, ok := falEndpoints[model]; ok {
		return endpoint, nil
	}
	if endpoint, ok := falLegacyAliases[model]; ok {
		return endpoint, nil
	}
	return "", &UnsupportedModelError{Model: model, Provider: "fal"}
}

// falImageSize is the width/height object in a Fal request payload.
type falImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// falRequest is the outbound Fal.ai request payload.
type falRequest struct {
	Prompt            string       `json:"prompt"`
	ImageSize         falImageSize `json:"image_size"`
	NumInferenceSteps int          `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64      `json:"guidance_scale,omitempty"`
	NegativePrompt    string       `json:"negative_prompt,omitempty"`
	Seed              *int64       `json:"seed,omitempty"`
	ImageURL          string       `json:"image_url,omitempty"`
}

// falResponse is the subset of the Fal.ai response the gateway consumes.
type falResponse struct {
	Images []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"images"`
}

// Generate executes one generation call against Fal.ai.
func (a *FalAdapter) Generate(ctx context.Context, req *Request) (*Result, error) {
	if a.apiKey == "" {
		return nil, &ConfigurationError{Provider: "fal", Reason: "FAL_API_KEY environment variable not set"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := a.resolveEndpoint(req.Model)
	if err != nil {
		return nil, err
	}

	payload := falRequest{
		Prompt:            req.Prompt,
		ImageSize:         falImageSize{Width: req.Width, Height: req.Height},
		NumInferenceSteps: req.Steps,
		GuidanceScale:     req.GuidanceScale,
		NegativePrompt:    req.NegativePrompt,
	}
	if req.Seed >= 0 {
		seed := req.Seed
		payload.Seed = &seed
	}
	if req.SourceImage != nil {
		pngData, err := imaging.EncodePNG(req.SourceImage)
		if err != nil {
			return nil, fmt.Errorf("fal: encode source image: %w", err)
		}
		payload.ImageURL = imaging.DataURI(pngData)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("fal: marshal request: %w", err)
	}

	url := a.baseURL + "/" + endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fal: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Key "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	a.logger.Debug("Dispatching generation to Fal.ai",
		"model", req.Model,
		"endpoint", endpoint,
		"width", req.Width,
		"height", req.Height,
		"payload", logger.TruncateLongFields(string(body), 200),
	)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: "fal", Message: "request failed", Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			a.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownloadBytes))
	if err != nil {
		return nil, &UpstreamError{Provider: "fal", Message: "read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Provider:   "fal",
			StatusCode: resp.StatusCode,
			Message:    httputil.SafeStringPreview(respBody, 200),
		}
	}

	var parsed falResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &UpstreamError{Provider: "fal", Message: "parse response", Err: err}
	}

	if len(parsed.Images) == 0 || parsed.Images[0].URL == "" {
		return nil, &UpstreamError{Provider: "fal", Message: "no image returned"}
	}

	img, err := a.fetchImage(ctx, parsed.Images[0].URL)
	if err != nil {
		return nil, err
	}

	return &Result{
		Image:    img,
		Credits:  a.EstimateCredits(req.Model, req.Width, req.Height),
		Provider: a.Name(),
		Model:    req.Model,
	}, nil
}

// fetchImage downloads a provider-returned image URL and decodes it.
func (a *FalAdapter) fetchImage(ctx context.Context, url string) (*imaging.Image, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fal: create image request: %w", err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: "fal", Message: "fetch output image", Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			a.logger.Debug("Failed to close image response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: "fal", StatusCode: resp.StatusCode, Message: "fetch output image"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownloadBytes))
	if err != nil {
		return nil, &UpstreamError{Provider: "fal", Message: "read output image", Err: err}
	}

	img, err := imaging.Decode(data)
	if err != nil {
		return nil, &UpstreamError{Provider: "fal", Message: "decode output image", Err: err}
	}
	return img, nil
}

// EstimateCredits scales the per-model base cost linearly by pixel count
// relative to the reference resolution. Unknown models use a fixed default
// base rather than failing.
func (a *FalAdapter) EstimateCredits(model string, width, height int) float64 {
	base, ok := falBaseCosts[model]
	if !ok {
		base = falDefaultCost
	}
	return scaleByResolution(base, width, height)
}
