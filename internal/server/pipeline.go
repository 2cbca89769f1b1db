package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/MozzzieStudio/CinemaOS/internal/credits"
	"github.com/MozzzieStudio/CinemaOS/internal/imaging"
	"github.com/MozzzieStudio/CinemaOS/internal/promptctx"
	"github.com/MozzzieStudio/CinemaOS/internal/provider"
	"github.com/MozzzieStudio/CinemaOS/internal/vault"
	"github.com/MozzzieStudio/CinemaOS/internal/worker"
)

// ContextSpec selects a Vault token to fold into the prompt.
type ContextSpec struct {
	TokenType      string `json:"token_type"`
	TokenName      string `json:"token_name"`
	IncludeVisuals bool   `json:"include_visuals"`
}

// SaveSpec asks the pipeline to persist the generated image.
type SaveSpec struct {
	Enabled     bool   `json:"enabled"`
	TokenType   string `json:"token_type"`
	TokenName   string `json:"token_name"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
}

// GenerateRequest is the /api/generate request body.
type GenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Model          string  `json:"model"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           *int64  `json:"seed"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`

	// SourceImage carries a base64 PNG (raw or data URI) for i2i.
	SourceImage string `json:"source_image"`

	Context *ContextSpec `json:"context"`
	Save    *SaveSpec    `json:"save"`
}

// GenerateResponse is the /api/generate response body.
type GenerateResponse struct {
	Image    string `json:"image"` // base64 PNG
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	CreditsUsed    string `json:"credits_used"`
	SessionCredits string `json:"session_credits"`
	ReportStatus   string `json:"report_status"`

	PromptContext      string `json:"prompt_context,omitempty"`
	StylePrompt        string `json:"style_prompt,omitempty"`
	ReferenceImagePath string `json:"reference_image_path,omitempty"`

	AssetID string `json:"asset_id,omitempty"`
}

// pipelineJob runs one generation request end to end on a worker:
// render context, dispatch generation, charge credits, save the asset.
// The steps are sequential within the job; only the dispatch step can fail
// the request.
type pipelineJob struct {
	srv  *Server
	ctx  context.Context
	req  *GenerateRequest
	done chan pipelineResult
}

type pipelineResult struct {
	resp *GenerateResponse
	err  error
}

// Error implements worker.Result; pipeline errors surface to the HTTP
// handler, not the pool logger.
func (r pipelineResult) Error() error {
	return nil
}

// Execute implements worker.Job.
func (j *pipelineJob) Execute(ctx context.Context) worker.Result {
	resp, err := j.srv.runPipeline(j.ctx, j.req)
	result := pipelineResult{resp: resp, err: err}
	j.done <- result
	return result
}

// runPipeline performs the sequential steps of one generation request.
func (s *Server) runPipeline(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	// 1. Optional context retrieval. A missing token or offline Vault
	// resolves to empty fragments, never a failure.
	var rendered promptctx.RenderedContext
	if req.Context != nil && req.Context.TokenName != "" {
		tok := s.vault.FetchToken(ctx, req.Context.TokenType, req.Context.TokenName)
		rendered = promptctx.Render(req.Context.TokenType, tok, req.Context.IncludeVisuals)
	}

	prompt := composePrompt(rendered, req.Prompt)

	seed := int64(provider.SeedUnset)
	if req.Seed != nil {
		seed = *req.Seed
	}

	genReq := &provider.Request{
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           seed,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
	}

	if req.SourceImage != "" {
		img, err := decodeSourceImage(req.SourceImage)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", provider.ErrInvalidRequest, err)
		}
		genReq.SourceImage = img
	}

	// 2. Dispatch. The only loud step.
	result, err := s.gateway.Dispatch(ctx, req.Model, genReq)
	if err != nil {
		return nil, err
	}

	// 3. Charge credits. Degrades to local_only/offline, never fails.
	total, status := s.ledger.Charge(ctx, credits.Charge{
		Credits:   fmt.Sprintf("%.4f", result.Credits),
		Model:     req.Model,
		ProjectID: s.projectID,
	})

	resp := &GenerateResponse{
		Width:              result.Image.Width,
		Height:             result.Image.Height,
		Provider:           result.Provider,
		Model:              result.Model,
		CreditsUsed:        fmt.Sprintf("%.4f", result.Credits),
		SessionCredits:     fmt.Sprintf("%.4f", total),
		ReportStatus:       string(status),
		PromptContext:      rendered.Prompt,
		StylePrompt:        rendered.Style,
		ReferenceImagePath: rendered.ReferencePath,
	}

	pngData, err := imaging.EncodePNG(result.Image)
	if err != nil {
		return nil, &provider.UpstreamError{Provider: result.Provider, Message: "encode result image", Err: err}
	}
	resp.Image = base64.StdEncoding.EncodeToString(pngData)

	// 4. Optional persistence. Remote failure falls back to local disk;
	// only a failed local write aborts the save, and even that does not
	// invalidate the generation itself.
	if req.Save != nil && req.Save.Enabled {
		assetID, err := s.vault.UploadAsset(ctx, &vault.Asset{
			PNG:         pngData,
			TokenType:   req.Save.TokenType,
			TokenName:   req.Save.TokenName,
			Description: req.Save.Description,
			Tags:        vault.SplitTags(req.Save.Tags),
		})
		if err != nil {
			s.logger.Error("Asset persistence failed after generation",
				"model", req.Model,
				"error", err,
			)
		} else {
			resp.AssetID = assetID
		}
	}

	return resp, nil
}

// composePrompt folds the rendered context around the user prompt: context
// fragments lead, style guidance trails.
func composePrompt(rendered promptctx.RenderedContext, prompt string) string {
	parts := make([]string, 0, 3)
	if rendered.Prompt != "" {
		parts = append(parts, rendered.Prompt)
	}
	if prompt != "" {
		parts = append(parts, prompt)
	}
	if rendered.Style != "" {
		parts = append(parts, rendered.Style)
	}
	return strings.Join(parts, ", ")
}

// decodeSourceImage accepts a raw base64 PNG or a data URI and decodes it
// into the raster representation.
func decodeSourceImage(encoded string) (*imaging.Image, error) {
	var data []byte
	var err error
	if strings.HasPrefix(encoded, "data:") {
		data, err = imaging.FromDataURI(encoded)
	} else {
		data, err = base64.StdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, errors.New("source_image is not valid base64")
	}

	img, err := imaging.Decode(data)
	if err != nil {
		return nil, errors.New("source_image is not a decodable image")
	}
	return img, nil
}
