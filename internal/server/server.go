// Package server exposes the generation gateway, credit ledger, and Vault
// client over HTTP, running each generation request through a bounded worker
// pool.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/MozzzieStudio/CinemaOS/internal/credits"
	"github.com/MozzzieStudio/CinemaOS/internal/gateway"
	"github.com/MozzzieStudio/CinemaOS/internal/promptctx"
	"github.com/MozzzieStudio/CinemaOS/internal/provider"
	"github.com/MozzzieStudio/CinemaOS/internal/vault"
	"github.com/MozzzieStudio/CinemaOS/internal/worker"
)

const maxRequestBodyBytes = 96 * 1024 * 1024 // generous: requests can carry base64 source images

// Server wires the core components behind the HTTP API.
type Server struct {
	gateway   *gateway.Gateway
	ledger    *credits.Ledger
	vault     *vault.Client
	logger    *slog.Logger
	projectID string

	healthPath string

	jobQueue chan worker.Job
	workers  *sync.WaitGroup
	cancel   context.CancelFunc
}

// Options carries the server's construction settings.
type Options struct {
	ProjectID                string
	HealthCheckPath          string
	MaxConcurrentGenerations int
	GenerationQueueSize      int
}

// New creates the server and spawns its generation worker pool.
func New(gw *gateway.Gateway, ledger *credits.Ledger, vaultClient *vault.Client, logger *slog.Logger, opts Options) *Server {
	if opts.MaxConcurrentGenerations <= 0 {
		opts.MaxConcurrentGenerations = 4
	}
	if opts.GenerationQueueSize <= 0 {
		opts.GenerationQueueSize = 32
	}
	if opts.HealthCheckPath == "" {
		opts.HealthCheckPath = "/health"
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		gateway:    gw,
		ledger:     ledger,
		vault:      vaultClient,
		logger:     logger,
		projectID:  opts.ProjectID,
		healthPath: opts.HealthCheckPath,
		jobQueue:   make(chan worker.Job, opts.GenerationQueueSize),
		cancel:     cancel,
	}
	s.workers = worker.SpawnPool(ctx, opts.MaxConcurrentGenerations, s.jobQueue, logger)

	return s
}

// Shutdown stops the worker pool after draining queued jobs.
func (s *Server) Shutdown() {
	close(s.jobQueue)
	s.cancel()
	s.workers.Wait()
}

// Handler returns the route mux for the API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/assets/save", s.handleSaveAsset)
	mux.HandleFunc("GET /api/context/{type}/{name}", s.handleContext)
	mux.HandleFunc("GET /api/credits/session", s.handleSessionCredits)
	mux.HandleFunc("POST /api/credits/reset", s.handleResetCredits)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET "+s.healthPath, s.handleHealth)
	return mux
}

// handleGenerate runs the full pipeline for one generation request on the
// worker pool.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	applyGenerateDefaults(&req)

	if req.Model == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}

	// Resolve before queueing so unsupported models are rejected without
	// consuming a worker or touching the network.
	if _, err := s.gateway.Resolve(req.Model); err != nil {
		s.writeDispatchError(w, err)
		return
	}

	job := &pipelineJob{
		srv:  s,
		ctx:  r.Context(),
		req:  &req,
		done: make(chan pipelineResult, 1),
	}

	select {
	case s.jobQueue <- job:
	default:
		writeJSONError(w, http.StatusServiceUnavailable, "generation queue full")
		return
	}

	select {
	case result := <-job.done:
		if result.err != nil {
			s.writeDispatchError(w, result.err)
			return
		}
		writeJSON(w, result.resp)
	case <-r.Context().Done():
		writeJSONError(w, http.StatusServiceUnavailable, "request cancelled")
	}
}

// SaveAssetRequest is the /api/assets/save request body.
type SaveAssetRequest struct {
	Image       string `json:"image"` // base64 PNG
	TokenType   string `json:"token_type"`
	TokenName   string `json:"token_name"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
}

// SaveAssetResponse is the /api/assets/save response body.
type SaveAssetResponse struct {
	ID       string `json:"id"`
	Location string `json:"location"` // "vault" or "local"
}

func (s *Server) handleSaveAsset(w http.ResponseWriter, r *http.Request) {
	var req SaveAssetRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Image == "" {
		writeJSONError(w, http.StatusBadRequest, "image is required")
		return
	}
	pngData, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "image is not valid base64")
		return
	}
	if req.TokenType == "" {
		req.TokenType = vault.TokenShot
	}

	id, err := s.vault.UploadAsset(r.Context(), &vault.Asset{
		PNG:         pngData,
		TokenType:   req.TokenType,
		TokenName:   req.TokenName,
		Description: req.Description,
		Tags:        vault.SplitTags(req.Tags),
	})
	if err != nil {
		// Remote and local persistence both failed; nothing was kept.
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("asset could not be persisted: %v", err))
		return
	}

	location := "vault"
	if strings.HasPrefix(id, vault.LocalIDPrefix) {
		location = "local"
	}
	writeJSON(w, SaveAssetResponse{ID: id, Location: location})
}

// ContextResponse is the /api/context response body. Empty fields mean no
// context is available; the Vault being offline looks identical.
type ContextResponse struct {
	PromptContext      string `json:"prompt_context"`
	StylePrompt        string `json:"style_prompt"`
	ReferenceImagePath string `json:"reference_image_path"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	tokenType := r.PathValue("type")
	tokenName := r.PathValue("name")
	includeVisuals := r.URL.Query().Get("visuals") != "0"

	// refresh=1 bypasses the token cache, for clients that just edited a
	// record in the Vault and want the updated prompt fragment immediately.
	if r.URL.Query().Get("refresh") == "1" {
		s.vault.InvalidateToken(tokenType, tokenName)
	}

	tok := s.vault.FetchToken(r.Context(), tokenType, tokenName)
	rendered := promptctx.Render(tokenType, tok, includeVisuals)

	writeJSON(w, ContextResponse{
		PromptContext:      rendered.Prompt,
		StylePrompt:        rendered.Style,
		ReferenceImagePath: rendered.ReferencePath,
	})
}

// SessionCreditsResponse reports the running session total.
type SessionCreditsResponse struct {
	TotalCredits string  `json:"total_credits"`
	Credits      float64 `json:"credits"`
}

func (s *Server) handleSessionCredits(w http.ResponseWriter, r *http.Request) {
	total := s.ledger.Session().Total()
	writeJSON(w, SessionCreditsResponse{
		TotalCredits: fmt.Sprintf("%.4f", total),
		Credits:      total,
	})
}

func (s *Server) handleResetCredits(w http.ResponseWriter, r *http.Request) {
	s.ledger.Session().Reset()
	s.logger.Info("Session credits reset")
	writeJSON(w, SessionCreditsResponse{TotalCredits: "0.0000", Credits: 0})
}

// ModelsResponse lists routable model identifiers.
type ModelsResponse struct {
	Models []string `json:"models"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ModelsResponse{Models: s.gateway.Models()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// writeDispatchError maps the provider error taxonomy onto HTTP statuses:
// generation failures are loud, with the cause visible to the caller.
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	var unsupported *provider.UnsupportedModelError
	var configErr *provider.ConfigurationError
	var upstream *provider.UpstreamError

	switch {
	case errors.As(err, &unsupported):
		writeJSONError(w, http.StatusBadRequest, unsupported.Error())
	case errors.Is(err, provider.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &configErr):
		writeJSONError(w, http.StatusInternalServerError, configErr.Error())
	case errors.As(err, &upstream):
		writeJSONError(w, http.StatusBadGateway, upstream.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// applyGenerateDefaults fills the original node defaults for omitted fields.
func applyGenerateDefaults(req *GenerateRequest) {
	if req.Width == 0 {
		req.Width = 1024
	}
	if req.Height == 0 {
		req.Height = 1024
	}
	if req.Steps == 0 {
		req.Steps = 28
	}
	if req.GuidanceScale == 0 {
		req.GuidanceScale = 7.5
	}
}

// decodeJSONBody decodes a JSON request body with a size cap.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := jsonDecode(r, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
