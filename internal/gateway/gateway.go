// Package gateway routes generation requests to exactly one provider adapter.
// It is a pure dispatch boundary: adding a provider means registering one
// adapter, not touching call sites. Errors propagate unchanged and no credit
// accounting happens here.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/MozzzieStudio/CinemaOS/internal/monitoring"
	"github.com/MozzzieStudio/CinemaOS/internal/provider"
)

// ProviderKind identifies a registered provider backend.
type ProviderKind string

const (
	KindFal    ProviderKind = "fal"
	KindVertex ProviderKind = "vertex"
)

// Gateway resolves model identifiers through a fixed routing table built from
// the registered adapters' model catalogs.
type Gateway struct {
	adapters map[ProviderKind]provider.Adapter
	routes   map[string]ProviderKind
	logger   *slog.Logger
	metrics  *monitoring.Metrics
}

// New builds a gateway over the given adapters. The routing table is fixed at
// construction: each adapter claims its catalog, first registration wins on
// (unexpected) overlap.
func New(logger *slog.Logger, metrics *monitoring.Metrics, adapters ...provider.Adapter) *Gateway {
	g := &Gateway{
		adapters: make(map[ProviderKind]provider.Adapter),
		routes:   make(map[string]ProviderKind),
		logger:   logger,
		metrics:  metrics,
	}

	for _, a := range adapters {
		kind := ProviderKind(a.Name())
		g.adapters[kind] = a
		for _, model := range a.Models() {
			if _, exists := g.routes[model]; exists {
				logger.Warn("Model claimed by multiple adapters, keeping first",
					"model", model,
					"kept", string(g.routes[model]),
					"ignored", a.Name(),
				)
				continue
			}
			g.routes[model] = kind
		}
	}

	logger.Info("Generation gateway initialized",
		"adapters", len(g.adapters),
		"models", len(g.routes),
	)
	return g
}

// Models returns all routable model identifiers.
func (g *Gateway) Models() []string {
	models := make([]string, 0, len(g.routes))
	for model := range g.routes {
		models = append(models, model)
	}
	return models
}

// Resolve returns the adapter claiming the model, or an
// UnsupportedModelError without any network call.
func (g *Gateway) Resolve(model string) (provider.Adapter, error) {
	kind, ok := g.routes[model]
	if !ok {
		return nil, &provider.UnsupportedModelError{Model: model}
	}
	return g.adapters[kind], nil
}

// Dispatch resolves the model to exactly one adapter and invokes it.
// Adapter errors propagate unchanged; retries, if desired, belong to the
// adapter or the caller.
func (g *Gateway) Dispatch(ctx context.Context, model string, req *provider.Request) (*provider.Result, error) {
	adapter, err := g.Resolve(model)
	if err != nil {
		g.metrics.RecordGeneration("none", model, "unsupported_model", 0)
		return nil, err
	}

	req.Model = model

	start := time.Now()
	result, err := adapter.Generate(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		g.metrics.RecordGeneration(adapter.Name(), model, "error", elapsed)
		g.logger.Error("Generation dispatch failed",
			"provider", adapter.Name(),
			"model", model,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	g.metrics.RecordGeneration(adapter.Name(), model, "ok", elapsed)
	g.logger.Info("Generation dispatched",
		"provider", adapter.Name(),
		"model", model,
		"width", result.Image.Width,
		"height", result.Image.Height,
		"credits", result.Credits,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// EstimateCredits resolves the model and returns the adapter's estimate.
// Unroutable models return 0; estimation never fails.
func (g *Gateway) EstimateCredits(model string, width, height int) float64 {
	adapter, err := g.Resolve(model)
	if err != nil {
		return 0
	}
	return adapter.EstimateCredits(model, width, height)
}
