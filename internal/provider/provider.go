// Package provider normalizes heterogeneous cloud generation APIs behind one
// adapter contract. Each adapter owns a static mapping from logical model name
// to a provider-specific endpoint, translates a generation request into the
// provider's wire shape, parses the response into a raster, and estimates the
// credit cost of the call.
package provider

import (
	"context"
	"fmt"

	"github.com/MozzzieStudio/CinemaOS/internal/imaging"
)

const (
	// MinDimension and MaxDimension bound requested width and height.
	MinDimension = 256
	MaxDimension = 4096

	// SeedUnset marks a request without a fixed seed; providers pick a
	// random one.
	SeedUnset = -1

	// ReferencePixels is the resolution the per-model base costs are quoted
	// at. Estimates scale linearly with pixel count relative to this.
	ReferencePixels = 1024 * 1024
)

// Request describes one generation call in provider-neutral terms.
type Request struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Seed           int64
	Steps          int
	GuidanceScale  float64

	// SourceImage enables image-to-image generation when non-nil.
	SourceImage *imaging.Image
}

// Result is the normalized outcome of a successful adapter call.
// Created once per call and immediately consumed by the caller.
type Result struct {
	Image    *imaging.Image
	Credits  float64
	Provider string
	Model    string
}

// Adapter is the contract every cloud generation backend implements.
type Adapter interface {
	// Name returns the adapter's identifier ("fal", "vertex").
	Name() string

	// Supports reports whether the adapter has an endpoint for the model.
	Supports(model string) bool

	// Models returns the logical model names the adapter claims, for
	// routing table construction.
	Models() []string

	// Generate executes one generation call. It fails with
	// *ConfigurationError when required credentials are absent, with
	// *UnsupportedModelError when the model has no mapped endpoint, and
	// with *UpstreamError when the remote call fails or the response
	// lacks a usable image payload.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// EstimateCredits returns a best-effort, non-authoritative cost
	// estimate for generating at the given resolution. Unknown models
	// fall back to a fixed default base cost; the estimate never fails.
	EstimateCredits(model string, width, height int) float64
}

// Validate checks request bounds before any network call.
func (r *Request) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalidRequest)
	}
	if r.Width < MinDimension || r.Width > MaxDimension {
		return fmt.Errorf("%w: width %d out of bounds [%d,%d]", ErrInvalidRequest, r.Width, MinDimension, MaxDimension)
	}
	if r.Height < MinDimension || r.Height > MaxDimension {
		return fmt.Errorf("%w: height %d out of bounds [%d,%d]", ErrInvalidRequest, r.Height, MinDimension, MaxDimension)
	}
	return nil
}

// scaleByResolution scales a base cost linearly by pixel count relative to
// the reference resolution.
func scaleByResolution(base float64, width, height int) float64 {
	pixels := float64(width) * float64(height)
	return base * (pixels / float64(ReferencePixels))
}
