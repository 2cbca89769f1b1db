// Package promptctx renders structured Vault tokens into natural-language
// prompt fragments. Pure functions only: no network, no mutable state.
package promptctx

import (
	"strings"

	"github.com/MozzzieStudio/CinemaOS/internal/vault"
)

// RenderedContext is the prompt-ready view of one token.
type RenderedContext struct {
	// Prompt is the comma-joined description, name first.
	Prompt string
	// Style passes through the token's style prompt verbatim.
	Style string
	// ReferencePath is the first visual reference, when requested and
	// present.
	ReferencePath string
}

// Render turns a token into prompt fragments. A nil token renders empty;
// generation proceeds with the bare prompt.
func Render(tokenType string, tok *vault.ContextToken, includeVisuals bool) RenderedContext {
	if tok == nil {
		return RenderedContext{}
	}

	rendered := RenderedContext{
		Prompt: buildPrompt(tokenType, tok),
		Style:  tok.StylePrompt,
	}

	if includeVisuals && len(tok.Visuals) > 0 {
		rendered.ReferencePath = tok.Visuals[0].Path
	}

	return rendered
}

// buildPrompt concatenates the type-specific ordered fragments. The name
// always leads; later fragments are included only when non-empty; the
// free-text description always closes.
func buildPrompt(tokenType string, tok *vault.ContextToken) string {
	switch tokenType {
	case vault.TokenCharacter:
		parts := []string{tok.Name}
		if tok.Age != "" {
			parts = append(parts, tok.Age+" years old")
		}
		if tok.Appearance != "" {
			parts = append(parts, tok.Appearance)
		}
		if tok.Clothing != "" {
			parts = append(parts, "wearing "+tok.Clothing)
		}
		if tok.Description != "" {
			parts = append(parts, tok.Description)
		}
		return strings.Join(parts, ", ")

	case vault.TokenLocation:
		parts := []string{tok.Name}
		if tok.Setting != "" {
			parts = append(parts, tok.Setting)
		}
		if tok.TimeOfDay != "" {
			parts = append(parts, "during "+tok.TimeOfDay)
		}
		if tok.Weather != "" {
			parts = append(parts, tok.Weather+" weather")
		}
		if tok.Description != "" {
			parts = append(parts, tok.Description)
		}
		return strings.Join(parts, ", ")

	case vault.TokenProp:
		parts := []string{tok.Name}
		if tok.Color != "" {
			parts = append(parts, tok.Color)
		}
		if tok.Material != "" {
			parts = append(parts, "made of "+tok.Material)
		}
		if tok.Description != "" {
			parts = append(parts, tok.Description)
		}
		return strings.Join(parts, ", ")
	}

	if tok.Description != "" {
		return tok.Name + ", " + tok.Description
	}
	return tok.Name
}
