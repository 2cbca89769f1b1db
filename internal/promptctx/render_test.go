package promptctx

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MozzzieStudio/CinemaOS/internal/vault"
)

func TestRenderCharacter(t *testing.T) {
	tok := &vault.ContextToken{
		Name:       "Ana",
		Age:        "30",
		Appearance: "tall",
		Clothing:   "red coat",
	}

	rendered := Render(vault.TokenCharacter, tok, false)
	assert.Equal(t, "Ana, 30 years old, tall, wearing red coat", rendered.Prompt)
}

func TestRenderCharacterPartialFields(t *testing.T) {
	tok := &vault.ContextToken{
		Name:        "Ana",
		Clothing:    "red coat",
		Description: "the protagonist",
	}

	rendered := Render(vault.TokenCharacter, tok, false)
	assert.Equal(t, "Ana, wearing red coat, the protagonist", rendered.Prompt)
}

func TestRenderLocation(t *testing.T) {
	tok := &vault.ContextToken{
		Name:      "Harbor",
		Setting:   "industrial docks",
		TimeOfDay: "dawn",
		Weather:   "foggy",
	}

	rendered := Render(vault.TokenLocation, tok, false)
	assert.Equal(t, "Harbor, industrial docks, during dawn, foggy weather", rendered.Prompt)
}

func TestRenderProp(t *testing.T) {
	tok := &vault.ContextToken{
		Name:     "Lantern",
		Color:    "brass",
		Material: "copper",
	}

	rendered := Render(vault.TokenProp, tok, false)
	assert.Equal(t, "Lantern, brass, made of copper", rendered.Prompt)
}

func TestRenderUnknownTypeFallsBackToNameAndDescription(t *testing.T) {
	tok := &vault.ContextToken{Name: "Opening", Description: "wide establishing shot"}

	rendered := Render(vault.TokenShot, tok, false)
	assert.Equal(t, "Opening, wide establishing shot", rendered.Prompt)

	bare := Render(vault.TokenShot, &vault.ContextToken{Name: "Opening"}, false)
	assert.Equal(t, "Opening", bare.Prompt)
}

func TestRenderNilToken(t *testing.T) {
	rendered := Render(vault.TokenCharacter, nil, true)
	assert.Empty(t, rendered.Prompt)
	assert.Empty(t, rendered.Style)
	assert.Empty(t, rendered.ReferencePath)
}

func TestRenderStylePassthrough(t *testing.T) {
	tok := &vault.ContextToken{Name: "Ana", StylePrompt: "film noir, high contrast"}

	rendered := Render(vault.TokenCharacter, tok, false)
	assert.Equal(t, "film noir, high contrast", rendered.Style)
}

func TestRenderVisuals(t *testing.T) {
	tok := &vault.ContextToken{
		Name: "Ana",
		Visuals: []vault.Visual{
			{Path: "/vault/visuals/ana_01.png"},
			{Path: "/vault/visuals/ana_02.png"},
		},
	}

	withVisuals := Render(vault.TokenCharacter, tok, true)
	assert.Equal(t, "/vault/visuals/ana_01.png", withVisuals.ReferencePath)

	withoutVisuals := Render(vault.TokenCharacter, tok, false)
	assert.Empty(t, withoutVisuals.ReferencePath)
}
