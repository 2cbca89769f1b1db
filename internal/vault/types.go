// Package vault is the resilient client for the CinemaOS Vault: it fetches
// structured context tokens and uploads generated assets, degrading to a
// local-disk fallback when the store is unreachable.
package vault

// TokenType enumerates the structured record kinds the Vault stores.
const (
	TokenCharacter = "character"
	TokenLocation  = "location"
	TokenProp      = "prop"
	TokenShot      = "shot"
)

// Visual is one visual reference attached to a token.
type Visual struct {
	Path string `json:"path"`
}

// ContextToken is a structured record (character/location/prop) used to keep
// prompts visually and narratively consistent. Read-only from the gateway's
// perspective; the Vault owns these.
type ContextToken struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Character attributes
	Age        string `json:"age"`
	Appearance string `json:"appearance"`
	Clothing   string `json:"clothing"`

	// Location attributes
	Setting   string `json:"setting"`
	TimeOfDay string `json:"time_of_day"`
	Weather   string `json:"weather"`

	// Prop attributes
	Material string `json:"material"`
	Color    string `json:"color"`

	StylePrompt string   `json:"style_prompt"`
	Visuals     []Visual `json:"visuals"`
}

// Asset is one generated image to persist, with its token linkage.
type Asset struct {
	// PNG holds the encoded raster.
	PNG         []byte
	TokenType   string
	TokenName   string
	Description string
	Tags        []string
}

// uploadPayload is the Vault's asset upload wire shape.
type uploadPayload struct {
	Filename    string   `json:"filename"`
	Data        string   `json:"data"`
	TokenType   string   `json:"token_type"`
	TokenName   string   `json:"token_name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// uploadResponse is the Vault's asset upload response.
type uploadResponse struct {
	ID string `json:"id"`
}
