package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MozzzieStudio/CinemaOS/internal/monitoring"
	"github.com/MozzzieStudio/CinemaOS/internal/testhelpers"
)

func newTestClient(t *testing.T, baseURL string, cache *TokenCache) *Client {
	t.Helper()
	return NewClient(baseURL, t.TempDir(), cache, testhelpers.NewTestLogger(), monitoring.New(false))
}

func TestFetchToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tokens/character/ana", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "Ana",
			"description": "the protagonist",
			"age": "30",
			"appearance": "tall",
			"clothing": "red coat",
			"style_prompt": "film noir",
			"visuals": [{"path": "/vault/visuals/ana_01.png"}]
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	tok := client.FetchToken(context.Background(), TokenCharacter, "ana")
	require.NotNil(t, tok)
	assert.Equal(t, "Ana", tok.Name)
	assert.Equal(t, "30", tok.Age)
	assert.Equal(t, "red coat", tok.Clothing)
	assert.Equal(t, "film noir", tok.StylePrompt)
	require.Len(t, tok.Visuals, 1)
	assert.Equal(t, "/vault/visuals/ana_01.png", tok.Visuals[0].Path)
}

func TestFetchTokenMissingAndOfflineIndistinguishable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	missing := newTestClient(t, server.URL, nil)
	offline := newTestClient(t, "http://127.0.0.1:1", nil)

	// Callers see nil either way; the distinction stays inside the client.
	assert.Nil(t, missing.FetchToken(context.Background(), TokenCharacter, "ghost"))
	assert.Nil(t, offline.FetchToken(context.Background(), TokenCharacter, "ghost"))
}

func TestFetchTokenMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": truncated`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	assert.Nil(t, client.FetchToken(context.Background(), TokenLocation, "harbor"))
}

func TestFetchTokenEmptyName(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", nil)
	assert.Nil(t, client.FetchToken(context.Background(), TokenCharacter, ""))
}

func TestFetchTokenUsesCache(t *testing.T) {
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name": "Ana"}`))
	}))
	defer server.Close()

	cache, err := NewTokenCache(16, time.Minute)
	require.NoError(t, err)
	client := newTestClient(t, server.URL, cache)

	first := client.FetchToken(context.Background(), TokenCharacter, "ana")
	second := client.FetchToken(context.Background(), TokenCharacter, "ana")

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, 1, fetches)
	assert.Equal(t, first, second)
}

func TestInvalidateTokenForcesRefetch(t *testing.T) {
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name": "Ana"}`))
	}))
	defer server.Close()

	cache, err := NewTokenCache(16, time.Minute)
	require.NoError(t, err)
	client := newTestClient(t, server.URL, cache)

	require.NotNil(t, client.FetchToken(context.Background(), TokenCharacter, "ana"))
	client.InvalidateToken(TokenCharacter, "ana")
	require.NotNil(t, client.FetchToken(context.Background(), TokenCharacter, "ana"))

	assert.Equal(t, 2, fetches)

	// Without a cache the call is a no-op rather than a panic.
	newTestClient(t, server.URL, nil).InvalidateToken(TokenCharacter, "ana")
}

func TestUploadAsset(t *testing.T) {
	var received uploadPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/assets/upload", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "asset-42"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	id, err := client.UploadAsset(context.Background(), &Asset{
		PNG:         []byte("png-bytes"),
		TokenType:   TokenCharacter,
		TokenName:   "ana",
		Description: "portrait",
		Tags:        []string{"portrait", "noir"},
	})
	require.NoError(t, err)
	assert.Equal(t, "asset-42", id)

	assert.True(t, strings.HasPrefix(received.Filename, "character_ana_"))
	assert.True(t, strings.HasSuffix(received.Filename, ".png"))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), received.Data)
	assert.Equal(t, []string{"portrait", "noir"}, received.Tags)

	// Nothing lands on disk when the remote accepts the upload.
	entries, err := os.ReadDir(client.FallbackDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadAssetRemoteAcceptsAny2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "asset-201"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	id, err := client.UploadAsset(context.Background(), &Asset{
		PNG:       []byte("png-bytes"),
		TokenType: TokenCharacter,
		TokenName: "ana",
	})
	require.NoError(t, err)
	assert.Equal(t, "asset-201", id)

	// A 201 is an accepted upload, not a fallback trigger.
	entries, err := os.ReadDir(client.FallbackDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadAssetLocalFallbackOnConnectionFailure(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", nil)

	id, err := client.UploadAsset(context.Background(), &Asset{
		PNG:       []byte("png-bytes"),
		TokenType: TokenShot,
		TokenName: "opening",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, LocalIDPrefix))

	entries, err := os.ReadDir(client.FallbackDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "shot_opening_"))

	data, err := os.ReadFile(filepath.Join(client.FallbackDir(), entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestUploadAssetLocalFallbackOnRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	id, err := client.UploadAsset(context.Background(), &Asset{PNG: []byte("data")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, LocalIDPrefix))

	entries, err := os.ReadDir(client.FallbackDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "output_"))
}

func TestUploadAssetLocalWriteFailureIsFatal(t *testing.T) {
	// Point the fallback at a path that cannot be a directory.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	client := NewClient("http://127.0.0.1:1", filepath.Join(blocker, "outputs"),
		nil, testhelpers.NewTestLogger(), monitoring.New(false))

	_, err := client.UploadAsset(context.Background(), &Asset{PNG: []byte("data")})
	assert.Error(t, err)
}

func TestAssetFilename(t *testing.T) {
	assert.Equal(t, "character_ana_abcd1234.png", assetFilename("character", "ana", "abcd1234"))
	assert.Equal(t, "output_abcd1234.png", assetFilename("character", "", "abcd1234"))
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"noir", "portrait"}, SplitTags("noir, portrait"))
	assert.Equal(t, []string{"one"}, SplitTags(" one ,, "))
	assert.Empty(t, SplitTags(""))
}
