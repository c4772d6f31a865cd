package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/storyvoice_go_server/config"
)

func newCartesiaTestClient(serverURL string) *CartesiaClient {
	return NewCartesiaClient(config.ProviderConfig{
		Name:    "cartesia",
		APIKey:  "cart-key",
		BaseURL: serverURL,
	}, 5*time.Second)
}

func TestCartesiaClient_CreateVoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voices/clone", r.URL.Path)
		assert.Equal(t, "cart-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, cartesiaAPIVersion, r.Header.Get("Cartesia-Version"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Len(t, r.MultipartForm.File["clip"], 1)
		assert.Equal(t, "similarity", r.MultipartForm.Value["mode"][0])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "cart-voice-9"}`))
	}))
	defer server.Close()

	client := newCartesiaTestClient(server.URL)
	remoteID, err := client.CreateVoice(context.Background(), []byte("pcm"), "sample.wav", "tata")
	require.NoError(t, err)
	assert.Equal(t, "cart-voice-9", remoteID)
}

func TestCartesiaClient_Synthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tts/bytes", r.URL.Path)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "sonic-2", payload["model_id"])
		assert.Equal(t, "kolysanka", payload["transcript"])
		voice := payload["voice"].(map[string]interface{})
		assert.Equal(t, "cart-voice-9", voice["id"])

		w.Write([]byte("cart-mp3"))
	}))
	defer server.Close()

	client := newCartesiaTestClient(server.URL)
	audio, err := client.Synthesize(context.Background(), "cart-voice-9", "kolysanka")
	require.NoError(t, err)
	assert.Equal(t, []byte("cart-mp3"), audio)
}

func TestCartesiaClient_Synthesize_RemoteVoiceMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newCartesiaTestClient(server.URL)
	_, err := client.Synthesize(context.Background(), "ghost", "text")
	assert.True(t, errors.Is(err, ErrRemoteVoiceMissing))
}

func TestCartesiaClient_DeleteVoice(t *testing.T) {
	var deleted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/voices/cart-voice-9", r.URL.Path)
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newCartesiaTestClient(server.URL)
	require.NoError(t, client.DeleteVoice(context.Background(), "cart-voice-9"))
	assert.True(t, deleted)
}

func TestRegistry_Get(t *testing.T) {
	mock := NewMockClient("elevenlabs")
	registry := NewRegistryWithClients(map[string]Client{"elevenlabs": mock})

	client, err := registry.Get("elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, "elevenlabs", client.Name())

	_, err = registry.Get("unknown")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
