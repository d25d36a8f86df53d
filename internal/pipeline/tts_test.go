package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeloSynthesizerWireFormat(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/convert/tts", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("RIFFwav"))
	}))
	defer ts.Close()

	s := NewMeloSynthesizer(ts.URL, ts.Client())
	out, err := s.Synthesize(context.Background(), SynthRequest{Text: "hello", Language: "EN", Voice: "EN_NEWEST", Speed: 1.3})
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFwav"), out)
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "EN", got["language"])
	assert.Equal(t, "EN_NEWEST", got["speaker_id"])
	assert.InDelta(t, 1.3, got["speed"], 1e-9)
}

func TestMeloSynthesizerDefaults(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("RIFFwav"))
	}))
	defer ts.Close()

	s := NewMeloSynthesizer(ts.URL, ts.Client())
	_, err := s.Synthesize(context.Background(), SynthRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "EN", got["language"])
	assert.Equal(t, "EN-Default", got["speaker_id"])
	assert.InDelta(t, 1.0, got["speed"], 1e-9)
}

func TestMeloSynthesizerUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	s := NewMeloSynthesizer(ts.URL, ts.Client())
	_, err := s.Synthesize(context.Background(), SynthRequest{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "melo synthesis")
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "model exploded")
}

func TestMeloSynthesizerEmptyAudio(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := NewMeloSynthesizer(ts.URL, ts.Client())
	_, err := s.Synthesize(context.Background(), SynthRequest{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty audio response")
}

func TestPiperSynthesizerWireFormat(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/synthesize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("RIFFwav"))
	}))
	defer ts.Close()

	s := NewPiperSynthesizer(ts.URL, ts.Client())
	out, err := s.Synthesize(context.Background(), SynthRequest{Text: "hello", Voice: "en_US-amy-medium"})
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFwav"), out)
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "en_US-amy-medium", got["voice"])
}

func TestSynthesizerHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	require.NoError(t, NewMeloSynthesizer(healthy.URL, healthy.Client()).Healthy(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	err := NewPiperSynthesizer(down.URL, down.Client()).Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health status 503")
}

func TestOpenAISynthesizer(t *testing.T) {
	var gotPath, gotAuth string
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFFdata"))
	}))
	defer ts.Close()

	s := NewOpenAISynthesizer("test-key", ts.URL, "gpt-4o-mini-tts", "alloy", ts.Client())
	out, err := s.Synthesize(context.Background(), SynthRequest{Text: "hello", Voice: "some-cloned-user", Speed: 1.2})
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFdata"), out)
	assert.True(t, strings.HasSuffix(gotPath, "/audio/speech"), "path %q", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "hello", body["input"])
	assert.Equal(t, "gpt-4o-mini-tts", body["model"])
	assert.Equal(t, "wav", body["response_format"])
	// Non-OpenAI voice names fall back to the configured default.
	assert.Equal(t, "alloy", body["voice"])
	assert.InDelta(t, 1.2, body["speed"], 1e-9)
}

func TestOpenAISynthesizerKnownVoice(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte("RIFFdata"))
	}))
	defer ts.Close()

	s := NewOpenAISynthesizer("test-key", ts.URL, "gpt-4o-mini-tts", "alloy", ts.Client())
	_, err := s.Synthesize(context.Background(), SynthRequest{Text: "hi", Voice: "nova"})
	require.NoError(t, err)
	assert.Equal(t, "nova", body["voice"])
}
