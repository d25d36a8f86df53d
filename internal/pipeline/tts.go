package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// SynthRequest describes one synthesis call to a TTS backend.
type SynthRequest struct {
	Text     string
	Language string
	Voice    string
	Speed    float64
}

// Synthesizer renders text to a complete WAV clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) ([]byte, error)
	Name() string
	Healthy(ctx context.Context) error
}

// meloSynthesizer talks to a MeloTTS API server.
type meloSynthesizer struct {
	baseURL string
	client  *http.Client
}

func NewMeloSynthesizer(baseURL string, client *http.Client) Synthesizer {
	return &meloSynthesizer{baseURL: baseURL, client: client}
}

func (m *meloSynthesizer) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	language := req.Language
	if language == "" {
		language = "EN"
	}
	voice := req.Voice
	if voice == "" {
		voice = "EN-Default"
	}
	payload := map[string]any{
		"text":       req.Text,
		"speed":      speed,
		"language":   language,
		"speaker_id": voice,
	}
	audio, err := doSynthRequest(ctx, m.client, m.baseURL+"/convert/tts", payload)
	if err != nil {
		return nil, fmt.Errorf("melo synthesis: %w", err)
	}
	return audio, nil
}

func (m *meloSynthesizer) Name() string { return "melo" }

func (m *meloSynthesizer) Healthy(ctx context.Context) error {
	return checkHealth(ctx, m.client, m.baseURL+"/health")
}

// piperSynthesizer talks to a Piper HTTP wrapper.
type piperSynthesizer struct {
	baseURL string
	client  *http.Client
}

func NewPiperSynthesizer(baseURL string, client *http.Client) Synthesizer {
	return &piperSynthesizer{baseURL: baseURL, client: client}
}

func (p *piperSynthesizer) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	payload := map[string]any{
		"text":  req.Text,
		"voice": req.Voice,
	}
	audio, err := doSynthRequest(ctx, p.client, p.baseURL+"/synthesize", payload)
	if err != nil {
		return nil, fmt.Errorf("piper synthesis: %w", err)
	}
	return audio, nil
}

func (p *piperSynthesizer) Name() string { return "piper" }

func (p *piperSynthesizer) Healthy(ctx context.Context) error {
	return checkHealth(ctx, p.client, p.baseURL+"/health")
}

// openaiVoices are the voice names the OpenAI speech API accepts. Anything
// else (a cloned user id, a melo speaker key) falls back to the configured
// default voice.
var openaiVoices = map[string]bool{
	"alloy": true, "ash": true, "ballad": true, "coral": true,
	"echo": true, "fable": true, "onyx": true, "nova": true,
	"sage": true, "shimmer": true, "verse": true,
}

// openaiSynthesizer renders speech through the OpenAI audio API.
type openaiSynthesizer struct {
	client       *openai.Client
	model        string
	defaultVoice string
}

func NewOpenAISynthesizer(apiKey, baseURL, model, defaultVoice string, httpClient *http.Client) Synthesizer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &openaiSynthesizer{client: &client, model: model, defaultVoice: defaultVoice}
}

func (o *openaiSynthesizer) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	voice := req.Voice
	if !openaiVoices[voice] {
		voice = o.defaultVoice
	}
	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(o.model),
		Input:          req.Text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if req.Speed > 0 {
		params.Speed = openai.Float(req.Speed)
	}
	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai synthesis: %w", err)
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai synthesis: read body: %w", err)
	}
	return audio, nil
}

func (o *openaiSynthesizer) Name() string { return "openai" }

// Healthy is a no-op for the hosted API; there is no health endpoint to poll.
func (o *openaiSynthesizer) Healthy(ctx context.Context) error {
	return nil
}

// doSynthRequest posts a JSON payload to a TTS sidecar and returns the raw
// audio body.
func doSynthRequest(ctx context.Context, client *http.Client, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio response")
	}
	return audio, nil
}

func checkHealth(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}
