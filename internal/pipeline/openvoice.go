package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// Embedding is a speaker tone embedding extracted from a reference clip.
// AudioID names the sidecar-side artifact, Vector is the tone itself.
type Embedding struct {
	AudioID string    `json:"audio_id"`
	Vector  []float32 `json:"embedding"`
}

// Embedder extracts a speaker embedding from reference audio.
type Embedder interface {
	Extract(ctx context.Context, audio []byte, filename string, vad bool) (*Embedding, error)
}

// ConvertRequest carries one tone conversion call: audio rendered in the
// source speaker's timbre, re-voiced into the target embedding's timbre.
type ConvertRequest struct {
	Audio         []byte
	SourceSpeaker string
	Target        *Embedding
	Message       string
}

// Converter re-voices synthesized audio into a cloned speaker's timbre.
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest) ([]byte, error)
}

// OpenVoiceClient talks to an OpenVoice sidecar for embedding extraction and
// tone conversion.
type OpenVoiceClient struct {
	baseURL string
	client  *http.Client
}

func NewOpenVoiceClient(baseURL string, client *http.Client) *OpenVoiceClient {
	return &OpenVoiceClient{baseURL: baseURL, client: client}
}

var _ Embedder = (*OpenVoiceClient)(nil)
var _ Converter = (*OpenVoiceClient)(nil)

// Extract uploads reference audio and returns the speaker embedding. With vad
// set the sidecar trims non-speech before extracting.
func (c *OpenVoiceClient) Extract(ctx context.Context, audio []byte, filename string, vad bool) (*Embedding, error) {
	body, contentType, err := buildMultipartFile(audio, filename, map[string]string{
		"vad": strconv.FormatBool(vad),
	})
	if err != nil {
		return nil, fmt.Errorf("extract embedding: %w", err)
	}
	resp, err := c.post(ctx, "/extract_se", body, contentType)
	if err != nil {
		return nil, fmt.Errorf("extract embedding: %w", err)
	}
	var emb Embedding
	if err := json.Unmarshal(resp, &emb); err != nil {
		return nil, fmt.Errorf("extract embedding: decode response: %w", err)
	}
	if emb.AudioID == "" {
		return nil, fmt.Errorf("extract embedding: response carries no audio_id")
	}
	return &emb, nil
}

// Convert re-voices req.Audio from the source speaker's timbre into the
// target embedding's and returns the converted WAV.
func (c *OpenVoiceClient) Convert(ctx context.Context, req ConvertRequest) ([]byte, error) {
	if req.Target == nil {
		return nil, fmt.Errorf("convert tone: no target embedding")
	}
	tgt, err := json.Marshal(req.Target.Vector)
	if err != nil {
		return nil, fmt.Errorf("convert tone: encode target: %w", err)
	}
	body, contentType, err := buildMultipartFile(req.Audio, "source.wav", map[string]string{
		"src_se":  req.SourceSpeaker,
		"tgt_se":  string(tgt),
		"message": req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("convert tone: %w", err)
	}
	audio, err := c.post(ctx, "/convert", body, contentType)
	if err != nil {
		return nil, fmt.Errorf("convert tone: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("convert tone: empty audio response")
	}
	return audio, nil
}

func (c *OpenVoiceClient) Healthy(ctx context.Context) error {
	return checkHealth(ctx, c.client, c.baseURL+"/health")
}

func (c *OpenVoiceClient) post(ctx context.Context, path string, body *bytes.Buffer, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return io.ReadAll(resp.Body)
}

// buildMultipartFile assembles a multipart body with the audio under the
// "file" part plus any extra form fields.
func buildMultipartFile(audio []byte, filename string, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
