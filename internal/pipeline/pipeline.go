// Package pipeline orchestrates voice cloning and speech synthesis across
// the model servers: sample storage, transcoding, embedding extraction,
// synthesis, and tone conversion. The HTTP and WebSocket layers call into
// Pipeline and never see a concrete model client.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/txtparrot/voicegate/internal/audio"
	"github.com/txtparrot/voicegate/internal/metrics"
	"github.com/txtparrot/voicegate/internal/store"
	"github.com/txtparrot/voicegate/internal/trace"
)

// ErrSpeakerNotFound reports a tone-conversion request for a user with no
// cloned sample. Handlers map it to 404.
var ErrSpeakerNotFound = errors.New("speaker not found")

// streamChunkBytes is the raw PCM frame size sent over WebSocket.
const streamChunkBytes = 2048

// Transcoder converts audio between container formats. Satisfied by
// audio.Transcoder.
type Transcoder interface {
	Transcode(ctx context.Context, src []byte, srcExt, dstExt string) ([]byte, error)
}

// Config wires the pipeline's capabilities and voice parameters.
type Config struct {
	Store        store.SampleStore
	Transcoder   Transcoder
	Embedder     Embedder
	Synth        *SynthRouter
	Converter    Converter
	OutputDir    string
	Engine       string
	DefaultVoice string
	BaseSpeaker  string
	Watermark    string
	Tracer       *trace.Tracer
}

// Pipeline runs clone and synthesis flows against the configured backends.
type Pipeline struct {
	cfg Config
}

func New(cfg Config) *Pipeline {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "outputs"
	}
	if cfg.Engine == "" {
		cfg.Engine = "melo"
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "EN_NEWEST"
	}
	if cfg.BaseSpeaker == "" {
		cfg.BaseSpeaker = "EN_INDIA"
	}
	if cfg.Watermark == "" {
		cfg.Watermark = "@MyShell"
	}
	return &Pipeline{cfg: cfg}
}

func (p *Pipeline) Engine() string       { return p.cfg.Engine }
func (p *Pipeline) DefaultVoice() string { return p.cfg.DefaultVoice }
func (p *Pipeline) BaseSpeaker() string  { return p.cfg.BaseSpeaker }

// CloneResult acknowledges a stored voice sample.
type CloneResult struct {
	AudioID   string
	LatencyMs int64
}

// Clone persists the uploaded sample, transcodes it to mp3, and validates it
// through the embedding extractor. The returned AudioID is the extractor's
// name for the sample artifact.
func (p *Pipeline) Clone(ctx context.Context, userID string, sample []byte) (*CloneResult, error) {
	start := time.Now()
	metrics.Requests.WithLabelValues("clone").Inc()
	runID := p.startRun("clone")

	ts := time.Now()
	err := p.cfg.Store.Put(ctx, userID, store.FormatWebM, bytes.NewReader(sample))
	p.observe(runID, "clone", "store_sample", ts, store.SampleKey(userID, store.FormatWebM), fmt.Sprintf("%d bytes", len(sample)), err)
	if err != nil {
		p.endRun(runID, start, userID, "", err)
		return nil, fmt.Errorf("store sample: %w", err)
	}

	ts = time.Now()
	mp3, err := p.cfg.Transcoder.Transcode(ctx, sample, store.FormatWebM, store.FormatMP3)
	p.observe(runID, "clone", "transcode", ts, fmt.Sprintf("%d bytes webm", len(sample)), fmt.Sprintf("%d bytes mp3", len(mp3)), err)
	if err != nil {
		p.endRun(runID, start, userID, "", err)
		return nil, err
	}

	ts = time.Now()
	err = p.cfg.Store.Put(ctx, userID, store.FormatMP3, bytes.NewReader(mp3))
	p.observe(runID, "clone", "store_sample", ts, store.SampleKey(userID, store.FormatMP3), fmt.Sprintf("%d bytes", len(mp3)), err)
	if err != nil {
		p.endRun(runID, start, userID, "", err)
		return nil, fmt.Errorf("store transcoded sample: %w", err)
	}

	key := store.SampleKey(userID, store.FormatMP3)
	ts = time.Now()
	emb, err := p.cfg.Embedder.Extract(ctx, mp3, key, true)
	p.observe(runID, "clone", "extract_embedding", ts, key, embeddingID(emb), err)
	if err != nil {
		p.endRun(runID, start, userID, "", err)
		return nil, err
	}

	p.endRun(runID, start, userID, emb.AudioID, nil)
	latency := time.Since(start).Milliseconds()
	slog.Info("clone complete", "user", userID, "audio_id", emb.AudioID, "sample_bytes", len(sample), "ms", latency)
	return &CloneResult{AudioID: emb.AudioID, LatencyMs: latency}, nil
}

// SpeakRequest is the synthesis payload shared by the HTTP and WebSocket
// paths. UserID doubles as the voice-bank name for raw synthesis and as the
// cloned-speaker key when tone conversion is on.
type SpeakRequest struct {
	Text                string  `json:"text"`
	Language            string  `json:"language"`
	UserID              string  `json:"userId"`
	Speed               float64 `json:"speed"`
	ApplyToneConversion bool    `json:"apply_tone_conversion"`
}

// SpeakResult carries the rendered audio and its on-disk artifact path.
type SpeakResult struct {
	Audio     []byte
	Path      string
	Converted bool
	LatencyMs int64
}

// Speak synthesizes req.Text and, when tone conversion is requested,
// re-voices it into the cloned speaker's timbre. The response audio always
// comes from memory; the files under OutputDir are artifacts.
func (p *Pipeline) Speak(ctx context.Context, req SpeakRequest) (*SpeakResult, error) {
	start := time.Now()
	metrics.Requests.WithLabelValues("tts").Inc()
	req = p.normalize(req)
	runID := p.startRun("tts")

	res, err := p.speak(ctx, runID, "tts", req)
	if err != nil {
		p.endRun(runID, start, req.Text, "", err)
		return nil, err
	}
	res.LatencyMs = time.Since(start).Milliseconds()
	metrics.AudioBytesOut.WithLabelValues("tts").Add(float64(len(res.Audio)))
	p.endRun(runID, start, req.Text, res.Path, nil)

	attrs := []any{"user", req.UserID, "converted", res.Converted, "bytes", len(res.Audio), "ms", res.LatencyMs}
	if info, perr := audio.Probe(res.Audio); perr == nil {
		attrs = append(attrs, "audio_sec", info.Duration.Seconds())
	}
	slog.Info("speak complete", attrs...)
	return res, nil
}

func (p *Pipeline) speak(ctx context.Context, runID, op string, req SpeakRequest) (*SpeakResult, error) {
	if !req.ApplyToneConversion {
		wav, err := p.synthesize(ctx, runID, op, SynthRequest{Text: req.Text, Language: req.Language, Voice: req.UserID, Speed: req.Speed})
		if err != nil {
			return nil, err
		}
		path, err := p.writeScratch(wav)
		if err != nil {
			return nil, err
		}
		return &SpeakResult{Audio: wav, Path: path}, nil
	}

	// The sample check runs before any model call so a missing speaker is
	// cheap and maps cleanly to 404.
	ok, err := p.cfg.Store.Exists(ctx, req.UserID, store.FormatMP3)
	if err != nil {
		return nil, fmt.Errorf("check sample: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpeakerNotFound, req.UserID)
	}

	target, err := p.extractTarget(ctx, runID, op, req.UserID)
	if err != nil {
		return nil, err
	}

	// Base speech is rendered in the fixed source timbre the converter knows
	// how to shift from, not in the user's voice.
	wav, err := p.synthesize(ctx, runID, op, SynthRequest{Text: req.Text, Language: req.Language, Voice: p.cfg.BaseSpeaker, Speed: req.Speed})
	if err != nil {
		return nil, err
	}
	if _, err := p.writeScratch(wav); err != nil {
		return nil, err
	}

	converted, err := p.convert(ctx, runID, op, wav, target)
	if err != nil {
		return nil, err
	}

	path := p.outputPath(req.UserID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, converted, 0o644); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	return &SpeakResult{Audio: converted, Path: path, Converted: true}, nil
}

// AudioChunk is one streamed frame of raw PCM with its format.
type AudioChunk struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// SpeakStream renders req sentence by sentence, emitting fixed-size PCM
// chunks as each sentence finishes so playback starts before the full text
// is synthesized. With conversion on, the target embedding is extracted once
// and reused for every sentence.
func (p *Pipeline) SpeakStream(ctx context.Context, req SpeakRequest, emit func(AudioChunk) error) error {
	start := time.Now()
	metrics.Requests.WithLabelValues("ws_speak").Inc()
	req = p.normalize(req)
	runID := p.startRun("ws_speak")

	err := p.speakStream(ctx, runID, req, emit)
	p.endRun(runID, start, req.Text, "", err)
	if err != nil {
		return err
	}
	slog.Info("stream complete", "user", req.UserID, "converted", req.ApplyToneConversion, "ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Pipeline) speakStream(ctx context.Context, runID string, req SpeakRequest, emit func(AudioChunk) error) error {
	var target *Embedding
	if req.ApplyToneConversion {
		ok, err := p.cfg.Store.Exists(ctx, req.UserID, store.FormatMP3)
		if err != nil {
			return fmt.Errorf("check sample: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrSpeakerNotFound, req.UserID)
		}
		target, err = p.extractTarget(ctx, runID, "ws_speak", req.UserID)
		if err != nil {
			return err
		}
	}

	// Streams get their own scratch dir; the shared outputs/tmp.wav stays
	// out of the concurrent path.
	scratch, err := os.MkdirTemp("", "voicegate-stream-*")
	if err != nil {
		return fmt.Errorf("create stream scratch: %w", err)
	}
	defer os.RemoveAll(scratch)

	voice := req.UserID
	if req.ApplyToneConversion {
		voice = p.cfg.BaseSpeaker
	}

	var sent int64
	for _, sentence := range SplitSentences(req.Text) {
		wav, err := p.synthesize(ctx, runID, "ws_speak", SynthRequest{Text: sentence, Language: req.Language, Voice: voice, Speed: req.Speed})
		if err != nil {
			return err
		}
		if req.ApplyToneConversion {
			wav, err = p.convert(ctx, runID, "ws_speak", wav, target)
			if err != nil {
				return err
			}
		}
		if err := os.WriteFile(filepath.Join(scratch, "sentence.wav"), wav, 0o644); err != nil {
			return fmt.Errorf("write stream scratch: %w", err)
		}
		info, chunks, err := audio.PCMChunks(wav, streamChunkBytes)
		if err != nil {
			return fmt.Errorf("chunk audio: %w", err)
		}
		for _, pcm := range chunks {
			if err := emit(AudioChunk{PCM: pcm, SampleRate: info.SampleRate, Channels: info.Channels}); err != nil {
				return err
			}
			sent += int64(len(pcm))
		}
	}
	metrics.AudioBytesOut.WithLabelValues("ws_speak").Add(float64(sent))
	return nil
}

// Warmup pushes one short synthesis through the default engine so the model
// server loads its weights before real traffic arrives.
func (p *Pipeline) Warmup(ctx context.Context) (time.Duration, int, error) {
	start := time.Now()
	runID := p.startRun("warmup")
	wav, err := p.synthesize(ctx, runID, "warmup", SynthRequest{
		Text:     "Voice gate warmup.",
		Language: "EN",
		Voice:    p.cfg.DefaultVoice,
		Speed:    1.0,
	})
	p.endRun(runID, start, "warmup", "", err)
	if err != nil {
		return 0, 0, err
	}
	return time.Since(start), len(wav), nil
}

func (p *Pipeline) normalize(req SpeakRequest) SpeakRequest {
	if req.UserID == "" {
		req.UserID = p.cfg.DefaultVoice
	}
	if req.Speed <= 0 {
		req.Speed = 1.0
	}
	return req
}

func (p *Pipeline) synthesize(ctx context.Context, runID, op string, sreq SynthRequest) ([]byte, error) {
	metrics.SynthesisActive.Inc()
	defer metrics.SynthesisActive.Dec()
	ts := time.Now()
	wav, err := p.cfg.Synth.Synthesize(ctx, p.cfg.Engine, sreq)
	p.observe(runID, op, "synthesize", ts, sreq.Text, fmt.Sprintf("%d bytes", len(wav)), err)
	return wav, err
}

// extractTarget loads the user's stored sample and extracts the target tone
// embedding, recomputed on every conversion request.
func (p *Pipeline) extractTarget(ctx context.Context, runID, op, userID string) (*Embedding, error) {
	rc, err := p.cfg.Store.Get(ctx, userID, store.FormatMP3)
	if err != nil {
		return nil, fmt.Errorf("load sample: %w", err)
	}
	sample, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("load sample: %w", err)
	}

	key := store.SampleKey(userID, store.FormatMP3)
	ts := time.Now()
	emb, err := p.cfg.Embedder.Extract(ctx, sample, key, true)
	p.observe(runID, op, "extract_embedding", ts, key, embeddingID(emb), err)
	return emb, err
}

func (p *Pipeline) convert(ctx context.Context, runID, op string, wav []byte, target *Embedding) ([]byte, error) {
	ts := time.Now()
	converted, err := p.cfg.Converter.Convert(ctx, ConvertRequest{
		Audio:         wav,
		SourceSpeaker: p.cfg.BaseSpeaker,
		Target:        target,
		Message:       p.cfg.Watermark,
	})
	p.observe(runID, op, "convert", ts, fmt.Sprintf("%d bytes", len(wav)), fmt.Sprintf("%d bytes", len(converted)), err)
	return converted, err
}

// writeScratch writes synthesized audio to the shared scratch file. The path
// is shared across requests and writes are not locked, so concurrent
// synthesis can interleave on disk; responses are always served from the
// in-memory bytes, never read back from this file.
func (p *Pipeline) writeScratch(wav []byte) (string, error) {
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := p.scratchPath()
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("write scratch: %w", err)
	}
	return path, nil
}

func (p *Pipeline) scratchPath() string {
	return filepath.Join(p.cfg.OutputDir, "tmp.wav")
}

func (p *Pipeline) outputPath(userID string) string {
	name := "output_v2_" + SpeakerKey(p.cfg.BaseSpeaker) + ".wav"
	return filepath.Join(p.cfg.OutputDir, userID, name)
}

// SpeakerKey lowercases a speaker name and swaps underscores for hyphens,
// the converter's file-naming convention (EN_INDIA becomes en-india).
func SpeakerKey(speaker string) string {
	return strings.ToLower(strings.ReplaceAll(speaker, "_", "-"))
}

func embeddingID(emb *Embedding) string {
	if emb == nil {
		return ""
	}
	return emb.AudioID
}

func (p *Pipeline) startRun(op string) string {
	if p.cfg.Tracer == nil {
		return ""
	}
	return p.cfg.Tracer.StartRun(op)
}

func (p *Pipeline) endRun(runID string, started time.Time, input, artifact string, err error) {
	if p.cfg.Tracer == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.cfg.Tracer.EndRun(runID, time.Since(started).Seconds()*1000, input, artifact, status)
}

// observe records one pipeline stage: duration histogram, error counter, and
// a trace span when tracing is on.
func (p *Pipeline) observe(runID, op, stage string, started time.Time, input, output string, err error) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues(op, stage).Inc()
	}
	if p.cfg.Tracer == nil {
		return
	}
	status, errMsg := "ok", ""
	if err != nil {
		status, errMsg = "error", err.Error()
	}
	p.cfg.Tracer.RecordSpan(runID, stage, started, time.Since(started).Seconds()*1000, input, output, status, errMsg)
}
