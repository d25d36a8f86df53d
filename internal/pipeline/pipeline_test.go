package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txtparrot/voicegate/internal/audio"
	"github.com/txtparrot/voicegate/internal/store"
)

type stubSynth struct {
	mu    sync.Mutex
	name  string
	wav   []byte
	err   error
	calls int
	got   SynthRequest
}

func (s *stubSynth) Synthesize(_ context.Context, req SynthRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return s.wav, nil
}

func (s *stubSynth) Name() string                  { return s.name }
func (s *stubSynth) Healthy(context.Context) error { return nil }

type stubEmbedder struct {
	mu       sync.Mutex
	emb      *Embedding
	err      error
	calls    int
	filename string
	vad      bool
}

func (s *stubEmbedder) Extract(_ context.Context, _ []byte, filename string, vad bool) (*Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.filename = filename
	s.vad = vad
	if s.err != nil {
		return nil, s.err
	}
	return s.emb, nil
}

type stubConverter struct {
	mu    sync.Mutex
	out   []byte
	err   error
	calls int
	got   ConvertRequest
}

func (s *stubConverter) Convert(_ context.Context, req ConvertRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

type stubTranscoder struct {
	out   []byte
	err   error
	calls int
}

func (s *stubTranscoder) Transcode(_ context.Context, _ []byte, _, _ string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

// newTestPipeline builds a pipeline over a disk store rooted in a temp dir
// and returns the pipeline plus the temp root.
func newTestPipeline(t *testing.T, synth *stubSynth, emb *stubEmbedder, conv *stubConverter, tc *stubTranscoder) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	disk, err := store.NewDisk(filepath.Join(root, "resources"))
	require.NoError(t, err)
	p := New(Config{
		Store:        disk,
		Transcoder:   tc,
		Embedder:     emb,
		Synth:        NewSynthRouter(map[string]Synthesizer{"melo": synth}, "melo"),
		Converter:    conv,
		OutputDir:    filepath.Join(root, "outputs"),
		Engine:       "melo",
		DefaultVoice: "EN_NEWEST",
		BaseSpeaker:  "EN_INDIA",
		Watermark:    "@MyShell",
	})
	return p, root
}

func TestNewDefaults(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, "melo", p.Engine())
	assert.Equal(t, "EN_NEWEST", p.DefaultVoice())
	assert.Equal(t, "EN_INDIA", p.BaseSpeaker())
}

func TestCloneStoresBothFormatsAndExtracts(t *testing.T) {
	emb := &stubEmbedder{emb: &Embedding{AudioID: "resources/alice_voice.mp3", Vector: []float32{1}}}
	tc := &stubTranscoder{out: []byte("mp3-bytes")}
	p, root := newTestPipeline(t, &stubSynth{name: "melo"}, emb, &stubConverter{}, tc)

	res, err := p.Clone(context.Background(), "alice", []byte("webm-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "resources/alice_voice.mp3", res.AudioID)

	// Both sample formats persisted under the resource root.
	webm, err := os.ReadFile(filepath.Join(root, "resources", "alice_voice.webm"))
	require.NoError(t, err)
	assert.Equal(t, []byte("webm-bytes"), webm)
	mp3, err := os.ReadFile(filepath.Join(root, "resources", "alice_voice.mp3"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), mp3)

	// Extraction ran over the transcoded sample with VAD on.
	assert.Equal(t, 1, emb.calls)
	assert.True(t, emb.vad)
	assert.Equal(t, "alice_voice.mp3", emb.filename)
}

func TestCloneTranscodeFailure(t *testing.T) {
	emb := &stubEmbedder{emb: &Embedding{AudioID: "x"}}
	tc := &stubTranscoder{err: errors.New("ffmpeg exploded")}
	p, _ := newTestPipeline(t, &stubSynth{name: "melo"}, emb, &stubConverter{}, tc)

	_, err := p.Clone(context.Background(), "alice", []byte("webm"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg exploded")
	// No extraction after a failed transcode.
	assert.Zero(t, emb.calls)
}

func TestSpeakRawSynthesis(t *testing.T) {
	wav := audio.SamplesToWAV(make([]float32, 1600), 16000)
	synth := &stubSynth{name: "melo", wav: wav}
	conv := &stubConverter{}
	p, root := newTestPipeline(t, synth, &stubEmbedder{}, conv, &stubTranscoder{})

	res, err := p.Speak(context.Background(), SpeakRequest{Text: "Hello there.", Language: "EN"})
	require.NoError(t, err)
	assert.Equal(t, wav, res.Audio)
	assert.False(t, res.Converted)

	// Defaults applied: voice-bank name and unit speed.
	assert.Equal(t, "EN_NEWEST", synth.got.Voice)
	assert.InDelta(t, 1.0, synth.got.Speed, 1e-9)
	assert.Zero(t, conv.calls)

	// Scratch artifact written; the response is served from memory.
	scratchPath := filepath.Join(root, "outputs", "tmp.wav")
	assert.Equal(t, scratchPath, res.Path)
	scratch, err := os.ReadFile(scratchPath)
	require.NoError(t, err)
	assert.Equal(t, wav, scratch)
}

func TestSpeakHonorsSpeedAndUser(t *testing.T) {
	synth := &stubSynth{name: "melo", wav: []byte("wav")}
	p, _ := newTestPipeline(t, synth, &stubEmbedder{}, &stubConverter{}, &stubTranscoder{})

	_, err := p.Speak(context.Background(), SpeakRequest{Text: "hi", Language: "EN", UserID: "EN_US", Speed: 1.5})
	require.NoError(t, err)
	assert.Equal(t, "EN_US", synth.got.Voice)
	assert.InDelta(t, 1.5, synth.got.Speed, 1e-9)
}

func TestSpeakUnknownSpeaker(t *testing.T) {
	synth := &stubSynth{name: "melo", wav: []byte("wav")}
	emb := &stubEmbedder{}
	p, _ := newTestPipeline(t, synth, emb, &stubConverter{}, &stubTranscoder{})

	_, err := p.Speak(context.Background(), SpeakRequest{Text: "hi", Language: "EN", UserID: "ghost", ApplyToneConversion: true})
	require.ErrorIs(t, err, ErrSpeakerNotFound)
	assert.Contains(t, err.Error(), "ghost")

	// Rejected before any model work.
	assert.Zero(t, synth.calls)
	assert.Zero(t, emb.calls)
}

func TestSpeakWithConversion(t *testing.T) {
	baseWav := audio.SamplesToWAV(make([]float32, 800), 16000)
	convWav := audio.SamplesToWAV(make([]float32, 1600), 16000)
	synth := &stubSynth{name: "melo", wav: baseWav}
	emb := &stubEmbedder{emb: &Embedding{AudioID: "resources/alice_voice.mp3", Vector: []float32{0.5}}}
	conv := &stubConverter{out: convWav}
	p, root := newTestPipeline(t, synth, emb, conv, &stubTranscoder{out: []byte("mp3")})

	_, err := p.Clone(context.Background(), "alice", []byte("webm"))
	require.NoError(t, err)

	res, err := p.Speak(context.Background(), SpeakRequest{Text: "Hi.", Language: "EN", UserID: "alice", ApplyToneConversion: true})
	require.NoError(t, err)
	assert.True(t, res.Converted)
	assert.Equal(t, convWav, res.Audio)

	// Base speech is rendered in the converter's source timbre.
	assert.Equal(t, "EN_INDIA", synth.got.Voice)

	// Converter got the base audio, source key, target embedding, watermark.
	assert.Equal(t, baseWav, conv.got.Audio)
	assert.Equal(t, "EN_INDIA", conv.got.SourceSpeaker)
	require.NotNil(t, conv.got.Target)
	assert.Equal(t, "@MyShell", conv.got.Message)

	// Converted artifact lands under the per-user output dir.
	want := filepath.Join(root, "outputs", "alice", "output_v2_en-india.wav")
	assert.Equal(t, want, res.Path)
	onDisk, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, convWav, onDisk)

	// Embedding recomputed per request: once for clone, once for speak.
	assert.Equal(t, 2, emb.calls)
}

func TestSpeakConcurrentUsers(t *testing.T) {
	wav := audio.SamplesToWAV(make([]float32, 800), 16000)
	synth := &stubSynth{name: "melo", wav: wav}
	emb := &stubEmbedder{emb: &Embedding{AudioID: "id", Vector: []float32{1}}}
	conv := &stubConverter{out: wav}
	p, root := newTestPipeline(t, synth, emb, conv, &stubTranscoder{out: []byte("mp3")})

	users := []string{"alice", "bob", "carol"}
	for _, u := range users {
		_, err := p.Clone(context.Background(), u, []byte("webm-"+u))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(users))
	for _, u := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := p.Speak(context.Background(), SpeakRequest{Text: "Hi.", Language: "EN", UserID: user, ApplyToneConversion: true})
			errs <- err
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for _, u := range users {
		assert.FileExists(t, filepath.Join(root, "outputs", u, "output_v2_en-india.wav"))
	}
}

func TestSpeakStreamChunks(t *testing.T) {
	wav := audio.SamplesToWAV(make([]float32, 3000), 16000) // 6000 PCM bytes
	synth := &stubSynth{name: "melo", wav: wav}
	p, _ := newTestPipeline(t, synth, &stubEmbedder{}, &stubConverter{}, &stubTranscoder{})

	var chunks []AudioChunk
	err := p.SpeakStream(context.Background(), SpeakRequest{Text: "One. Two.", Language: "EN"}, func(c AudioChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)

	// Two sentences, each sentence chunked 2048+2048+1904.
	require.Len(t, chunks, 6)
	assert.Equal(t, 2, synth.calls)
	assert.Equal(t, 16000, chunks[0].SampleRate)
	assert.Equal(t, 1, chunks[0].Channels)
	assert.Len(t, chunks[0].PCM, 2048)
	assert.Len(t, chunks[2].PCM, 1904)

	var total int
	for _, c := range chunks {
		total += len(c.PCM)
	}
	assert.Equal(t, 2*6000, total)
}

func TestSpeakStreamEmitError(t *testing.T) {
	wav := audio.SamplesToWAV(make([]float32, 3000), 16000)
	synth := &stubSynth{name: "melo", wav: wav}
	p, _ := newTestPipeline(t, synth, &stubEmbedder{}, &stubConverter{}, &stubTranscoder{})

	sentinel := errors.New("client gone")
	err := p.SpeakStream(context.Background(), SpeakRequest{Text: "Hello.", Language: "EN"}, func(AudioChunk) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
}

func TestSpeakStreamUnknownSpeaker(t *testing.T) {
	synth := &stubSynth{name: "melo", wav: []byte("wav")}
	p, _ := newTestPipeline(t, synth, &stubEmbedder{}, &stubConverter{}, &stubTranscoder{})

	err := p.SpeakStream(context.Background(), SpeakRequest{Text: "Hi.", Language: "EN", UserID: "ghost", ApplyToneConversion: true}, func(AudioChunk) error {
		t.Fatal("no audio expected")
		return nil
	})
	require.ErrorIs(t, err, ErrSpeakerNotFound)
	assert.Zero(t, synth.calls)
}

func TestWarmup(t *testing.T) {
	synth := &stubSynth{name: "melo", wav: []byte("wav")}
	p, _ := newTestPipeline(t, synth, &stubEmbedder{}, &stubConverter{}, &stubTranscoder{})

	elapsed, n, err := p.Warmup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	assert.Equal(t, "EN_NEWEST", synth.got.Voice)
}

func TestSpeakerKey(t *testing.T) {
	assert.Equal(t, "en-india", SpeakerKey("EN_INDIA"))
	assert.Equal(t, "en-newest", SpeakerKey("EN_NEWEST"))
	assert.Equal(t, "en-br", SpeakerKey("EN_BR"))
}
