package main

import "github.com/txtparrot/voicegate/internal/env"

type config struct {
	port              string
	meloURL           string
	piperURL          string
	openvoiceURL      string
	openaiAPIKey      string
	openaiModel       string
	openaiVoice       string
	ttsEngine         string
	defaultVoice      string
	baseSpeaker       string
	watermark         string
	resourcesDir      string
	outputsDir        string
	ffmpegBin         string
	sampleStore       string
	s3Bucket          string
	s3Prefix          string
	s3Region          string
	s3Endpoint        string
	s3AccessKey       string
	s3SecretKey       string
	traceDBURL        string
	serviceManager    string
	composeFile       string
	composeProject    string
	meloControlURL    string
	ovControlURL      string
	httpPoolSize      int
	ttsTimeoutSec     int
	embedTimeoutSec   int
	convertTimeoutSec int
	wsMaxSessions     int
}

func loadConfig() config {
	return config{
		port:              env.Str("PORT", "8080"),
		meloURL:           env.Str("MELO_URL", "http://localhost:8085"),
		piperURL:          env.Str("PIPER_URL", ""),
		openvoiceURL:      env.Str("OPENVOICE_URL", "http://localhost:8086"),
		openaiAPIKey:      env.Str("OPENAI_API_KEY", ""),
		openaiModel:       env.Str("OPENAI_TTS_MODEL", "gpt-4o-mini-tts"),
		openaiVoice:       env.Str("OPENAI_TTS_VOICE", "alloy"),
		ttsEngine:         env.Str("TTS_ENGINE", "melo"),
		defaultVoice:      env.Str("DEFAULT_VOICE", "EN_NEWEST"),
		baseSpeaker:       env.Str("BASE_SPEAKER", "EN_INDIA"),
		watermark:         env.Str("WATERMARK", "@MyShell"),
		resourcesDir:      env.Str("RESOURCES_DIR", "resources"),
		outputsDir:        env.Str("OUTPUTS_DIR", "outputs"),
		ffmpegBin:         env.Str("FFMPEG_BIN", "ffmpeg"),
		sampleStore:       env.Str("SAMPLE_STORE", "disk"),
		s3Bucket:          env.Str("S3_BUCKET", ""),
		s3Prefix:          env.Str("S3_PREFIX", ""),
		s3Region:          env.Str("S3_REGION", "us-east-1"),
		s3Endpoint:        env.Str("S3_ENDPOINT", ""),
		s3AccessKey:       env.Str("S3_ACCESS_KEY", ""),
		s3SecretKey:       env.Str("S3_SECRET_KEY", ""),
		traceDBURL:        env.Str("TRACE_DB_URL", ""),
		serviceManager:    env.Str("SERVICE_MANAGER", ""),
		composeFile:       env.Str("COMPOSE_FILE", "docker-compose.yml"),
		composeProject:    env.Str("COMPOSE_PROJECT", "voicegate"),
		meloControlURL:    env.Str("MELO_CONTROL_URL", ""),
		ovControlURL:      env.Str("OPENVOICE_CONTROL_URL", ""),
		httpPoolSize:      env.Int("HTTP_POOL_SIZE", 8),
		ttsTimeoutSec:     env.Int("TTS_TIMEOUT_SEC", 60),
		embedTimeoutSec:   env.Int("EMBED_TIMEOUT_SEC", 60),
		convertTimeoutSec: env.Int("CONVERT_TIMEOUT_SEC", 60),
		wsMaxSessions:     env.Int("WS_MAX_SESSIONS", 4),
	}
}
