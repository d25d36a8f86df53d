package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/txtparrot/voicegate/internal/audio"
	"github.com/txtparrot/voicegate/internal/orchestrator"
	"github.com/txtparrot/voicegate/internal/pipeline"
	"github.com/txtparrot/voicegate/internal/store"
	"github.com/txtparrot/voicegate/internal/trace"
	"github.com/txtparrot/voicegate/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	samples, err := newSampleStore(cfg)
	if err != nil {
		slog.Error("sample store init failed", "error", err)
		os.Exit(1)
	}

	ttsHTTP := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, time.Duration(cfg.ttsTimeoutSec)*time.Second)
	embedHTTP := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, time.Duration(cfg.embedTimeoutSec)*time.Second)
	convertHTTP := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, time.Duration(cfg.convertTimeoutSec)*time.Second)

	backends := map[string]pipeline.Synthesizer{
		"melo": pipeline.NewMeloSynthesizer(cfg.meloURL, ttsHTTP),
	}
	if cfg.piperURL != "" {
		backends["piper"] = pipeline.NewPiperSynthesizer(cfg.piperURL, ttsHTTP)
	}
	if cfg.openaiAPIKey != "" {
		backends["openai"] = pipeline.NewOpenAISynthesizer(cfg.openaiAPIKey, "", cfg.openaiModel, cfg.openaiVoice, ttsHTTP)
	}
	router := pipeline.NewSynthRouter(backends, "melo")

	// The extractor and converter share one sidecar but get separate pooled
	// clients so each concern keeps its own timeout.
	embedder := pipeline.NewOpenVoiceClient(cfg.openvoiceURL, embedHTTP)
	converter := pipeline.NewOpenVoiceClient(cfg.openvoiceURL, convertHTTP)

	// Tracing is optional; a nil tracer makes every trace call a no-op.
	var traceStore *trace.Store
	var tracer *trace.Tracer
	var sessionID string
	if cfg.traceDBURL != "" {
		traceStore, err = trace.Open(cfg.traceDBURL)
		if err != nil {
			slog.Warn("tracing disabled", "error", err)
			traceStore = nil
		} else {
			sessionID = uuid.NewString()
			if err := traceStore.CreateSession(sessionID, "voicegate boot"); err != nil {
				slog.Warn("trace session create", "error", err)
			}
			tracer = trace.NewTracer(traceStore, sessionID)
			slog.Info("tracing enabled", "session_id", sessionID)
		}
	}

	pipe := pipeline.New(pipeline.Config{
		Store:        samples,
		Transcoder:   audio.NewTranscoder(cfg.ffmpegBin),
		Embedder:     embedder,
		Synth:        router,
		Converter:    converter,
		OutputDir:    cfg.outputsDir,
		Engine:       cfg.ttsEngine,
		DefaultVoice: cfg.defaultVoice,
		BaseSpeaker:  cfg.baseSpeaker,
		Watermark:    cfg.watermark,
		Tracer:       tracer,
	})

	streamHandler := ws.NewHandler(ws.HandlerConfig{
		Pipeline:    pipe,
		MaxSessions: cfg.wsMaxSessions,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		pipe:       pipe,
		router:     router,
		openvoice:  embedder,
		wsHandler:  streamHandler,
		svcMgr:     newServiceManager(cfg),
		traceStore: traceStore,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("voicegate starting", "addr", addr, "engine", cfg.ttsEngine, "engines", router.Engines(), "store", cfg.sampleStore)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	tracer.Close()
	if traceStore != nil {
		if err := traceStore.EndSession(sessionID); err != nil {
			slog.Warn("trace session end", "error", err)
		}
		traceStore.Close()
	}

	slog.Info("voicegate stopped")
}

// newServiceManager builds the model-service supervisor behind /api/services.
// Returns nil (routes answer 404) unless SERVICE_MANAGER selects a mode.
func newServiceManager(cfg config) orchestrator.ServiceManager {
	if cfg.serviceManager == "" {
		return nil
	}

	services := map[string]orchestrator.ServiceMeta{
		"melo":      {Category: "tts", HealthURL: cfg.meloURL + "/health", ControlURL: cfg.meloControlURL},
		"openvoice": {Category: "conversion", HealthURL: cfg.openvoiceURL + "/health", ControlURL: cfg.ovControlURL},
	}
	if cfg.piperURL != "" {
		services["piper"] = orchestrator.ServiceMeta{Category: "tts", HealthURL: cfg.piperURL + "/health"}
	}
	registry := orchestrator.NewRegistry(services)

	switch cfg.serviceManager {
	case "compose":
		mgr := orchestrator.NewComposeManager(cfg.composeFile, cfg.composeProject, registry)
		go mgr.PullAll(context.Background())
		slog.Info("service manager enabled", "mode", "compose", "services", registry.Names())
		return mgr
	case "control":
		slog.Info("service manager enabled", "mode", "control", "services", registry.Names())
		return orchestrator.NewControlManager(registry)
	default:
		slog.Warn("unknown SERVICE_MANAGER, service routes disabled", "value", cfg.serviceManager)
		return nil
	}
}

func newSampleStore(cfg config) (store.SampleStore, error) {
	if cfg.sampleStore == "s3" {
		slog.Info("sample store", "kind", "s3", "bucket", cfg.s3Bucket, "prefix", cfg.s3Prefix)
		return store.NewS3(newS3Client(cfg), cfg.s3Bucket, cfg.s3Prefix), nil
	}
	disk, err := store.NewDisk(cfg.resourcesDir)
	if err != nil {
		return nil, err
	}
	slog.Info("sample store", "kind", "disk", "root", cfg.resourcesDir)
	return disk, nil
}

func newS3Client(cfg config) *s3.Client {
	opts := s3.Options{Region: cfg.s3Region}
	if cfg.s3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.s3Endpoint)
		opts.UsePathStyle = true
	}
	if cfg.s3AccessKey != "" {
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: cfg.s3AccessKey, SecretAccessKey: cfg.s3SecretKey}, nil
		})
	}
	return s3.New(opts)
}
