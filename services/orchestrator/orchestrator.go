// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the question-answering service.
//
// This package wires every component of the service together: the
// execution loop, the capability layer (retrieval, synthesis, safety),
// the conversation store with its Badger persistence, HTTP routing, and
// the observability infrastructure (OTel tracing, Prometheus metrics,
// optional InfluxDB audit sink).
//
// # Usage
//
//	cfg := orchestrator.ConfigFromEnv()
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianAnswers/services/llm"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/authority"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities/guardrails"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities/memory"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities/tailor"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/executor"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/planner"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/verifier"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	// Resources are released when it returns.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers
	// must not modify the router.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables via ConfigFromEnv,
// or programmatically for testing. Zero values take the defaults
// applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// WeaviateURL is the Weaviate vector database URL. Required; the
	// retrieval capability cannot run without it.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// DisableTracing skips OTel setup entirely. Useful for tests.
	DisableTracing bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// APIKey enables bearer auth on /v1 when non-empty.
	APIKey string

	// RateLimitRPS and RateLimitBurst configure per-client limiting.
	// RateLimitRPS <= 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// SessionDBPath is the Badger directory for conversation state.
	// Default: "./data/sessions"
	SessionDBPath string

	// SessionDBInMemory keeps conversation state off disk. Sessions do
	// not survive a restart in this mode.
	SessionDBInMemory bool

	// ArchiveBucket is the GCS bucket for transcript archival. Empty
	// disables archival.
	ArchiveBucket string

	// ArchiveCredentialsFile is an optional service-account key path
	// for the archive client. Empty uses ambient credentials.
	ArchiveCredentialsFile string

	// AuthorityPath is an optional YAML file defining the source-type
	// authority order. Empty uses the built-in default order. When
	// set, the file is watched and hot-reloaded on change.
	AuthorityPath string

	// Execution bounds one request. Zero values take the executor's
	// defaults (5 cycles, 30s steps, top 5 chunks at 0.7 relevance).
	Execution executor.Config
}

// ConfigFromEnv builds a Config from the process environment.
//
// # Description
//
// Reads the ALEUTIAN_* variables and leaves anything unset at its zero
// value so New() applies defaults. Malformed numeric values are logged
// and ignored.
func ConfigFromEnv() Config {
	cfg := Config{
		WeaviateURL:            os.Getenv("WEAVIATE_URL"),
		OTelEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GinMode:                os.Getenv("GIN_MODE"),
		APIKey:                 os.Getenv("ALEUTIAN_API_KEY"),
		SessionDBPath:          os.Getenv("ALEUTIAN_SESSION_DB"),
		ArchiveBucket:          os.Getenv("ALEUTIAN_ARCHIVE_BUCKET"),
		ArchiveCredentialsFile: os.Getenv("ALEUTIAN_ARCHIVE_SA_KEY"),
		AuthorityPath:          os.Getenv("ALEUTIAN_AUTHORITY_FILE"),
	}

	cfg.Port = envInt("ORCHESTRATOR_PORT", 12210)
	cfg.RateLimitRPS = envFloat("ALEUTIAN_RATE_LIMIT_RPS", 0)
	cfg.RateLimitBurst = envInt("ALEUTIAN_RATE_LIMIT_BURST", 0)
	cfg.Execution.MaxCycles = envInt("ALEUTIAN_MAX_CYCLES", 0)
	cfg.Execution.TopK = envInt("ALEUTIAN_RETRIEVAL_TOP_K", 0)
	cfg.Execution.MinRelevance = envFloat("ALEUTIAN_MIN_RELEVANCE", 0)
	if secs := envInt("ALEUTIAN_STEP_TIMEOUT_SECONDS", 0); secs > 0 {
		cfg.Execution.StepTimeout = time.Duration(secs) * time.Second
	}

	return cfg
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring malformed integer env var", "key", key, "value", raw)
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Ignoring malformed float env var", "key", key, "value", raw)
		return fallback
	}
	return v
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - the execution loop and its capabilities
//   - the conversation store backed by Badger
//   - OpenTelemetry tracing and Prometheus metrics
//   - optional GCS transcript archival and InfluxDB auditing
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config Config
	router *gin.Engine

	weaviateClient *weaviate.Client
	llmClient      llm.LLMClient
	store          *conversation.Store
	persist        *conversation.BadgerPersistence
	archiver       *conversation.Archiver
	auditSink      *audit.InfluxSink
	authorityWatch *authority.Watcher
	exec           *executor.Executor

	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Connects to Weaviate and ensures the knowledge schema
//  4. Creates the LLM client from the environment
//  5. Builds the capability layer: retrieval, synthesis, safety
//  6. Opens the Badger-backed conversation store and restores sessions
//  7. Wires optional archival and audit sinks
//  8. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - Weaviate is reachable at the configured URL
//   - Environment variables are set for the chosen LLM provider
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if !s.config.DisableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	observability.InitMetrics()

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize Weaviate: %w", err)
	}

	var err error
	s.llmClient, err = llm.NewClientFromEnv()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	if err := s.initConversationStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}

	if err := s.initArchiver(); err != nil {
		slog.Warn("Transcript archival disabled", "error", err)
		// Not fatal. Answers still flow without the archive.
	}

	s.initAuditSink()

	if err := s.initExecutor(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.SessionDBPath == "" {
		cfg.SessionDBPath = "./data/sessions"
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = int(cfg.RateLimitRPS) * 2
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter sending spans to the configured
// collector over insecure gRPC, which is appropriate for internal
// networks.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("answers-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate connects to the Weaviate vector database.
//
// # Description
//
// Validates the configured URL, creates the client, and ensures the
// KnowledgeChunk class exists. Unlike most dependencies this one is
// required: every answer is grounded in retrieved evidence, so there
// is no mode without the knowledge base.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return fmt.Errorf("WEAVIATE_URL is required")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := datatypes.EnsureKnowledgeChunkSchema(ctx, s.weaviateClient); err != nil {
		slog.Warn("Knowledge schema check failed, continuing", "error", err)
		// Not fatal. The class may be managed by the ingestion pipeline.
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initConversationStore opens Badger persistence and restores any
// sessions that survived the last shutdown.
func (s *service) initConversationStore() error {
	badgerCfg := conversation.DefaultBadgerConfig(s.config.SessionDBPath)
	badgerCfg.InMemory = s.config.SessionDBInMemory

	persist, err := conversation.OpenBadgerPersistence(badgerCfg)
	if err != nil {
		return err
	}
	s.persist = persist
	s.store = conversation.NewStore(persist)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.store.Restore(ctx); err != nil {
		slog.Warn("Session restore failed, starting with empty store",
			"error", err)
	}
	return nil
}

// initArchiver wires the GCS transcript archive when a bucket is
// configured. Archival is strictly best-effort.
func (s *service) initArchiver() error {
	if s.config.ArchiveBucket == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	archiver, err := conversation.NewArchiver(ctx,
		s.config.ArchiveBucket, s.config.ArchiveCredentialsFile)
	if err != nil {
		return err
	}
	s.archiver = archiver
	slog.Info("Transcript archival enabled", "bucket", s.config.ArchiveBucket)
	return nil
}

// initAuditSink wires the InfluxDB run recorder when INFLUXDB_URL is
// set. A failed connection logs a warning; auditing is optional.
func (s *service) initAuditSink() {
	if os.Getenv("INFLUXDB_URL") == "" {
		return
	}

	sink, err := audit.NewInfluxSinkFromEnv()
	if err != nil {
		slog.Warn("Audit sink disabled", "error", err)
		return
	}
	s.auditSink = sink
	slog.Info("InfluxDB audit sink enabled")
}

// initExecutor builds the capability layer and the execution loop.
func (s *service) initExecutor() error {
	order, err := s.initAuthorityOrder()
	if err != nil {
		return err
	}

	safety, err := guardrails.NewFilter()
	if err != nil {
		return fmt.Errorf("failed to build safety filter: %w", err)
	}

	retriever := memory.NewRetriever(s.weaviateClient)
	synthesizer := tailor.NewSynthesizer(s.llmClient, order)
	plan := planner.New(s.llmClient)

	// A typed nil *InfluxSink stored in a Recorder interface would not
	// compare equal to nil, so only assign when the sink exists.
	var recorder executor.Recorder
	if s.auditSink != nil {
		recorder = s.auditSink
	}

	s.exec = executor.New(s.config.Execution, plan, retriever,
		synthesizer, safety, verifier.New(), recorder)
	return nil
}

// initAuthorityOrder loads the source-type authority order, watching
// the file for hot reloads when a path is configured.
func (s *service) initAuthorityOrder() (*authority.Order, error) {
	if s.config.AuthorityPath == "" {
		return authority.NewDefaultOrder(), nil
	}

	order, err := authority.LoadOrder(s.config.AuthorityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load authority order: %w", err)
	}

	watcher, err := authority.NewWatcher(order, s.config.AuthorityPath)
	if err != nil {
		slog.Warn("Authority file watch failed, order is static",
			"path", s.config.AuthorityPath, "error", err)
	} else {
		s.authorityWatch = watcher
	}
	return order, nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("answers-orchestrator"))

	var archive func(ctx context.Context, state *datatypes.ConversationState)
	if s.archiver != nil {
		archiver := s.archiver
		archive = func(ctx context.Context, state *datatypes.ConversationState) {
			if err := archiver.Archive(ctx, state); err != nil {
				slog.Warn("Transcript archive failed",
					"session_id", state.SessionId, "error", err)
			}
		}
	}

	var limiter *middleware.RateLimiter
	if s.config.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)
	}

	routes.SetupRoutes(s.router, routes.Options{
		QueryDeps: handlers.QueryDeps{
			Executor: s.exec,
			Store:    s.store,
			Metrics:  observability.DefaultMetrics,
			Archive:  archive,
		},
		Store:       s.store,
		IndexStatus: memory.NewRetriever(s.weaviateClient),
		APIKey:      s.config.APIKey,
		RateLimit:   limiter,
	})
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Closes the
// session database, audit and archive clients, the authority watcher,
// and the tracer, then wipes any secure token buffers still resident.
func (s *service) cleanup() {
	if s.authorityWatch != nil {
		if err := s.authorityWatch.Close(); err != nil {
			slog.Warn("Authority watcher close error", "error", err)
		}
	}

	if s.auditSink != nil {
		s.auditSink.Close()
	}

	if s.archiver != nil {
		if err := s.archiver.Close(); err != nil {
			slog.Warn("Archive client close error", "error", err)
		}
	}

	if s.persist != nil {
		if err := s.persist.Close(); err != nil {
			slog.Warn("Session database close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}

	handlers.PurgeAllSecureMemory()
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
