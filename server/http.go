// Package server provides the HTTP server for the wiki sync backend.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"github.com/wikibag/wikibag/attachment"
	"github.com/wikibag/wikibag/objstore"
	"github.com/wikibag/wikibag/snapshot"
	"github.com/wikibag/wikibag/store"
	"github.com/wikibag/wikibag/telemetry"
)

// DefaultMaxBodyBytes caps mutating request bodies (base64-inflated binary
// tiddlers are the largest payloads).
const DefaultMaxBodyBytes = 20 << 20

// presignTTL is how long handed-out upload URLs stay valid.
const presignTTL = 5 * time.Minute

// Status is the server identity reported to the wiki front end.
type Status struct {
	Username          string `json:"username"`
	Anonymous         bool   `json:"anonymous"`
	ReadOnly          bool   `json:"read_only"`
	Space             Space  `json:"space"`
	TiddlyWikiVersion string `json:"tiddlywiki_version"`
}

// Space names the recipe the front end syncs against.
type Space struct {
	Recipe string `json:"recipe"`
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// Store is the tiddler record store.
	Store *store.Store

	// Files is the local directory offloaded binaries are served from.
	Files *attachment.FilesDir

	// Template is the parsed carrier page.
	Template *snapshot.Template

	// Offloader extracts inline binary payloads on write.
	Offloader *attachment.Offloader

	// Cleaner reclaims backing storage after deletes.
	Cleaner *attachment.Cleaner

	// Objects is the object storage client; nil disables /api/sign-upload.
	Objects *objstore.Client

	// S3Name is the display name reported in sign-upload responses.
	S3Name string

	// Bucket is the bucket presigned uploads land in.
	Bucket string

	// PublicURLBase is the public prefix uploaded objects are served from.
	PublicURLBase string

	// Status is the identity served on /status.
	Status Status

	// AuthUsername and AuthPassword enable HTTP basic auth when both set.
	AuthUsername string
	AuthPassword string

	// MaxBodyBytes caps mutating request bodies. Default 20 MiB.
	MaxBodyBytes int64

	// Logger for the server.
	Logger *slog.Logger
}

// Server is the HTTP server for the wiki sync backend.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Status.Username == "" {
		cfg.Status.Username = "anonymous"
	}
	if cfg.Status.Space.Recipe == "" {
		cfg.Status.Space.Recipe = "default"
	}
	if cfg.Status.TiddlyWikiVersion == "" {
		cfg.Status.TiddlyWikiVersion = "5.3.8"
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if cfg.Template == nil {
		return nil, fmt.Errorf("server: carrier template is required")
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		now:    time.Now,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := s.authMiddleware(s.loggingMiddleware(gzhttp.GzipHandler(mux)))

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // full-wiki snapshots can be large
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handle("wiki", s.handleWiki))
	mux.HandleFunc("GET /status", s.handle("status", s.handleStatus))

	mux.HandleFunc("GET /recipes/default/tiddlers.json", s.handle("list", s.handleList))
	mux.HandleFunc("GET /recipes/default/tiddlers/{title}", s.handle("get", s.handleGet))
	mux.HandleFunc("PUT /recipes/default/tiddlers/{title}", s.handle("put", s.handlePut))

	mux.HandleFunc("DELETE /bags/default/tiddlers/{title}", s.handle("delete", s.handleDelete))
	// Misspelled alias kept for old clients that shipped with the typo.
	mux.HandleFunc("DELETE /bags/efault/tiddlers/{title}", s.handle("delete", s.handleDelete))

	mux.HandleFunc("GET /api/sign-upload", s.handle("sign-upload", s.handleSignUpload))
	mux.HandleFunc("POST /api/inbox", s.handle("inbox", s.handleInbox))

	if s.config.Files != nil {
		files := http.FileServer(http.Dir(s.config.Files.Root()))
		mux.Handle("GET /files/", http.StripPrefix("/files/", files))
	}

	mux.Handle("GET /metrics", telemetry.PrometheusHandler())
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Inject request tags so handlers can set the endpoint.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}

		endpoint := ""
		if tags != nil && tags.Endpoint != "" {
			endpoint = tags.Endpoint
			attrs = append(attrs, "endpoint", endpoint)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), endpoint, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written. It preserves http.Flusher for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
