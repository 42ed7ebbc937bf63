package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackmichael/clean-following/internal/config"
	"github.com/blackmichael/clean-following/internal/domain"
	"github.com/blackmichael/clean-following/internal/monitoring"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// FeedProvider is the read-side surface the server needs from the domain.
type FeedProvider interface {
	FeedURIs() []string
	GetFeedSkeleton(ctx context.Context, feedURI string, limit int, cursor string) (*domain.FeedSkeleton, error)
}

// Server is the HTTP server that serves feed generator XRPC endpoints.
type Server struct {
	cfg        *config.Config
	feeds      FeedProvider
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server with the given feed provider.
func NewServer(cfg *config.Config, feeds FeedProvider, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		feeds:  feeds,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/did.json", s.handleDIDDoc)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.describeFeedGenerator", s.handleDescribeFeedGenerator)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withObservability(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, letting in-flight requests
// finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDIDDoc(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       s.cfg.ServiceDID(),
		"service": []map[string]any{
			{
				"id":              "#bsky_fg",
				"type":            "BskyFeedGenerator",
				"serviceEndpoint": fmt.Sprintf("https://%s", s.cfg.Hostname),
			},
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDescribeFeedGenerator(w http.ResponseWriter, _ *http.Request) {
	uris := s.feeds.FeedURIs()
	feeds := make([]map[string]string, 0, len(uris))
	for _, uri := range uris {
		feeds = append(feeds, map[string]string{"uri": uri})
	}

	resp := map[string]any{
		"did":   s.cfg.ServiceDID(),
		"feeds": feeds,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	feedURI := r.URL.Query().Get("feed")
	if feedURI == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "feed parameter is required")
		return
	}

	// Access control: when configured, only allowed DIDs see the feed.
	// Blocked requesters get an empty feed rather than an error.
	if len(s.cfg.AllowedDIDs) > 0 {
		requester := requesterDID(r)
		if requester != "" {
			if _, ok := s.cfg.AllowedDIDs[requester]; !ok {
				s.logger.Info("blocked feed request", "requester", requester)
				writeJSON(w, http.StatusOK, map[string]any{"feed": []any{}})
				return
			}
		}
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cursor := r.URL.Query().Get("cursor")

	skeleton, err := s.feeds.GetFeedSkeleton(r.Context(), feedURI, limit, cursor)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownFeed) {
			writeError(w, http.StatusBadRequest, "UnknownFeed", fmt.Sprintf("unknown feed: %s", feedURI))
			return
		}
		s.logger.Error("failed to get feed skeleton",
			"feed", feedURI,
			"limit", limit,
			"cursor", cursor,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to get feed")
		return
	}

	resp := map[string]any{
		"feed": toSkeletonResponse(skeleton.Items),
	}
	if skeleton.Cursor != "" {
		resp["cursor"] = skeleton.Cursor
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseLimit clamps the limit parameter into [1, maxLimit]; anything
// malformed falls back to the default rather than erroring.
func parseLimit(raw string) int {
	if raw == "" {
		return defaultLimit
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return defaultLimit
	}
	if parsed > maxLimit {
		return maxLimit
	}
	return parsed
}

func toSkeletonResponse(items []domain.FeedItem) []map[string]any {
	result := make([]map[string]any, len(items))
	for i, item := range items {
		entry := map[string]any{"post": item.PostURI}
		if item.RepostURI != "" {
			entry["reason"] = map[string]string{
				"$type":  "app.bsky.feed.defs#skeletonReasonRepost",
				"repost": item.RepostURI,
			}
		}
		result[i] = entry
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withObservability(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		elapsed := time.Since(start)

		monitoring.HTTPRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(r.URL.Path).Observe(elapsed.Seconds())

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", elapsed,
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requesterDID extracts the requesting user's DID from the Authorization
// JWT's iss claim. The AppView signs these; we only need the identity, so
// the token is decoded without verification.
func requesterDID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return issuerFromJWT(token)
}
