// Command crm-proxy serves cached CRM records over HTTP. It fronts the
// upstream CRM platform with a rate-limited client, a Redis-backed
// read-through cache, and a merged cross-entity search.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relaypoint/crm-gateway/internal/config"
	"github.com/relaypoint/crm-gateway/pkg/assoc"
	"github.com/relaypoint/crm-gateway/pkg/cache"
	"github.com/relaypoint/crm-gateway/pkg/client"
	"github.com/relaypoint/crm-gateway/pkg/crm"
	"github.com/relaypoint/crm-gateway/pkg/logging"
	"github.com/relaypoint/crm-gateway/pkg/ratelimit"
	"github.com/relaypoint/crm-gateway/pkg/search"
)

// ownerHeader carries the tenant whose records a request operates on.
const ownerHeader = "X-Owner-ID"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("crm-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr()).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()
	logger.Info().Str("addr", cfg.RedisAddr()).Msg("Connected to Redis")

	srv, err := newServer(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build server")
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Starting CRM proxy server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// server wires the gateway components behind the HTTP surface.
type server struct {
	cfg       *config.Config
	redis     *redis.Client
	contacts  *kindService
	companies *kindService
	merger    *search.Merger
	logger    zerolog.Logger
}

// kindService pairs one kind's remote collection with its cache.
type kindService struct {
	collection *crm.Collection
	cache      *cache.Cache
}

func newServer(cfg *config.Config, redisClient *redis.Client) (*server, error) {
	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, logging.NewLogger("rate-limit"))

	crmClient, err := client.New(client.Config{
		BaseURL:        cfg.CRM.BaseURL,
		AccessToken:    cfg.CRM.AccessToken,
		MaxRetries:     cfg.CRM.MaxRetries,
		RequestTimeout: cfg.CRM.RequestTimeout,
	}, limiter)
	if err != nil {
		return nil, fmt.Errorf("creating CRM client: %w", err)
	}

	objects := crm.NewObjects(crmClient)
	resolver := assoc.NewResolver(crmClient)
	cacheCfg := cache.Config{TTL: cfg.Cache.TTL}

	contacts := &kindService{collection: objects.Collection(crm.KindContacts)}
	contacts.cache = cache.New(cache.NewRedisStore(redisClient, crm.KindContacts), contacts.collection, cacheCfg)

	companies := &kindService{collection: objects.Collection(crm.KindCompanies)}
	companies.cache = cache.New(cache.NewRedisStore(redisClient, crm.KindCompanies), companies.collection, cacheCfg)

	return &server{
		cfg:       cfg,
		redis:     redisClient,
		contacts:  contacts,
		companies: companies,
		merger:    search.NewMerger(contacts.collection, companies.collection, resolver, contacts.cache),
		logger:    logging.NewLogger("crm-proxy"),
	}, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	api := http.NewServeMux()
	s.registerKind(api, "contacts", s.contacts)
	s.registerKind(api, "companies", s.companies)
	api.HandleFunc("GET /v1/search", s.handleSearch)

	mux.Handle("/v1/", s.requireAuth(api))

	return mux
}

func (s *server) registerKind(mux *http.ServeMux, name string, svc *kindService) {
	mux.HandleFunc("GET /v1/"+name, s.handleList(svc))
	mux.HandleFunc("POST /v1/"+name, s.handleCreate(svc))
	mux.HandleFunc("GET /v1/"+name+"/{id}", s.handleGet(svc))
	mux.HandleFunc("PATCH /v1/"+name+"/{id}", s.handleUpdate(svc))
	mux.HandleFunc("DELETE /v1/"+name+"/{id}", s.handleDelete(svc))
}

// requireAuth enforces the static bearer token when one is configured.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.AuthToken != "" {
			token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || token != s.cfg.Server.AuthToken {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.redis.Ping(r.Context()).Err(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "redis unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) handleList(svc *kindService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := owner(w, r)
		if !ok {
			return
		}

		records, servedStale, err := svc.cache.ListAll(r.Context(), ownerID)
		if err != nil {
			s.writeAPIError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"results": records,
			"stale":   servedStale,
		})
	}
}

func (s *server) handleGet(svc *kindService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := owner(w, r)
		if !ok {
			return
		}

		record, err := svc.cache.GetOne(r.Context(), ownerID, r.PathValue("id"))
		if err != nil {
			s.writeAPIError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, record)
	}
}

func (s *server) handleCreate(svc *kindService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := owner(w, r)
		if !ok {
			return
		}

		var props crm.Properties
		if err := json.NewDecoder(r.Body).Decode(&props); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		record, err := svc.collection.Create(r.Context(), props)
		if err != nil {
			s.writeAPIError(w, err)
			return
		}

		if err := svc.cache.UpsertOne(r.Context(), ownerID, record); err != nil {
			s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Failed to cache created record")
		}

		writeJSON(w, http.StatusCreated, record)
	}
}

func (s *server) handleUpdate(svc *kindService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := owner(w, r)
		if !ok {
			return
		}

		var props crm.Properties
		if err := json.NewDecoder(r.Body).Decode(&props); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		record, err := svc.collection.Update(r.Context(), r.PathValue("id"), props)
		if err != nil {
			s.writeAPIError(w, err)
			return
		}

		if err := svc.cache.UpsertOne(r.Context(), ownerID, record); err != nil {
			s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Failed to cache updated record")
		}

		writeJSON(w, http.StatusOK, record)
	}
}

func (s *server) handleDelete(svc *kindService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := owner(w, r)
		if !ok {
			return
		}

		if err := svc.cache.DeleteOne(r.Context(), ownerID, r.PathValue("id")); err != nil {
			s.writeAPIError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	results, err := s.merger.Search(r.Context(), ownerID, query)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// owner extracts the tenant id; requests without one are rejected.
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := strings.TrimSpace(r.Header.Get(ownerHeader))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "missing "+ownerHeader+" header")
		return "", false
	}
	return ownerID, true
}

// writeAPIError maps gateway errors onto proxy responses. Upstream
// status codes pass through where they are meaningful to the caller.
func (s *server) writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Class == client.ErrorClassNotFound:
			writeError(w, http.StatusNotFound, apiErr.Message)
		case apiErr.Class == client.ErrorClassConfig:
			writeError(w, http.StatusInternalServerError, apiErr.Message)
		case apiErr.Class == client.ErrorClassTransient:
			writeError(w, http.StatusBadGateway, apiErr.Message)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			writeError(w, apiErr.StatusCode, apiErr.Message)
		default:
			writeError(w, http.StatusBadGateway, apiErr.Message)
		}
		return
	}

	s.logger.Error().Err(err).Msg("Unhandled gateway error")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
