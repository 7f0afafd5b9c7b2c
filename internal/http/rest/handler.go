package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/italolelis/flipcache/internal/cache"
	"github.com/italolelis/flipcache/internal/flip"
	"github.com/italolelis/flipcache/internal/storage"
)

const maxThumbnailSize = 10 * 1024 * 1024 // 10MB

type Resolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

type ContentStore interface {
	Read(key string) ([]byte, error)
	Thumbnail(key string) ([]byte, error)
	SaveThumbnail(ctx context.Context, data []byte, key string) (cache.WriteResult, error)
}

type ResourceFetcher interface {
	FetchResource(ctx context.Context, f *flip.Flip, temporary bool) error
	InFlight() []string
}

// Handler serves the flipcache API.
type Handler struct {
	resolver  Resolver
	store     ContentStore
	fetcher   ResourceFetcher
	repo      storage.FlipRepository
	validator *validator.Validate
}

func NewHandler(resolver Resolver, store ContentStore, fetcher ResourceFetcher, repo storage.FlipRepository) *Handler {
	return &Handler{
		resolver:  resolver,
		store:     store,
		fetcher:   fetcher,
		repo:      repo,
		validator: flip.Validator(),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/resolve", h.Resolve)
		r.Get("/content", h.Content)
		r.Get("/thumbnails", h.GetThumbnail)
		r.Put("/thumbnails", h.PutThumbnail)
		r.Get("/downloads/inflight", h.InFlight)

		r.Post("/flips", h.CreateFlip)
		r.Get("/flips/{flipID}", h.GetFlip)
		r.Post("/flips/{flipID}/download", h.DownloadFlip)
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
