package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/italolelis/flipcache/internal/flip"
	"github.com/italolelis/flipcache/internal/logctx"
	"github.com/italolelis/flipcache/internal/storage"
)

type createFlipRequest struct {
	Word          string `json:"word" validate:"required,max=256"`
	BackgroundURL string `json:"background_url" validate:"omitempty,resource_url"`
	SoundURL      string `json:"sound_url" validate:"omitempty,resource_url"`
}

type flipResponse struct {
	ID                    string    `json:"id"`
	Word                  string    `json:"word"`
	BackgroundURL         string    `json:"background_url,omitempty"`
	SoundURL              string    `json:"sound_url,omitempty"`
	BackgroundContentType string    `json:"background_content_type"`
	Status                string    `json:"status"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func newFlipResponse(f *flip.Flip) flipResponse {
	return flipResponse{
		ID:                    f.ID,
		Word:                  f.Word,
		BackgroundURL:         f.BackgroundURL,
		SoundURL:              f.SoundURL,
		BackgroundContentType: f.BackgroundContentType.String(),
		Status:                string(f.Status),
		UpdatedAt:             f.UpdatedAt,
	}
}

// CreateFlip records a pending flip; the orchestrator picks it up on its next poll.
func (h *Handler) CreateFlip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req createFlipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if err := h.validator.Struct(req); err != nil {
		logger.Warn("validation failed", "err", err)
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	f := &flip.Flip{
		ID:            uuid.NewString(),
		Word:          req.Word,
		BackgroundURL: req.BackgroundURL,
		SoundURL:      req.SoundURL,
		Status:        flip.StatusPending,
	}

	if !f.IsDownloadable() {
		writeError(w, http.StatusBadRequest, "a flip needs a background_url or a sound_url")

		return
	}

	if err := h.repo.SaveFlip(ctx, f); err != nil {
		logger.Error("failed to save flip", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")

		return
	}

	logger.Info("flip created", "flip_id", f.ID)

	writeJSON(w, http.StatusCreated, map[string]string{"id": f.ID})
}

func (h *Handler) GetFlip(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFlip(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, newFlipResponse(f))
}

// DownloadFlip starts FetchResource for a flip in the background. It is the only way a
// failed flip is retried. ?temporary=true stores into the volatile tier.
func (h *Handler) DownloadFlip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f, ok := h.loadFlip(w, r)
	if !ok {
		return
	}

	temporary, _ := strconv.ParseBool(r.URL.Query().Get("temporary"))

	if err := h.repo.UpdateFlipStatus(ctx, f.ID, flip.StatusDownloading, f.BackgroundContentType); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to mark flip downloading", "flip_id", f.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")

		return
	}

	f.Status = flip.StatusDownloading

	// the download outlives the request; completion is reported through the bus
	go func(ctx context.Context) {
		_ = h.fetcher.FetchResource(ctx, f, temporary)
	}(context.WithoutCancel(ctx))

	writeJSON(w, http.StatusAccepted, newFlipResponse(f))
}

func (h *Handler) loadFlip(w http.ResponseWriter, r *http.Request) (*flip.Flip, bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "flipID")

	f, err := h.repo.GetFlip(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "flip not found")

			return nil, false
		}

		logctx.LoggerFromContext(ctx).Error("failed to load flip", "flip_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")

		return nil, false
	}

	return f, true
}
