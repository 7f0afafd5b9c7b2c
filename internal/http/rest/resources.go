package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"github.com/italolelis/flipcache/internal/cache"
	"github.com/italolelis/flipcache/internal/flip"
	"github.com/italolelis/flipcache/internal/logctx"
)

type resolveResponse struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// Resolve answers with the local path for ?url=, downloading it on a miss.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	url := r.URL.Query().Get("url")

	if err := flip.ValidateURL(url); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	path, err := h.resolver.Resolve(ctx, url)
	if err != nil {
		var invalid *flip.InvalidURLError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())

			return
		}

		writeError(w, http.StatusBadGateway, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{URL: url, Path: path})
}

// Content serves the stored bytes for ?url= without ever fetching them.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	h.serveStored(w, r, h.store.Read)
}

func (h *Handler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveStored(w, r, h.store.Thumbnail)
}

func (h *Handler) serveStored(w http.ResponseWriter, r *http.Request, read func(key string) ([]byte, error)) {
	logger := logctx.LoggerFromContext(r.Context())
	key := r.URL.Query().Get("url")

	data, err := read(key)
	if err != nil {
		switch {
		case errors.Is(err, cache.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, cache.ErrNotFound):
			writeError(w, http.StatusNotFound, "resource not cached")
		default:
			logger.Error("failed to read stored resource", "url", key, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to read resource")
		}

		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		logger.Debug("failed to write resource", "url", key, "err", err)
	}
}

// PutThumbnail stores the request body as the thumbnail for ?url=. The first upload wins.
func (h *Handler) PutThumbnail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)
	key := r.URL.Query().Get("url")

	data, err := io.ReadAll(io.LimitReader(r.Body, maxThumbnailSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")

		return
	}

	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "thumbnail body is empty")

		return
	}

	if len(data) > maxThumbnailSize {
		writeError(w, http.StatusRequestEntityTooLarge, "thumbnail too large")

		return
	}

	res, err := h.store.SaveThumbnail(ctx, data, key)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, err.Error())

			return
		}

		logger.Error("failed to save thumbnail", "url", key, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save thumbnail")

		return
	}

	status := http.StatusCreated
	if res == cache.AlreadyStored {
		status = http.StatusOK
	}

	writeJSON(w, status, map[string]string{"result": res.String()})
}

func (h *Handler) InFlight(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"urls": h.fetcher.InFlight()})
}
