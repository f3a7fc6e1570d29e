package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/turtlesoup/internal/images"
	"github.com/playperu/turtlesoup/internal/service"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

type UploadImageResponse struct {
	URL string `json:"url"`
}

// handleUploadImage accepts a multipart form with the image in the "file"
// field. The caller becomes the image's owner.
func handleUploadImage(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, images.MaxSize+1<<20)
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
			return
		}
		defer file.Close()

		url, err := svc.UploadImage(r.Context(), userFrom(r), file)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, UploadImageResponse{URL: url})
	}
}

func handleImage(store *images.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := store.Open(chi.URLParam(r, "name"))
		if errors.Is(err, turtlesoup.ErrNotFound) {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}
