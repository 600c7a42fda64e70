package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/store"
	"chatrelay-backend/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// uuidParam parses a UUID path parameter, writing a 400 on failure.
func uuidParam(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid "+label+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service and store errors to status codes.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error, notFound, failure string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, notFound)
	case errors.Is(err, store.ErrNotAssistant),
		errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrInvalidRole):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error(failure, zap.Error(err))
		httputil.RespondError(w, http.StatusInternalServerError, failure)
	}
}
