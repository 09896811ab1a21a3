package handler

import (
	"net/http"

	"github.com/alanyoungcy/clearwinbot/internal/service"
)

// ExposureSource returns a copy of the exposure book.
type ExposureSource interface {
	Snapshot() service.ExposureSnapshot
}

// ExposureHandler serves committed and reserved exposure.
type ExposureHandler struct {
	book ExposureSource
}

// NewExposureHandler creates an ExposureHandler.
func NewExposureHandler(book ExposureSource) *ExposureHandler {
	return &ExposureHandler{book: book}
}

// GetExposure returns the current book snapshot.
// GET /api/exposure
func (h *ExposureHandler) GetExposure(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.book.Snapshot())
}
