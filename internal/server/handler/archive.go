package handler

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

const archivePrefix = "archive/"

// ArchiveHandler lists and streams archived event files.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archive")}
}

// cleanArchivePath keeps requests inside the archive prefix.
func cleanArchivePath(p string) (string, bool) {
	if p == "" {
		return archivePrefix, true
	}
	c := path.Clean(strings.TrimPrefix(p, "/"))
	if c != strings.TrimSuffix(archivePrefix, "/") && !strings.HasPrefix(c, archivePrefix) {
		return "", false
	}
	if strings.HasSuffix(p, "/") {
		c += "/"
	}
	return c, true
}

// ListArchives lists archive objects under prefix.
// GET /api/archives?prefix=archive/events/2026-01/
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix, ok := cleanArchivePath(r.URL.Query().Get("prefix"))
	if !ok {
		writeError(w, http.StatusBadRequest, "prefix must be under "+archivePrefix)
		return
	}
	objects, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "objects": objects})
}

// GetArchive streams one archive object as JSON lines.
// GET /api/archives/object?path=archive/events/2026-01/...jsonl
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	p, ok := cleanArchivePath(r.URL.Query().Get("path"))
	if !ok || strings.HasSuffix(p, "/") {
		writeError(w, http.StatusBadRequest, "path must name an object under "+archivePrefix)
		return
	}
	exists, err := h.blobs.Exists(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to stat archive")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	body, err := h.blobs.Get(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}
