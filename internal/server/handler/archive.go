package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// ArchiveLister lists stored event archives.
type ArchiveLister interface {
	ListArchives(ctx context.Context) ([]domain.BlobInfo, error)
}

// ArchiveHandler lets operators request an archive run outside the cron
// schedule and browse finished archives.
type ArchiveHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{}
	archives  ArchiveLister
}

// NewArchiveHandler creates an ArchiveHandler that signals on triggerCh.
func NewArchiveHandler(triggerCh chan<- struct{}, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{triggerCh: triggerCh, logger: logger}
}

// WithArchives enables the archive listing route.
func (h *ArchiveHandler) WithArchives(l ArchiveLister) *ArchiveHandler {
	h.archives = l
	return h
}

type archiveInfo struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified,omitempty"`
}

// List returns the stored event archives.
// GET /api/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return
	}
	infos, err := h.archives.ListArchives(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list archives", err)
		return
	}
	out := make([]archiveInfo, 0, len(infos))
	for _, info := range infos {
		ai := archiveInfo{Path: info.Path, Size: info.Size}
		if !info.LastModified.IsZero() {
			ai.LastModified = info.LastModified.UTC().Format(time.RFC3339)
		}
		out = append(out, ai)
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}

// Trigger enqueues one archive run. A run already pending absorbs the
// request.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: archive trigger requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
