package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/reelcut/reelcut/internal/storage"
)

// UploadPath is the raw media upload endpoint. The grant parameters ride
// in the query string so the body can stay a pure byte stream.
const UploadPath = "/api/v1/upload"

// UploadHandler accepts the grant-authorized PUT of the original media.
// It sits outside the JSON API: the body is streamed straight into the
// blob store, bounded by the configured upload size limit.
type UploadHandler struct {
	blobs   *storage.Store
	granter *storage.Granter
	maxSize int64
	logger  *slog.Logger
}

// NewUploadHandler creates the raw upload handler.
func NewUploadHandler(blobs *storage.Store, granter *storage.Granter, maxSize int64, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{
		blobs:   blobs,
		granter: granter,
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "upload")),
	}
}

// ServeHTTP handles PUT {UploadPath}?key=...&expires=...&signature=...
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", http.MethodPut)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	key := q.Get("key")
	signature := q.Get("signature")
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if key == "" || signature == "" || err != nil {
		http.Error(w, "missing or malformed grant parameters", http.StatusBadRequest)
		return
	}

	if err := h.granter.Verify(key, expires, signature); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, storage.ErrGrantExpired) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxSize)
	size, err := h.blobs.Put(r.Context(), key, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload exceeds size limit", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Error("storing upload failed",
			slog.String("key", key), slog.Any("error", err))
		http.Error(w, "storing upload failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("media uploaded", slog.String("key", key), slog.Int64("size", size))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"key": key, "size": size})
}

// uploadGrantResponse renders a grant plus the ready-to-use upload URL.
func uploadGrantResponse(key string, expiresAt time.Time, signature string) UploadGrantResponse {
	params := url.Values{}
	params.Set("key", key)
	params.Set("expires", strconv.FormatInt(expiresAt.Unix(), 10))
	params.Set("signature", signature)
	return UploadGrantResponse{
		Key:       key,
		ExpiresAt: expiresAt,
		Signature: signature,
		URL:       UploadPath + "?" + params.Encode(),
	}
}
