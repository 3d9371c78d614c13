package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/troupe/internal/worker"
	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
)

// maxBodyBytes bounds request bodies; world imports carry base64 avatars.
const maxBodyBytes = 16 << 20

type ErrorResponse struct {
	Error        string `json:"error"`
	DiscardCount *int   `json:"discard_count,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

// writeErr maps domain errors to status codes. Unknown errors are
// logged and reported as 500 without their details.
func writeErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	var confirm *worker.ConfirmationError
	switch {
	case errors.As(err, &confirm):
		n := confirm.DiscardCount
		writeJSON(w, logger, http.StatusConflict, ErrorResponse{Error: err.Error(), DiscardCount: &n})
	case errors.Is(err, worker.ErrTurnInProgress),
		errors.Is(err, worker.ErrCharacterNotPresent),
		errors.Is(err, state.ErrDuplicateName),
		errors.Is(err, storage.ErrConflict):
		writeError(w, logger, http.StatusConflict, err.Error())
	case errors.Is(err, state.ErrCharacterNotFound),
		errors.Is(err, state.ErrLocationNotFound),
		errors.Is(err, worker.ErrMessageNotFound):
		writeError(w, logger, http.StatusNotFound, err.Error())
	case errors.Is(err, state.ErrNameRequired),
		errors.Is(err, worker.ErrNotCharacterMessage),
		errors.Is(err, errBadRequest):
		writeError(w, logger, http.StatusBadRequest, err.Error())
	default:
		logger.Error("Request failed", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "Internal server error")
	}
}

var errBadRequest = errors.New("bad request")

// badRequest wraps a validation failure so writeErr reports it as 400.
func badRequest(err error) error {
	return fmt.Errorf("%w: %w", errBadRequest, err)
}

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest(errors.New("request body is empty"))
		}
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

// splitPath returns the path segments after prefix.
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func methodNotAllowed(w http.ResponseWriter, logger *slog.Logger, r *http.Request, allowed ...string) {
	logger.Warn("Method not allowed", "method", r.Method, "path", r.URL.Path)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, logger, http.StatusMethodNotAllowed,
		fmt.Sprintf("Method not allowed. Supported methods: %s", strings.Join(allowed, ", ")))
}
