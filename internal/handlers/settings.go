package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
)

type SettingsHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewSettingsHandler(storage storage.Storage, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		storage: storage,
		logger:  logger,
	}
}

// ServeHTTP handles GET and PATCH /v1/settings
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.storage.LoadSettings(r.Context())
		if err != nil {
			writeErr(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, settings)

	case http.MethodPatch:
		var patch state.SettingsPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeErr(w, h.logger, err)
			return
		}
		settings, err := h.storage.UpdateSettings(r.Context(), func(s *state.Settings) error {
			s.Apply(patch)
			if err := s.Validate(); err != nil {
				return badRequest(err)
			}
			s.Normalize()
			return nil
		})
		if err != nil {
			writeErr(w, h.logger, err)
			return
		}
		h.logger.Info("Settings updated")
		writeJSON(w, h.logger, http.StatusOK, settings)

	default:
		methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPatch)
	}
}
