package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
	"gopkg.in/yaml.v3"
)

// WorldHandler moves whole worlds in and out in the portable format.
type WorldHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewWorldHandler(storage storage.Storage, logger *slog.Logger) *WorldHandler {
	return &WorldHandler{
		storage: storage,
		logger:  logger,
	}
}

// ServeHTTP handles world transfer
// Routes:
// GET /v1/world/export   - Export as JSON, or YAML with ?format=yaml
// POST /v1/world/import  - Merge a JSON or YAML world file into the current world
func (h *WorldHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/world")
	if len(parts) != 1 {
		writeError(w, h.logger, http.StatusNotFound, "Not found")
		return
	}
	switch parts[0] {
	case "export":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, h.logger, r, http.MethodGet)
			return
		}
		h.handleExport(w, r)
	case "import":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, r, http.MethodPost)
			return
		}
		h.handleImport(w, r)
	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func wantsYAML(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "yaml" || f == "yml"
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "yaml")
}

func (h *WorldHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	world, err := h.storage.LoadWorld(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	export := world.Export()

	if !wantsYAML(r) {
		writeJSON(w, h.logger, http.StatusOK, export)
		return
	}
	data, err := yaml.Marshal(export)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("Failed to write world export", "error", err)
	}
}

func (h *WorldHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, h.logger, badRequest(err))
		return
	}
	in, err := state.DecodeWorldExport(data)
	if err != nil {
		writeErr(w, h.logger, badRequest(err))
		return
	}

	var report *state.ImportReport
	if _, err := h.storage.UpdateWorld(r.Context(), func(world *state.World) error {
		var err error
		report, err = world.Import(in)
		return err
	}); err != nil {
		writeErr(w, h.logger, err)
		return
	}

	for _, warning := range report.Warnings {
		h.logger.Warn("World import warning", "warning", warning)
	}
	h.logger.Info("World imported",
		"locations_created", report.LocationsCreated,
		"locations_reused", report.LocationsReused,
		"characters_created", report.CharactersCreated)
	writeJSON(w, h.logger, http.StatusOK, report)
}
