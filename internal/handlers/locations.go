package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
)

type LocationsHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewLocationsHandler(storage storage.Storage, logger *slog.Logger) *LocationsHandler {
	return &LocationsHandler{
		storage: storage,
		logger:  logger,
	}
}

// ServeHTTP handles location operations
// Routes:
// GET /v1/locations            - List locations
// POST /v1/locations           - Create a location
// GET /v1/locations/{id}       - Read a location
// PATCH /v1/locations/{id}     - Partially update a location
// DELETE /v1/locations/{id}    - Delete a location and its history
func (h *LocationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/locations")
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPost)
		}
	case 1:
		id := parts[0]
		switch r.Method {
		case http.MethodGet:
			h.handleRead(w, r, id)
		case http.MethodPatch:
			h.handlePatch(w, r, id)
		case http.MethodDelete:
			h.handleDelete(w, r, id)
		default:
			methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func (h *LocationsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	world, err := h.storage.LoadWorld(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, world.Locations)
}

func (h *LocationsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var l state.Location
	if err := decodeJSON(w, r, &l); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	l.ID = ""

	var id string
	world, err := h.storage.UpdateWorld(r.Context(), func(world *state.World) error {
		added, err := world.AddLocation(l)
		if err != nil {
			return err
		}
		id = added.ID
		return nil
	})
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	created, _ := world.Location(id)
	h.logger.Info("Location created", "location_id", id, "name", created.Name)
	writeJSON(w, h.logger, http.StatusCreated, created)
}

func (h *LocationsHandler) handleRead(w http.ResponseWriter, r *http.Request, id string) {
	world, err := h.storage.LoadWorld(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	l, ok := world.Location(id)
	if !ok {
		writeErr(w, h.logger, state.ErrLocationNotFound)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, l)
}

func (h *LocationsHandler) handlePatch(w http.ResponseWriter, r *http.Request, id string) {
	var patch state.LocationPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	world, err := h.storage.UpdateWorld(r.Context(), func(world *state.World) error {
		return world.PatchLocation(id, patch)
	})
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	l, _ := world.Location(id)
	writeJSON(w, h.logger, http.StatusOK, l)
}

func (h *LocationsHandler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.storage.UpdateWorld(r.Context(), func(world *state.World) error {
		return world.DeleteLocation(id)
	}); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := h.storage.DeleteHistory(r.Context(), id); err != nil {
		h.logger.Error("Failed to delete location history", "error", err, "location_id", id)
	}
	h.logger.Info("Location deleted", "location_id", id)
	w.WriteHeader(http.StatusNoContent)
}
