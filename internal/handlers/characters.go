package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
)

type CharactersHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewCharactersHandler(storage storage.Storage, logger *slog.Logger) *CharactersHandler {
	return &CharactersHandler{
		storage: storage,
		logger:  logger,
	}
}

// ServeHTTP handles character operations
// Routes:
// GET /v1/characters           - List characters
// POST /v1/characters          - Create a character
// GET /v1/characters/{id}      - Read a character
// PATCH /v1/characters/{id}    - Partially update a character
// DELETE /v1/characters/{id}   - Delete a character and every reference to it
func (h *CharactersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/characters")
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

func (h *CharactersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	world, err := h.storage.LoadWorld(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, world.Characters)
}

func (h *CharactersHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var c state.Character
	if err := decodeJSON(w, r, &c); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	c.ID = ""

	var id string
	world, err := h.storage.UpdateWorld(r.Context(), func(world *state.World) error {
		added, err := world.AddCharacter(c)
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
	created, _ := world.Character(id)
	h.logger.Info("Character created", "character_id", id, "name", created.Name)
	writeJSON(w, h.logger, http.StatusCreated, created)
}

func (h *CharactersHandler) handleRead(w http.ResponseWriter, r *http.Request, id string) {
	world, err := h.storage.LoadWorld(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	c, ok := world.Character(id)
	if !ok {
		writeErr(w, h.logger, state.ErrCharacterNotFound)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, c)
}

func (h *CharactersHandler) handlePatch(w http.ResponseWriter, r *http.Request, id string) {
	var patch state.CharacterPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	world, err := h.storage.UpdateWorld(r.Context(), func(world *state.World) error {
		return world.PatchCharacter(id, patch)
	})
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	c, _ := world.Character(id)
	writeJSON(w, h.logger, http.StatusOK, c)
}

func (h *CharactersHandler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.storage.UpdateWorld(r.Context(), func(world *state.World) error {
		return world.DeleteCharacter(id)
	}); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	h.logger.Info("Character deleted", "character_id", id)
	w.WriteHeader(http.StatusNoContent)
}
