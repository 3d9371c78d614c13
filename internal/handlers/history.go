package handlers

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
)

// HistoryImportResponse reports how many messages landed in each location.
type HistoryImportResponse struct {
	Imported map[string]int `json:"imported"`
	Skipped  []string       `json:"skipped,omitempty"`
}

type HistoryHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewHistoryHandler(storage storage.Storage, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		storage: storage,
		logger:  logger,
	}
}

// ServeHTTP handles chat history transfer
// Routes:
// GET /v1/history/export   - Export every location's history
// POST /v1/history/import  - Append an exported history, matched by location name
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/history")
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

func (h *HistoryHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	world, err := h.storage.LoadWorld(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	histories, err := h.storage.ListHistories(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="troupe-history.json"`)
	writeJSON(w, h.logger, http.StatusOK, state.NewHistoryExport(world, histories))
}

func (h *HistoryHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	var in state.HistoryExport
	if err := decodeJSON(w, r, &in); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	world, err := h.storage.LoadWorld(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	rekeyed, skipped, err := in.Rekey(world)
	if err != nil {
		writeErr(w, h.logger, badRequest(err))
		return
	}

	resp := HistoryImportResponse{Imported: make(map[string]int, len(rekeyed)), Skipped: skipped}
	for locID, msgs := range rekeyed {
		if err := h.storage.AppendMessages(r.Context(), locID, msgs...); err != nil {
			writeErr(w, h.logger, err)
			return
		}
		resp.Imported[locID] = len(msgs)
	}
	slices.Sort(resp.Skipped)
	for _, name := range resp.Skipped {
		h.logger.Warn("History import skipped unknown location", "location", name)
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}
