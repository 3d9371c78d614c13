package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jwebster45206/troupe/internal/services/events"
	queueservice "github.com/jwebster45206/troupe/internal/services/queue"
	"github.com/jwebster45206/troupe/internal/worker"
	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/queue"
	"github.com/jwebster45206/troupe/pkg/storage"
)

// ChatHandler serves a location's conversation.
type ChatHandler struct {
	processor *worker.TurnProcessor
	queue     *queueservice.TurnQueue
	events    *events.Broadcaster
	storage   storage.Storage
	logger    *slog.Logger
}

// NewChatHandler creates a chat handler. With a nil turnQueue, async
// requests are rejected and every turn runs inline.
func NewChatHandler(
	processor *worker.TurnProcessor,
	turnQueue *queueservice.TurnQueue,
	broadcaster *events.Broadcaster,
	storage storage.Storage,
	logger *slog.Logger,
) *ChatHandler {
	return &ChatHandler{
		processor: processor,
		queue:     turnQueue,
		events:    broadcaster,
		storage:   storage,
		logger:    logger,
	}
}

// ServeHTTP handles chat operations
// Routes:
// GET /v1/chat/{locationId}/messages     - Read the history
// POST /v1/chat/{locationId}/messages    - Post a user or director message
// POST /v1/chat/{locationId}/exposition  - Post the location's exposition
// POST /v1/chat/{locationId}/turn        - Have a character take a turn
// POST /v1/chat/{locationId}/retry       - Regenerate a character message
// GET /v1/chat/{locationId}/context      - Inspect the context window
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/chat")
	if len(parts) != 2 {
		writeError(w, h.logger, http.StatusNotFound, "Not found")
		return
	}
	locationID, action := parts[0], parts[1]

	switch action {
	case "messages":
		switch r.Method {
		case http.MethodGet:
			h.handleHistory(w, r, locationID)
		case http.MethodPost:
			h.handlePost(w, r, locationID)
		default:
			methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPost)
		}
	case "exposition":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, r, http.MethodPost)
			return
		}
		h.handleExposition(w, r, locationID)
	case "turn":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, r, http.MethodPost)
			return
		}
		h.handleTurn(w, r, locationID)
	case "retry":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, r, http.MethodPost)
			return
		}
		h.handleRetry(w, r, locationID)
	case "context":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, h.logger, r, http.MethodGet)
			return
		}
		h.handleContext(w, r, locationID)
	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func (h *ChatHandler) handleHistory(w http.ResponseWriter, r *http.Request, locationID string) {
	history, err := h.storage.LoadHistory(r.Context(), locationID)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if history == nil {
		history = []chat.ChatMessage{}
	}
	writeJSON(w, h.logger, http.StatusOK, history)
}

func (h *ChatHandler) handlePost(w http.ResponseWriter, r *http.Request, locationID string) {
	var req chat.PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, h.logger, badRequest(err))
		return
	}
	msg, err := h.processor.PostMessage(r.Context(), locationID, req)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, msg)
}

func (h *ChatHandler) handleExposition(w http.ResponseWriter, r *http.Request, locationID string) {
	msgs, err := h.processor.PostExposition(r.Context(), locationID)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, msgs)
}

func (h *ChatHandler) handleTurn(w http.ResponseWriter, r *http.Request, locationID string) {
	var req chat.TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, h.logger, badRequest(err))
		return
	}
	req.LocationID = locationID

	if req.Async {
		h.enqueue(w, r, &queue.Request{
			Type:        queue.RequestTypeTurn,
			LocationID:  locationID,
			CharacterID: req.CharacterID,
			Message:     req.Message,
			Nudge:       req.Nudge,
		})
		return
	}

	// The processor detaches the turn once it holds the lock, so a
	// dropped connection does not abandon a half-finished turn.
	resp, err := h.processor.RunTurn(r.Context(), uuid.New().String(), req)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *ChatHandler) handleRetry(w http.ResponseWriter, r *http.Request, locationID string) {
	var req chat.RetryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, h.logger, badRequest(err))
		return
	}

	if req.Async {
		// Confirmation is checked up front so the caller learns the
		// discard count without waiting on the queue.
		n, err := h.processor.RetryPreview(r.Context(), locationID, req.MessageID)
		if err != nil {
			writeErr(w, h.logger, err)
			return
		}
		if n != req.ConfirmDiscard {
			writeErr(w, h.logger, &worker.ConfirmationError{DiscardCount: n})
			return
		}
		h.enqueue(w, r, &queue.Request{
			Type:           queue.RequestTypeRetry,
			LocationID:     locationID,
			MessageID:      req.MessageID,
			ConfirmDiscard: req.ConfirmDiscard,
		})
		return
	}

	resp, err := h.processor.Retry(r.Context(), uuid.New().String(), locationID, req)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *ChatHandler) handleContext(w http.ResponseWriter, r *http.Request, locationID string) {
	view, err := h.processor.Context(r.Context(), locationID)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, view)
}

func (h *ChatHandler) enqueue(w http.ResponseWriter, r *http.Request, req *queue.Request) {
	if h.queue == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "Async requests are not available")
		return
	}
	req.RequestID = uuid.New().String()
	if err := h.queue.EnqueueRequest(r.Context(), req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := h.events.PublishRequestQueued(r.Context(), req.LocationID, req.RequestID, string(req.Type)); err != nil {
		h.logger.Warn("Failed to publish request.queued", "error", err, "request_id", req.RequestID)
	}
	h.logger.Info("Request queued",
		"request_id", req.RequestID,
		"type", req.Type,
		"location_id", req.LocationID)
	writeJSON(w, h.logger, http.StatusAccepted, chat.TurnResponse{
		LocationID: req.LocationID,
		RequestID:  req.RequestID,
		Queued:     true,
		Messages:   []chat.ChatMessage{},
	})
}
