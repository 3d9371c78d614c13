package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/troupe/pkg/chat"
)

const HistoryExportVersion = 1

// HistoryExport is the portable chat history file. Messages are keyed
// by location id; LocationNames maps those ids to names so an import
// can re-key them against a different world.
type HistoryExport struct {
	Version       int                           `json:"version"`
	ExportedAt    time.Time                     `json:"exportedAt"`
	Messages      map[string][]chat.ChatMessage `json:"messages"`
	LocationNames map[string]string             `json:"locationNames"`
}

// NewHistoryExport builds an export. Loading placeholders are dropped.
func NewHistoryExport(w *World, histories map[string][]chat.ChatMessage) *HistoryExport {
	out := &HistoryExport{
		Version:       HistoryExportVersion,
		ExportedAt:    time.Now().UTC(),
		Messages:      make(map[string][]chat.ChatMessage, len(histories)),
		LocationNames: make(map[string]string, len(histories)),
	}
	for locID, msgs := range histories {
		out.Messages[locID] = chat.WithoutLoading(msgs)
		if l, ok := w.Location(locID); ok {
			out.LocationNames[locID] = l.Name
		}
	}
	return out
}

// Rekey maps the export onto the given world by location name and
// assigns fresh message ids. Entries whose location name does not
// exist in the world are returned in skipped.
func (h *HistoryExport) Rekey(w *World) (map[string][]chat.ChatMessage, []string, error) {
	if h.Version != HistoryExportVersion {
		return nil, nil, fmt.Errorf("unsupported history version %d", h.Version)
	}
	out := make(map[string][]chat.ChatMessage)
	var skipped []string
	for oldID, msgs := range h.Messages {
		name, ok := h.LocationNames[oldID]
		if !ok {
			skipped = append(skipped, oldID)
			continue
		}
		l, ok := w.LocationByName(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		for _, m := range msgs {
			if m.Type == chat.MessageTypeLoading {
				continue
			}
			m.ID = uuid.New().String()
			out[l.ID] = append(out[l.ID], m)
		}
	}
	return out, skipped, nil
}
