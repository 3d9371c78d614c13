package roleplay

import (
	"encoding/json"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/prompts"
)

type noteInput struct {
	Note string `json:"note"`
}

type moveInput struct {
	Destination string `json:"destination"`
}

type nameInput struct {
	Name string `json:"name"`
}

var characterTools = []chat.ToolSpec{
	{
		Name:        prompts.ToolTakeNote,
		Description: "Write down something you want to remember about the people or events around you. The note is private to you and persists between conversations.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "note": {"type": "string", "description": "What to remember, in one sentence."}
  },
  "required": ["note"]
}`),
	},
	{
		Name:        prompts.ToolMoveToLocation,
		Description: "Leave your current location and go to another one. Use the exact name of a place listed under other places.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "destination": {"type": "string", "description": "Exact name of the destination."}
  },
  "required": ["destination"]
}`),
	},
	{
		Name:        prompts.ToolSetUserName,
		Description: "Record the name the human player introduced themselves with, so everyone refers to them by it.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "The name they gave."}
  },
  "required": ["name"]
}`),
	},
}

// Tools returns the tool declarations offered on every character turn.
func Tools() []chat.ToolSpec {
	out := make([]chat.ToolSpec, len(characterTools))
	copy(out, characterTools)
	return out
}

// decodeInput unmarshals a tool payload, reporting false when it is
// missing or malformed.
func decodeInput(call chat.ToolCall, v any) bool {
	if len(call.Input) == 0 {
		return false
	}
	return json.Unmarshal(call.Input, v) == nil
}
