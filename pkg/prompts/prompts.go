package prompts

import "github.com/jwebster45206/troupe/pkg/state"

// Tool names declared to the model on every character turn.
const (
	ToolTakeNote       = "take_note"
	ToolMoveToLocation = "move_to_location"
	ToolSetUserName    = "set_user_name"
)

// Window sizes for the two views over a location's history.
const (
	TurnWindowSize    = 12
	SummaryWindowSize = 15
)

// InitiativeDirective replaces an empty catch-up so a character never
// receives a blank prompt.
const InitiativeDirective = "[No one has said anything yet. Take the initiative: start a conversation or do something in character.]"

// RespondToUserDirective is appended when the human spoke last.
const RespondToUserDirective = "[%s just spoke to the group. Respond to %s directly.]"

// NudgeDirective wraps a private director instruction for one turn.
const NudgeDirective = "[Director's private instruction for this turn only: %s]"

// HouseRules is the fixed behavior block included in every persona.
const HouseRules = `### House rules
- Act only as %[1]s. Never write lines, actions or thoughts for anyone else, including the human.
- Give the most weight to recent messages and to anything with a big impact on the scene.
- Treat characters you do not know as strangers unless your notes say otherwise.
- Cooperate with the story. Build on what others offer instead of trying to win arguments.
- To travel, call the %[2]s tool. Do not narrate yourself walking to another place.
- Available tools:
  - %[3]s: record something worth remembering about people or events.
  - %[2]s: move to another location by its exact name.
  - %[4]s: record the human's name once they introduce themselves.
- Lines marked [Director] are out-of-character guidance. Follow them silently and never mention them.`

// NotesPlaceholder is shown when a character has no notes yet.
const NotesPlaceholder = "You have not written any notes yet. Use the " + ToolTakeNote + " tool when you learn something worth remembering."

// StrangerInstructions describes an unidentified human player.
const StrangerInstructions = `The human player has not told you who they are. Refer to them as "%[1]s".
Never assume their name, gender, background or intentions.
If they introduce themselves, call the ` + ToolSetUserName + ` tool with the name they give.`

// KnownUserInstructions describes the human player when their profile is shared.
const KnownUserInstructions = `The human player is %s.
%s`

var styleDirectives = map[state.ResponseStyle]string{
	state.StyleDialogue: `### Response format
Reply with spoken dialogue only, inside double quotes. No narration and no action descriptions.`,
	state.StyleCasual: `### Response format
Write short actions between asterisks followed by quoted dialogue, for example: *leans on the bar* "Another round?"
Keep it to a few lines.`,
	state.StyleDescriptive: `### Response format
Write in third-person prose, one or two paragraphs, with dialogue embedded in double quotes.
Describe expressions, gestures and surroundings where they matter.`,
}

// StyleDirective returns the formatting directive for a response style.
// Unknown styles get the descriptive directive.
func StyleDirective(style state.ResponseStyle) string {
	if d, ok := styleDirectives[style]; ok {
		return d
	}
	return styleDirectives[state.StyleDescriptive]
}

// SummaryInstructions is the system prompt for history summarization.
const SummaryInstructions = `You are summarizing a roleplay conversation so it can continue without the full transcript.
Write a factual narrative in past tense, 3 to 4 paragraphs long.
Capture key events, relationships that were established, plot developments and emotional beats.
Use character names. Do not add commentary about the conversation, the summary or the characters being fictional.`

// PreviousSummaryHeader introduces earlier summaries in the summarization prompt.
const PreviousSummaryHeader = "### Previous summary"

// TranscriptHeader introduces the messages being compressed.
const TranscriptHeader = "### Conversation to summarize"
