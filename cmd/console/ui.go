package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/state"
)

const PlaceHolderText = "Say something, or /help for commands..."

const helpText = `
Commands:
• /talk <name>          - Choose who answers your messages
• /turn <name>          - Let a character act without a message
• /nudge <name> <text>  - Let a character act with a one-off direction
• /director <text>      - Post out-of-character guidance
• /exposition           - Post the location's scene-setting text
• /retry                - Regenerate the last character message
• /context              - Show the token counter and summary window
• /copy                 - Copy the last message to the clipboard
• /location             - Switch location
• Ctrl+C                - Quit

Plain messages go to the character chosen with /talk, or are posted
without a reply when nobody is chosen.
`

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	api          *apiClient
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error
	loading      bool

	// Location selection state
	showLocationModal bool
	locations         []state.Location
	selectedLocation  int
	loadingLocations  bool

	// Quit confirmation state
	showQuitModal bool

	// Retry confirmation state
	retryMessageID string
	retryDiscard   int

	location   *state.Location
	characters map[string]state.Character
	history    []chat.ChatMessage
	tokenCount int
	activeID   string
	notes      []string

	// Progress bar state
	progressTick int
}

type worldLoadedMsg struct {
	locations  []state.Location
	characters []state.Character
	err        error
}

type historyMsg struct {
	history []chat.ChatMessage
	err     error
}

type turnMsg struct {
	resp *chat.TurnResponse
	err  error
}

type postedMsg struct {
	err error
}

type contextMsg struct {
	view *ContextView
	err  error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")). // green
			Italic(true)

	directorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")) // lavender

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(cfg *ConsoleConfig, api *apiClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 2000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:            cfg,
		api:               api,
		textarea:          ta,
		chatViewport:      chatVp,
		metaViewport:      metaVp,
		showLocationModal: true,
		loadingLocations:  true,
		characters:        map[string]state.Character{},
	}
}

// formatMessage renders one history entry for the chat panel.
func formatMessage(msg chat.ChatMessage, width int) string {
	if width < 10 {
		width = 10
	}
	switch msg.Type {
	case chat.MessageTypeUser:
		return userStyle.Render(msg.Sender+": ") + wordwrap.String(msg.Text, width-len(msg.Sender)-2)
	case chat.MessageTypeCharacter:
		return speakerStyle.Render(msg.Sender+": ") + wordwrap.String(msg.Text, width-len(msg.Sender)-2)
	case chat.MessageTypeDirector:
		return directorStyle.Render("[Director] " + wordwrap.String(msg.Text, width-11))
	case chat.MessageTypeExposition, chat.MessageTypeNarration:
		return narratorStyle.Render(wordwrap.String(msg.Text, width))
	case chat.MessageTypeSummary:
		return promptStyle.Render("Earlier: " + wordwrap.String(msg.Text, width-9))
	case chat.MessageTypeLoading:
		return loadingStyle.Render(fmt.Sprintf("*%s is thinking...*", msg.Sender))
	default:
		return wordwrap.String(msg.Text, width)
	}
}

func (m *ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("LOCATION") + "\n\n")
	if m.location == nil {
		return content.String()
	}
	content.WriteString(m.location.Name + "\n\n")

	content.WriteString("Present:\n")
	if len(m.location.CharacterIDs) == 0 {
		content.WriteString("Nobody\n")
	}
	for _, id := range m.location.CharacterIDs {
		marker := "•"
		if id == m.activeID {
			marker = "▶"
		}
		fmt.Fprintf(&content, "%s %s\n", marker, m.characters[id].Name)
	}
	content.WriteString("\n")

	fmt.Fprintf(&content, "Messages:\n%d total\n\n", len(m.history))
	fmt.Fprintf(&content, "Tokens:\n%d\n\n", m.tokenCount)

	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• Enter: Send\n")
	content.WriteString("• /help: Help\n")
	return content.String()
}

// writeChatContent builds the chat content for the current viewport width
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6 // Account for left(3) + right(3) padding

	var content strings.Builder
	content.WriteString(titleStyle.Render("TROUPE") + "\n\n")
	if m.location != nil && m.location.Description != "" {
		content.WriteString(narratorStyle.Render(wordwrap.String(m.location.Description, chatWidth)) + "\n\n")
	}
	content.WriteString(separatorStyle.Render(strings.Repeat("─", max(chatWidth-6, 1))) + "\n\n")

	for _, msg := range m.history {
		content.WriteString(formatMessage(msg, chatWidth) + "\n\n")
	}
	for _, note := range m.notes {
		content.WriteString(note + "\n\n")
	}

	if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
	m.metaViewport.SetContent(m.writeMetadata())
}

func (m *ConsoleUI) addNote(note string) {
	m.notes = append(m.notes, note)
	m.writeChatContent()
}

func (m *ConsoleUI) layout() {
	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6
	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

func (m ConsoleUI) Init() tea.Cmd {
	return m.loadWorld()
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showLocationModal {
		return m.updateLocationModal(msg)
	}

	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	if key, ok := msg.(tea.KeyMsg); ok && m.retryDiscard > 0 {
		return m.updateRetryModal(key)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.writeChatContent()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}

			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()

			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			if m.activeID == "" {
				return m.start(m.postMessage(chat.MessageTypeUser, input))
			}
			return m.start(m.runTurn(chat.TurnRequest{CharacterID: m.activeID, Message: input}))
		}

	case historyMsg:
		m.loading = false
		if msg.err != nil {
			m.addNote(errorStyle.Render("Error: " + msg.err.Error()))
			return m, nil
		}
		m.history = msg.history
		m.writeChatContent()
		return m, nil

	case postedMsg:
		if msg.err != nil {
			m.loading = false
			m.addNote(errorStyle.Render("Error: " + msg.err.Error()))
			return m, nil
		}
		return m, m.loadHistory()

	case turnMsg:
		m.loading = false
		var confirm *confirmError
		switch {
		case errors.As(msg.err, &confirm) && m.retryMessageID != "":
			m.retryDiscard = confirm.discardCount
			return m, nil
		case msg.err != nil:
			m.retryMessageID = ""
			m.addNote(errorStyle.Render("Error: " + msg.err.Error()))
			return m, m.loadHistory()
		}
		m.retryMessageID = ""
		m.tokenCount = msg.resp.TokenCount
		if msg.resp.ChatHistory != nil {
			m.history = msg.resp.ChatHistory
		}
		if len(msg.resp.Messages) == 0 {
			m.notes = append(m.notes, promptStyle.Render("(nobody answered)"))
		}
		m.writeChatContent()
		return m, nil

	case contextMsg:
		m.loading = false
		if msg.err != nil {
			m.addNote(errorStyle.Render("Error: " + msg.err.Error()))
			return m, nil
		}
		m.tokenCount = msg.view.TokenCount
		status := "not due"
		if msg.view.Due {
			status = "due on the next turn"
		}
		m.addNote(titleStyle.Render("Context:") + fmt.Sprintf(
			"\n%d / %d tokens, summarization %s\n%d messages, %d in the summary window",
			msg.view.TokenCount, msg.view.Threshold, status, msg.view.HistoryLength, len(msg.view.Window)))
		return m, nil

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

// start marks a request in flight and runs cmd alongside the progress bar.
func (m ConsoleUI) start(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.loading = true
	m.progressTick = 0
	m.notes = nil
	m.writeChatContent()
	return m, tea.Batch(cmd, progressTick())
}

// parseCommand splits "/name args" into a lowercased name and its arguments.
func parseCommand(input string) (string, string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ := strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// matchCharacter finds the present character whose name starts args,
// preferring the longest name, and returns the remaining text.
func matchCharacter(present []state.Character, args string) (*state.Character, string) {
	var best *state.Character
	lower := strings.ToLower(args)
	for i := range present {
		name := strings.ToLower(present[i].Name)
		if !strings.HasPrefix(lower, name) {
			continue
		}
		if rest := lower[len(name):]; rest != "" && rest[0] != ' ' {
			continue
		}
		if best == nil || len(present[i].Name) > len(best.Name) {
			best = &present[i]
		}
	}
	if best == nil {
		return nil, args
	}
	return best, strings.TrimSpace(args[len(best.Name):])
}

func (m ConsoleUI) present() []state.Character {
	if m.location == nil {
		return nil
	}
	out := make([]state.Character, 0, len(m.location.CharacterIDs))
	for _, id := range m.location.CharacterIDs {
		if c, ok := m.characters[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	name, args := parseCommand(input)

	switch name {
	case "help":
		m.addNote(titleStyle.Render("Help:") + helpText)

	case "talk":
		if args == "" {
			m.activeID = ""
			m.addNote(promptStyle.Render("Messages are now posted without a reply."))
			return m, nil
		}
		c, _ := matchCharacter(m.present(), args)
		if c == nil {
			m.addNote(errorStyle.Render(fmt.Sprintf("Nobody called %q is here.", args)))
			return m, nil
		}
		m.activeID = c.ID
		m.addNote(promptStyle.Render(fmt.Sprintf("Talking to %s.", c.Name)))

	case "turn", "nudge":
		c, rest := matchCharacter(m.present(), args)
		if c == nil {
			m.addNote(errorStyle.Render(fmt.Sprintf("Nobody called %q is here.", args)))
			return m, nil
		}
		req := chat.TurnRequest{CharacterID: c.ID}
		if name == "nudge" {
			req.Nudge = rest
		}
		return m.start(m.runTurn(req))

	case "director":
		if args == "" {
			m.addNote(errorStyle.Render("Usage: /director <text>"))
			return m, nil
		}
		return m.start(m.postMessage(chat.MessageTypeDirector, args))

	case "exposition":
		return m.start(m.postExposition())

	case "retry":
		for i := len(m.history) - 1; i >= 0; i-- {
			if m.history[i].Type == chat.MessageTypeCharacter {
				m.retryMessageID = m.history[i].ID
				m.retryDiscard = 0
				// The first attempt is rejected with the discard count.
				return m.start(m.runRetry(m.history[i].ID, -1))
			}
		}
		m.addNote(errorStyle.Render("There is no character message to retry."))

	case "context":
		return m.start(m.loadContext())

	case "copy":
		if len(m.history) == 0 {
			return m, nil
		}
		last := m.history[len(m.history)-1]
		if err := clipboard.WriteAll(last.Text); err != nil {
			m.addNote(errorStyle.Render("Copy failed: " + err.Error()))
		} else {
			m.addNote(promptStyle.Render("Copied the last message."))
		}

	case "location":
		m.showLocationModal = true
		m.loadingLocations = true
		return m, m.loadWorld()

	default:
		m.addNote(errorStyle.Render(fmt.Sprintf("Unknown command /%s. Try /help.", name)))
	}

	return m, nil
}

func (m ConsoleUI) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.config.Timeout)
}

func (m ConsoleUI) loadWorld() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		locations, err := m.api.listLocations(ctx)
		if err != nil {
			return worldLoadedMsg{err: err}
		}
		characters, err := m.api.listCharacters(ctx)
		return worldLoadedMsg{locations: locations, characters: characters, err: err}
	}
}

func (m ConsoleUI) loadHistory() tea.Cmd {
	locationID := m.location.ID
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		history, err := m.api.history(ctx, locationID)
		return historyMsg{history, err}
	}
}

func (m ConsoleUI) postMessage(msgType chat.MessageType, text string) tea.Cmd {
	locationID := m.location.ID
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		_, err := m.api.postMessage(ctx, locationID, msgType, text)
		return postedMsg{err}
	}
}

func (m ConsoleUI) postExposition() tea.Cmd {
	locationID := m.location.ID
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		_, err := m.api.postExposition(ctx, locationID)
		return postedMsg{err}
	}
}

func (m ConsoleUI) runTurn(req chat.TurnRequest) tea.Cmd {
	locationID := m.location.ID
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		resp, err := m.api.turn(ctx, locationID, req)
		return turnMsg{resp, err}
	}
}

func (m ConsoleUI) runRetry(messageID string, confirm int) tea.Cmd {
	locationID := m.location.ID
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		resp, err := m.api.retry(ctx, locationID, chat.RetryRequest{MessageID: messageID, ConfirmDiscard: confirm})
		return turnMsg{resp, err}
	}
}

func (m ConsoleUI) loadContext() tea.Cmd {
	locationID := m.location.ID
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		view, err := m.api.context(ctx, locationID)
		return contextMsg{view, err}
	}
}

func (m ConsoleUI) updateLocationModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case worldLoadedMsg:
		m.loadingLocations = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.locations = msg.locations
		m.characters = make(map[string]state.Character, len(msg.characters))
		for _, c := range msg.characters {
			m.characters[c.ID] = c
		}
		if m.selectedLocation >= len(m.locations) {
			m.selectedLocation = 0
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.loadingLocations {
				return m, tea.Quit
			}
			m.showQuitModal = true
			m.showLocationModal = false
			return m, nil
		case tea.KeyUp:
			if m.selectedLocation > 0 {
				m.selectedLocation--
			}
		case tea.KeyDown:
			if m.selectedLocation < len(m.locations)-1 {
				m.selectedLocation++
			}
		case tea.KeyEnter:
			if m.loadingLocations || m.err != nil || len(m.locations) == 0 {
				return m, nil
			}
			loc := m.locations[m.selectedLocation]
			m.location = &loc
			m.activeID = ""
			m.history = nil
			m.notes = nil
			m.showLocationModal = false
			if m.width > 0 && m.height > 0 {
				m.layout()
			}
			m.ready = true
			m.textarea.Focus()
			m.loading = true
			m.writeChatContent()
			return m, tea.Batch(textarea.Blink, m.loadHistory(), m.loadContext())
		}
	}

	return m, nil
}

func (m ConsoleUI) updateRetryModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y", "enter":
		id, n := m.retryMessageID, m.retryDiscard
		m.retryDiscard = 0
		return m.start(m.runRetry(id, n))
	case "n", "N", "esc", "ctrl+c":
		m.retryMessageID, m.retryDiscard = "", 0
		m.textarea.Focus()
		return m, textarea.Blink
	}
	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				if m.location == nil {
					m.showLocationModal = true
					return m, nil
				}
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderModal(width int, body string) string {
	modal := modalStyle.Width(width).Render(body)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("The conversation is saved on the server.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))
	return m.renderModal(50, content.String())
}

func (m ConsoleUI) renderRetryModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Retry?"))
	content.WriteString("\n\n")
	fmt.Fprintf(&content, "Retrying removes %d message(s) from this location.", m.retryDiscard)
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to retry or N to cancel"))
	return m.renderModal(50, content.String())
}

func (m ConsoleUI) renderLocationModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder

	switch {
	case m.loadingLocations:
		content.WriteString(modalTitleStyle.Render("Loading Locations..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Please wait while we fetch the world..."))
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(fmt.Sprintf("Failed to load locations: %v", m.err)))
		content.WriteString("\n\n")
		content.WriteString("Press Ctrl+C to exit")
	case len(m.locations) == 0:
		content.WriteString(modalTitleStyle.Render("No Locations"))
		content.WriteString("\n\n")
		content.WriteString("Import a world with POST /v1/world/import first.")
	default:
		content.WriteString(modalTitleStyle.Render("Select a Location"))
		content.WriteString("\n\n")

		for i, loc := range m.locations {
			label := fmt.Sprintf("%s (%d present)", loc.Name, len(loc.CharacterIDs))
			if i == m.selectedLocation {
				content.WriteString(modalSelectedItemStyle.Render("▶ " + label))
			} else {
				content.WriteString(modalItemStyle.Render("  " + label))
			}
			content.WriteString("\n")
		}

		content.WriteString("\n")
		content.WriteString(promptStyle.Render("Use ↑/↓ to navigate, Enter to select, Ctrl+C to exit"))
	}

	return m.renderModal(60, content.String())
}

func (m ConsoleUI) View() string {
	if m.showLocationModal {
		return m.renderLocationModal()
	}

	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if m.retryDiscard > 0 {
		return m.renderRetryModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30 // fallback before sizing
	}

	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓") // Blinking effect at the progress point
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
