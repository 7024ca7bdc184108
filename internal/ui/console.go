package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/medisync/clinic-chat/internal/api"
	"github.com/medisync/clinic-chat/internal/state"
)

var (
	selfStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("27")).Padding(0, 1)
	peerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("252")).Padding(0, 1)
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("40"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Console draws the chat to a terminal. It is the line-oriented stand-in for
// the original chat pane: entries append, a select redraws, presence prints
// as status lines.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console renderer writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) ConversationAdded(conv state.Conversation) {
	c.printf("%s", metaStyle.Render(fmt.Sprintf("conversation opened with %s (%s)", conv.Name, conv.ID)))
}

func (c *Console) PresenceChanged(id string, online bool) {
	if online {
		c.printf("%s", onlineStyle.Render(fmt.Sprintf("● %s is online", id)))
		return
	}
	c.printf("%s", offlineStyle.Render(fmt.Sprintf("○ %s went offline", id)))
}

func (c *Console) PeerAvailable(p api.Profile) {
	c.printf("%s", metaStyle.Render(fmt.Sprintf("Dr. %s is available: /add %s to start a conversation", p.Name, p.ID)))
}

func (c *Console) PeerGone(id string) {
	c.printf("%s", metaStyle.Render(fmt.Sprintf("available peer %s left", id)))
}

func (c *Console) EntryAppended(e state.Entry) {
	c.printf("%s", renderEntry(e))
}

func (c *Console) History(id string, entries []state.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, metaStyle.Render(fmt.Sprintf("--- %s ---", id)))
	for _, e := range entries {
		fmt.Fprintln(c.out, renderEntry(e))
	}
}

func (c *Console) HistoryPending(id string) {
	c.printf("%s", metaStyle.Render(fmt.Sprintf("history for %s is still loading, try again shortly", id)))
}

func (c *Console) Notice(text string) {
	c.printf("%s", metaStyle.Render(text))
}

func renderEntry(e state.Entry) string {
	if e.FromSelf {
		return lipgloss.PlaceHorizontal(60, lipgloss.Right, selfStyle.Render(e.Message))
	}
	return peerStyle.Render(e.Message)
}
