// Package ui renders the dispatcher's display instructions. No
// synchronization logic lives here: the dispatcher decides what changed and
// the renderer only draws it.
package ui

import (
	"github.com/medisync/clinic-chat/internal/api"
	"github.com/medisync/clinic-chat/internal/state"
)

// Renderer consumes ordered chat entries and conversation/presence changes.
type Renderer interface {
	// ConversationAdded announces a newly durable conversation.
	ConversationAdded(c state.Conversation)

	// PresenceChanged fires only on actual flips, never redundantly.
	PresenceChanged(id string, online bool)

	// PeerAvailable announces a connected peer that is not yet a
	// conversation but may be opened by the operator.
	PeerAvailable(p api.Profile)

	// PeerGone retracts a previously announced available peer.
	PeerGone(id string)

	// EntryAppended appends one entry to the visible pane. Only entries of
	// the focused conversation arrive here.
	EntryAppended(e state.Entry)

	// History redraws the pane with a conversation's full history in
	// arrival order.
	History(id string, entries []state.Entry)

	// HistoryPending signals that a conversation's history has not loaded
	// yet; distinct from an empty history.
	HistoryPending(id string)

	// Notice shows an out-of-band status line to the operator.
	Notice(text string)
}
