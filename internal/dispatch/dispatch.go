// Package dispatch is the protocol state machine of the client. It routes
// decoded inbound frames to state-store mutations, turns operator actions
// into outbound frames with an optimistic local echo, and tracks connected
// peers that are not yet conversations.
//
// The dispatcher is an actor: Run drains the transport and an internal task
// queue on a single goroutine, so handlers never interleave and the store is
// never raced. Asynchronous work (directory lookups, the promote call)
// re-enters through the task queue.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medisync/clinic-chat/internal/api"
	"github.com/medisync/clinic-chat/internal/state"
	"github.com/medisync/clinic-chat/internal/ui"
	"github.com/medisync/clinic-chat/pkg/protocol"
)

// Transport is the slice of the connection the dispatcher needs.
type Transport interface {
	Send(text string) error
	Messages() <-chan string
}

// Directory resolves the profile of a newly connected, unknown peer.
type Directory interface {
	Profile(ctx context.Context, id string) (api.Profile, error)
}

// Promoter persists an active peer as a durable conversation server-side.
type Promoter interface {
	CreateConversation(ctx context.Context, id string) error
}

// pendingPeer is a connected peer the operator has not opened a conversation
// with. It is ephemeral presence: removed outright on disconnect, promoted
// on explicit operator action.
type pendingPeer struct {
	profile  api.Profile
	resolved bool
}

// Dispatcher owns the client-side protocol state machine.
type Dispatcher struct {
	store     *state.Store
	renderer  ui.Renderer
	transport Transport
	dir       Directory
	promoter  Promoter
	log       *zap.Logger

	// mutated only on the Run goroutine
	pending  map[string]*pendingPeer
	selected string

	tasks   chan func()
	stopped chan struct{}
}

// New creates a dispatcher. dir and promoter may be nil for roles that never
// see unknown peers; connect frames for unknown ids are then dropped with a
// diagnostic.
func New(store *state.Store, renderer ui.Renderer, transport Transport, dir Directory, promoter Promoter, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		store:     store,
		renderer:  renderer,
		transport: transport,
		dir:       dir,
		promoter:  promoter,
		log:       log,
		pending:   make(map[string]*pendingPeer),
		tasks:     make(chan func(), 64),
		stopped:   make(chan struct{}),
	}
}

// Run processes inbound frames and queued tasks until the transport stream
// ends or ctx is cancelled. Everything that mutates dispatcher or store
// state runs here.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)
	msgs := d.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			d.HandleRaw(raw)
		case fn := <-d.tasks:
			fn()
		}
	}
}

// Post schedules fn onto the dispatcher goroutine. Operator input crosses
// into the state machine through here. It reports false once Run has
// returned; a rejected task will never execute.
func (d *Dispatcher) Post(fn func()) bool {
	select {
	case <-d.stopped:
		return false
	default:
	}
	select {
	case d.tasks <- fn:
		return true
	case <-d.stopped:
		return false
	}
}

// HandleRaw decodes one wire envelope and dispatches it. Undecodable frames
// are dropped with a diagnostic; nothing inbound is fatal.
func (d *Dispatcher) HandleRaw(raw string) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		d.log.Warn("dropping undecodable frame", zap.Error(err))
		return
	}
	d.Handle(frame)
}

// Handle applies one decoded frame to client state.
func (d *Dispatcher) Handle(frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.ConnectFrame:
		d.handleConnect(f.ID)
	case protocol.DisconnectFrame:
		d.handleDisconnect(f.ID)
	case protocol.MessageFrame:
		d.handleMessage(f.Msg, f.SenderID)
	}
}

func (d *Dispatcher) handleConnect(id string) {
	if id == "" {
		d.log.Warn("connect frame with empty id")
		return
	}
	if _, known := d.store.Conversation(id); known {
		d.reconnectKnownPeer(id)
		return
	}
	d.registerNewPeer(id)
}

// reconnectKnownPeer flips a durable conversation back online.
func (d *Dispatcher) reconnectKnownPeer(id string) {
	if d.store.SetOnline(id, true) {
		d.renderer.PresenceChanged(id, true)
	}
}

// registerNewPeer tracks a previously unseen peer and triggers exactly one
// directory lookup for it. The peer is not a conversation yet; it becomes
// selectable once the profile resolves and durable only on Promote.
func (d *Dispatcher) registerNewPeer(id string) {
	if d.dir == nil {
		d.log.Debug("ignoring connect from unknown peer", zap.String("peer", id))
		return
	}
	if _, already := d.pending[id]; already {
		return
	}
	d.pending[id] = &pendingPeer{}

	go func() {
		p, err := d.dir.Profile(context.Background(), id)
		d.Post(func() { d.profileResolved(id, p, err) })
	}()
}

// profileResolved runs on the dispatcher goroutine once the directory lookup
// finishes. A peer that disconnected while the lookup was in flight is gone
// from pending, so a late profile is discarded rather than resurrected.
func (d *Dispatcher) profileResolved(id string, p api.Profile, err error) {
	peer, ok := d.pending[id]
	if !ok {
		d.log.Debug("discarding profile for departed peer", zap.String("peer", id))
		return
	}
	if err != nil {
		delete(d.pending, id)
		d.log.Warn("profile lookup failed", zap.String("peer", id), zap.Error(err))
		return
	}
	peer.profile = p
	peer.resolved = true
	d.renderer.PeerAvailable(p)
}

func (d *Dispatcher) handleDisconnect(id string) {
	if id == "" {
		d.log.Warn("disconnect frame with empty id")
		return
	}
	// an opened conversation is durable: it only goes offline
	if _, known := d.store.Conversation(id); known {
		if d.store.SetOnline(id, false) {
			d.renderer.PresenceChanged(id, false)
		}
		return
	}
	// an unopened peer is ephemeral presence: it is removed outright
	if peer, ok := d.pending[id]; ok {
		delete(d.pending, id)
		if peer.resolved {
			d.renderer.PeerGone(id)
		}
		return
	}
	d.log.Debug("disconnect for unknown id", zap.String("peer", id))
}

func (d *Dispatcher) handleMessage(msg, senderID string) {
	if senderID == "" {
		d.log.Warn("message frame with empty sender_id")
		return
	}
	e := state.Entry{
		ConversationID: senderID,
		Message:        msg,
		FromSelf:       false,
		Time:           time.Now(),
	}
	d.store.Append(senderID, e)
	// history is always updated; only the focused conversation re-renders
	if senderID == d.selected {
		d.renderer.EntryAppended(e)
	}
}

// Send validates an operator compose action, emits the outbound frame and
// applies the local echo. An empty selection or blank text is a quiet no-op.
// A transport failure is returned to the caller, but the optimistic echo
// stays in place; the protocol offers no way to reconcile it.
func (d *Dispatcher) Send(text string) error {
	if d.selected == "" || strings.TrimSpace(text) == "" {
		return nil
	}

	raw, err := (protocol.Outbound{Msg: text, RecvID: d.selected}).Encode()
	if err != nil {
		return err
	}
	sendErr := d.transport.Send(raw)
	if sendErr != nil {
		d.log.Warn("transport send failed, keeping local echo",
			zap.String("conversation", d.selected), zap.Error(sendErr))
	}

	echo := state.Entry{
		ConversationID: d.selected,
		Message:        text,
		FromSelf:       true,
	}
	d.store.Append(d.selected, echo)
	d.renderer.EntryAppended(echo)

	if sendErr != nil {
		return fmt.Errorf("send message: %w", sendErr)
	}
	return nil
}

// Select focuses a conversation: redraw its history, then move the
// selection. A conversation whose history never loaded shows the pending
// signal and keeps the previous selection, since no redraw happened.
func (d *Dispatcher) Select(id string) {
	if id == d.selected {
		return
	}
	entries, loaded := d.store.History(id)
	if !loaded {
		d.renderer.HistoryPending(id)
		return
	}
	d.renderer.History(id, entries)
	d.selected = id
}

// Selected returns the focused conversation id, empty when none.
func (d *Dispatcher) Selected() string {
	return d.selected
}

// AvailablePeers lists resolved pending peers the operator may promote.
func (d *Dispatcher) AvailablePeers() []api.Profile {
	out := make([]api.Profile, 0, len(d.pending))
	for _, p := range d.pending {
		if p.resolved {
			out = append(out, p.profile)
		}
	}
	return out
}

// Promote turns a resolved pending peer into a conversation. The upsert is
// optimistic; the server call runs off-loop and a failure rolls the
// conversation back out of the store.
func (d *Dispatcher) Promote(id string) {
	peer, ok := d.pending[id]
	if !ok || !peer.resolved {
		d.log.Warn("promote requested for unknown or unresolved peer", zap.String("peer", id))
		return
	}
	if d.promoter == nil {
		d.log.Warn("no promoter configured", zap.String("peer", id))
		return
	}

	conv := state.Conversation{ID: id, Name: peer.profile.Name, Online: true}
	d.store.Upsert(conv)
	delete(d.pending, id)

	go func() {
		err := d.promoter.CreateConversation(context.Background(), id)
		d.Post(func() { d.promotionDone(conv, err) })
	}()
}

func (d *Dispatcher) promotionDone(conv state.Conversation, err error) {
	if err != nil {
		d.store.Remove(conv.ID)
		if d.selected == conv.ID {
			d.selected = ""
		}
		d.renderer.Notice(fmt.Sprintf("could not open conversation with %s", conv.Name))
		d.log.Warn("promote failed", zap.String("peer", conv.ID), zap.Error(err))
		return
	}
	// a fresh conversation has no server history; mark it loaded and empty
	if _, loaded := d.store.History(conv.ID); !loaded {
		d.store.Seed(conv.ID, nil)
	}
	d.renderer.ConversationAdded(conv)
}
