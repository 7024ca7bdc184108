package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/medisync/clinic-chat/internal/api"
	"github.com/medisync/clinic-chat/internal/state"
	"github.com/medisync/clinic-chat/pkg/protocol"
)

type presenceEvent struct {
	id     string
	online bool
}

// fakeRenderer records every display instruction the dispatcher issues.
type fakeRenderer struct {
	added     []state.Conversation
	presence  []presenceEvent
	available []api.Profile
	gone      []string
	appended  []state.Entry
	histories []string
	pending   []string
	notices   []string
}

func (r *fakeRenderer) ConversationAdded(c state.Conversation) { r.added = append(r.added, c) }
func (r *fakeRenderer) PresenceChanged(id string, online bool) {
	r.presence = append(r.presence, presenceEvent{id, online})
}
func (r *fakeRenderer) PeerAvailable(p api.Profile) { r.available = append(r.available, p) }
func (r *fakeRenderer) PeerGone(id string)          { r.gone = append(r.gone, id) }
func (r *fakeRenderer) EntryAppended(e state.Entry) { r.appended = append(r.appended, e) }
func (r *fakeRenderer) History(id string, _ []state.Entry) {
	r.histories = append(r.histories, id)
}
func (r *fakeRenderer) HistoryPending(id string) { r.pending = append(r.pending, id) }
func (r *fakeRenderer) Notice(text string)       { r.notices = append(r.notices, text) }

type fakeTransport struct {
	sent []string
	err  error
	msgs chan string
}

func (t *fakeTransport) Send(text string) error {
	t.sent = append(t.sent, text)
	return t.err
}
func (t *fakeTransport) Messages() <-chan string { return t.msgs }

// fakeDirectory blocks each lookup until gate is closed (a closed gate from
// the start makes lookups immediate).
type fakeDirectory struct {
	gate     chan struct{}
	profiles map[string]api.Profile
	err      error
	calls    int
}

func (d *fakeDirectory) Profile(_ context.Context, id string) (api.Profile, error) {
	d.calls++
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return api.Profile{}, d.err
	}
	return d.profiles[id], nil
}

type fakePromoter struct {
	err   error
	calls []string
}

func (p *fakePromoter) CreateConversation(_ context.Context, id string) error {
	p.calls = append(p.calls, id)
	return p.err
}

// runTask executes the next queued task on the test goroutine, standing in
// for the Run loop.
func runTask(t *testing.T, d *Dispatcher) {
	t.Helper()
	select {
	case fn := <-d.tasks:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no task was scheduled")
	}
}

func newTestDispatcher(dir Directory, prom Promoter) (*Dispatcher, *state.Store, *fakeRenderer, *fakeTransport) {
	store := state.NewStore()
	renderer := &fakeRenderer{}
	tr := &fakeTransport{msgs: make(chan string)}
	d := New(store, renderer, tr, dir, prom, zap.NewNop())
	return d, store, renderer, tr
}

func TestHandleConnect_ReconnectKnownPeer(t *testing.T) {
	d, store, renderer, _ := newTestDispatcher(nil, nil)
	store.Upsert(state.Conversation{ID: "a", Name: "Alice"})

	d.HandleRaw(`{"type":"connect","data":"{\"id\":\"a\"}"}`)

	if store.Len() != 1 {
		t.Errorf("store size = %d, want 1 (no duplicate)", store.Len())
	}
	c, _ := store.Conversation("a")
	if !c.Online {
		t.Error("conversation not flipped online")
	}
	if len(renderer.presence) != 1 || renderer.presence[0] != (presenceEvent{"a", true}) {
		t.Errorf("presence events = %+v, want one online flip for a", renderer.presence)
	}

	// a second connect is redundant and must not re-notify
	d.HandleRaw(`{"type":"connect","data":"{\"id\":\"a\"}"}`)
	if len(renderer.presence) != 1 {
		t.Errorf("presence events after redundant connect = %d, want 1", len(renderer.presence))
	}
}

func TestHandleConnect_UnknownPeerTriggersOneLookup(t *testing.T) {
	dir := &fakeDirectory{profiles: map[string]api.Profile{"d-1": {ID: "d-1", Name: "Gregory"}}}
	d, store, renderer, _ := newTestDispatcher(dir, nil)

	d.Handle(frameConnect("d-1"))
	d.Handle(frameConnect("d-1")) // duplicate while pending

	if store.Len() != 0 {
		t.Error("no conversation may exist before promotion")
	}
	runTask(t, d)

	if dir.calls != 1 {
		t.Errorf("directory lookups = %d, want exactly 1", dir.calls)
	}
	if len(renderer.available) != 1 || renderer.available[0].Name != "Gregory" {
		t.Errorf("available peers = %+v", renderer.available)
	}
	if store.Len() != 0 {
		t.Error("resolved peer must not become a conversation without promotion")
	}
}

func TestDisconnectBeforeProfileResolves(t *testing.T) {
	gate := make(chan struct{})
	dir := &fakeDirectory{gate: gate, profiles: map[string]api.Profile{"d-1": {ID: "d-1", Name: "Gregory"}}}
	d, store, renderer, _ := newTestDispatcher(dir, nil)

	d.Handle(frameConnect("d-1"))
	d.Handle(frameDisconnect("d-1")) // peer leaves before the lookup returns
	close(gate)
	runTask(t, d) // the late profile result must be discarded

	if store.Len() != 0 {
		t.Error("late profile resurrected a departed peer into state")
	}
	if len(renderer.available) != 0 {
		t.Errorf("available peers = %+v, want none", renderer.available)
	}
	if len(d.AvailablePeers()) != 0 {
		t.Error("pending set not empty after disconnect")
	}
}

func TestHandleDisconnect_KnownConversationPersists(t *testing.T) {
	d, store, renderer, _ := newTestDispatcher(nil, nil)
	store.Upsert(state.Conversation{ID: "a", Name: "Alice", Online: true})

	d.Handle(frameDisconnect("a"))

	if _, ok := store.Conversation("a"); !ok {
		t.Fatal("durable conversation was removed by disconnect")
	}
	c, _ := store.Conversation("a")
	if c.Online {
		t.Error("conversation still online after disconnect")
	}
	if len(renderer.presence) != 1 || renderer.presence[0] != (presenceEvent{"a", false}) {
		t.Errorf("presence events = %+v", renderer.presence)
	}
}

func TestHandleDisconnect_ResolvedPeerIsRemoved(t *testing.T) {
	dir := &fakeDirectory{profiles: map[string]api.Profile{"d-1": {ID: "d-1", Name: "Gregory"}}}
	d, _, renderer, _ := newTestDispatcher(dir, nil)

	d.Handle(frameConnect("d-1"))
	runTask(t, d)
	d.Handle(frameDisconnect("d-1"))

	if len(renderer.gone) != 1 || renderer.gone[0] != "d-1" {
		t.Errorf("gone events = %+v, want [d-1]", renderer.gone)
	}
	if len(d.AvailablePeers()) != 0 {
		t.Error("peer still listed after disconnect")
	}
}

func TestHandleMessage_FocusedAndUnfocused(t *testing.T) {
	d, store, renderer, _ := newTestDispatcher(nil, nil)
	store.Upsert(state.Conversation{ID: "a", Name: "Alice"})
	store.Seed("a", nil)
	store.Upsert(state.Conversation{ID: "b", Name: "Bob"})
	store.Seed("b", nil)
	d.Select("a")

	d.Handle(frameMessage("hi", "b")) // unfocused: history only
	if h, _ := store.History("b"); len(h) != 1 || h[0].FromSelf {
		t.Errorf("history for b = %+v, want one inbound entry", h)
	}
	if len(renderer.appended) != 0 {
		t.Errorf("render appends for unfocused conversation = %d, want 0", len(renderer.appended))
	}

	d.Handle(frameMessage("hello", "a")) // focused: history plus render
	if h, _ := store.History("a"); len(h) != 1 {
		t.Errorf("history for a has %d entries, want 1", len(h))
	}
	if len(renderer.appended) != 1 || renderer.appended[0].Message != "hello" {
		t.Errorf("render appends = %+v, want the focused entry", renderer.appended)
	}
}

func TestSend(t *testing.T) {
	d, store, renderer, tr := newTestDispatcher(nil, nil)
	store.Upsert(state.Conversation{ID: "a", Name: "Alice"})
	store.Seed("a", nil)
	d.Select("a")

	if err := d.Send("hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(tr.sent) != 1 || tr.sent[0] != `{"msg":"hello","recvid":"a"}` {
		t.Errorf("transport sent = %+v", tr.sent)
	}
	h, _ := store.History("a")
	if len(h) != 1 {
		t.Fatalf("history has %d entries, want exactly one echo", len(h))
	}
	echo := h[0]
	if !echo.FromSelf || echo.ID != "" || !echo.Time.IsZero() {
		t.Errorf("echo = %+v, want FromSelf with zero id/time", echo)
	}
	if len(renderer.appended) != 1 {
		t.Errorf("render appends = %d, want 1", len(renderer.appended))
	}
}

func TestSend_PreconditionsAreNoOps(t *testing.T) {
	d, store, renderer, tr := newTestDispatcher(nil, nil)
	store.Upsert(state.Conversation{ID: "a", Name: "Alice"})
	store.Seed("a", nil)

	// no selection
	if err := d.Send("hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	// blank text
	d.Select("a")
	if err := d.Send("   "); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(tr.sent) != 0 {
		t.Errorf("transport sent = %+v, want nothing", tr.sent)
	}
	if h, _ := store.History("a"); len(h) != 0 {
		t.Errorf("history = %+v, want no mutation", h)
	}
	if len(renderer.appended) != 0 {
		t.Error("renderer received appends for a no-op send")
	}
}

func TestSend_TransportFailureKeepsEcho(t *testing.T) {
	d, store, _, tr := newTestDispatcher(nil, nil)
	tr.err = errors.New("broken pipe")
	store.Upsert(state.Conversation{ID: "a", Name: "Alice"})
	store.Seed("a", nil)
	d.Select("a")

	err := d.Send("hello")
	if err == nil {
		t.Fatal("Send() error = nil, want transport failure surfaced")
	}
	if h, _ := store.History("a"); len(h) != 1 {
		t.Errorf("history has %d entries, want the optimistic echo despite the failure", len(h))
	}
}

func TestSelect(t *testing.T) {
	d, store, renderer, _ := newTestDispatcher(nil, nil)
	store.Upsert(state.Conversation{ID: "a", Name: "Alice"})
	store.Seed("a", []state.Entry{{ConversationID: "a", Message: "old"}})
	store.Upsert(state.Conversation{ID: "b", Name: "Bob"})
	// b has no loaded history

	d.Select("b")
	if len(renderer.pending) != 1 || renderer.pending[0] != "b" {
		t.Errorf("pending signals = %+v, want [b]", renderer.pending)
	}
	if d.Selected() != "" {
		t.Errorf("Selected() = %q, selection must not move without a redraw", d.Selected())
	}

	d.Select("a")
	if len(renderer.histories) != 1 || renderer.histories[0] != "a" {
		t.Errorf("history redraws = %+v, want [a]", renderer.histories)
	}
	if d.Selected() != "a" {
		t.Errorf("Selected() = %q, want a", d.Selected())
	}

	// reselecting the focused conversation is a no-op
	d.Select("a")
	if len(renderer.histories) != 1 {
		t.Errorf("history redraws = %d, want still 1", len(renderer.histories))
	}
}

func TestPromote(t *testing.T) {
	dir := &fakeDirectory{profiles: map[string]api.Profile{"d-1": {ID: "d-1", Name: "Gregory"}}}
	prom := &fakePromoter{}
	d, store, renderer, _ := newTestDispatcher(dir, prom)

	d.Handle(frameConnect("d-1"))
	runTask(t, d)
	d.Promote("d-1")
	runTask(t, d)

	if len(prom.calls) != 1 || prom.calls[0] != "d-1" {
		t.Errorf("promoter calls = %+v, want [d-1]", prom.calls)
	}
	c, ok := store.Conversation("d-1")
	if !ok || c.Name != "Gregory" || !c.Online {
		t.Errorf("promoted conversation = %+v", c)
	}
	if _, loaded := store.History("d-1"); !loaded {
		t.Error("fresh conversation should have an empty loaded history")
	}
	if len(renderer.added) != 1 {
		t.Errorf("added events = %d, want 1", len(renderer.added))
	}
	if len(d.AvailablePeers()) != 0 {
		t.Error("promoted peer still listed as available")
	}
}

func TestPromote_ServerFailureRollsBack(t *testing.T) {
	dir := &fakeDirectory{profiles: map[string]api.Profile{"d-1": {ID: "d-1", Name: "Gregory"}}}
	prom := &fakePromoter{err: errors.New("conflict")}
	d, store, renderer, _ := newTestDispatcher(dir, prom)

	d.Handle(frameConnect("d-1"))
	runTask(t, d)
	d.Promote("d-1")
	runTask(t, d)

	if _, ok := store.Conversation("d-1"); ok {
		t.Error("failed promotion left the conversation in the store")
	}
	if len(renderer.added) != 0 {
		t.Error("failed promotion announced a conversation")
	}
	if len(renderer.notices) != 1 {
		t.Errorf("notices = %+v, want one failure notice", renderer.notices)
	}
}

func TestPromote_UnresolvedPeerIsIgnored(t *testing.T) {
	gate := make(chan struct{})
	dir := &fakeDirectory{gate: gate}
	prom := &fakePromoter{}
	d, store, _, _ := newTestDispatcher(dir, prom)

	d.Handle(frameConnect("d-1"))
	d.Promote("d-1") // profile not resolved yet
	close(gate)

	if len(prom.calls) != 0 {
		t.Errorf("promoter calls = %+v, want none", prom.calls)
	}
	if store.Len() != 0 {
		t.Error("unresolved peer was promoted")
	}
}

func TestHandleRaw_MalformedFramesAreDropped(t *testing.T) {
	d, store, renderer, _ := newTestDispatcher(nil, nil)

	d.HandleRaw("garbage")
	d.HandleRaw(`{"type":"typing","data":"{}"}`)
	d.HandleRaw(`{"type":"connect","data":"{}"}`)
	d.HandleRaw(`{"type":"connect","data":"{\"id\":\"\"}"}`) // well-formed frame, malformed id

	if store.Len() != 0 || len(renderer.presence) != 0 || len(renderer.appended) != 0 {
		t.Error("malformed frames mutated state or rendered output")
	}
}

func TestRun_EndsWhenStreamCloses(t *testing.T) {
	d, store, _, tr := newTestDispatcher(nil, nil)
	store.Upsert(state.Conversation{ID: "a", Name: "Alice"})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	tr.msgs <- `{"type":"connect","data":"{\"id\":\"a\"}"}`
	close(tr.msgs)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on stream end", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the stream closed")
	}

	c, _ := store.Conversation("a")
	if !c.Online {
		t.Error("frame delivered through Run was not applied")
	}
}

func TestPost_AfterRunStops(t *testing.T) {
	d, _, _, tr := newTestDispatcher(nil, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	if !d.Post(func() {}) {
		t.Error("Post() = false while the loop is running, want true")
	}

	close(tr.msgs)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the stream closed")
	}

	if d.Post(func() { t.Error("task ran after the loop stopped") }) {
		t.Error("Post() = true after Run returned, want false")
	}
}

func frameConnect(id string) protocol.Frame    { return protocol.ConnectFrame{ID: id} }
func frameDisconnect(id string) protocol.Frame { return protocol.DisconnectFrame{ID: id} }
func frameMessage(msg, sender string) protocol.Frame {
	return protocol.MessageFrame{Msg: msg, SenderID: sender}
}
