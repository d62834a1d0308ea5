package router_test

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/a-essam23/go-relay/internal/engine"
	"github.com/a-essam23/go-relay/internal/models"
	"github.com/a-essam23/go-relay/internal/polls"
	"github.com/a-essam23/go-relay/internal/router"
	"github.com/a-essam23/go-relay/internal/testutil"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/a-essam23/go-relay/pkg/state/statemanager"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

type harness struct {
	t      *testing.T
	router *router.EventRouter
	state  *statemanager.InMemoryManager
	calls  *statemanager.InMemoryCallTracker
	polls  *polls.Aggregator
	reg    *prometheus.Registry
	conns  []*client
}

type client struct {
	conn *state.Connection
	tr   *testutil.FakeTransport
}

func newHarness(t *testing.T, policy statemanager.BusyPolicy, events map[string]config.EventConfig) *harness {
	t.Helper()
	logger := testutil.NewLogger(t)
	sm := statemanager.NewInMemoryManager(logger)
	calls := statemanager.NewInMemoryCallTracker(logger, policy)
	agg := polls.NewAggregator(logger, testutil.NewStore(t))

	reg := engine.New(logger)
	reg.RegisterCore(&engine.RegisterCoreOptions{JWTsecret: "secret"})
	steps, err := reg.Compile(events)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	promReg := prometheus.NewRegistry()
	metrics := router.NewMetrics(promReg, sm, calls)

	return &harness{
		t:      t,
		router: router.NewEventRouter(logger, sm, calls, agg, router.Options{Steps: steps, Metrics: metrics}),
		state:  sm,
		calls:  calls,
		polls:  agg,
		reg:    promReg,
	}
}

func (h *harness) connect() *client {
	h.t.Helper()
	tr := testutil.NewFakeTransport()
	conn, err := h.state.RegisterConnection(tr, "127.0.0.1", "")
	if err != nil {
		h.t.Fatalf("RegisterConnection: %v", err)
	}
	c := &client{conn: conn, tr: tr}
	h.conns = append(h.conns, c)
	return c
}

func (h *harness) send(c *client, event string, payload any) {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal payload: %v", err)
	}
	msg, _ := json.Marshal(router.ClientMessage{Event: event, Payload: raw})
	h.router.HandleMessage(context.Background(), c.conn.ID, msg)
}

// online connects a client and joins it as identity, then clears the frames
// of every connection so the join broadcast does not leak into assertions.
func (h *harness) online(identity string) *client {
	h.t.Helper()
	c := h.connect()
	h.send(c, router.EventJoin, identity)
	for _, other := range h.conns {
		other.tr.Reset()
	}
	return c
}

func count(t *testing.T, c *client, event string) int {
	t.Helper()
	n := 0
	for _, name := range c.tr.Events(t) {
		if name == event {
			n++
		}
	}
	return n
}

func decodePayload(t *testing.T, f testutil.Frame, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Payload, v); err != nil {
		t.Fatalf("decode %s payload: %v", f.Event, err)
	}
}

func errorMessage(t *testing.T, c *client) string {
	t.Helper()
	var p struct {
		Message string `json:"message"`
	}
	decodePayload(t, c.tr.Last(t, "error"), &p)
	return p.Message
}

// --- presence and messaging ---

func TestJoinBroadcastsActiveUsers(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	alice := h.online("alice")
	bob := h.connect()

	h.send(bob, router.EventJoin, map[string]string{"userId": "bob"})

	var users []string
	decodePayload(t, alice.tr.Last(t, "active-users"), &users)
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("unexpected active users %v", users)
	}
	if count(t, bob, "active-users") != 1 {
		t.Fatal("joining connection should get the broadcast too")
	}
}

func TestActiveUsersListsJoinedIdentitiesOnly(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	c := h.connect()

	h.send(c, router.EventAddUser, "alice@example.com")
	h.send(c, router.EventJoin, "u1")

	var users []string
	decodePayload(t, c.tr.Last(t, "active-users"), &users)
	if len(users) != 1 || users[0] != "u1" {
		t.Fatalf("expected only the joined id, got %v", users)
	}
	if _, ok := h.state.Lookup("alice@example.com"); !ok {
		t.Fatal("email identity should still route")
	}
}

func TestEarlierOnlineClientsSeeNoJoinFrames(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	alice := h.online("alice")
	bob := h.online("bob")

	if n := len(alice.tr.Events(t)); n != 0 {
		t.Fatalf("alice should start clean, got %v", alice.tr.Events(t))
	}
	if n := len(bob.tr.Events(t)); n != 0 {
		t.Fatalf("bob should start clean, got %v", bob.tr.Events(t))
	}
}

func TestEventsListsHandledNames(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	events := h.router.Events()

	if !sort.StringsAreSorted(events) {
		t.Fatalf("events should be sorted: %v", events)
	}
	for _, want := range []string{router.EventJoin, router.EventAddUser, router.EventStartCall, router.EventVote} {
		if i := sort.SearchStrings(events, want); i == len(events) || events[i] != want {
			t.Fatalf("missing handler for %s in %v", want, events)
		}
	}
}

func TestAddUserAcceptsEmailString(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	c := h.connect()
	h.send(c, router.EventAddUser, "alice@example.com")

	if _, ok := h.state.Lookup("alice@example.com"); !ok {
		t.Fatal("add-user should register the email identity")
	}
	if len(c.tr.Events(t)) != 0 {
		t.Fatalf("add-user should not answer, got %v", c.tr.Events(t))
	}

	h.send(c, router.EventAddUser, map[string]string{})
	if errorMessage(t, c) == "" {
		t.Fatal("expected an error for a missing identity")
	}
}

func TestSendMsgToOnlineIdentity(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	alice := h.online("alice")
	bob := h.online("bob")

	h.send(bob, router.EventSendMsg, map[string]string{"to": "alice", "from": "bob", "msg": "hi 👋"})

	var got struct {
		Msg  string `json:"msg"`
		From string `json:"from"`
	}
	decodePayload(t, alice.tr.Last(t, "msg-receive"), &got)
	if got.Msg != "hi 👋" || got.From != "bob" {
		t.Fatalf("unexpected msg-receive %+v", got)
	}
	if count(t, bob, "msg-receive") != 0 {
		t.Fatal("sender should not receive its own message")
	}

	// the alias routes the same way
	h.send(bob, router.EventSendMessage, map[string]string{"to": "alice", "from": "bob", "msg": "again"})
	if count(t, alice, "msg-receive") != 2 {
		t.Fatalf("expected 2 messages via alias, got %v", alice.tr.Events(t))
	}
}

func TestSendToOfflineIsDropped(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	bob := h.online("bob")
	other := h.online("carol")

	h.send(bob, router.EventSendMsg, map[string]string{"to": "ghost", "from": "bob", "msg": "anyone?"})

	if len(bob.tr.Events(t)) != 0 || len(other.tr.Events(t)) != 0 {
		t.Fatalf("nobody should receive anything, got bob=%v carol=%v", bob.tr.Events(t), other.tr.Events(t))
	}
	if d := h.router.Forward("ghost", "msg-receive", nil); d != router.Dropped {
		t.Fatalf("expected Dropped, got %v", d)
	}
	expected := `
# HELP relay_deliveries_total Targeted sends by outbound event and outcome (delivered, dropped).
# TYPE relay_deliveries_total counter
relay_deliveries_total{event="msg-receive",outcome="dropped"} 2
# HELP relay_online_identities Identities currently routed to a live connection.
# TYPE relay_online_identities gauge
relay_online_identities 2
`
	if err := promtest.GatherAndCompare(h.reg, strings.NewReader(expected), "relay_deliveries_total", "relay_online_identities"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestLastRegistrationWins(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	h1 := h.online("alice")
	h2 := h.online("alice")
	bob := h.online("bob")
	h1.tr.Reset()

	h.send(bob, router.EventSendMsg, map[string]string{"to": "alice", "from": "bob", "msg": "which one?"})

	if count(t, h1, "msg-receive") != 0 {
		t.Fatal("stale connection must not receive")
	}
	if count(t, h2, "msg-receive") != 1 {
		t.Fatal("latest connection should receive")
	}
}

func TestStaleDisconnectKeepsNewerRegistration(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	h1 := h.online("alice")
	h2 := h.online("alice")
	bob := h.online("bob")

	h.router.HandleDisconnect(h1.conn.ID)

	if conn, ok := h.state.Lookup("alice"); !ok || conn.ID != h2.conn.ID {
		t.Fatal("alice should still be routed to h2")
	}
	h.send(bob, router.EventSendMsg, map[string]string{"to": "alice", "from": "bob", "msg": "still there?"})
	if count(t, h2, "msg-receive") != 1 {
		t.Fatal("h2 should receive after h1 disconnects")
	}

	h.router.HandleDisconnect(h2.conn.ID)
	if _, ok := h.state.Lookup("alice"); ok {
		t.Fatal("alice should be offline after h2 disconnects")
	}
}

func TestVoiceAndNotificationForwarding(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	alice := h.online("alice@example.com")
	bob := h.online("bob")

	h.send(bob, router.EventSendVoiceMsg, map[string]string{"to": "alice@example.com", "from": "bob", "audioUrl": "/uploads/a.webm"})
	h.send(bob, router.EventSendNotification, map[string]string{"email": "alice@example.com", "message": "ping"})

	var voice struct {
		AudioURL string `json:"audioUrl"`
		From     string `json:"from"`
	}
	decodePayload(t, alice.tr.Last(t, "receive-voice-msg"), &voice)
	if voice.AudioURL != "/uploads/a.webm" || voice.From != "bob" {
		t.Fatalf("unexpected voice payload %+v", voice)
	}
	var note struct {
		Email   string `json:"email"`
		Message string `json:"message"`
	}
	decodePayload(t, alice.tr.Last(t, "new-notification"), &note)
	if note.Message != "ping" {
		t.Fatalf("unexpected notification %+v", note)
	}
}

// --- call signaling ---

func TestCallDeclineThenNewCaller(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	a := h.online("A")
	b := h.online("B")
	c := h.online("C")

	h.send(a, router.EventStartCall, map[string]string{"callerId": "A", "receiverId": "B", "peerId": "peer-a"})
	var incoming struct {
		CallerID string `json:"callerId"`
		PeerID   string `json:"peerId"`
	}
	decodePayload(t, b.tr.Last(t, "incoming-call"), &incoming)
	if incoming.CallerID != "A" || incoming.PeerID != "peer-a" {
		t.Fatalf("unexpected incoming-call %+v", incoming)
	}

	h.send(b, router.EventDeclineCall, map[string]string{"callerId": "A", "receiverId": "B"})
	if count(t, a, "call-declined") != 1 {
		t.Fatal("caller should be told about the decline")
	}
	if _, ok := h.calls.Caller("B"); ok {
		t.Fatal("entry should be cleared after decline")
	}

	h.send(c, router.EventStartCall, map[string]string{"callerId": "C", "receiverId": "B", "peerId": "peer-c"})
	if caller, _ := h.calls.Caller("B"); caller != "C" {
		t.Fatalf("expected C to be ringing B, got %q", caller)
	}
}

func TestCallAcceptKeepsEntryAndEndNotifiesBoth(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	a := h.online("A")
	b := h.online("B")

	h.send(a, router.EventStartCall, map[string]string{"callerId": "A", "receiverId": "B", "peerId": "pa"})
	h.send(b, router.EventAcceptCall, map[string]string{"callerId": "A", "receiverId": "B", "peerId": "pb"})

	var accepted struct {
		PeerID string `json:"peerId"`
	}
	decodePayload(t, a.tr.Last(t, "call-accepted"), &accepted)
	if accepted.PeerID != "pb" {
		t.Fatalf("expected receiver's peer id, got %q", accepted.PeerID)
	}
	if _, ok := h.calls.Caller("B"); !ok {
		t.Fatal("accept should keep the call entry")
	}

	h.send(a, router.EventEndCall, map[string]string{"callerId": "A", "receiverId": "B"})
	if count(t, a, "call-ended") != 1 || count(t, b, "call-ended") != 1 {
		t.Fatalf("both parties should get call-ended: a=%v b=%v", a.tr.Events(t), b.tr.Events(t))
	}
	if h.calls.Count() != 0 {
		t.Fatal("entry should be cleared after end-call")
	}
}

func TestBusyRejectKeepsFirstCaller(t *testing.T) {
	h := newHarness(t, statemanager.BusyReject, nil)
	a := h.online("A")
	b := h.online("B")
	c := h.online("C")

	h.send(a, router.EventStartCall, map[string]string{"callerId": "A", "receiverId": "B"})
	h.send(c, router.EventStartCall, map[string]string{"callerId": "C", "receiverId": "B"})

	var busy struct {
		ReceiverID string `json:"receiverId"`
	}
	decodePayload(t, c.tr.Last(t, "call-busy"), &busy)
	if busy.ReceiverID != "B" {
		t.Fatalf("unexpected call-busy %+v", busy)
	}
	if count(t, b, "incoming-call") != 1 {
		t.Fatal("receiver should only ring for the first caller")
	}
	if caller, _ := h.calls.Caller("B"); caller != "A" {
		t.Fatalf("expected A to keep the entry, got %q", caller)
	}
}

func TestBusyRejectLetsSameCallerRedial(t *testing.T) {
	h := newHarness(t, statemanager.BusyReject, nil)
	a := h.online("A")
	b := h.online("B")

	h.send(a, router.EventStartCall, map[string]string{"callerId": "A", "receiverId": "B", "peerId": "p1"})
	h.send(a, router.EventStartCall, map[string]string{"callerId": "A", "receiverId": "B", "peerId": "p2"})

	if count(t, a, "call-busy") != 0 {
		t.Fatal("redial by the current caller should not be busy")
	}
	if count(t, b, "incoming-call") != 2 {
		t.Fatalf("receiver should ring for both dials, got %v", b.tr.Events(t))
	}
}

func TestDisconnectLeavesCallEntries(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	a := h.online("A")
	b := h.online("B")

	h.send(a, router.EventStartCall, map[string]string{"callerId": "A", "receiverId": "B"})
	h.router.HandleDisconnect(b.conn.ID)

	if caller, ok := h.calls.Caller("B"); !ok || caller != "A" {
		t.Fatal("disconnect must not touch call entries")
	}
}

func TestMuteHoldAndRoomBroadcast(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	a := h.online("A")
	b := h.online("B")
	outsider := h.online("Z")

	h.send(a, router.EventToggleMute, map[string]any{"userId": "B", "isMuted": true})
	h.send(a, router.EventHoldCall, map[string]any{"userId": "B", "isOnHold": true})

	var mute struct {
		IsMuted bool `json:"isMuted"`
	}
	decodePayload(t, b.tr.Last(t, "toggle-mute"), &mute)
	var hold struct {
		IsOnHold bool `json:"isOnHold"`
	}
	decodePayload(t, b.tr.Last(t, "hold-call"), &hold)
	if !mute.IsMuted || !hold.IsOnHold {
		t.Fatalf("unexpected mute/hold state %+v %+v", mute, hold)
	}

	h.send(a, router.EventJoinRoom, map[string]string{"roomId": "call-1"})
	h.send(b, router.EventJoinRoom, map[string]string{"roomId": "call-1"})
	h.send(a, router.EventAddUserToCall, map[string]string{"roomId": "call-1", "newUserId": "C"})

	if count(t, a, "user-added") != 1 || count(t, b, "user-added") != 1 {
		t.Fatal("room members should be told about the new user")
	}
	if count(t, outsider, "user-added") != 0 {
		t.Fatal("non-members must not get room events")
	}

	h.send(b, router.EventLeaveRoom, map[string]string{"roomId": "call-1"})
	h.send(a, router.EventAddUserToCall, map[string]string{"roomId": "call-1", "newUserId": "D"})
	if count(t, b, "user-added") != 1 {
		t.Fatal("left member should not receive further room events")
	}
}

// --- polls ---

func createPoll(t *testing.T, h *harness) *models.Poll {
	t.Helper()
	p, err := h.polls.Create(context.Background(), "lunch?", []models.CreatePollOption{
		{ID: "a", Text: "pizza"},
		{ID: "b", Text: "sushi"},
	}, "creator")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestVoteScenarioBroadcasts(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	u1 := h.online("u1")
	watcher := h.online("watcher")
	p := createPoll(t, h)

	h.send(u1, router.EventVote, map[string]string{"pollId": p.ID, "optionId": "a", "userId": "u1"})
	h.send(u1, router.EventVote, map[string]string{"pollId": p.ID, "optionId": "b", "userId": "u1"})

	if count(t, watcher, "poll_updated") != 2 || count(t, u1, "poll_updated") != 2 {
		t.Fatal("every connection should see both updates")
	}
	var got models.Poll
	decodePayload(t, watcher.tr.Last(t, "poll_updated"), &got)
	if got.Option("a").Votes != 0 || got.Option("b").Votes != 1 {
		t.Fatalf("unexpected counts %+v", got.Options)
	}
	if v := got.Option("b").Voters; len(v) != 1 || v[0] != "u1" {
		t.Fatalf("expected voters [u1], got %v", v)
	}
}

func TestVoteForMissingOptionErrorsToOriginOnly(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	u1 := h.online("u1")
	watcher := h.online("watcher")
	p := createPoll(t, h)

	h.send(u1, router.EventVote, map[string]string{"pollId": p.ID, "optionId": "nope", "userId": "u1"})

	if msg := errorMessage(t, u1); msg != "Option not found" {
		t.Fatalf("unexpected error message %q", msg)
	}
	if len(watcher.tr.Events(t)) != 0 {
		t.Fatalf("nobody else should hear about it, got %v", watcher.tr.Events(t))
	}

	h.send(u1, router.EventVote, map[string]string{"pollId": "missing", "optionId": "a", "userId": "u1"})
	if msg := errorMessage(t, u1); msg != "Poll not found" {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestDeletePollCreatorOnly(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	creator := h.online("creator")
	intruder := h.online("intruder")
	p := createPoll(t, h)

	h.send(intruder, router.EventDeletePoll, map[string]string{"pollId": p.ID, "userId": "intruder"})
	if len(intruder.tr.Events(t)) != 0 || len(creator.tr.Events(t)) != 0 {
		t.Fatal("a refused delete must be silent")
	}

	h.send(creator, router.EventDeletePoll, map[string]string{"pollId": p.ID, "userId": "creator"})
	var deleted string
	decodePayload(t, intruder.tr.Last(t, "poll_deleted"), &deleted)
	if deleted != p.ID {
		t.Fatalf("expected poll_deleted %s, got %s", p.ID, deleted)
	}
}

// --- envelope handling and modifiers ---

func TestMalformedAndUnknownEvents(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	c := h.online("u1")

	h.router.HandleMessage(context.Background(), c.conn.ID, []byte("not json"))
	if errorMessage(t, c) != "malformed message" {
		t.Fatalf("unexpected error for malformed frame: %q", errorMessage(t, c))
	}

	h.send(c, "launch-rockets", map[string]string{})
	if errorMessage(t, c) != "unknown event 'launch-rockets'" {
		t.Fatalf("unexpected error for unknown event: %q", errorMessage(t, c))
	}

	h.send(c, router.EventSendMsg, map[string]string{"from": "u1", "msg": "no recipient"})
	if errorMessage(t, c) != "'send-msg' requires 'to'" {
		t.Fatalf("unexpected validation error: %q", errorMessage(t, c))
	}
}

func TestNewInviteBroadcastsPayload(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, nil)
	a := h.online("a")
	b := h.online("b")

	h.send(a, router.EventNewInvite, map[string]string{"chatId": "c1", "inviteLink": "http://x/abc"})

	var got map[string]string
	decodePayload(t, b.tr.Last(t, "new-invite"), &got)
	if got["chatId"] != "c1" {
		t.Fatalf("unexpected invite %v", got)
	}
	if count(t, a, "new-invite") != 1 {
		t.Fatal("sender is part of the broadcast")
	}
}

func TestRateLimitModifierRejectsExtraEvents(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, map[string]config.EventConfig{
		router.EventSendMsg: {Modifiers: []config.ModifierConfig{{Name: "rate_limit", Params: []string{"2/m"}}}},
	})
	alice := h.online("alice")
	bob := h.online("bob")

	for i := 0; i < 3; i++ {
		h.send(bob, router.EventSendMsg, map[string]string{"to": "alice", "from": "bob", "msg": "spam"})
	}
	if count(t, alice, "msg-receive") != 2 {
		t.Fatalf("expected only 2 messages through, got %v", alice.tr.Events(t))
	}
	if count(t, bob, "error") != 1 {
		t.Fatalf("expected one rate limit error, got %v", bob.tr.Events(t))
	}
}

func TestSecureModifierGuardsEvent(t *testing.T) {
	h := newHarness(t, statemanager.BusyOverwrite, map[string]config.EventConfig{
		router.EventNewInvite: {Modifiers: []config.ModifierConfig{{Name: "secure"}}},
	})
	a := h.online("a")

	h.send(a, router.EventNewInvite, map[string]string{"chatId": "c1"})
	if count(t, a, "new-invite") != 0 || count(t, a, "error") != 1 {
		t.Fatalf("expected the event to be rejected, got %v", a.tr.Events(t))
	}
}
