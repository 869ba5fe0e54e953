package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/peace-chat/internal/config"
	"github.com/weiawesome/peace-chat/internal/credential"
	"github.com/weiawesome/peace-chat/internal/delivery"
	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/internal/hub"
	"github.com/weiawesome/peace-chat/internal/idgen"
	"github.com/weiawesome/peace-chat/internal/presence"
	"github.com/weiawesome/peace-chat/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     RelayService
	hub     *hub.Hub
	store   *store.MemoryStore
	tracker *presence.Tracker
	creds   credential.Store
	clock   *fakeClock
}

func newFixture(t *testing.T, cfg RelayConfig) *fixture {
	t.Helper()

	clock := newFakeClock()
	h := hub.NewHub(config.WebSocketConfig{SendBuffer: 64})
	go h.Run()
	t.Cleanup(h.Stop)

	creds, err := credential.NewFileStore(filepath.Join(t.TempDir(), "users.json"), false)
	require.NoError(t, err)
	t.Cleanup(func() { creds.Close() })

	ids, err := idgen.New("uuid", idgen.Options{})
	require.NoError(t, err)

	msgStore := store.NewMemoryStore(store.DefaultCapacity)
	tracker := presence.NewTracker(30*time.Second, presence.WithClock(clock.Now))
	router := delivery.NewRouter(msgStore, h, ids, delivery.WithClock(clock.Now))

	return &fixture{
		svc:     NewRelayService(cfg, h, router, msgStore, tracker, creds, nil, clock.Now),
		hub:     h,
		store:   msgStore,
		tracker: tracker,
		creds:   creds,
		clock:   clock,
	}
}

func (f *fixture) register(t *testing.T, username string) {
	t.Helper()
	require.NoError(t, f.creds.Create(context.Background(), &domain.User{Username: username, Password: "x"}))
}

func (f *fixture) connect(id string) *hub.Client {
	c := hub.NewClient(id, f.hub, nil, f.hub.Config())
	f.hub.Register(c)
	return c
}

func (f *fixture) join(t *testing.T, id, username string) *hub.Client {
	t.Helper()
	c := f.connect(id)
	require.NoError(t, f.svc.HandleJoin(context.Background(), c, username))
	drain(c)
	return c
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (fr frame) text() string {
	var s string
	_ = json.Unmarshal(fr.Data, &s)
	return s
}

// collect reads everything that arrives on c within a short quiet period.
func collect(t *testing.T, c *hub.Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var fr frame
			require.NoError(t, json.Unmarshal(data, &fr))
			out = append(out, fr)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func drain(c *hub.Client) {
	for {
		select {
		case <-c.Send:
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func ofType(frames []frame, msgType string) []frame {
	var out []frame
	for _, fr := range frames {
		if fr.Type == msgType {
			out = append(out, fr)
		}
	}
	return out
}

func systemTexts(frames []frame) []string {
	var out []string
	for _, fr := range ofType(frames, domain.MsgTypeSystemMessage) {
		out = append(out, fr.text())
	}
	return out
}

func TestHandleJoin_Notices(t *testing.T) {
	f := newFixture(t, RelayConfig{Name: "PEACE CHAT"})
	alice := f.join(t, "c1", "alice")

	bob := f.connect("c2")
	require.NoError(t, f.svc.HandleJoin(context.Background(), bob, "bob"))

	bobFrames := collect(t, bob)
	aliceFrames := collect(t, alice)

	assert.Equal(t, []string{"Welcome to PEACE CHAT, bob!"}, systemTexts(bobFrames))
	assert.Equal(t, []string{"bob has joined the chat"}, systemTexts(aliceFrames))

	require.Len(t, ofType(bobFrames, domain.MsgTypeUserList), 1)
	assert.Empty(t, ofType(aliceFrames, domain.MsgTypeUserList))

	for _, frames := range [][]frame{aliceFrames, bobFrames} {
		updates := ofType(frames, domain.MsgTypeStatusUpdate)
		require.Len(t, updates, 1)
		var p domain.Presence
		require.NoError(t, json.Unmarshal(updates[0].Data, &p))
		assert.Equal(t, "bob", p.Username)
		assert.Equal(t, domain.StatusOnline, p.Status)
	}
}

func TestHandleJoin_UsesRegisteredCasing(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	f.register(t, "Alice")

	c := f.join(t, "c1", "alice")
	assert.Equal(t, "Alice", c.Username())
}

func TestHandleJoin_RequireRegistered(t *testing.T) {
	f := newFixture(t, RelayConfig{RequireRegistered: true})
	c := f.connect("c1")

	err := f.svc.HandleJoin(context.Background(), c, "mallory")
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.Empty(t, c.Username())

	errs := ofType(collect(t, c), domain.MsgTypeError)
	require.Len(t, errs, 1)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &p))
	assert.Equal(t, domain.ErrCodeUnauthorized, p.Code)
}

func TestHandleJoin_RenameReleasesOldName(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	watcher := f.join(t, "c1", "watcher")
	c := f.join(t, "c2", "alice")
	drain(watcher)

	require.NoError(t, f.svc.HandleJoin(context.Background(), c, "alicia"))

	texts := systemTexts(collect(t, watcher))
	assert.Contains(t, texts, "alice has left the chat")
	assert.Contains(t, texts, "alicia has joined the chat")
	assert.Equal(t, "alicia", c.Username())
}

func TestHandleChatMessage_RequiresJoin(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	c := f.connect("c1")

	err := f.svc.HandleChatMessage(context.Background(), c, domain.ChatPayload{Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotJoined)
	assert.Equal(t, 0, f.store.Len())

	errs := ofType(collect(t, c), domain.MsgTypeError)
	require.Len(t, errs, 1)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &p))
	assert.Equal(t, domain.ErrCodeNotJoined, p.Code)
}

func TestHandleChatMessage_EmptyTextRejected(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	c := f.join(t, "c1", "alice")

	err := f.svc.HandleChatMessage(context.Background(), c, domain.ChatPayload{Text: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, f.store.Len())
	assert.Len(t, ofType(collect(t, c), domain.MsgTypeError), 1)
}

func TestHandleChatMessage_DirectedFanout(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	alice := f.join(t, "c1", "alice")
	bob := f.join(t, "c2", "bob")
	carol := f.join(t, "c3", "carol")
	drain(alice)
	drain(bob)

	require.NoError(t, f.svc.HandleChatMessage(context.Background(), alice,
		domain.ChatPayload{ID: "m1", Text: "hi", To: "bob"}))

	for _, c := range []*hub.Client{alice, bob} {
		msgs := ofType(collect(t, c), domain.MsgTypeChatMessage)
		require.Len(t, msgs, 1, c.ID)
		var m domain.Message
		require.NoError(t, json.Unmarshal(msgs[0].Data, &m))
		assert.Equal(t, "m1", m.ID)
		assert.Equal(t, "alice", m.User)
		assert.Equal(t, "bob", m.To)
	}
	assert.Empty(t, ofType(collect(t, carol), domain.MsgTypeChatMessage))
}

func TestOfflineRecipientScenario(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	ctx := context.Background()

	stored, err := f.svc.SendMessage(ctx, domain.InboundMessage{ID: "m1", Sender: "alice", Text: "hi", To: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "m1", stored.ID)

	f.clock.Advance(5 * time.Second)
	bob := f.join(t, "c2", "bob")

	msgs, err := f.svc.Messages(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "alice", msgs[0].User)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, "bob", msgs[0].To)

	alice := f.join(t, "c1", "alice")
	require.NoError(t, f.svc.HandleChatMessage(ctx, alice, domain.ChatPayload{ID: "m1", Text: "hi", To: "bob"}))

	assert.Equal(t, 1, f.store.Len())
	assert.Empty(t, ofType(collect(t, bob), domain.MsgTypeChatMessage))
}

func TestMessages_PrivacyFilter(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, domain.InboundMessage{Sender: "alice", Text: "to bob", To: "bob"})
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, domain.InboundMessage{Sender: "carol", Text: "to dave", To: "dave"})
	require.NoError(t, err)

	msgs, err := f.svc.Messages(ctx, "carol", "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "to dave", msgs[0].Text)

	msgs, err = f.svc.Messages(ctx, "carol", "alice")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		in   domain.InboundMessage
	}{
		{"missing username", domain.InboundMessage{Text: "hi"}},
		{"missing text", domain.InboundMessage{Sender: "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(ctx, tt.in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestClearChat_Watermark(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	f.register(t, "alice")
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, domain.InboundMessage{Sender: "alice", Text: "old", To: "bob"})
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	cleared, err := f.svc.ClearChat(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().UnixMilli(), cleared)

	f.clock.Advance(time.Second)
	_, err = f.svc.SendMessage(ctx, domain.InboundMessage{Sender: "bob", Text: "new", To: "alice"})
	require.NoError(t, err)

	msgs, err := f.svc.Messages(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Text)

	msgs, err = f.svc.Messages(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	user, err := f.creds.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, cleared, user.LastCleared)
}

func TestClearChat_UnregisteredNeverMovesBackwards(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	ctx := context.Background()

	first, err := f.svc.ClearChat(ctx, "guest")
	require.NoError(t, err)

	f.clock.Advance(-time.Minute)
	second, err := f.svc.ClearChat(ctx, "guest")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHandleDisconnect_LeavesOnLastSession(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	watcher := f.join(t, "w", "watcher")
	first := f.join(t, "a1", "alice")
	second := f.join(t, "a2", "alice")
	drain(watcher)

	f.svc.HandleDisconnect(context.Background(), first)
	f.hub.Unregister(first)
	assert.NotContains(t, systemTexts(collect(t, watcher)), "alice has left the chat")

	f.svc.HandleDisconnect(context.Background(), second)
	f.hub.Unregister(second)
	assert.Contains(t, systemTexts(collect(t, watcher)), "alice has left the chat")

	// presence expires on its own
	assert.Equal(t, domain.StatusOnline, f.tracker.Get("alice").Status)
}

func TestHandleDisconnect_AnonymousIsSilent(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	watcher := f.join(t, "w", "watcher")
	anon := f.connect("x")

	f.svc.HandleDisconnect(context.Background(), anon)
	assert.Empty(t, systemTexts(collect(t, watcher)))
}

func TestHandlePing(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	c := f.join(t, "c1", "alice")

	f.clock.Advance(20 * time.Second)
	require.NoError(t, f.svc.HandlePing(context.Background(), c))

	assert.Len(t, ofType(collect(t, c), domain.MsgTypePong), 1)
	assert.Equal(t, f.clock.Now().UnixMilli(), f.tracker.Get("alice").LastSeen)
}

func TestUsers_StalenessAndDirectory(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	f.register(t, "alice")
	f.register(t, "bob")
	ctx := context.Background()

	_, err := f.svc.Heartbeat(ctx, "alice")
	require.NoError(t, err)

	byName := func() map[string]domain.Presence {
		out := make(map[string]domain.Presence)
		for _, p := range f.svc.Users(ctx) {
			out[p.Username] = p
		}
		return out
	}

	users := byName()
	require.Contains(t, users, "bob")
	assert.Equal(t, domain.StatusOnline, users["alice"].Status)
	assert.Equal(t, domain.StatusOffline, users["bob"].Status)

	f.clock.Advance(30 * time.Second)
	users = byName()
	assert.Equal(t, domain.StatusOffline, users["alice"].Status)
}

func TestHeartbeat_Validation(t *testing.T) {
	f := newFixture(t, RelayConfig{})
	_, err := f.svc.Heartbeat(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
