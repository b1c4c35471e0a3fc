package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/relaybot/core/telegram/sender"
	"github.com/m3rciful/relaybot/internal/admins"
	"github.com/m3rciful/relaybot/internal/audit"
	"github.com/m3rciful/relaybot/internal/session"
)

const (
	adminID     = int64(1000)
	auditChatID = int64(-500)
)

var errBlocked = errors.New("telegram: Forbidden: bot was blocked by the user (403)")

type fakeMessenger struct {
	mu     sync.Mutex
	byChat map[int64][]string
	failOn map[int64]error
	hangOn map[int64]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		byChat: make(map[int64][]string),
		failOn: make(map[int64]error),
		hangOn: make(map[int64]bool),
	}
}

func (f *fakeMessenger) Send(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	hang := f.hangOn[chatID]
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[chatID]; err != nil {
		return err
	}
	f.byChat[chatID] = append(f.byChat[chatID], text)
	return nil
}

func (f *fakeMessenger) hang(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangOn[chatID] = true
}

func (f *fakeMessenger) fail(chatID int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[chatID] = err
}

func (f *fakeMessenger) sent(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.byChat[chatID]...)
}

func (f *fakeMessenger) last(chatID int64) string {
	msgs := f.sent(chatID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type harness struct {
	svc      *Service
	sessions *session.Manager
	store    *session.MemoryStore
	admins   *admins.Set
	out      *fakeMessenger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, sender.Options{Workers: 2, MaxDuration: time.Second}, 0)
}

func newHarnessWith(t *testing.T, poolOpts sender.Options, replyTimeout time.Duration) *harness {
	t.Helper()
	store := session.NewMemoryStore()
	sessions := session.NewManager(store)
	_, err := sessions.Load(context.Background())
	require.NoError(t, err)

	out := newFakeMessenger()
	set := admins.New([]int64{adminID}, nil, store)
	pool := sender.NewPool(poolOpts)
	t.Cleanup(pool.Close)

	svc := New(Deps{
		Sessions:     sessions,
		Admins:       set,
		Audit:        audit.New(auditChatID, set, out, time.Second),
		Messenger:    out,
		Broadcaster:  NewBroadcaster(sessions, out, pool),
		ReplyTimeout: replyTimeout,
	})
	return &harness{svc: svc, sessions: sessions, store: store, admins: set, out: out}
}

func userEvent(id int64, text string) Event {
	return Event{SenderID: id, ChatID: id, Text: text}
}

func adminEvent(text string) Event {
	return Event{SenderID: adminID, Username: "boss", ChatID: adminID, Text: text}
}

func (h *harness) register(t *testing.T, id int64, nick string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.svc.Start(ctx, userEvent(id, "/start")))
	require.NoError(t, h.svc.HandleText(ctx, userEvent(id, nick)))
}

func (h *harness) broadcast(t *testing.T, text string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.svc.Message(ctx, adminEvent("/message")))
	require.NoError(t, h.svc.HandleText(ctx, adminEvent(text)))
}

func assertStateInvariant(t *testing.T, h *harness, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		u, ok := h.sessions.User(id)
		if !ok {
			continue
		}
		assert.False(t, u.WaitingForNick() && u.PendingScenario(), "user %d", id)
		assert.True(t, u.State.Valid(), "user %d", id)
	}
}

func TestFullScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const alice = int64(7)

	require.NoError(t, h.svc.Start(ctx, Event{SenderID: alice, Username: "alice_tg", ChatID: alice, Text: "/start"}))
	assert.Equal(t, textStartNew, h.out.last(alice))

	require.NoError(t, h.svc.HandleText(ctx, Event{SenderID: alice, Username: "alice_tg", ChatID: alice, Text: "Alice"}))
	u, _ := h.sessions.User(alice)
	assert.Equal(t, "Alice", u.NicknameOr(""))
	assert.False(t, u.WaitingForNick())
	assert.Equal(t, textRegistered, h.out.last(alice))
	assert.Equal(t, "User alice_tg registered with nickname: Alice", h.out.last(auditChatID))

	h.broadcast(t, "Pick A or B")
	assert.Equal(t, "Pick A or B", h.out.last(alice))
	u, _ = h.sessions.User(alice)
	assert.True(t, u.PendingScenario())
	require.NotNil(t, u.LastBroadcast)
	assert.Equal(t, "Pick A or B", *u.LastBroadcast)
	assert.Equal(t, "Broadcast sent: 1 delivered, 0 failed.", h.out.last(adminID))
	assert.False(t, h.sessions.AdminPending(adminID))

	require.NoError(t, h.svc.HandleText(ctx, Event{SenderID: alice, Username: "alice_tg", ChatID: alice, Text: "A"}))
	u, _ = h.sessions.User(alice)
	assert.Equal(t, []string{"A"}, u.Responses)
	assert.False(t, u.PendingScenario())
	assert.Equal(t, textThanks, h.out.last(alice))
	assert.Equal(t, "User alice_tg Alice answered:\nA", h.out.last(auditChatID))

	require.NoError(t, h.svc.Status(ctx, adminEvent("/status")))
	assert.Equal(t, "7 Alice:\n1. A", h.out.last(adminID))

	assertStateInvariant(t, h, alice)
	stored, _ := h.store.StoredUser(alice)
	assert.Equal(t, u, stored)
}

func TestBroadcastIsolatesFailedRecipient(t *testing.T) {
	h := newHarness(t)
	for id, nick := range map[int64]string{1: "one", 2: "two", 3: "three"} {
		h.register(t, id, nick)
	}
	before, _ := h.sessions.User(2)
	h.out.fail(2, errBlocked)

	h.broadcast(t, "Scenario")

	for _, id := range []int64{1, 3} {
		u, _ := h.sessions.User(id)
		assert.True(t, u.PendingScenario(), "user %d", id)
		require.NotNil(t, u.LastBroadcast)
		assert.Equal(t, "Scenario", *u.LastBroadcast)
	}
	after, _ := h.sessions.User(2)
	assert.Equal(t, before, after)
	assert.Equal(t, "Broadcast sent: 2 delivered, 1 failed.", h.out.last(adminID))
	assert.False(t, h.sessions.AdminPending(adminID))
	assertStateInvariant(t, h, 1, 2, 3)
}

func TestBroadcastReport(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1, "one")
	h.register(t, 2, "two")
	h.out.fail(2, errBlocked)

	report := h.svc.broadcaster.Broadcast(context.Background(), adminID, "hello")

	assert.NotEmpty(t, report.ID)
	require.Len(t, report.Results, 2)
	assert.Equal(t, []int64{1, 2}, []int64{report.Results[0].UserID, report.Results[1].UserID})
	assert.Equal(t, 1, report.Count(OutcomeDelivered))

	res, _ := report.Result(2)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "http_4xx", res.Kind)
	require.ErrorIs(t, res.Err, errBlocked)
}

func TestBroadcastReachesUsersGivingNickname(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 1, "Alice")
	require.NoError(t, h.svc.Start(ctx, userEvent(1, "/start")))
	require.NoError(t, h.svc.Start(ctx, userEvent(2, "/start")))

	h.broadcast(t, "Pick A or B")

	assert.Equal(t, "Broadcast sent: 2 delivered, 0 failed.", h.out.last(adminID))
	for _, id := range []int64{1, 2} {
		assert.Equal(t, "Pick A or B", h.out.last(id), "user %d", id)
		u, _ := h.sessions.User(id)
		assert.True(t, u.WaitingForNick(), "user %d", id)
		assert.False(t, u.PendingScenario(), "user %d", id)
		require.NotNil(t, u.LastBroadcast, "user %d", id)
		assert.Equal(t, "Pick A or B", *u.LastBroadcast)
	}
	assertStateInvariant(t, h, 1, 2)

	require.NoError(t, h.svc.HandleText(ctx, userEvent(2, "Bob")))
	u, _ := h.sessions.User(2)
	assert.Equal(t, "Bob", u.NicknameOr(""))
	assert.True(t, u.PendingScenario())
	assert.Equal(t, "User 2 registered with nickname: Bob", h.out.last(auditChatID))

	require.NoError(t, h.svc.HandleText(ctx, userEvent(2, "B")))
	u, _ = h.sessions.User(2)
	assert.Equal(t, []string{"B"}, u.Responses)
	assert.Equal(t, session.StateIdle, u.State)
	assert.Equal(t, "User 2 Bob answered:\nB", h.out.last(auditChatID))

	require.NoError(t, h.svc.HandleText(ctx, userEvent(1, "Alicia")))
	u, _ = h.sessions.User(1)
	assert.True(t, u.PendingScenario())
	assertStateInvariant(t, h, 1, 2)
}

func TestBroadcastTimesOutHungRecipient(t *testing.T) {
	h := newHarnessWith(t, sender.Options{Workers: 1, MaxDuration: 100 * time.Millisecond}, 0)
	for _, id := range []int64{1, 2, 3} {
		h.register(t, id, "u")
	}
	h.out.hang(2)

	start := time.Now()
	h.broadcast(t, "Scenario")
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, "Broadcast sent: 2 delivered, 1 failed.", h.out.last(adminID))
	for _, id := range []int64{1, 3} {
		u, _ := h.sessions.User(id)
		assert.True(t, u.PendingScenario(), "user %d", id)
	}
	u, _ := h.sessions.User(2)
	assert.Equal(t, session.StateIdle, u.State)
	assert.Nil(t, u.LastBroadcast)
	assert.False(t, h.sessions.AdminPending(adminID))

	report := h.svc.broadcaster.Broadcast(context.Background(), adminID, "again")
	res, ok := report.Result(2)
	require.True(t, ok)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "timeout", res.Kind)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestReplyIsBoundedByTimeout(t *testing.T) {
	h := newHarnessWith(t, sender.Options{Workers: 1}, 50*time.Millisecond)
	h.out.hang(9)

	start := time.Now()
	err := h.svc.ID(context.Background(), userEvent(9, "/id"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBroadcastPersistFailureReported(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1, "one")
	h.store.FailWith(errors.New("disk full"))

	report := h.svc.broadcaster.Broadcast(context.Background(), adminID, "hello")

	res, ok := report.Result(1)
	require.True(t, ok)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "persist", res.Kind)
	u, _ := h.sessions.User(1)
	assert.False(t, u.PendingScenario())
}

func TestEndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 5, "eve")
	auditBefore := len(h.out.sent(auditChatID))

	require.NoError(t, h.svc.End(ctx, userEvent(5, "/end")))
	assert.Equal(t, textEnded, h.out.last(5))
	assert.Len(t, h.out.sent(auditChatID), auditBefore+1)
	assert.Equal(t, "User 5 eve ended the session", h.out.last(auditChatID))

	require.NoError(t, h.svc.End(ctx, userEvent(5, "/end")))
	assert.Equal(t, textAlreadyEnded, h.out.last(5))
	assert.Len(t, h.out.sent(auditChatID), auditBefore+1)

	u, _ := h.sessions.User(5)
	assert.False(t, u.Active)
}

func TestEndUnknownUser(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.End(context.Background(), userEvent(9, "/end")))
	assert.Equal(t, textAlreadyEnded, h.out.last(9))
	_, ok := h.sessions.User(9)
	assert.False(t, ok)
	assert.Empty(t, h.out.sent(auditChatID))
}

func TestStartOnRegisteredUserKeepsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 4, "old")
	h.broadcast(t, "q")
	require.NoError(t, h.svc.HandleText(ctx, userEvent(4, "answer")))

	require.NoError(t, h.svc.Start(ctx, userEvent(4, "/start")))
	assert.Equal(t, textStartRename, h.out.last(4))
	u, _ := h.sessions.User(4)
	assert.True(t, u.WaitingForNick())
	assert.Equal(t, []string{"answer"}, u.Responses)

	require.NoError(t, h.svc.HandleText(ctx, userEvent(4, "new")))
	assert.Equal(t, "User 4 changed nickname from old to: new", h.out.last(auditChatID))
	assertStateInvariant(t, h, 4)
}

func TestStartWhileAwaitingResponseKeepsScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 4, "n")
	h.broadcast(t, "q")

	require.NoError(t, h.svc.Start(ctx, userEvent(4, "/start")))
	u, _ := h.sessions.User(4)
	assert.True(t, u.WaitingForNick())
	assert.False(t, u.PendingScenario())

	require.NoError(t, h.svc.HandleText(ctx, userEvent(4, "m")))
	require.NoError(t, h.svc.HandleText(ctx, userEvent(4, "answer")))
	u, _ = h.sessions.User(4)
	assert.Equal(t, "m", u.NicknameOr(""))
	assert.Equal(t, []string{"answer"}, u.Responses)
	assertStateInvariant(t, h, 4)
}

func TestStartAfterEndReactivatesUnregistered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.Start(ctx, userEvent(8, "/start")))
	require.NoError(t, h.svc.End(ctx, userEvent(8, "/end")))
	require.NoError(t, h.svc.Start(ctx, userEvent(8, "/start")))

	u, _ := h.sessions.User(8)
	assert.True(t, u.Active)
	assert.Equal(t, textStartNew, h.out.last(8))
}

func TestTextWithoutPendingInputGetsFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.HandleText(ctx, userEvent(3, "hello?")))
	assert.Equal(t, textFallback, h.out.last(3))
	_, ok := h.sessions.User(3)
	assert.False(t, ok)

	h.register(t, 3, "c")
	require.NoError(t, h.svc.HandleText(ctx, userEvent(3, "random")))
	assert.Equal(t, textFallback, h.out.last(3))
	assert.Equal(t, 2, h.store.Saves())
}

func TestAdminBroadcastTakesPrecedence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 1, "u")
	require.NoError(t, h.svc.Start(ctx, Event{SenderID: adminID, ChatID: adminID, Text: "/start"}))

	h.broadcast(t, "to everyone")

	admin, _ := h.sessions.User(adminID)
	assert.True(t, admin.WaitingForNick())
	assert.Equal(t, session.StateNicknameThenResponse, admin.State)
	assert.Nil(t, admin.Nickname)
	assert.Equal(t, "to everyone", h.out.last(1))
}

func TestNonAdminCommandsAreIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 2, "bob")
	saves := h.store.Saves()
	sent := len(h.out.sent(2))

	require.NoError(t, h.svc.Status(ctx, userEvent(2, "/status")))
	require.NoError(t, h.svc.Message(ctx, userEvent(2, "/message")))
	require.NoError(t, h.svc.AddAdmin(ctx, Event{SenderID: 2, ChatID: 2, ReplyToSenderID: 2}))

	assert.Len(t, h.out.sent(2), sent)
	assert.Equal(t, saves, h.store.Saves())
	assert.False(t, h.sessions.AdminPending(2))
	assert.False(t, h.admins.Contains(2))
}

func TestAddAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.AddAdmin(ctx, adminEvent("/add_admin")))
	assert.Equal(t, textAddAdminUsage, h.out.last(adminID))
	assert.Equal(t, []int64{adminID}, h.admins.List())

	ev := adminEvent("/add_admin")
	ev.ReplyToSenderID = 77
	require.NoError(t, h.svc.AddAdmin(ctx, ev))
	assert.Equal(t, "User 77 is now an admin.", h.out.last(adminID))
	assert.True(t, h.admins.Contains(77))

	require.NoError(t, h.svc.AddAdmin(ctx, ev))
	assert.Equal(t, textAddAdminExists, h.out.last(adminID))

	require.NoError(t, h.svc.Status(ctx, Event{SenderID: 77, ChatID: 77}))
	assert.Equal(t, textNoActiveUsers, h.out.last(77))
}

func TestStatusFormatting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.Status(ctx, adminEvent("/status")))
	assert.Equal(t, textNoActiveUsers, h.out.last(adminID))

	h.register(t, 20, "zed")
	require.NoError(t, h.svc.Start(ctx, userEvent(10, "/start")))
	h.register(t, 30, "gone")
	require.NoError(t, h.svc.End(ctx, userEvent(30, "/end")))
	h.broadcast(t, "q")
	require.NoError(t, h.svc.HandleText(ctx, userEvent(20, "first")))
	h.broadcast(t, "q2")
	require.NoError(t, h.svc.HandleText(ctx, userEvent(20, "second")))

	require.NoError(t, h.svc.Status(ctx, adminEvent("/status")))
	assert.Equal(t, "10 not set:\nNo answers\n\n20 zed:\n1. first\n2. second", h.out.last(adminID))
}

func TestPersistFailureRepliesGenericError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.FailWith(errors.New("disk full"))

	err := h.svc.Start(ctx, userEvent(1, "/start"))
	require.ErrorIs(t, err, session.ErrPersist)
	assert.Equal(t, textFailure, h.out.last(1))
	_, ok := h.sessions.User(1)
	assert.False(t, ok)

	err = h.svc.Message(ctx, adminEvent("/message"))
	require.ErrorIs(t, err, session.ErrPersist)
	assert.False(t, h.sessions.AdminPending(adminID))
}

func TestID(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.ID(context.Background(), Event{SenderID: 3, ChatID: -42}))
	assert.Equal(t, "User ID: 3\nChat ID: -42", h.out.last(-42))
}

func TestAuditFanoutWithoutChannel(t *testing.T) {
	store := session.NewMemoryStore()
	sessions := session.NewManager(store)
	out := newFakeMessenger()
	set := admins.New([]int64{100, 200}, nil, store)
	pool := sender.NewPool(sender.Options{Workers: 1})
	t.Cleanup(pool.Close)
	svc := New(Deps{
		Sessions:    sessions,
		Admins:      set,
		Audit:       audit.New(0, set, out, time.Second),
		Messenger:   out,
		Broadcaster: NewBroadcaster(sessions, out, pool),
	})
	ctx := context.Background()
	out.fail(100, errBlocked)

	require.NoError(t, svc.Start(ctx, userEvent(1, "/start")))
	require.NoError(t, svc.HandleText(ctx, userEvent(1, "nick")))

	assert.Equal(t, "User 1 registered with nickname: nick", out.last(200))
	assert.Empty(t, out.sent(100))
}
