package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gate-service/internal/client"
	"gate-service/internal/config"
	"gate-service/internal/gate"
	"gate-service/internal/models"
	redisrepo "gate-service/internal/repository/redis"
)

type fakeMessenger struct {
	delivered []*models.PrivateMessage
	failWith  error
}

func (m *fakeMessenger) Deliver(_ context.Context, msg *models.PrivateMessage) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.delivered = append(m.delivered, msg)
	return nil
}

type fakeAuditor struct {
	events []models.GateAuditEvent
}

func (a *fakeAuditor) Record(event models.GateAuditEvent) {
	a.events = append(a.events, event)
}

// gateFixture wires the engine against a real store (miniredis) so TTL and
// counter semantics run through the same code paths production uses. The
// engine's clock is pinned and advanced in lockstep with the store's.
type gateFixture struct {
	svc       *GateService
	mr        *miniredis.Miniredis
	sessions  *redisrepo.SessionCache
	messenger *fakeMessenger
	auditor   *fakeAuditor
	clock     time.Time
}

func newGateFixture(t *testing.T, gc config.GateConfig) *gateFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	cfg := &config.Config{
		Environment: "test",
		Session:     config.SessionConfig{TTL: time.Hour},
		Gates: map[string]config.GateConfig{
			gate.KindFeedback.Namespace():   gc,
			gate.KindWhiteboard.Namespace(): gc,
		},
	}

	cache := redisrepo.NewGateCache(rc)
	sessions := redisrepo.NewSessionCache(rc, time.Hour)
	groups := redisrepo.NewGroupDirectory(rc)
	require.NoError(t, groups.Register(context.Background(), "moderators", "42"))

	f := &gateFixture{
		mr:        mr,
		sessions:  sessions,
		messenger: &fakeMessenger{},
		auditor:   &fakeAuditor{},
		clock:     time.Unix(1_700_000_000, 0),
	}
	f.svc = NewGateService(cfg, cache, sessions, groups,
		NewClientIdentifier(cache), f.messenger, f.auditor, zap.NewNop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *gateFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
	f.mr.FastForward(d)
}

func (f *gateFixture) unlock(code string) error {
	return f.svc.AttemptUnlock(context.Background(), &UnlockRequest{
		Kind:          gate.KindFeedback,
		SessionID:     "session-1",
		RemoteAddress: "203.0.113.7",
		DoorCode:      code,
	})
}

func (f *gateFixture) submit(subject, message string) error {
	return f.svc.Submit(context.Background(), &SubmitRequest{
		Kind:      gate.KindFeedback,
		SessionID: "session-1",
		Subject:   subject,
		Message:   message,
	})
}

func enabledGate() config.GateConfig {
	return config.GateConfig{
		Enabled:             true,
		DoorCode:            "open-sesame",
		TargetGroup:         "moderators",
		BotUsername:         "feedback-bot",
		RateLimitPerHour:    100,
		SecretRotationHours: 24,
	}
}

func TestAttemptUnlock_Success(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	require.NoError(t, f.unlock("open-sesame"))

	unlocked, err := f.sessions.IsUnlocked(context.Background(), "session-1", gate.KindFeedback)
	require.NoError(t, err)
	require.True(t, unlocked)
}

func TestAttemptUnlock_Disabled(t *testing.T) {
	gc := enabledGate()
	gc.Enabled = false
	f := newGateFixture(t, gc)

	require.ErrorIs(t, f.unlock("open-sesame"), ErrFeatureDisabled)
}

func TestAttemptUnlock_ZeroCapDisables(t *testing.T) {
	gc := enabledGate()
	gc.RateLimitPerHour = 0
	f := newGateFixture(t, gc)

	require.ErrorIs(t, f.unlock("open-sesame"), ErrFeatureDisabled)
	require.False(t, f.svc.Enabled(gate.KindFeedback))
}

func TestAttemptUnlock_HoneypotLooksLikeWrongCode(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	err := f.svc.AttemptUnlock(context.Background(), &UnlockRequest{
		Kind:          gate.KindFeedback,
		SessionID:     "session-1",
		RemoteAddress: "203.0.113.7",
		DoorCode:      "open-sesame",
		Honeypot:      "http://spam.example",
	})
	require.ErrorIs(t, err, ErrInvalidCode)

	// A tripped honeypot must not touch any per-client state.
	for _, key := range f.mr.Keys() {
		require.False(t, strings.HasPrefix(key, "gate_bucket:"), "unexpected bucket key %s", key)
	}
}

func TestAttemptUnlock_WrongCodeThenPacingFloor(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	require.ErrorIs(t, f.unlock("wrong"), ErrInvalidCode)

	// Retrying inside the pacing floor is refused with the remaining wait.
	f.advance(1 * time.Second)
	err := f.unlock("open-sesame")
	require.ErrorIs(t, err, ErrTooFast)
	require.Equal(t, 1, WaitSecondsFrom(err))

	// Once the floor has elapsed the correct code goes through.
	f.advance(2 * time.Second)
	require.NoError(t, f.unlock("open-sesame"))
}

func TestAttemptUnlock_EscalatingBlock(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, f.unlock("wrong"), ErrInvalidCode)
		f.advance(3 * time.Second)
	}

	// The fifth failure set a one-minute block; three seconds have already
	// elapsed.
	err := f.unlock("open-sesame")
	require.ErrorIs(t, err, ErrLocked)
	require.Equal(t, 57, WaitSecondsFrom(err))

	// The block outlives further pacing: still refused a while later.
	f.advance(30 * time.Second)
	require.ErrorIs(t, f.unlock("open-sesame"), ErrLocked)

	// Once it expires the correct code unlocks again.
	f.advance(30 * time.Second)
	require.NoError(t, f.unlock("open-sesame"))
}

func TestAttemptUnlock_SuccessForgetsFailureHistory(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, f.unlock("wrong"), ErrInvalidCode)
		f.advance(3 * time.Second)
	}
	require.NoError(t, f.unlock("open-sesame"))
	f.advance(3 * time.Second)

	// A fresh failure starts the ladder over instead of hitting the
	// five-failure block.
	require.ErrorIs(t, f.unlock("wrong"), ErrInvalidCode)
	f.advance(3 * time.Second)
	require.NoError(t, f.unlock("open-sesame"))
}

func TestAttemptUnlock_RateLimited(t *testing.T) {
	gc := enabledGate()
	gc.RateLimitPerHour = 2
	f := newGateFixture(t, gc)

	// Attempts at the cap still pass; the one strictly above is refused.
	require.ErrorIs(t, f.unlock("wrong"), ErrInvalidCode)
	f.advance(3 * time.Second)
	require.ErrorIs(t, f.unlock("wrong"), ErrInvalidCode)
	f.advance(3 * time.Second)

	err := f.unlock("open-sesame")
	require.ErrorIs(t, err, ErrRateLimited)
	require.Greater(t, WaitSecondsFrom(err), 0)
	require.LessOrEqual(t, WaitSecondsFrom(err), 3600)

	// A new hour opens a new window.
	f.advance(time.Hour + time.Second)
	require.NoError(t, f.unlock("open-sesame"))
}

func TestSubmit_RequiresUnlock(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	require.ErrorIs(t, f.submit("hello", "a message"), ErrNotUnlocked)
	require.Empty(t, f.messenger.delivered)
}

func TestSubmit_DeliversAndConsumesUnlock(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	require.NoError(t, f.unlock("open-sesame"))
	require.NoError(t, f.submit("  broken search  ", "the search box eats queries"))

	require.Len(t, f.messenger.delivered, 1)
	msg := f.messenger.delivered[0]
	require.Equal(t, "af: broken search", msg.Title)
	require.Equal(t, "the search box eats queries", msg.Body)
	require.Equal(t, "feedback-bot", msg.Sender)
	require.Equal(t, "moderators", msg.TargetGroup)
	require.Equal(t, "private", msg.MessageType)
	require.NotEmpty(t, msg.MessageID)

	// One unlock buys exactly one message.
	require.ErrorIs(t, f.submit("again", "second message"), ErrNotUnlocked)
	require.Len(t, f.messenger.delivered, 1)
}

func TestSubmit_WhiteboardPrefix(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	require.NoError(t, f.svc.AttemptUnlock(context.Background(), &UnlockRequest{
		Kind:          gate.KindWhiteboard,
		SessionID:     "session-1",
		RemoteAddress: "203.0.113.7",
		DoorCode:      "open-sesame",
	}))
	require.NoError(t, f.svc.Submit(context.Background(), &SubmitRequest{
		Kind:      gate.KindWhiteboard,
		SessionID: "session-1",
		Subject:   "idea",
		Message:   "board entry",
	}))

	require.Len(t, f.messenger.delivered, 1)
	require.Equal(t, "wb: idea", f.messenger.delivered[0].Title)
}

func TestSubmit_UnlockIsPerKind(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	require.NoError(t, f.unlock("open-sesame"))

	// The feedback unlock does not open the whiteboard.
	err := f.svc.Submit(context.Background(), &SubmitRequest{
		Kind:      gate.KindWhiteboard,
		SessionID: "session-1",
		Subject:   "idea",
		Message:   "board entry",
	})
	require.ErrorIs(t, err, ErrNotUnlocked)
}

func TestSubmit_MissingFields(t *testing.T) {
	f := newGateFixture(t, enabledGate())
	require.NoError(t, f.unlock("open-sesame"))

	require.ErrorIs(t, f.submit("", "body"), ErrMissingFields)
	require.ErrorIs(t, f.submit("subject", "   "), ErrMissingFields)
	require.ErrorIs(t, f.submit("\x00\x01", "body"), ErrMissingFields)

	// The unlock is not consumed by rejected input.
	require.NoError(t, f.submit("subject", "body"))
}

func TestSubmit_TooLong(t *testing.T) {
	gc := enabledGate()
	gc.MaxMessageLength = 10
	f := newGateFixture(t, gc)
	require.NoError(t, f.unlock("open-sesame"))

	require.ErrorIs(t, f.submit("s", strings.Repeat("x", 11)), ErrTooLong)
	// The limit counts characters, not bytes.
	require.NoError(t, f.submit("s", strings.Repeat("é", 10)))
}

func TestSubmit_ZeroMaxLengthIsUnlimited(t *testing.T) {
	f := newGateFixture(t, enabledGate())
	require.NoError(t, f.unlock("open-sesame"))

	require.NoError(t, f.submit("s", strings.Repeat("x", 100_000)))
}

func TestSubmit_GroupNotConfigured(t *testing.T) {
	gc := enabledGate()
	gc.TargetGroup = ""
	f := newGateFixture(t, gc)
	require.NoError(t, f.unlock("open-sesame"))

	require.ErrorIs(t, f.submit("s", "body"), ErrGroupNotConfigured)
}

func TestSubmit_GroupNotFound(t *testing.T) {
	gc := enabledGate()
	gc.TargetGroup = "ghosts"
	f := newGateFixture(t, gc)
	require.NoError(t, f.unlock("open-sesame"))

	require.ErrorIs(t, f.submit("s", "body"), ErrGroupNotFound)
}

func TestSubmit_DefaultSender(t *testing.T) {
	gc := enabledGate()
	gc.BotUsername = ""
	f := newGateFixture(t, gc)
	require.NoError(t, f.unlock("open-sesame"))
	require.NoError(t, f.submit("s", "body"))

	require.Equal(t, "system", f.messenger.delivered[0].Sender)
}

func TestSubmit_DeliveryFailureKeepsUnlock(t *testing.T) {
	f := newGateFixture(t, enabledGate())
	require.NoError(t, f.unlock("open-sesame"))

	f.messenger.failWith = errors.New("broker unavailable")
	require.ErrorIs(t, f.submit("s", "body"), ErrSendFailed)

	unlocked, err := f.sessions.IsUnlocked(context.Background(), "session-1", gate.KindFeedback)
	require.NoError(t, err)
	require.True(t, unlocked)

	// The caller can resubmit without a fresh unlock.
	f.messenger.failWith = nil
	require.NoError(t, f.submit("s", "body"))
	require.Len(t, f.messenger.delivered, 1)
}

func TestSubmit_Honeypot(t *testing.T) {
	f := newGateFixture(t, enabledGate())
	require.NoError(t, f.unlock("open-sesame"))

	err := f.svc.Submit(context.Background(), &SubmitRequest{
		Kind:      gate.KindFeedback,
		SessionID: "session-1",
		Subject:   "s",
		Message:   "body",
		Honeypot:  "filled",
	})
	require.ErrorIs(t, err, ErrInvalidCode)
	require.Empty(t, f.messenger.delivered)
}

func TestAuditEventsCarryCategoriesOnly(t *testing.T) {
	f := newGateFixture(t, enabledGate())

	require.ErrorIs(t, f.unlock("wrong"), ErrInvalidCode)
	f.advance(3 * time.Second)
	require.NoError(t, f.unlock("open-sesame"))
	require.NoError(t, f.submit("s", "body"))

	require.Len(t, f.auditor.events, 3)
	require.Equal(t, "invalid_code", f.auditor.events[0].Outcome)
	require.Equal(t, "success", f.auditor.events[1].Outcome)
	require.Equal(t, "success", f.auditor.events[2].Outcome)
	for _, e := range f.auditor.events {
		require.Equal(t, "feedback", e.Kind)
		require.Contains(t, []string{"unlock", "create"}, e.Action)
	}
}

func TestDoorCodeMatches(t *testing.T) {
	require.True(t, doorCodeMatches("open-sesame", "open-sesame"))
	require.True(t, doorCodeMatches("  open-sesame  ", "open-sesame"))
	require.False(t, doorCodeMatches("wrong", "open-sesame"))
	require.False(t, doorCodeMatches("", "open-sesame"))
	require.False(t, doorCodeMatches("anything", ""))
	require.False(t, doorCodeMatches("", ""))
	require.False(t, doorCodeMatches("   ", "   "))
}
