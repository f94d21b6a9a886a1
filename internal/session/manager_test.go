package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
	"github.com/soyeahso/waygate/internal/protocol"
	"github.com/soyeahso/waygate/internal/store"
)

type recordedEvent struct {
	Type      string
	SessionID string
	Payload   map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Publish(_ context.Context, eventType string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := payload["session_id"].(string)
	r.events = append(r.events, recordedEvent{Type: eventType, SessionID: id, Payload: payload})
	return nil
}

func (r *eventRecorder) SessionEvent(_ context.Context, eventType, sessionID string, extra map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, SessionID: sessionID, Payload: extra})
	return nil
}

func (r *eventRecorder) find(eventType string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == eventType {
			return e, true
		}
	}
	return recordedEvent{}, false
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type managerFixture struct {
	manager  *Manager
	dialer   *protocol.FakeDialer
	sink     *eventRecorder
	sessions *store.SessionStore
	settings *store.SettingsStore
	creds    *Credentials
}

func newFixture(t *testing.T, cfg ManagerConfig) *managerFixture {
	t.Helper()
	log := logging.New(nil, "silent")

	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &managerFixture{
		dialer:   protocol.NewFakeDialer(),
		sink:     &eventRecorder{},
		sessions: store.NewSessionStore(db),
		settings: store.NewSettingsStore(db),
		creds:    NewCredentials(t.TempDir()),
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = time.Hour
	}
	if cfg.PresenceInterval == 0 {
		cfg.PresenceInterval = time.Hour
	}
	f.manager = NewManager(f.dialer, f.sessions, f.settings, f.creds, f.sink, nil, cfg, log)
	t.Cleanup(func() { f.manager.Shutdown(context.Background()) })
	return f
}

func (f *managerFixture) seedSession(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.sessions.Create(domain.SessionRecord{
		ID: id, OwnerID: "user-1", Status: domain.StatusInitializing,
	}))
}

func (f *managerFixture) seedCreds(t *testing.T, id string) {
	t.Helper()
	dir, err := f.creds.EnsureDir(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "creds.json"), []byte("{}"), 0o600))
}

// open drives a session to the connected state.
func (f *managerFixture) open(t *testing.T, id, phone string) *protocol.FakeClient {
	t.Helper()
	require.NoError(t, f.manager.InitSession(context.Background(), id, "user-1"))
	client := f.dialer.Last()
	require.NotNil(t, client)
	client.SetIdentity(phone)
	client.FireConnectionUpdate(protocol.ConnectionUpdate{Phase: protocol.PhaseOpen})
	return client
}

func TestManager_InitToConnected(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")

	require.NoError(t, f.manager.InitSession(context.Background(), "s1", "user-1"))
	client := f.dialer.Last()
	require.NotNil(t, client)

	// The library emits a pairing challenge first.
	client.FireConnectionUpdate(protocol.ConnectionUpdate{QR: "pair-me"})
	qr, ok := f.sink.find(domain.EventSessionQRUpdated)
	require.True(t, ok)
	assert.Equal(t, "pair-me", qr.Payload["qr"])
	img, _ := qr.Payload["qr_image"].(string)
	assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))

	client.SetIdentity("15551234567")
	client.FireConnectionUpdate(protocol.ConnectionUpdate{Phase: protocol.PhaseOpen})

	rec, err := f.sessions.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, rec.Status)
	assert.Equal(t, "15551234567", rec.PhoneNumber)

	connected, ok := f.sink.find(domain.EventSessionConnected)
	require.True(t, ok)
	assert.Equal(t, "s1", connected.SessionID)
	assert.Equal(t, "15551234567", connected.Payload["phone_number"])

	_, live := f.manager.Client("s1")
	assert.True(t, live)
}

func TestManager_InitDialFailure_MarksFailed(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.dialer.DialErr = context.DeadlineExceeded

	// The command contract is fire-and-forget: no error, just a failed
	// session and a session.failed event.
	require.NoError(t, f.manager.InitSession(context.Background(), "s1", "user-1"))

	rec, err := f.sessions.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)

	_, ok := f.sink.find(domain.EventSessionFailed)
	assert.True(t, ok)
}

func TestManager_LoggedOut_DeletesCredsNoReconnect(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	client := f.open(t, "s1", "15551234567")

	client.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonLoggedOut,
	})

	assert.False(t, f.creds.Exists("s1"))
	rec, err := f.sessions.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, rec.Status)

	disc, ok := f.sink.find(domain.EventSessionDisconnected)
	require.True(t, ok)
	assert.Equal(t, "logged_out", disc.Payload["reason"])

	assert.Equal(t, 1, f.dialer.DialCount(), "no reconnect after logout")
}

func TestManager_ConnectionReplaced_KeepsCreds(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	client := f.open(t, "s1", "15551234567")

	client.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonConnectionReplaced,
	})

	assert.True(t, f.creds.Exists("s1"), "credentials stay for the replacing worker")
	rec, _ := f.sessions.Get("s1")
	assert.Equal(t, domain.StatusDisconnected, rec.Status)
	assert.Equal(t, 1, f.dialer.DialCount())
}

func TestManager_BadSession_DeletesCredsMarksFailed(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	client := f.open(t, "s1", "15551234567")

	client.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonBadSession,
	})

	assert.False(t, f.creds.Exists("s1"))
	rec, _ := f.sessions.Get("s1")
	assert.Equal(t, domain.StatusFailed, rec.Status)

	_, ok := f.sink.find(domain.EventSessionFailed)
	assert.True(t, ok)
}

func TestManager_RestartRequired_RedialsImmediately(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	client := f.open(t, "s1", "15551234567")

	client.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonRestartRequired,
	})

	require.Eventually(t, func() bool {
		return f.dialer.DialCount() == 2
	}, 2*time.Second, 10*time.Millisecond, "expected an immediate redial")
}

func TestManager_StaleCloseFromSupersededClient_Ignored(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	old := f.open(t, "s1", "15551234567")

	old.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonRestartRequired,
	})
	require.Eventually(t, func() bool {
		return f.dialer.DialCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		f.manager.mu.Lock()
		defer f.manager.mu.Unlock()
		ls := f.manager.live["s1"]
		return ls != nil && ls.client != nil
	}, 2*time.Second, 10*time.Millisecond)

	replacement := f.dialer.Last()
	replacement.SetIdentity("15551234567")
	replacement.FireConnectionUpdate(protocol.ConnectionUpdate{Phase: protocol.PhaseOpen})
	_, live := f.manager.Client("s1")
	require.True(t, live)

	// The superseded client's read loop dies late and delivers its close
	// after the replacement is already up. It must not touch the session.
	old.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonConnectionLost,
	})

	_, live = f.manager.Client("s1")
	assert.True(t, live, "healthy replacement survives the stale close")
	rec, _ := f.sessions.Get("s1")
	assert.Equal(t, domain.StatusConnected, rec.Status)
	assert.Zero(t, f.sink.count(domain.EventSessionReconnecting))

	f.manager.mu.Lock()
	attempts := f.manager.live["s1"].attempts
	f.manager.mu.Unlock()
	assert.Zero(t, attempts, "stale close must not burn a reconnect attempt")
}

func TestManager_Redial_RecordDeleted_Abandons(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	client := f.open(t, "s1", "15551234567")

	require.NoError(t, f.sessions.Delete("s1"))

	client.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonRestartRequired,
	})

	require.Eventually(t, func() bool {
		f.manager.mu.Lock()
		defer f.manager.mu.Unlock()
		_, live := f.manager.live["s1"]
		return !live
	}, 2*time.Second, 10*time.Millisecond, "session without a backing record must retire")

	assert.Equal(t, 1, f.dialer.DialCount(), "no dial without a backing record")
	failed, ok := f.sink.find(domain.EventSessionFailed)
	require.True(t, ok)
	assert.Equal(t, "session record deleted", failed.Payload["error"])
}

func TestManager_NetworkClose_SchedulesReconnect(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	client := f.open(t, "s1", "15551234567")

	client.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonConnectionLost,
	})

	rec, _ := f.sessions.Get("s1")
	assert.Equal(t, domain.StatusConnecting, rec.Status)

	reconnecting, ok := f.sink.find(domain.EventSessionReconnecting)
	require.True(t, ok)
	assert.EqualValues(t, 1, reconnecting.Payload["attempt"])

	f.manager.mu.Lock()
	ls := f.manager.live["s1"]
	f.manager.mu.Unlock()
	require.NotNil(t, ls)
	assert.Equal(t, 1, ls.attempts)
	assert.NotNil(t, ls.reconnect, "a reconnect timer must be pending")
}

func TestManager_ReconnectCap_MarksFailed(t *testing.T) {
	f := newFixture(t, ManagerConfig{MaxReconnectAttempts: 3})
	f.seedSession(t, "s1")
	client := f.open(t, "s1", "15551234567")

	f.manager.mu.Lock()
	f.manager.live["s1"].attempts = 3
	f.manager.mu.Unlock()

	client.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonConnectionLost,
	})

	rec, _ := f.sessions.Get("s1")
	assert.Equal(t, domain.StatusFailed, rec.Status)

	failed, ok := f.sink.find(domain.EventSessionFailed)
	require.True(t, ok)
	assert.Equal(t, "max_reconnect_attempts", failed.Payload["error"])

	f.manager.mu.Lock()
	_, stillLive := f.manager.live["s1"]
	f.manager.mu.Unlock()
	assert.False(t, stillLive)
	assert.Equal(t, 1, f.dialer.DialCount(), "no further dial at the cap")
}

func TestManager_InitSession_ReinitReplacesConnection(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	old := f.open(t, "s1", "15551234567")

	require.NoError(t, f.manager.InitSession(context.Background(), "s1", "user-1"))
	assert.Equal(t, 2, f.dialer.DialCount(), "re-init dials a fresh connection")
	assert.True(t, old.Closed())

	replacement := f.dialer.Last()
	replacement.SetIdentity("15551234567")
	replacement.FireConnectionUpdate(protocol.ConnectionUpdate{Phase: protocol.PhaseOpen})
	_, live := f.manager.Client("s1")
	require.True(t, live)

	// A late close from the replaced client changes nothing.
	old.FireConnectionUpdate(protocol.ConnectionUpdate{
		Phase:  protocol.PhaseClose,
		Reason: protocol.ReasonConnectionLost,
	})
	_, live = f.manager.Client("s1")
	assert.True(t, live)
}

func TestManager_Logout_Idempotent(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	client := f.open(t, "s1", "15551234567")

	require.NoError(t, f.manager.Logout(context.Background(), "s1"))
	assert.True(t, client.LoggedOut())
	assert.False(t, f.creds.Exists("s1"))

	rec, _ := f.sessions.Get("s1")
	assert.Equal(t, domain.StatusDisconnected, rec.Status)

	// Second logout is a no-op, not an error.
	require.NoError(t, f.manager.Logout(context.Background(), "s1"))
}

func TestManager_Disconnect_ThenRestore(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	client := f.open(t, "s1", "15551234567")

	require.NoError(t, f.manager.Disconnect(context.Background(), "s1"))
	assert.True(t, client.Closed())
	assert.True(t, f.creds.Exists("s1"), "disconnect keeps credentials")

	require.NoError(t, f.manager.RestoreSession(context.Background(), "s1"))
	assert.Equal(t, 2, f.dialer.DialCount())
}

func TestManager_Restore_NoCredentials(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")

	err := f.manager.RestoreSession(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestManager_Restart(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedCreds(t, "s1")
	f.open(t, "s1", "15551234567")

	require.NoError(t, f.manager.Restart(context.Background(), "s1"))
	assert.Equal(t, 2, f.dialer.DialCount())
}

func TestManager_UpdateSettings_RoundTrip(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")

	assert.Equal(t, domain.DefaultSettings(), f.manager.GetSettings("s1"))

	on := true
	limit := 5
	merged, err := f.manager.UpdateSettings(context.Background(), "s1", domain.SettingsPatch{
		AutoReadMessages:   &on,
		RateLimitPerMinute: &limit,
	})
	require.NoError(t, err)
	assert.True(t, merged.AutoReadMessages)
	assert.Equal(t, 5, merged.RateLimitPerMinute)
	assert.True(t, merged.TypingIndicator, "defaults survive the merge")

	assert.Equal(t, merged, f.manager.GetSettings("s1"))
}

func TestManager_AlwaysOnline_TogglesPresenceLoop(t *testing.T) {
	f := newFixture(t, ManagerConfig{PresenceInterval: 5 * time.Millisecond})
	f.seedSession(t, "s1")
	client := f.open(t, "s1", "15551234567")

	on := true
	_, err := f.manager.UpdateSettings(context.Background(), "s1", domain.SettingsPatch{AlwaysOnline: &on})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(client.Presences()) >= 2
	}, 2*time.Second, 5*time.Millisecond, "presence broadcasts should flow")

	off := false
	_, err = f.manager.UpdateSettings(context.Background(), "s1", domain.SettingsPatch{AlwaysOnline: &off})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	count := len(client.Presences())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, len(client.Presences()), "loop must stop after toggle off")
}

func TestManager_Keepalive_TouchesLastActive(t *testing.T) {
	f := newFixture(t, ManagerConfig{KeepAliveInterval: 5 * time.Millisecond})
	f.seedSession(t, "s1")
	client := f.open(t, "s1", "15551234567")

	require.Eventually(t, func() bool {
		rec, err := f.sessions.Get("s1")
		return err == nil && !rec.LastActiveAt.IsZero() && len(client.Presences()) >= 4
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_AutoRead_MarksInboundRead(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")

	on := true
	_, err := f.manager.UpdateSettings(context.Background(), "s1", domain.SettingsPatch{AutoReadMessages: &on})
	require.NoError(t, err)

	client := f.open(t, "s1", "15551234567")
	client.FireMessages([]protocol.Message{
		{Key: protocol.MessageKey{ID: "in-1", RemoteJID: "16660001111@s.whatsapp.net"}, Kind: protocol.KindText, Text: "hi"},
		{Key: protocol.MessageKey{ID: "out-1", RemoteJID: "16660001111@s.whatsapp.net", FromMe: true}, Kind: protocol.KindText},
	})

	batches := client.ReadKeys()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "in-1", batches[0][0].ID)
}

func TestManager_RejectCalls(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")

	on := true
	_, err := f.manager.UpdateSettings(context.Background(), "s1", domain.SettingsPatch{RejectCalls: &on})
	require.NoError(t, err)

	client := f.open(t, "s1", "15551234567")
	client.FireCall([]protocol.Call{{ID: "call-1", From: "16660001111@s.whatsapp.net", Status: "offer"}})

	assert.Equal(t, []string{"call-1"}, client.RejectedCalls())
	_, ok := f.sink.find(domain.EventCallIncoming)
	assert.True(t, ok)
	_, ok = f.sink.find(domain.EventCallMissed)
	assert.True(t, ok)
}

type panickyInbound struct{}

func (panickyInbound) HandleMessages(context.Context, string, []protocol.Message) {
	panic("inbound bug")
}

func TestManager_HookPanic_Recovered(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.manager.inbound = panickyInbound{}
	f.seedSession(t, "s1")
	client := f.open(t, "s1", "15551234567")

	// A panic in message handling must be absorbed at the hook boundary,
	// never unwound into the library's read loop.
	assert.NotPanics(t, func() {
		client.FireMessages([]protocol.Message{
			{Key: protocol.MessageKey{ID: "in-1", RemoteJID: "16660001111@s.whatsapp.net"}, Kind: protocol.KindText},
		})
	})
}

func TestManager_Shutdown_ClosesAll(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.seedSession(t, "s2")
	c1 := f.open(t, "s1", "15551111111")
	c2 := f.open(t, "s2", "15552222222")

	f.manager.Shutdown(context.Background())

	assert.True(t, c1.Closed())
	assert.True(t, c2.Closed())

	// Persisted status is untouched so recovery restores them next boot.
	rec, _ := f.sessions.Get("s1")
	assert.Equal(t, domain.StatusConnected, rec.Status)
}

func TestManager_Snapshot(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.seedSession(t, "s1")
	f.open(t, "s1", "15551234567")

	snap, err := f.manager.Snapshot("s1")
	require.NoError(t, err)
	assert.True(t, snap.Live)
	assert.True(t, snap.Connected)
	assert.Equal(t, 0, snap.ReconnectAttempts)
	assert.Equal(t, domain.StatusConnected, snap.Record.Status)
}
