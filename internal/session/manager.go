// Package session owns the tenant session lifecycle: pairing, connection
// state, reconnect scheduling, credential persistence and per-session
// background timers.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
	"github.com/soyeahso/waygate/internal/protocol"
	"github.com/soyeahso/waygate/internal/store"
)

// EventSink is where the manager publishes lifecycle events. Satisfied by
// queue.Publisher.
type EventSink interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) error
	SessionEvent(ctx context.Context, eventType, sessionID string, extra map[string]any) error
}

// InboundHandler receives protocol-native inbound messages for normalization
// and publication. Satisfied by inbound.Normalizer.
type InboundHandler interface {
	HandleMessages(ctx context.Context, sessionID string, msgs []protocol.Message)
}

// ManagerConfig tunes the session manager. Zero durations fall back to
// production defaults; tests compress them.
type ManagerConfig struct {
	KeepAliveInterval    time.Duration // presence ping cadence, default 30s
	PresenceInterval     time.Duration // always-online broadcast cadence, default 30s
	ConnectTimeout       time.Duration // default 60s
	QueryTimeout         time.Duration // default 60s
	MaxReconnectAttempts int           // default 10
	ShutdownParallelism  int           // default 8
}

func (c *ManagerConfig) applyDefaults() {
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 30 * time.Second
	}
	if c.PresenceInterval == 0 {
		c.PresenceInterval = 30 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = time.Minute
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = time.Minute
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = MaxReconnectAttempts
	}
	if c.ShutdownParallelism == 0 {
		c.ShutdownParallelism = 8
	}
}

// liveSession bundles everything that exists only while a session is live:
// the protocol client, its settings snapshot, reconnect bookkeeping and the
// contexts its background loops run under. All of it is torn down together.
type liveSession struct {
	id      string
	ownerID string

	client    protocol.Client
	settings  domain.SessionSettings
	connected bool
	stopping  bool // deliberate stop, close hook must not reconnect

	attempts  int
	reconnect *time.Timer

	// gen counts dials. Hooks carry the gen of the dial that installed
	// them; a superseded client's late events fail the gen check.
	gen uint64

	// ctx spans the whole live session; connCancel tears down only the
	// loops of the current connection and is replaced on every redial.
	ctx          context.Context
	cancel       context.CancelFunc
	connCancel   context.CancelFunc
	presenceStop context.CancelFunc
}

// Manager drives all tenant sessions of this worker. Commands arrive through
// the stream router; connection events arrive through protocol hooks. Both
// are serialized through the manager's mutex.
type Manager struct {
	mu   sync.Mutex
	live map[string]*liveSession

	dialer   protocol.Dialer
	sessions *store.SessionStore
	settings *store.SettingsStore
	creds    *Credentials
	events   EventSink
	inbound  InboundHandler
	cfg      ManagerConfig
	log      *logging.Logger
}

// NewManager creates a session manager. inbound may be nil; inbound messages
// are then dropped after read receipts.
func NewManager(
	dialer protocol.Dialer,
	sessions *store.SessionStore,
	settings *store.SettingsStore,
	creds *Credentials,
	events EventSink,
	inbound InboundHandler,
	cfg ManagerConfig,
	log *logging.Logger,
) *Manager {
	cfg.applyDefaults()
	return &Manager{
		live:     make(map[string]*liveSession),
		dialer:   dialer,
		sessions: sessions,
		settings: settings,
		creds:    creds,
		events:   events,
		inbound:  inbound,
		cfg:      cfg,
		log:      log.Sub("session"),
	}
}

// InitSession starts a fresh pairing flow for a session. A session that is
// already live is torn down and dialed again. Dial failures do not propagate:
// the session is marked failed and a session.failed event is published,
// matching the command's fire-and-forget contract.
func (m *Manager) InitSession(ctx context.Context, sessionID, ownerID string) error {
	m.mu.Lock()
	prev := m.live[sessionID]
	var prevClient protocol.Client
	if prev != nil {
		prev.stopping = true
		prevClient = prev.client
		delete(m.live, sessionID)
	}
	m.mu.Unlock()

	if prev != nil {
		m.log.Info().Str("sessionId", sessionID).Msg("re-initializing live session")
		if prevClient != nil {
			if err := prevClient.Close(ctx); err != nil {
				m.log.Warn().Err(err).Str("sessionId", sessionID).Msg("close failed during re-init")
			}
		}
		m.teardown(prev)
	}

	if err := m.persistStatus(sessionID, domain.StatusInitializing, ""); err != nil {
		m.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to persist initializing status")
	}

	if err := m.start(ctx, sessionID, ownerID); err != nil {
		m.failSession(ctx, sessionID, err.Error())
	}
	return nil
}

// RestoreSession reconnects a session from persisted credentials. Returns
// ErrCredentialsNotFound when nothing was ever paired.
func (m *Manager) RestoreSession(ctx context.Context, sessionID string) error {
	rec, err := m.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if !m.creds.Exists(sessionID) {
		return ErrCredentialsNotFound
	}

	m.mu.Lock()
	if _, ok := m.live[sessionID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.persistStatus(sessionID, domain.StatusConnecting, ""); err != nil {
		m.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to persist connecting status")
	}
	return m.start(ctx, sessionID, rec.OwnerID)
}

// Logout invalidates the session's credentials server-side, tears down the
// live connection and deletes the local credential material. Idempotent:
// logging out a session that is not live still clears credentials and status.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ls := m.live[sessionID]
	var client protocol.Client
	if ls != nil {
		ls.stopping = true
		client = ls.client
		delete(m.live, sessionID)
	}
	m.mu.Unlock()

	if ls != nil {
		if client != nil {
			if err := client.Logout(ctx); err != nil {
				m.log.Warn().Err(err).Str("sessionId", sessionID).Msg("logout call failed, clearing local state anyway")
			}
		}
		m.teardown(ls)
	}

	if err := m.creds.Delete(sessionID); err != nil {
		return err
	}
	if err := m.persistStatus(sessionID, domain.StatusDisconnected, ""); err != nil {
		m.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to persist disconnected status")
	}
	m.publish(ctx, domain.EventSessionDisconnected, sessionID, map[string]any{"reason": "logged_out"})
	return nil
}

// Disconnect closes the session's socket without touching credentials, so it
// can be restored later.
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ls := m.live[sessionID]
	var client protocol.Client
	if ls != nil {
		ls.stopping = true
		client = ls.client
		delete(m.live, sessionID)
	}
	m.mu.Unlock()

	if ls != nil {
		if client != nil {
			if err := client.Close(ctx); err != nil {
				m.log.Warn().Err(err).Str("sessionId", sessionID).Msg("close failed during disconnect")
			}
		}
		m.teardown(ls)
	}

	if err := m.persistStatus(sessionID, domain.StatusDisconnected, ""); err != nil {
		m.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to persist disconnected status")
	}
	m.publish(ctx, domain.EventSessionDisconnected, sessionID, map[string]any{"reason": "manual"})
	return nil
}

// Restart stops the session and restores it from its persisted credentials.
func (m *Manager) Restart(ctx context.Context, sessionID string) error {
	if err := m.Disconnect(ctx, sessionID); err != nil {
		return err
	}
	return m.RestoreSession(ctx, sessionID)
}

// UpdateSettings merges the patch into the session's settings, persists them
// and applies side effects on the live connection. Returns the merged result.
func (m *Manager) UpdateSettings(ctx context.Context, sessionID string, patch domain.SettingsPatch) (domain.SessionSettings, error) {
	current := m.loadSettings(sessionID)
	wasAlwaysOnline := current.AlwaysOnline
	patch.Apply(&current)

	if err := m.settings.Upsert(sessionID, current); err != nil {
		return domain.SessionSettings{}, err
	}

	m.mu.Lock()
	ls := m.live[sessionID]
	if ls != nil {
		ls.settings = current
	}
	connected := ls != nil && ls.connected
	m.mu.Unlock()

	if connected && current.AlwaysOnline != wasAlwaysOnline {
		if current.AlwaysOnline {
			m.startPresenceLoop(ls)
		} else {
			m.stopPresenceLoop(ls)
		}
	}
	return current, nil
}

// GetSession returns the persisted session record.
func (m *Manager) GetSession(sessionID string) (domain.SessionRecord, error) {
	return m.sessions.Get(sessionID)
}

// GetSettings returns the session's effective settings, defaults when no
// record exists.
func (m *Manager) GetSettings(sessionID string) domain.SessionSettings {
	return m.loadSettings(sessionID)
}

// Snapshot is the live view of one session used by status queries.
type Snapshot struct {
	Record            domain.SessionRecord
	Live              bool
	Connected         bool
	ReconnectAttempts int
}

// Snapshot returns the persisted record combined with in-memory state.
func (m *Manager) Snapshot(sessionID string) (Snapshot, error) {
	rec, err := m.sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{Record: rec}
	if ls, ok := m.live[sessionID]; ok {
		snap.Live = true
		snap.Connected = ls.connected
		snap.ReconnectAttempts = ls.attempts
	}
	return snap, nil
}

// Client returns the protocol client for a connected session. ok is false
// when the session is not live or not yet connected.
func (m *Manager) Client(sessionID string) (protocol.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.live[sessionID]
	if !ok || !ls.connected || ls.client == nil {
		return nil, false
	}
	return ls.client, true
}

// Shutdown closes all live sessions with bounded parallelism, leaving their
// persisted status untouched so recovery picks them up on the next boot.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	all := make([]*liveSession, 0, len(m.live))
	for id, ls := range m.live {
		ls.stopping = true
		all = append(all, ls)
		delete(m.live, id)
	}
	m.mu.Unlock()

	m.log.Info().Int("sessions", len(all)).Msg("shutting down sessions")

	sem := make(chan struct{}, m.cfg.ShutdownParallelism)
	var wg sync.WaitGroup
	for _, ls := range all {
		wg.Add(1)
		sem <- struct{}{}
		go func(ls *liveSession) {
			defer wg.Done()
			defer func() { <-sem }()
			m.mu.Lock()
			client := ls.client
			m.mu.Unlock()
			if client != nil {
				if err := client.Close(ctx); err != nil {
					m.log.Warn().Err(err).Str("sessionId", ls.id).Msg("close failed during shutdown")
				}
			}
			m.teardown(ls)
		}(ls)
	}
	wg.Wait()
}

// start dials a new connection for the session and registers it as live.
func (m *Manager) start(ctx context.Context, sessionID, ownerID string) error {
	credsDir, err := m.creds.EnsureDir(sessionID)
	if err != nil {
		return err
	}

	ls := &liveSession{
		id:       sessionID,
		ownerID:  ownerID,
		settings: m.loadSettings(sessionID),
	}
	ls.ctx, ls.cancel = context.WithCancel(context.Background())

	m.mu.Lock()
	m.live[sessionID] = ls
	m.mu.Unlock()

	if err := m.dial(ctx, ls, credsDir); err != nil {
		m.mu.Lock()
		if m.live[sessionID] == ls {
			delete(m.live, sessionID)
		}
		m.mu.Unlock()
		m.teardown(ls)
		return err
	}
	return nil
}

// dial opens the protocol connection and wires its hooks to the live session.
// Each dial bumps the session's generation and stamps it into the hooks, so a
// superseded client's dying read loop cannot act on the session anymore.
func (m *Manager) dial(ctx context.Context, ls *liveSession, credsDir string) error {
	m.mu.Lock()
	ls.gen++
	gen := ls.gen
	m.mu.Unlock()

	client, err := m.dialer.Dial(ctx, protocol.DialConfig{
		SessionID:           ls.id,
		CredsDir:            credsDir,
		MarkOnlineOnConnect: false,
		SyncFullHistory:     false,
		KeepAliveInterval:   m.cfg.KeepAliveInterval,
		ConnectTimeout:      m.cfg.ConnectTimeout,
		QueryTimeout:        m.cfg.QueryTimeout,
		GenerateLinkPreview: false,
		Hooks: protocol.Hooks{
			OnConnectionUpdate: func(u protocol.ConnectionUpdate) {
				m.handleConnectionUpdate(ls, gen, u)
			},
			OnMessages: func(msgs []protocol.Message) {
				m.handleMessages(ls, gen, msgs)
			},
			OnCall: func(calls []protocol.Call) {
				m.handleCalls(ls, gen, calls)
			},
		},
	})
	if err != nil {
		return fmt.Errorf("dialing session %s: %w", ls.id, err)
	}

	m.mu.Lock()
	ls.client = client
	m.mu.Unlock()
	return nil
}

// handleConnectionUpdate is the protocol hook entry for connection state.
// The library delivers updates for one session in order; the recover guard
// keeps a handler panic from killing the library's read loop.
func (m *Manager) handleConnectionUpdate(ls *liveSession, gen uint64, u protocol.ConnectionUpdate) {
	defer m.recoverHook(ls.id, "connection update")

	if !m.isCurrent(ls, gen) {
		return
	}

	if u.QR != "" {
		m.publishQR(ls, u.QR)
	}

	switch u.Phase {
	case protocol.PhaseOpen:
		m.onOpen(ls)
	case protocol.PhaseClose:
		m.onClose(ls, u.Reason)
	}
}

// onOpen marks the session connected, resets reconnect bookkeeping and
// starts the per-connection loops.
func (m *Manager) onOpen(ls *liveSession) {
	m.mu.Lock()
	ls.connected = true
	ls.attempts = 0
	if ls.reconnect != nil {
		ls.reconnect.Stop()
		ls.reconnect = nil
	}
	var connCtx context.Context
	connCtx, ls.connCancel = context.WithCancel(ls.ctx)
	phone := ""
	if ls.client != nil {
		phone = ls.client.Identity()
	}
	alwaysOnline := ls.settings.AlwaysOnline
	m.mu.Unlock()

	if err := m.persistStatus(ls.id, domain.StatusConnected, phone); err != nil {
		m.log.Error().Err(err).Str("sessionId", ls.id).Msg("failed to persist connected status")
	}
	m.publish(ls.ctx, domain.EventSessionConnected, ls.id, map[string]any{"phone_number": phone})
	m.log.Info().Str("sessionId", ls.id).Str("phone", phone).Msg("session connected")

	go m.keepAliveLoop(connCtx, ls)
	if alwaysOnline {
		m.startPresenceLoop(ls)
	}
}

// onClose runs the five-way disconnect classification.
func (m *Manager) onClose(ls *liveSession, reason protocol.DisconnectReason) {
	m.mu.Lock()
	ls.connected = false
	if ls.connCancel != nil {
		ls.connCancel()
		ls.connCancel = nil
	}
	stopping := ls.stopping
	m.mu.Unlock()

	if stopping {
		return
	}

	log := m.log.Session(ls.id)
	log.Info().Str("reason", reason.String()).Msg("connection closed")

	switch reason {
	case protocol.ReasonLoggedOut:
		// Credentials are invalid server-side; keeping them would loop.
		if err := m.creds.Delete(ls.id); err != nil {
			log.Error().Err(err).Msg("failed to delete credentials")
		}
		m.retire(ls, domain.StatusDisconnected)
		m.publish(context.Background(), domain.EventSessionDisconnected, ls.id, map[string]any{"reason": reason.String()})

	case protocol.ReasonConnectionReplaced:
		// Another worker took over; credentials stay for that worker.
		m.retire(ls, domain.StatusDisconnected)
		m.publish(context.Background(), domain.EventSessionDisconnected, ls.id, map[string]any{"reason": reason.String()})

	case protocol.ReasonBadSession:
		if err := m.creds.Delete(ls.id); err != nil {
			log.Error().Err(err).Msg("failed to delete credentials")
		}
		m.retire(ls, domain.StatusFailed)
		m.publish(context.Background(), domain.EventSessionFailed, ls.id, map[string]any{"error": "bad session, credentials cleared"})

	case protocol.ReasonRestartRequired:
		// The library asks for a fresh socket; redial without backoff and
		// without burning a reconnect attempt.
		go m.redial(ls)

	default:
		m.scheduleReconnect(ls, reason)
	}
}

// scheduleReconnect books the next reconnect attempt with exponential
// backoff, or fails the session once the attempt cap is reached. Any
// previously scheduled timer is cancelled first so at most one reconnect is
// ever pending per session.
func (m *Manager) scheduleReconnect(ls *liveSession, reason protocol.DisconnectReason) {
	m.mu.Lock()
	if ls.attempts >= m.cfg.MaxReconnectAttempts {
		attempts := ls.attempts
		m.mu.Unlock()
		m.log.Session(ls.id).Error().
			Int("attempts", attempts).
			Msg("max reconnect attempts reached, giving up")
		m.retire(ls, domain.StatusFailed)
		m.publish(context.Background(), domain.EventSessionFailed, ls.id, map[string]any{
			"error": "max_reconnect_attempts",
		})
		return
	}

	delay := reconnectDelay(ls.attempts)
	ls.attempts++
	attempt := ls.attempts

	if ls.reconnect != nil {
		ls.reconnect.Stop()
	}
	ls.reconnect = time.AfterFunc(delay, func() {
		m.redial(ls)
	})
	m.mu.Unlock()

	if err := m.persistStatus(ls.id, domain.StatusConnecting, ""); err != nil {
		m.log.Error().Err(err).Str("sessionId", ls.id).Msg("failed to persist connecting status")
	}
	m.publish(context.Background(), domain.EventSessionReconnecting, ls.id, map[string]any{
		"attempt":  attempt,
		"reason":   reason.String(),
		"delay_ms": delay.Milliseconds(),
	})
	m.log.Session(ls.id).Info().
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("reconnect scheduled")
}

// redial replaces the session's protocol client with a fresh connection.
// Dial failures re-enter the backoff schedule. A session whose backing record
// was deleted while it waited is abandoned instead of redialed.
func (m *Manager) redial(ls *liveSession) {
	defer m.recoverHook(ls.id, "redial")

	m.mu.Lock()
	current := m.live[ls.id] == ls && !ls.stopping
	m.mu.Unlock()
	if !current {
		return
	}

	if _, err := m.sessions.Get(ls.id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			m.log.Session(ls.id).Error().Msg("session record gone, abandoning reconnect")
			m.retire(ls, domain.StatusFailed)
			m.publish(context.Background(), domain.EventSessionFailed, ls.id, map[string]any{
				"error": "session record deleted",
			})
			return
		}
		m.log.Session(ls.id).Warn().Err(err).Msg("failed to load session record before redial")
	}

	ctx, cancel := context.WithTimeout(ls.ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.dial(ctx, ls, m.creds.Dir(ls.id)); err != nil {
		m.log.Session(ls.id).Error().Err(err).Msg("redial failed")
		m.scheduleReconnect(ls, protocol.ReasonConnectionLost)
	}
}

// keepAliveLoop pings presence on a fixed cadence to keep the socket warm
// and records liveness in the database on every fourth tick.
func (m *Manager) keepAliveLoop(ctx context.Context, ls *liveSession) {
	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client, ok := m.Client(ls.id)
			if !ok {
				return
			}
			if err := client.SendPresence(ctx, protocol.PresenceAvailable, ""); err != nil {
				m.log.Session(ls.id).Debug().Err(err).Msg("keepalive presence failed")
			}
			tick++
			if tick%4 == 0 {
				if err := m.sessions.TouchLastActive(ls.id); err != nil {
					m.log.Session(ls.id).Warn().Err(err).Msg("failed to touch last_active_at")
				}
			}
		}
	}
}

// startPresenceLoop begins the always-online broadcast. An existing loop is
// stopped first so toggling the setting never stacks loops.
func (m *Manager) startPresenceLoop(ls *liveSession) {
	m.mu.Lock()
	if ls.presenceStop != nil {
		ls.presenceStop()
	}
	ctx, cancel := context.WithCancel(ls.ctx)
	ls.presenceStop = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.cfg.PresenceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				client, ok := m.Client(ls.id)
				if !ok {
					return
				}
				if err := client.SendPresence(ctx, protocol.PresenceAvailable, ""); err != nil {
					m.log.Session(ls.id).Debug().Err(err).Msg("always-online presence failed")
				}
			}
		}
	}()
}

func (m *Manager) stopPresenceLoop(ls *liveSession) {
	m.mu.Lock()
	if ls.presenceStop != nil {
		ls.presenceStop()
		ls.presenceStop = nil
	}
	m.mu.Unlock()
}

// handleMessages is the protocol hook entry for inbound message batches.
func (m *Manager) handleMessages(ls *liveSession, gen uint64, msgs []protocol.Message) {
	defer m.recoverHook(ls.id, "inbound messages")

	if !m.isCurrent(ls, gen) || len(msgs) == 0 {
		return
	}

	m.mu.Lock()
	settings := ls.settings
	client := ls.client
	m.mu.Unlock()

	if settings.AutoReadMessages && client != nil {
		var keys []protocol.MessageKey
		for _, msg := range msgs {
			if !msg.Key.FromMe {
				keys = append(keys, msg.Key)
			}
		}
		if len(keys) > 0 {
			if err := client.MarkRead(ls.ctx, keys); err != nil {
				m.log.Session(ls.id).Warn().Err(err).Msg("auto-read failed")
			}
		}
	}

	if m.inbound != nil {
		m.inbound.HandleMessages(ls.ctx, ls.id, msgs)
	}
}

// handleCalls publishes incoming call events and rejects calls when the
// session is configured to.
func (m *Manager) handleCalls(ls *liveSession, gen uint64, calls []protocol.Call) {
	defer m.recoverHook(ls.id, "calls")

	if !m.isCurrent(ls, gen) {
		return
	}

	m.mu.Lock()
	reject := ls.settings.RejectCalls
	client := ls.client
	m.mu.Unlock()

	for _, call := range calls {
		if call.Status != "offer" {
			continue
		}
		m.publish(ls.ctx, domain.EventCallIncoming, ls.id, map[string]any{
			"call_id": call.ID,
			"from":    call.From,
		})
		if reject && client != nil {
			if err := client.RejectCall(ls.ctx, call.ID, call.From); err != nil {
				m.log.Session(ls.id).Warn().Err(err).Msg("failed to reject call")
				continue
			}
			m.publish(ls.ctx, domain.EventCallMissed, ls.id, map[string]any{
				"call_id": call.ID,
				"from":    call.From,
				"reason":  "rejected",
			})
		}
	}
}

// publishQR encodes the pairing challenge as a PNG data URL and publishes it
// to both the events stream and the session channel.
func (m *Manager) publishQR(ls *liveSession, qr string) {
	payload := map[string]any{"qr": qr}
	if png, err := qrcode.Encode(qr, qrcode.Medium, 256); err != nil {
		m.log.Session(ls.id).Error().Err(err).Msg("failed to encode pairing challenge")
	} else {
		payload["qr_image"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	}
	m.publish(ls.ctx, domain.EventSessionQRUpdated, ls.id, payload)
	m.log.Session(ls.id).Info().Msg("pairing challenge updated")
}

// retire removes the session from the live set, tears it down and persists a
// terminal status.
func (m *Manager) retire(ls *liveSession, status domain.SessionStatus) {
	m.mu.Lock()
	if m.live[ls.id] == ls {
		delete(m.live, ls.id)
	}
	m.mu.Unlock()
	m.teardown(ls)

	if err := m.persistStatus(ls.id, status, ""); err != nil {
		m.log.Error().Err(err).Str("sessionId", ls.id).Msg("failed to persist status")
	}
}

// teardown releases every resource bundled in a live session.
func (m *Manager) teardown(ls *liveSession) {
	m.mu.Lock()
	if ls.reconnect != nil {
		ls.reconnect.Stop()
		ls.reconnect = nil
	}
	if ls.presenceStop != nil {
		ls.presenceStop()
		ls.presenceStop = nil
	}
	if ls.connCancel != nil {
		ls.connCancel()
		ls.connCancel = nil
	}
	ls.connected = false
	m.mu.Unlock()
	ls.cancel()
}

// failSession marks a session failed and publishes session.failed.
func (m *Manager) failSession(ctx context.Context, sessionID, msg string) {
	if err := m.persistStatus(sessionID, domain.StatusFailed, ""); err != nil {
		m.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to persist failed status")
	}
	m.publish(ctx, domain.EventSessionFailed, sessionID, map[string]any{"error": msg})
	m.log.Error().Str("sessionId", sessionID).Str("error", msg).Msg("session failed")
}

// isCurrent reports whether ls is still the registered live session and gen
// matches the latest dial. Hooks from a torn-down or superseded client must
// be ignored.
func (m *Manager) isCurrent(ls *liveSession, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[ls.id] == ls && ls.gen == gen
}

func (m *Manager) loadSettings(sessionID string) domain.SessionSettings {
	set, ok, err := m.settings.Get(sessionID)
	if err != nil {
		m.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to load settings, using defaults")
		return domain.DefaultSettings()
	}
	if !ok {
		return domain.DefaultSettings()
	}
	return set
}

func (m *Manager) persistStatus(sessionID string, status domain.SessionStatus, phone string) error {
	err := m.sessions.UpdateStatus(sessionID, status, phone)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (m *Manager) publish(ctx context.Context, eventType, sessionID string, extra map[string]any) {
	if err := m.events.SessionEvent(ctx, eventType, sessionID, extra); err != nil {
		m.log.Error().Err(err).Str("type", eventType).Str("sessionId", sessionID).Msg("failed to publish event")
	}
}

// recoverHook absorbs panics at protocol hook boundaries so a bug in event
// handling cannot unwind into the library's read loop.
func (m *Manager) recoverHook(sessionID, where string) {
	if r := recover(); r != nil {
		m.log.Crit().
			Str("sessionId", sessionID).
			Str("hook", where).
			Any("panic", r).
			Msg("recovered panic in protocol hook")
	}
}
