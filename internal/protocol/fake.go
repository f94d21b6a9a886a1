package protocol

import (
	"context"
	"errors"
	"sync"
)

// FakeDialer is an in-memory Dialer for tests. Each Dial returns a new
// FakeClient and records it so tests can drive connection updates.
type FakeDialer struct {
	mu      sync.Mutex
	clients []*FakeClient

	// DialErr, when set, fails the next Dial.
	DialErr error
}

// NewFakeDialer returns an empty fake dialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Dial returns a new FakeClient wired to the given hooks.
func (d *FakeDialer) Dial(_ context.Context, cfg DialConfig) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		err := d.DialErr
		d.DialErr = nil
		return nil, err
	}
	c := &FakeClient{cfg: cfg}
	d.clients = append(d.clients, c)
	return c, nil
}

// Last returns the most recently dialed client, or nil.
func (d *FakeDialer) Last() *FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

// DialCount returns how many connections have been opened.
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// SentText records one SendText call.
type SentText struct {
	JID         string
	Text        string
	LinkPreview bool
}

// SentMedia records one SendMedia call.
type SentMedia struct {
	JID   string
	Media Media
}

// FakeClient implements Client in memory.
type FakeClient struct {
	cfg DialConfig

	mu         sync.Mutex
	identity   string
	texts      []SentText
	media      []SentMedia
	presences  []Presence
	readKeys   [][]MessageKey
	rejected   []string
	loggedOut  bool
	closed     bool
	SendErr    error // when set, SendText/SendMedia fail
	LogoutErr  error // when set, Logout fails
	messageSeq int
}

// Config returns the DialConfig the client was opened with.
func (c *FakeClient) Config() DialConfig { return c.cfg }

// SetIdentity sets the resolved identity, as the library does on open.
func (c *FakeClient) SetIdentity(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = phone
}

// FireConnectionUpdate invokes the registered connection-update hook.
func (c *FakeClient) FireConnectionUpdate(u ConnectionUpdate) {
	if h := c.cfg.Hooks.OnConnectionUpdate; h != nil {
		h(u)
	}
}

// FireMessages invokes the registered inbound-message hook.
func (c *FakeClient) FireMessages(msgs []Message) {
	if h := c.cfg.Hooks.OnMessages; h != nil {
		h(msgs)
	}
}

// FireCall invokes the registered call hook.
func (c *FakeClient) FireCall(calls []Call) {
	if h := c.cfg.Hooks.OnCall; h != nil {
		h(calls)
	}
}

func (c *FakeClient) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *FakeClient) SendText(_ context.Context, jid, text string, linkPreview bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.texts = append(c.texts, SentText{JID: jid, Text: text, LinkPreview: linkPreview})
	c.messageSeq++
	return fakeMessageID(c.messageSeq), nil
}

func (c *FakeClient) SendMedia(_ context.Context, jid string, media Media) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.media = append(c.media, SentMedia{JID: jid, Media: media})
	c.messageSeq++
	return fakeMessageID(c.messageSeq), nil
}

func (c *FakeClient) SendPresence(_ context.Context, presence Presence, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("fake: client closed")
	}
	c.presences = append(c.presences, presence)
	return nil
}

func (c *FakeClient) MarkRead(_ context.Context, keys []MessageKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readKeys = append(c.readKeys, keys)
	return nil
}

func (c *FakeClient) RejectCall(_ context.Context, callID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = append(c.rejected, callID)
	return nil
}

func (c *FakeClient) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LogoutErr != nil {
		return c.LogoutErr
	}
	c.loggedOut = true
	c.closed = true
	return nil
}

func (c *FakeClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Texts returns a copy of the recorded SendText calls.
func (c *FakeClient) Texts() []SentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentText, len(c.texts))
	copy(out, c.texts)
	return out
}

// MediaSends returns a copy of the recorded SendMedia calls.
func (c *FakeClient) MediaSends() []SentMedia {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMedia, len(c.media))
	copy(out, c.media)
	return out
}

// Presences returns a copy of the recorded presence updates.
func (c *FakeClient) Presences() []Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Presence, len(c.presences))
	copy(out, c.presences)
	return out
}

// ReadKeys returns the recorded MarkRead batches.
func (c *FakeClient) ReadKeys() [][]MessageKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]MessageKey, len(c.readKeys))
	copy(out, c.readKeys)
	return out
}

// RejectedCalls returns the recorded rejected call ids.
func (c *FakeClient) RejectedCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.rejected))
	copy(out, c.rejected)
	return out
}

// LoggedOut reports whether Logout was called.
func (c *FakeClient) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// Closed reports whether the client was closed.
func (c *FakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func fakeMessageID(seq int) string {
	const digits = "0123456789"
	id := []byte("FAKE0000")
	for i := len(id) - 1; seq > 0 && i >= 4; i-- {
		id[i] = digits[seq%10]
		seq /= 10
	}
	return string(id)
}
